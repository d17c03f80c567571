package importer

// Error codes shown to users. Support staff look the code up here.
//
// File errors (FILE0xx)
//
//	FILE001 - File too large            pattern "file too large"
//	FILE002 - Unsupported file type     pattern "unsupported file type"
//	FILE003 - Text encoding not readable pattern "decode charset"
//	FILE004 - No file selected          pattern "no file provided"
//	FILE005 - Empty file                pattern "empty file"
//	FILE006 - Not a readable workbook   patterns "decode workbook", "decode xlsx", "decode xls"
//	FILE007 - Not readable as CSV       pattern "decode csv"
//	FILE008 - Upload form unreadable    pattern "invalid form"
//
// Import errors (IMP0xx)
//
//	IMP001 - Decode took too long       pattern "decode timed out"
//	IMP002 - Required field unmapped    pattern "unmapped required fields"
//	IMP003 - Field mapped twice         pattern "mapped more than once"
//	IMP004 - Import cancelled           pattern "import cancelled"
//	IMP005 - Mapping profile missing    pattern "mapping profile not found"
//	IMP006 - Mapping not readable       patterns "invalid mapping", "invalid required_fields"
//
// Backend errors (GW0xx)
//
//	GW001 - Backend not reachable       pattern "backend not reachable"
//	GW002 - No backend configured       pattern "no backend configured"
//	GW003 - Backend refused a request   pattern "backend returned"
//
// Session errors (UPL0xx)
//
//	UPL001 - Import still running       pattern "import still running"
//	UPL002 - System busy                pattern "too many imports"
//	UPL003 - Import expired or unknown  pattern "import not found"
//	UPL004 - Request cancelled          pattern "context canceled"
//	UPL005 - Request timed out          pattern "context deadline exceeded"
//	UPL006 - No row report              pattern "has no report"
//
//	RATE001 - Too many requests         pattern "rate limit"
//	ERR000  - Anything else; check the server log for the technical error.
//
// Patterns are matched case-insensitively with strings.Contains, first
// match wins.

import (
	"fmt"
	"strings"
)

// UserMessage is an error rewritten for the person doing the import.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	{"file too large", UserMessage{"File exceeds the maximum upload size", "Split the file or remove unused sheets and columns", "FILE001"}},
	{"unsupported file type", UserMessage{"This file type cannot be imported", "Upload a .xlsx, .xls, .csv or .tsv file", "FILE002"}},
	{"decode charset", UserMessage{"The file's text encoding could not be read", "Save the file as CSV UTF-8 from Excel and try again", "FILE003"}},
	{"no file provided", UserMessage{"No file was selected", "Choose a spreadsheet to import", "FILE004"}},
	{"empty file", UserMessage{"The uploaded file is empty", "Upload a file with a header row and data rows", "FILE005"}},
	{"decode workbook", UserMessage{"The workbook could not be read", "Open the file in Excel, save it again as .xlsx and retry", "FILE006"}},
	{"decode xlsx", UserMessage{"The workbook could not be read", "Open the file in Excel, save it again as .xlsx and retry", "FILE006"}},
	{"decode xls", UserMessage{"The workbook could not be read", "Open the file in Excel, save it again as .xlsx and retry", "FILE006"}},
	{"decode csv", UserMessage{"The file is not valid CSV", "Check for unbalanced quotes in the file", "FILE007"}},

	{"invalid form", UserMessage{"The upload form could not be read", "Send the file as multipart form data in a field named file", "FILE008"}},

	{"decode timed out", UserMessage{"Reading the file took too long", "Split the file into smaller parts", "IMP001"}},
	{"unmapped required fields", UserMessage{"Some required fields have no column mapped to them", "Map every required field before importing", "IMP002"}},
	{"mapped more than once", UserMessage{"Two columns are mapped to the same field", "Map each field from one column only", "IMP003"}},
	{"import cancelled", UserMessage{"The import was cancelled", "Start a new import when ready", "IMP004"}},
	{"mapping profile not found", UserMessage{"The selected mapping profile does not exist", "Pick another profile or map the columns manually", "IMP005"}},
	{"invalid mapping", UserMessage{"The column mapping could not be read", "Send the mapping as a JSON object of header to field", "IMP006"}},
	{"invalid required_fields", UserMessage{"The required field list could not be read", "Send required_fields as a JSON array of field names", "IMP006"}},

	{"backend not reachable", UserMessage{"The personnel service could not be reached", "Please try again in a few moments", "GW001"}},
	{"no backend configured", UserMessage{"No personnel service is configured", "Set BACKEND_URL and restart the server", "GW002"}},
	{"backend returned", UserMessage{"The personnel service refused the request", "Please try again or contact support", "GW003"}},

	{"import still running", UserMessage{"The import has not finished yet", "Wait for the import to complete and try again", "UPL001"}},
	{"too many imports", UserMessage{"The system is busy with other imports", "Please wait a moment and try again", "UPL002"}},
	{"import not found", UserMessage{"Import session not found", "The import may have expired. Please start a new import", "UPL003"}},
	{"context canceled", UserMessage{"Request was cancelled", "Please try again", "UPL004"}},
	{"context deadline exceeded", UserMessage{"Request timed out", "Try a smaller file or check your connection", "UPL005"}},
	{"has no report", UserMessage{"This import has no row report", "Reports are only available when the service returns one", "UPL006"}},

	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a UserMessage. Unknown errors map
// to ERR000.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}
	return mapText(err.Error())
}

// MapOutcome converts a failed outcome to a UserMessage. A backend answer
// that carries its own error text keeps that text as the message.
func MapOutcome(o Outcome) UserMessage {
	if !o.Failed() {
		return UserMessage{}
	}
	msg := mapText(o.Message)
	if o.Kind == OutcomeSubmissionFailed && o.Endpoint != "" && msg.Code == defaultMessage.Code {
		return UserMessage{
			Message: o.Message,
			Action:  "Fix the rows the service reported and import again",
			Code:    fmt.Sprintf("HTTP%d", o.Status),
		}
	}
	return msg
}

func mapText(s string) UserMessage {
	s = strings.ToLower(s)
	for _, ep := range errorPatterns {
		if strings.Contains(s, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern.
func IsUserFacing(err error) bool {
	return err != nil && MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-facing message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err. Returns nil for a nil err.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{Technical: err, User: MapError(err)}
}
