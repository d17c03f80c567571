// Package importer drives one spreadsheet import from file bytes to backend
// response.
//
// An import reads the file (reporting "reading" progress), picks the text or
// workbook decode path, runs the decoder on a worker unit (forwarding its
// "parsing" progress), encodes the submission body once and hands it to the
// gateway. Each ImportFile call owns its bytes, its worker unit and its
// result; concurrent calls share nothing.
//
// Tracker runs imports in the background for the HTTP server and fans their
// progress out to subscribers.
package importer

import (
	"io"
	"net/http"

	"github.com/sarir/personnel-import/internal/gateway"
	"github.com/sarir/personnel-import/internal/mapping"
	"github.com/sarir/personnel-import/internal/tabular"
	"github.com/sarir/personnel-import/internal/worker"
)

// OutcomeKind tags an Outcome.
type OutcomeKind string

const (
	OutcomeParsed             OutcomeKind = "parsed"
	OutcomeParseFailed        OutcomeKind = "parse_failed"
	OutcomeSubmissionFailed   OutcomeKind = "submission_failed"
	OutcomeSubmissionAccepted OutcomeKind = "submission_accepted"
)

// Outcome is the typed result of an import.
//
//   - Parsed: Parsed is set (dry runs only).
//   - ParseFailed: Message says why.
//   - SubmissionFailed / SubmissionAccepted: Status, Body and ContentType are
//     the backend's answer, or the synthetic 502 when it was not reachable.
type Outcome struct {
	Kind        OutcomeKind
	Status      int
	Body        []byte
	ContentType string
	Message     string
	Parsed      *tabular.Result

	// Endpoint is the candidate URL that answered, if any.
	Endpoint string
}

// Failed reports a ParseFailed or SubmissionFailed outcome.
func (o Outcome) Failed() bool {
	return o.Kind == OutcomeParseFailed || o.Kind == OutcomeSubmissionFailed
}

// Err returns the outcome as an error, or nil when it did not fail.
func (o Outcome) Err() error {
	if !o.Failed() {
		return nil
	}
	return &OutcomeError{Outcome: o}
}

// OutcomeError wraps a failed Outcome.
type OutcomeError struct {
	Outcome Outcome
}

func (e *OutcomeError) Error() string {
	if e.Outcome.Message != "" {
		return e.Outcome.Message
	}
	return string(e.Outcome.Kind)
}

func parsed(res *tabular.Result) Outcome {
	return Outcome{Kind: OutcomeParsed, Parsed: res}
}

func parseFailed(msg string) Outcome {
	return Outcome{Kind: OutcomeParseFailed, Message: msg}
}

// rejected is a SubmissionFailed produced before anything was sent.
func rejected(status int, msg string) Outcome {
	body, _ := jsonError(msg)
	return Outcome{
		Kind:        OutcomeSubmissionFailed,
		Status:      status,
		Body:        body,
		ContentType: "application/json",
		Message:     msg,
	}
}

func fromResponse(resp gateway.Response) Outcome {
	o := Outcome{
		Kind:        OutcomeSubmissionAccepted,
		Status:      resp.Status,
		Body:        resp.Body,
		ContentType: resp.ContentType,
		Endpoint:    resp.URL,
	}
	if !resp.Accepted() {
		o.Kind = OutcomeSubmissionFailed
		o.Message = gateway.ErrorMessage(resp.Body)
		if o.Message == "" {
			o.Message = http.StatusText(resp.Status)
		}
	}
	return o
}

// File is one user-selected file. Size may be zero when unknown.
type File struct {
	Name     string
	MIMEType string
	Size     int64
	Reader   io.Reader

	// Profile, when set, replaces the orchestrator's planner for this file.
	Profile *mapping.Profile
}

// PhaseSubmitting marks progress of the gateway call. It follows the
// decoder's reading and parsing phases.
const PhaseSubmitting worker.Phase = "submitting"

// Observer receives progress events in emission order. Percent never
// decreases within a phase.
type Observer interface {
	OnProgress(worker.Progress)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(worker.Progress)

func (f ObserverFunc) OnProgress(p worker.Progress) {
	f(p)
}
