package tabular

import (
	"errors"
	"fmt"
)

// ErrUnsupportedWorkbook is returned when binary input carries neither an
// OOXML (zip) nor a legacy BIFF (OLE2) signature.
var ErrUnsupportedWorkbook = errors.New("unsupported workbook format")

// ErrEmptyPayload is returned for a zero-length workbook buffer.
var ErrEmptyPayload = errors.New("empty file")

// DecodeError reports a malformed or unsupported payload.
// Op names the decode step that failed ("csv", "xlsx", "xls", "workbook", "charset").
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeErr(op string, err error) error {
	return &DecodeError{Op: op, Err: err}
}

// IsDecodeError reports whether err is (or wraps) a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
