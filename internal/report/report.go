// Package report exports the per-row report of a bulk-import response.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Columns is the CSV header written by WriteCSV.
var Columns = []string{"row_index", "key", "missing_fields", "error"}

// ErrNoReport is returned when the body carries no "report" array.
var ErrNoReport = errors.New("response has no report")

// Entry is one row of the backend report.
type Entry struct {
	RowIndex      int64
	Key           string
	MissingFields []string
	Error         string
}

// Parse reads the "report" array of a bulk-import response body.
func Parse(body []byte) ([]Entry, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("report: invalid JSON")
	}
	arr := gjson.GetBytes(body, "report")
	if !arr.IsArray() {
		return nil, ErrNoReport
	}

	entries := make([]Entry, 0, len(arr.Array()))
	arr.ForEach(func(_, item gjson.Result) bool {
		e := Entry{
			RowIndex: item.Get("row_index").Int(),
			Key:      item.Get("key").String(),
			Error:    item.Get("error").String(),
		}
		item.Get("missing_fields").ForEach(func(_, f gjson.Result) bool {
			e.MissingFields = append(e.MissingFields, f.String())
			return true
		})
		entries = append(entries, e)
		return true
	})
	return entries, nil
}

// WriteCSV writes the report of body as CSV with a UTF-8 BOM, so that
// spreadsheet programs open Persian text correctly. Missing fields are
// joined with "|".
func WriteCSV(w io.Writer, body []byte) (int, error) {
	entries, err := Parse(body)
	if err != nil {
		return 0, err
	}

	if _, err := io.WriteString(w, "\ufeff"); err != nil {
		return 0, fmt.Errorf("write report: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return 0, fmt.Errorf("write report: %w", err)
	}
	for _, e := range entries {
		record := []string{
			strconv.FormatInt(e.RowIndex, 10),
			e.Key,
			strings.Join(e.MissingFields, "|"),
			e.Error,
		}
		if err := cw.Write(record); err != nil {
			return 0, fmt.Errorf("write report: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("write report: %w", err)
	}
	return len(entries), nil
}
