package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Decode converts a payload into headers and rows.
// All failures, including panics raised inside third-party workbook readers,
// are returned as *DecodeError.
func Decode(p Payload) (*Result, error) {
	if p.IsDelimitedText {
		return DecodeText(p.Text, p.IsTSV)
	}
	return DecodeWorkbook(p.Binary)
}

// DecodeText parses comma- or tab-delimited text.
//
// Tab-delimited input is canonicalized by replacing every tab with a comma
// before parsing. Literal commas inside TSV cells therefore split into extra
// columns; this matches long-standing import behavior and is left as-is.
func DecodeText(text string, isTSV bool) (*Result, error) {
	raw, err := ReadText(text, isTSV)
	if err != nil {
		return nil, err
	}
	return BuildResult(raw), nil
}

// ReadText splits delimited text into physical rows without building the
// header mapping. Cells are kept as strings. Blank lines between records
// become empty rows; blank lines after the last record are dropped.
func ReadText(text string, isTSV bool) ([][]Cell, error) {
	if isTSV {
		text = strings.ReplaceAll(text, "\t", ",")
	}

	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = false

	var raw [][]Cell
	prevEnd := 0
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, decodeErr("csv", err)
		}

		// encoding/csv skips empty lines; put them back as blank rows.
		line, _ := r.FieldPos(0)
		if len(raw) > 0 {
			for n := prevEnd + 1; n < line; n++ {
				raw = append(raw, []Cell{})
			}
		}
		last := len(record) - 1
		lastLine, _ := r.FieldPos(last)
		prevEnd = lastLine + strings.Count(record[last], "\n")

		row := make([]Cell, len(record))
		for i, v := range record {
			row[i] = v
		}
		raw = append(raw, row)
	}
	return raw, nil
}

// BuildResult treats raw[0] as the header and zips every later row onto it.
// Missing trailing cells default to "". Cells beyond the header width are
// dropped. Blank rows are kept.
func BuildResult(raw [][]Cell) *Result {
	res := &Result{Headers: Header{}, Rows: []Row{}}
	if len(raw) == 0 {
		return res
	}

	headers := make(Header, len(raw[0]))
	for i, c := range raw[0] {
		headers[i] = CellString(c)
	}
	res.Headers = headers

	res.Rows = make([]Row, 0, len(raw)-1)
	for _, line := range raw[1:] {
		row := make(Row, len(headers))
		for j, h := range headers {
			if j < len(line) && line[j] != nil {
				row[h] = line[j]
			} else {
				row[h] = ""
			}
		}
		res.Rows = append(res.Rows, row)
	}
	return res
}

// CellString renders a cell as text. Numbers use the shortest exact form.
func CellString(c Cell) string {
	switch v := c.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
