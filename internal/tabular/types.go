// Package tabular decodes delimited text and spreadsheet workbooks into a
// header row plus ordered data rows.
//
// The decoder is pure: no I/O, no clocks, no locale-dependent formatting.
// Decoding the same bytes twice yields identical results.
//
// # Row model
//
// Headers are data, not schema. A [Row] is a map keyed by header name, so a
// file with duplicate header names keeps only the last cell for that name in
// each row. This mirrors how the backend has always received rows and is a
// known data-loss hazard for files with repeated column titles.
package tabular

// Header is the ordered list of column names taken from the first decoded row.
// Names are not required to be unique.
type Header []string

// Cell is a decoded cell value: a string, a float64 for numeric workbook
// cells, or the empty string for absent cells.
type Cell = any

// Row maps header name to cell value for one data line.
type Row map[string]Cell

// Result is the normalized output of a successful decode.
type Result struct {
	Headers Header `json:"headers"`
	Rows    []Row  `json:"rows"`
}

// Payload is one raw input to the decoder. Exactly one of Text or Binary is
// meaningful, selected by IsDelimitedText.
type Payload struct {
	// IsDelimitedText selects the text path.
	IsDelimitedText bool

	// IsTSV marks tab-delimited text. Ignored for binary payloads.
	IsTSV bool

	// Text is the already-decoded file contents for the text path.
	Text string

	// Binary holds workbook bytes for the binary path.
	Binary []byte
}

// TextPayload builds a delimited-text payload.
func TextPayload(text string, isTSV bool) Payload {
	return Payload{IsDelimitedText: true, IsTSV: isTSV, Text: text}
}

// BinaryPayload builds a workbook payload.
func BinaryPayload(data []byte) Payload {
	return Payload{Binary: data}
}
