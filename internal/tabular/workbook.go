package tabular

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

var (
	zipSignature  = []byte{'P', 'K', 0x03, 0x04}
	ole2Signature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// WorkbookFormat identifies the container format of a binary workbook.
type WorkbookFormat string

const (
	FormatUnknown WorkbookFormat = ""
	FormatXLSX    WorkbookFormat = "xlsx"
	FormatXLS     WorkbookFormat = "xls"
)

// SniffWorkbook inspects the leading bytes of data.
func SniffWorkbook(data []byte) WorkbookFormat {
	switch {
	case bytes.HasPrefix(data, zipSignature):
		return FormatXLSX
	case bytes.HasPrefix(data, ole2Signature):
		return FormatXLS
	default:
		return FormatUnknown
	}
}

// DecodeWorkbook decodes the first sheet (in workbook order) of an OOXML or
// legacy BIFF workbook. Other sheets are ignored.
func DecodeWorkbook(data []byte) (*Result, error) {
	raw, err := ReadWorkbook(data)
	if err != nil {
		return nil, err
	}
	return BuildResult(raw), nil
}

// ReadWorkbook returns the physical rows of the first sheet.
func ReadWorkbook(data []byte) (raw [][]Cell, err error) {
	if len(data) == 0 {
		return nil, decodeErr("workbook", ErrEmptyPayload)
	}

	// Workbook readers can panic on truncated or hostile input.
	defer func() {
		if r := recover(); r != nil {
			raw = nil
			err = decodeErr("workbook", fmt.Errorf("malformed workbook: %v", r))
		}
	}()

	switch SniffWorkbook(data) {
	case FormatXLSX:
		return readXLSX(data)
	case FormatXLS:
		return readXLS(data)
	default:
		return nil, decodeErr("workbook", ErrUnsupportedWorkbook)
	}
}

func readXLSX(data []byte) ([][]Cell, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, decodeErr("xlsx", err)
	}
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, decodeErr("xlsx", errors.New("no worksheet found"))
	}

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, decodeErr("xlsx", err)
	}

	raw := make([][]Cell, len(rows))
	for i, cols := range rows {
		line := make([]Cell, len(cols))
		for j, v := range cols {
			line[j] = typedCell(f, sheet, j+1, i+1, v)
		}
		raw[i] = line
	}
	return raw, nil
}

// typedCell keeps numeric cells as float64 and everything else as text.
// Cells without an explicit type attribute are numbers in OOXML.
func typedCell(f *excelize.File, sheet string, col, row int, v string) Cell {
	if v == "" {
		return ""
	}
	axis, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return v
	}
	typ, err := f.GetCellType(sheet, axis)
	if err != nil {
		return v
	}
	switch typ {
	case excelize.CellTypeUnset, excelize.CellTypeNumber:
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return v
}

func readXLS(data []byte) ([][]Cell, error) {
	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, decodeErr("xls", err)
	}
	if wb.NumSheets() == 0 {
		return nil, decodeErr("xls", errors.New("no worksheet found"))
	}

	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, decodeErr("xls", errors.New("no worksheet found"))
	}

	var raw [][]Cell
	last := -1
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := xlsRow(sheet, i)
		if row == nil {
			raw = append(raw, []Cell{})
			continue
		}
		line := make([]Cell, 0, row.LastCol())
		for j := 0; j < row.LastCol(); j++ {
			line = append(line, row.Col(j))
		}
		raw = append(raw, line)
		last = i
	}
	// MaxRow can point past the last stored record; those rows do not exist.
	return raw[:last+1], nil
}

// xlsRow returns row i, or nil when the sheet stores no ROW record for it.
// Excel writes none for blank rows and WorkSheet.Row dereferences the
// missing entry.
func xlsRow(sheet *xls.WorkSheet, i int) (row *xls.Row) {
	defer func() {
		if recover() != nil {
			row = nil
		}
	}()
	return sheet.Row(i)
}
