package importer

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/sarir/personnel-import/internal/tabular"
)

// FileKind selects the decode path for a file.
type FileKind string

const (
	KindCSV      FileKind = "csv"
	KindTSV      FileKind = "tsv"
	KindWorkbook FileKind = "workbook"
)

// Text reports whether files of this kind go through the text decoder.
func (k FileKind) Text() bool {
	return k == KindCSV || k == KindTSV
}

// ErrUnsupportedFile is returned when no decode path fits a file.
var ErrUnsupportedFile = errors.New("unsupported file type")

var extensionKinds = map[string]FileKind{
	".csv":  KindCSV,
	".txt":  KindCSV,
	".tsv":  KindTSV,
	".tab":  KindTSV,
	".xlsx": KindWorkbook,
	".xlsm": KindWorkbook,
	".xltx": KindWorkbook,
	".xls":  KindWorkbook,
}

var mimeKinds = map[string]FileKind{
	"text/csv":                  KindCSV,
	"application/csv":           KindCSV,
	"text/plain":                KindCSV,
	"text/tab-separated-values": KindTSV,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": KindWorkbook,
	"application/vnd.ms-excel.sheet.macroenabled.12":                    KindWorkbook,
	"application/vnd.ms-excel":                                          KindWorkbook,
}

// DetectKind picks the decode path from the file name's extension, then the
// declared MIME type, then the content itself. head should hold the first
// few kilobytes of the file.
//
// Browsers on Windows often declare "application/vnd.ms-excel" for .csv
// files, which is why the extension is consulted first.
func DetectKind(name, mimeType string, head []byte) (FileKind, error) {
	if k, ok := extensionKinds[strings.ToLower(filepath.Ext(name))]; ok {
		return k, nil
	}

	if mimeType != "" {
		if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
			if k, ok := mimeKinds[mt]; ok {
				return k, nil
			}
		}
	}

	if k, ok := sniffKind(head); ok {
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFile, name)
}

func sniffKind(head []byte) (FileKind, bool) {
	if len(head) == 0 {
		return "", false
	}

	// mimetype reports generic containers (zip, ole storage) when the
	// buffer is too short to see the workbook parts.
	if tabular.SniffWorkbook(head) != tabular.FormatUnknown {
		return KindWorkbook, true
	}

	for mt := mimetype.Detect(head); mt != nil; mt = mt.Parent() {
		if k, ok := mimeKinds[mt.String()]; ok {
			return k, true
		}
		base, _, _ := strings.Cut(mt.String(), ";")
		if k, ok := mimeKinds[base]; ok {
			return k, true
		}
	}
	return "", false
}
