package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectKind(t *testing.T) {
	xlsx := xlsxBytes(t, [][]any{{"a"}, {"1"}})
	ole2 := []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1, 0, 0, 0, 0}

	tests := []struct {
		name     string
		fileName string
		mimeType string
		head     []byte
		want     FileKind
	}{
		{"csv extension", "staff.csv", "", nil, KindCSV},
		{"upper case extension", "STAFF.CSV", "", nil, KindCSV},
		{"txt extension", "export.txt", "", nil, KindCSV},
		{"tsv extension", "staff.tsv", "", nil, KindTSV},
		{"xlsx extension", "staff.xlsx", "", nil, KindWorkbook},
		{"xls extension", "staff.xls", "", nil, KindWorkbook},
		{"extension beats mime", "staff.csv", "application/vnd.ms-excel", nil, KindCSV},
		{"csv mime with params", "upload", "text/csv; charset=utf-8", nil, KindCSV},
		{"tsv mime", "upload", "text/tab-separated-values", nil, KindTSV},
		{"xlsx mime", "upload", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", nil, KindWorkbook},
		{"sniffed xlsx", "blob", "application/octet-stream", xlsx, KindWorkbook},
		{"sniffed ole2", "blob", "", ole2, KindWorkbook},
		{"sniffed text", "blob", "", []byte("a,b\n1,2\n"), KindCSV},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectKind(tt.fileName, tt.mimeType, tt.head)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectKind_Unsupported(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	tests := []struct {
		name     string
		fileName string
		mimeType string
		head     []byte
	}{
		{"png", "photo.png", "image/png", png},
		{"no hints", "blob", "", nil},
		{"bad mime", "blob", ";;", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DetectKind(tt.fileName, tt.mimeType, tt.head)
			assert.ErrorIs(t, err, ErrUnsupportedFile)
		})
	}
}

func TestFileKind_Text(t *testing.T) {
	assert.True(t, KindCSV.Text())
	assert.True(t, KindTSV.Text())
	assert.False(t, KindWorkbook.Text())
}
