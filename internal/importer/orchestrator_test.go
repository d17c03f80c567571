package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/sarir/personnel-import/internal/gateway"
	"github.com/sarir/personnel-import/internal/mapping"
	"github.com/sarir/personnel-import/internal/tabular"
	"github.com/sarir/personnel-import/internal/worker"
)

// fakeGateway records submitted bodies and answers with a fixed response.
type fakeGateway struct {
	mu     sync.Mutex
	bodies [][]byte
	resp   gateway.Response
}

func (g *fakeGateway) Submit(_ context.Context, body []byte) gateway.Response {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bodies = append(g.bodies, append([]byte(nil), body...))
	return g.resp
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.bodies)
}

func okGateway() *fakeGateway {
	return &fakeGateway{resp: gateway.Response{
		Status:      http.StatusOK,
		Body:        []byte(`{"inserted":2,"updated":0,"failed":0,"deficiencies_total":0,"report":[]}`),
		ContentType: "application/json",
		URL:         "http://backend/api/employees/bulk_import",
	}}
}

// recordingObserver collects progress events.
type recordingObserver struct {
	mu     sync.Mutex
	events []worker.Progress
}

func (r *recordingObserver) OnProgress(p worker.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, p)
}

func (r *recordingObserver) phase(ph worker.Phase) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, e := range r.events {
		if e.Phase == ph {
			out = append(out, e.Percent)
		}
	}
	return out
}

func textFile(name, content string) File {
	return File{Name: name, Size: int64(len(content)), Reader: strings.NewReader(content)}
}

func xlsxBytes(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	require.NoError(t, f.Close())
	return buf.Bytes()
}

func submittedRows(t *testing.T, body []byte) []map[string]any {
	t.Helper()
	var req struct {
		Rows []map[string]any `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(body, &req))
	return req.Rows
}

func TestImportFile_CSVAccepted(t *testing.T) {
	gw := okGateway()
	obs := &recordingObserver{}

	out := New(Options{Gateway: gw}).ImportFile(context.Background(), textFile("staff.csv", "a,b\n1,2\n3,4"), obs)

	require.Equal(t, OutcomeSubmissionAccepted, out.Kind, out.Message)
	assert.Equal(t, http.StatusOK, out.Status)
	assert.Equal(t, "application/json", out.ContentType)
	assert.Equal(t, gw.resp.Body, out.Body)
	assert.Nil(t, out.Err())

	require.Equal(t, 1, gw.calls())
	assert.JSONEq(t,
		`{"rows":[{"a":"1","b":"2"},{"a":"3","b":"4"}],"required_fields":[],"mapping":{}}`,
		string(gw.bodies[0]))

	reading := obs.phase(worker.PhaseReading)
	require.NotEmpty(t, reading)
	assert.Equal(t, 0, reading[0])
	assert.Equal(t, 100, reading[len(reading)-1])
	assert.IsIncreasing(t, reading)

	parsing := obs.phase(worker.PhaseParsing)
	require.NotEmpty(t, parsing)
	assert.IsIncreasing(t, parsing)
	assert.Equal(t, 100, parsing[len(parsing)-1])

	assert.Equal(t, []int{0, 100}, obs.phase(PhaseSubmitting))
}

func TestImportFile_PathSelection(t *testing.T) {
	xlsx := xlsxBytes(t, [][]any{{"a", "b"}, {"1", "2"}})

	tests := []struct {
		name string
		file File
	}{
		{"tsv by extension", textFile("staff.tsv", "a\tb\n1\t2")},
		{"csv by mime", File{Name: "upload", MIMEType: "text/csv", Reader: strings.NewReader("a,b\n1,2")}},
		{"xlsx by extension", File{Name: "staff.xlsx", Reader: bytes.NewReader(xlsx)}},
		{"xlsx by content", File{Name: "blob", Reader: bytes.NewReader(xlsx)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := New(Options{DryRun: true}).ImportFile(context.Background(), tt.file)
			require.Equal(t, OutcomeParsed, out.Kind, out.Message)
			assert.Equal(t, tabular.Header{"a", "b"}, out.Parsed.Headers)
			assert.Equal(t, []tabular.Row{{"a": "1", "b": "2"}}, out.Parsed.Rows)
		})
	}
}

func TestImportFile_ParseFailures(t *testing.T) {
	tests := []struct {
		name    string
		file    File
		wantMsg string
	}{
		{"empty file", textFile("staff.csv", ""), "empty file"},
		{"corrupt workbook", File{Name: "staff.xlsx", Reader: strings.NewReader("not a workbook")}, "unsupported workbook format"},
		{"truncated xlsx", File{Name: "staff.xlsx", Reader: bytes.NewReader([]byte("PK\x03\x04garbage"))}, "decode"},
		{"unsupported type", File{Name: "photo.png", Reader: bytes.NewReader([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"))}, "unsupported file type"},
		{"no reader", File{Name: "staff.csv"}, "no file provided"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := okGateway()
			out := New(Options{Gateway: gw}).ImportFile(context.Background(), tt.file)

			assert.Equal(t, OutcomeParseFailed, out.Kind)
			assert.Contains(t, out.Message, tt.wantMsg)
			assert.Error(t, out.Err())
			assert.Zero(t, gw.calls(), "gateway must not be called after a parse failure")
		})
	}
}

func TestImportFile_FileTooLarge(t *testing.T) {
	orch := New(Options{Gateway: okGateway(), MaxFileSize: 8})

	declared := orch.ImportFile(context.Background(), File{Name: "a.csv", Size: 100, Reader: strings.NewReader("x")})
	assert.Equal(t, OutcomeParseFailed, declared.Kind)
	assert.Contains(t, declared.Message, "file too large")

	undeclared := orch.ImportFile(context.Background(), File{Name: "a.csv", Reader: strings.NewReader("a,b\n1,2\n3,4")})
	assert.Equal(t, OutcomeParseFailed, undeclared.Kind)
	assert.Contains(t, undeclared.Message, "file too large")
}

func TestImportFile_LegacyCharset(t *testing.T) {
	// "نام" as a header and "علي" as a value, windows-1256 encoded.
	content := []byte{0xE4, 0xC7, 0xE3, '\n', 0xDA, 0xE1, 0xED}

	out := New(Options{DryRun: true, Charset: "windows-1256"}).
		ImportFile(context.Background(), File{Name: "staff.csv", Reader: bytes.NewReader(content)})

	require.Equal(t, OutcomeParsed, out.Kind, out.Message)
	assert.Equal(t, tabular.Header{"نام"}, out.Parsed.Headers)
	assert.Equal(t, []tabular.Row{{"نام": "عل\u064a"}}, out.Parsed.Rows)
}

func TestImportFile_UnknownCharset(t *testing.T) {
	out := New(Options{DryRun: true, Charset: "no-such-charset"}).
		ImportFile(context.Background(), File{Name: "staff.csv", Reader: bytes.NewReader([]byte{0xE4, 0xC7})})

	assert.Equal(t, OutcomeParseFailed, out.Kind)
	assert.Contains(t, out.Message, "decode charset")
	assert.Equal(t, "FILE003", MapOutcome(out).Code)
}

func TestImportFile_BackendRejects(t *testing.T) {
	gw := &fakeGateway{resp: gateway.Response{
		Status:      http.StatusUnprocessableEntity,
		Body:        []byte(`{"detail":"rows required"}`),
		ContentType: "application/json",
		URL:         "http://backend/api/employees/bulk_import",
	}}

	out := New(Options{Gateway: gw}).ImportFile(context.Background(), textFile("a.csv", "a\n1"))

	assert.Equal(t, OutcomeSubmissionFailed, out.Kind)
	assert.Equal(t, http.StatusUnprocessableEntity, out.Status)
	assert.Equal(t, `{"detail":"rows required"}`, string(out.Body))
	assert.Equal(t, "rows required", out.Message)
	assert.Equal(t, "HTTP422", MapOutcome(out).Code)
}

func TestImportFile_BackendUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	gw := gateway.New(gateway.Options{BaseURL: base, AttemptTimeout: time.Second})
	out := New(Options{Gateway: gw}).ImportFile(context.Background(), textFile("a.csv", "a\n1"))

	assert.Equal(t, OutcomeSubmissionFailed, out.Kind)
	assert.Equal(t, http.StatusBadGateway, out.Status)
	assert.JSONEq(t, gateway.UnreachableBody, string(out.Body))
	assert.Equal(t, "GW001", MapOutcome(out).Code)
}

func TestImportFile_ThroughGateway(t *testing.T) {
	var got []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/employees/bulk_import", r.URL.Path)
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(r.Body)
		got = buf.Bytes()
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"inserted":1}`))
	}))
	defer srv.Close()

	plan := FixedPlan(mapping.Profile{
		Mapping:  mapping.Mapping{"کد ملی": "national_id"},
		Required: []string{"national_id"},
	})
	orch := New(Options{Gateway: gateway.New(gateway.Options{BaseURL: srv.URL + "/api"}), Planner: plan})

	out := orch.ImportFile(context.Background(), textFile("a.csv", "کد ملی\n0012345678"))

	require.Equal(t, OutcomeSubmissionAccepted, out.Kind, out.Message)
	assert.Equal(t, "application/json; charset=utf-8", out.ContentType)
	assert.Equal(t, srv.URL+"/api/employees/bulk_import", out.Endpoint)
	assert.JSONEq(t,
		`{"rows":[{"کد ملی":"0012345678"}],"required_fields":["national_id"],"mapping":{"کد ملی":"national_id"}}`,
		string(got))
}

func TestImportFile_MappingRejected(t *testing.T) {
	gw := okGateway()
	plan := FixedPlan(mapping.Profile{
		Mapping:  mapping.Mapping{"a": "email"},
		Required: []string{"national_id"},
	})

	out := New(Options{Gateway: gw, Planner: plan}).ImportFile(context.Background(), textFile("a.csv", "a\n1"))

	assert.Equal(t, OutcomeSubmissionFailed, out.Kind)
	assert.Equal(t, http.StatusUnprocessableEntity, out.Status)
	assert.Contains(t, out.Message, "national_id")
	assert.Equal(t, "IMP002", MapOutcome(out).Code)
	assert.Zero(t, gw.calls())
}

func TestImportFile_PlannerError(t *testing.T) {
	gw := okGateway()
	plan := func(context.Context, *tabular.Result) (mapping.Profile, error) {
		return mapping.Profile{}, fmt.Errorf("%w: \"payroll\"", mapping.ErrProfileNotFound)
	}

	out := New(Options{Gateway: gw, Planner: plan}).ImportFile(context.Background(), textFile("a.csv", "a\n1"))

	assert.Equal(t, OutcomeSubmissionFailed, out.Kind)
	assert.Equal(t, "IMP005", MapOutcome(out).Code)
	assert.Zero(t, gw.calls())
}

func TestImportFile_NoGateway(t *testing.T) {
	out := New(Options{}).ImportFile(context.Background(), textFile("a.csv", "a\n1"))
	assert.Equal(t, OutcomeSubmissionFailed, out.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, out.Status)
}

func TestImportFile_DecodeTimeout(t *testing.T) {
	gw := okGateway()
	out := New(Options{Gateway: gw, DecodeTimeout: time.Nanosecond}).
		ImportFile(context.Background(), textFile("a.csv", "a\n1"))

	assert.Equal(t, OutcomeParseFailed, out.Kind)
	assert.Contains(t, out.Message, "decode timed out")
	assert.Equal(t, "IMP001", MapOutcome(out).Code)
	assert.Zero(t, gw.calls())
}

func TestImportFile_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gw := okGateway()
	out := New(Options{Gateway: gw}).ImportFile(ctx, textFile("a.csv", "a\n1"))

	assert.Equal(t, OutcomeParseFailed, out.Kind)
	assert.Contains(t, out.Message, "import cancelled")
	assert.Zero(t, gw.calls())
}

func TestImportFile_ConcurrentImportsAreIndependent(t *testing.T) {
	gw := okGateway()
	orch := New(Options{Gateway: gw})

	const n = 8
	outcomes := make([]Outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			content := fmt.Sprintf("id,name\n%d,user-%d", i, i)
			outcomes[i] = orch.ImportFile(context.Background(), textFile(fmt.Sprintf("f%d.csv", i), content))
		}(i)
	}
	wg.Wait()

	for i, out := range outcomes {
		assert.Equal(t, OutcomeSubmissionAccepted, out.Kind, "import %d", i)
	}

	require.Equal(t, n, gw.calls())
	seen := make(map[string]bool)
	for _, body := range gw.bodies {
		rows := submittedRows(t, body)
		require.Len(t, rows, 1)
		id := rows[0]["id"].(string)
		assert.Equal(t, "user-"+id, rows[0]["name"])
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestImportFile_PerFileProfile(t *testing.T) {
	gw := okGateway()
	orch := New(Options{Gateway: gw, Planner: FixedPlan(mapping.Profile{Required: []string{"national_id"}})})

	f := textFile("a.csv", "First,Last\nAli,Rezaei")
	f.Profile = &mapping.Profile{
		Mapping:    mapping.Mapping{"First": "first_name"},
		Composites: map[string]mapping.Composite{"full_name": {Headers: []string{"First", "Last"}, Sep: " "}},
	}

	out := orch.ImportFile(context.Background(), f)

	require.Equal(t, OutcomeSubmissionAccepted, out.Kind, out.Message)
	require.Equal(t, 1, gw.calls())
	assert.JSONEq(t,
		`{"rows":[{"First":"Ali","Last":"Rezaei","full_name":"Ali Rezaei"}],"required_fields":[],"mapping":{"First":"first_name"}}`,
		string(gw.bodies[0]))
}
