package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarir/personnel-import/internal/config"
	"github.com/sarir/personnel-import/internal/gateway"
	"github.com/sarir/personnel-import/internal/importer"
	"github.com/sarir/personnel-import/internal/mapping"
)

const importReply = `{"inserted":1,"updated":0,"failed":1,"deficiencies_total":1,` +
	`"report":[{"row_index":2,"key":"0099","missing_fields":["email"],"error":""}]}`

const schemaReply = `{"model":"Employee","columns":[` +
	`{"name":"id","type":"INTEGER","nullable":false,"primary_key":true},` +
	`{"name":"national_id","type":"VARCHAR","nullable":false,"primary_key":false},` +
	`{"name":"email","type":"VARCHAR","nullable":true,"primary_key":false}]}`

// fakeBackend records bulk-import bodies.
type fakeBackend struct {
	mu     sync.Mutex
	bodies []string
}

func (b *fakeBackend) received() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.bodies...)
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/employees/bulk_import", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		b.bodies = append(b.bodies, string(body))
		b.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(importReply))
	})
	mux.HandleFunc("/api/employees/schema", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(schemaReply))
	})
	return mux
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: 5 * time.Second},
		Import: config.ImportConfig{MaxFileSize: 1 << 20},
		Security: config.SecurityConfig{
			EnableCSP: true,
		},
	}
}

type testEnv struct {
	app     *httptest.Server
	backend *fakeBackend
	server  *Server
}

func newTestEnv(t *testing.T, cfg *config.Config, backendURL string, profiles *mapping.Profiles) *testEnv {
	t.Helper()

	fb := &fakeBackend{}
	if backendURL == "" {
		be := httptest.NewServer(fb.handler())
		t.Cleanup(be.Close)
		backendURL = be.URL
	}

	gw := gateway.New(gateway.Options{BaseURL: backendURL, AttemptTimeout: time.Second})
	limiter := importer.NewLimiter(2, time.Second)
	tracker := importer.NewTracker(importer.New(importer.Options{Gateway: gw}), importer.TrackerOptions{Limiter: limiter})

	srv := NewServer(cfg, Deps{
		Gateway:  gw,
		Tracker:  tracker,
		Preview:  importer.New(importer.Options{DryRun: true}),
		Limiter:  limiter,
		Profiles: profiles,
	})
	app := httptest.NewServer(srv.Router())
	t.Cleanup(app.Close)

	return &testEnv{app: app, backend: fb, server: srv}
}

func closedURL(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return "http://" + addr
}

func multipartBody(t *testing.T, name, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if name != "" {
		fw, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = io.WriteString(fw, content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (e *testEnv) startImport(t *testing.T, name, content string, fields map[string]string) string {
	t.Helper()
	body, ct := multipartBody(t, name, content, fields)
	resp, err := http.Post(e.app.URL+"/api/import/file", ct, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out["import_id"])
	return out["import_id"]
}

func (e *testEnv) waitResult(t *testing.T, id string) ResultResponse {
	t.Helper()
	var result ResultResponse
	require.Eventually(t, func() bool {
		resp, err := http.Get(e.app.URL + "/api/import/" + id + "/result")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		return json.NewDecoder(resp.Body).Decode(&result) == nil
	}, 5*time.Second, 20*time.Millisecond)
	return result
}

func decodeError(t *testing.T, resp *http.Response) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	return e
}

func TestProxyImport_RelaysBackendAnswer(t *testing.T) {
	env := newTestEnv(t, testConfig(), "", nil)

	body := `{"rows":[{"a":"1"}],"required_fields":[],"mapping":{}}`
	resp, err := http.Post(env.app.URL+"/api/import/employees", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	got, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, importReply, string(got))
	assert.Equal(t, []string{body}, env.backend.received())
}

func TestProxyImport_RelaysRejection(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":"rows required"}`))
	}))
	defer backend.Close()

	env := newTestEnv(t, testConfig(), backend.URL, nil)

	resp, err := http.Post(env.app.URL+"/api/import/employees", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	got, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
	assert.Equal(t, `{"detail":"rows required"}`, string(got))
}

func TestProxyImport_BackendUnreachable(t *testing.T) {
	env := newTestEnv(t, testConfig(), closedURL(t), nil)

	resp, err := http.Post(env.app.URL+"/api/import/employees", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	got, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.JSONEq(t, gateway.UnreachableBody, string(got))
}

func TestSchema(t *testing.T) {
	env := newTestEnv(t, testConfig(), "", nil)

	resp, err := http.Get(env.app.URL + "/api/employees/schema")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		Model          string           `json:"model"`
		Columns        []gateway.Column `json:"columns"`
		RequiredFields []string         `json:"required_fields"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "Employee", got.Model)
	assert.Len(t, got.Columns, 3)
	assert.Equal(t, []string{"national_id"}, got.RequiredFields)
}

func TestSchema_Unreachable(t *testing.T) {
	env := newTestEnv(t, testConfig(), closedURL(t), nil)

	resp, err := http.Get(env.app.URL + "/api/employees/schema")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestImportFile_EndToEnd(t *testing.T) {
	env := newTestEnv(t, testConfig(), "", nil)

	id := env.startImport(t, "staff.csv", "کد ملی,email\n0012,a@example.com\n0099,", nil)
	result := env.waitResult(t, id)

	assert.Equal(t, importer.OutcomeSubmissionAccepted, result.Outcome)
	assert.Equal(t, importer.StageComplete, result.Status.Stage)
	assert.Equal(t, 100, result.Status.Overall)
	assert.Equal(t, http.StatusOK, result.BackendStatus)
	require.NotNil(t, result.Summary)
	assert.Equal(t, int64(1), result.Summary.Inserted)
	assert.Equal(t, int64(1), result.Summary.Failed)
	assert.Nil(t, result.Error)

	received := env.backend.received()
	require.Len(t, received, 1)
	assert.JSONEq(t,
		`{"rows":[{"کد ملی":"0012","email":"a@example.com"},{"کد ملی":"0099","email":""}],"required_fields":[],"mapping":{}}`,
		received[0])
}

func TestImportFile_MappingFields(t *testing.T) {
	env := newTestEnv(t, testConfig(), "", nil)

	id := env.startImport(t, "staff.csv", "Code\n0012", map[string]string{
		"mapping":         `{"Code":"national_id"}`,
		"required_fields": `["national_id"]`,
	})
	env.waitResult(t, id)

	received := env.backend.received()
	require.Len(t, received, 1)
	assert.JSONEq(t,
		`{"rows":[{"Code":"0012"}],"required_fields":["national_id"],"mapping":{"Code":"national_id"}}`,
		received[0])
}

func TestImportFile_Profile(t *testing.T) {
	profiles := &mapping.Profiles{Profiles: map[string]mapping.Profile{
		"hr": {Mapping: mapping.Mapping{"Code": "national_id"}},
	}}
	env := newTestEnv(t, testConfig(), "", profiles)

	id := env.startImport(t, "staff.csv", "Code\n0012", map[string]string{"profile": "hr"})
	env.waitResult(t, id)

	received := env.backend.received()
	require.Len(t, received, 1)
	assert.Contains(t, received[0], `"mapping":{"Code":"national_id"}`)
}

func TestImportFile_BadRequests(t *testing.T) {
	env := newTestEnv(t, testConfig(), "", nil)

	tests := []struct {
		name       string
		file       string
		fields     map[string]string
		wantStatus int
		wantCode   string
	}{
		{"no file", "", nil, http.StatusBadRequest, "FILE004"},
		{"bad mapping", "a.csv", map[string]string{"mapping": "{"}, http.StatusBadRequest, "IMP006"},
		{"unknown profile", "a.csv", map[string]string{"profile": "payroll"}, http.StatusNotFound, "IMP005"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := multipartBody(t, tt.file, "a\n1", tt.fields)
			resp, err := http.Post(env.app.URL+"/api/import/file", ct, body)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantCode, decodeError(t, resp).Code)
		})
	}

	resp, err := http.Post(env.app.URL+"/api/import/file", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "FILE008", decodeError(t, resp).Code)
}

func TestImportFile_TooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Import.MaxFileSize = 16
	env := newTestEnv(t, cfg, "", nil)

	body, ct := multipartBody(t, "a.csv", strings.Repeat("x", 2<<20), nil)
	resp, err := http.Post(env.app.URL+"/api/import/file", ct, body)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "FILE001", decodeError(t, resp).Code)
}

func TestImportResult_FailedImport(t *testing.T) {
	env := newTestEnv(t, testConfig(), "", nil)

	id := env.startImport(t, "photo.png", "\x89PNG\r\n\x1a\n", nil)
	result := env.waitResult(t, id)

	assert.Equal(t, importer.OutcomeParseFailed, result.Outcome)
	assert.Equal(t, importer.StageFailed, result.Status.Stage)
	require.NotNil(t, result.Error)
	assert.Equal(t, "FILE002", result.Error.Code)
	assert.Empty(t, env.backend.received())
}

func TestImportProgress_StreamsUntilComplete(t *testing.T) {
	env := newTestEnv(t, testConfig(), "", nil)

	id := env.startImport(t, "staff.csv", "a\n1", nil)

	resp, err := http.Get(env.app.URL + "/api/import/" + id + "/progress")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var statuses []importer.Status
	sawComplete := false
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "event: complete" {
			sawComplete = true
			break
		}
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			var st importer.Status
			require.NoError(t, json.Unmarshal([]byte(data), &st))
			statuses = append(statuses, st)
		}
	}

	require.True(t, sawComplete, "stream should end with a complete event")
	require.NotEmpty(t, statuses)
	last := statuses[len(statuses)-1]
	assert.Equal(t, importer.StageComplete, last.Stage)
	for i := 1; i < len(statuses); i++ {
		assert.GreaterOrEqual(t, statuses[i].Overall, statuses[i-1].Overall)
	}
}

func TestImportReport(t *testing.T) {
	env := newTestEnv(t, testConfig(), "", nil)

	id := env.startImport(t, "staff.csv", "a\n1", nil)
	env.waitResult(t, id)

	resp, err := http.Get(env.app.URL + "/api/import/" + id + "/report.csv")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")
	assert.Equal(t, "1", resp.Header.Get("X-Report-Rows"))
	assert.Equal(t, "\ufeffrow_index,key,missing_fields,error\n2,0099,email,\n", string(body))
}

func TestImport_UnknownID(t *testing.T) {
	env := newTestEnv(t, testConfig(), "", nil)

	for _, path := range []string{"/result", "/progress", "/report.csv", ""} {
		resp, err := http.Get(env.app.URL + "/api/import/missing" + path)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		assert.Equal(t, "UPL003", decodeError(t, resp).Code, path)
		resp.Body.Close()
	}

	resp, err := http.Post(env.app.URL+"/api/import/missing/cancel", "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPreview_AutoMapsAgainstSchema(t *testing.T) {
	env := newTestEnv(t, testConfig(), "", nil)

	body, ct := multipartBody(t, "staff.csv", "کد ملی,E-Mail,Notes\n0012345678,a@example.com,x", nil)
	resp, err := http.Post(env.app.URL+"/api/import/preview", ct, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got PreviewResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, []string{"کد ملی", "E-Mail", "Notes"}, got.Headers)
	assert.Equal(t, 1, got.RowCount)
	assert.Equal(t, []string{"national_id"}, got.RequiredFields)
	assert.Equal(t, "national_id", got.Mapping["کد ملی"])
	assert.Equal(t, "email", got.Mapping["E-Mail"])
	assert.Empty(t, env.backend.received(), "preview must not submit")
}

func TestPreview_DecodeFailure(t *testing.T) {
	env := newTestEnv(t, testConfig(), "", nil)

	body, ct := multipartBody(t, "staff.xlsx", "not a workbook", nil)
	resp, err := http.Post(env.app.URL+"/api/import/preview", ct, body)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "FILE006", decodeError(t, resp).Code)
}

func TestPreview_BadRequests(t *testing.T) {
	env := newTestEnv(t, testConfig(), "", nil)

	tests := []struct {
		name       string
		fields     map[string]string
		wantStatus int
		wantCode   string
	}{
		{"bad mapping", map[string]string{"mapping": "{"}, http.StatusBadRequest, "IMP006"},
		{"unknown profile", map[string]string{"profile": "payroll"}, http.StatusNotFound, "IMP005"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := multipartBody(t, "a.csv", "a\n1", tt.fields)
			resp, err := http.Post(env.app.URL+"/api/import/preview", ct, body)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantCode, decodeError(t, resp).Code)
		})
	}
}

func TestServer_ShutdownBeforeStart(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Host = "127.0.0.1"
	srv := NewServer(cfg, Deps{Gateway: gateway.New(gateway.Options{BaseURL: closedURL(t)})})

	require.NoError(t, srv.Shutdown(testContext(t)))

	done := make(chan error, 1)
	go func() { done <- srv.Start() }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Start kept serving after Shutdown")
	}
}

func TestHealthAndSecurityHeaders(t *testing.T) {
	env := newTestEnv(t, testConfig(), "", nil)

	resp, err := http.Get(env.app.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.NotEmpty(t, resp.Header.Get("Content-Security-Policy"))

	var got struct {
		Status   string                 `json:"status"`
		Resource string                 `json:"resource"`
		Imports  importer.LimiterStatus `json:"imports"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "ok", got.Status)
	assert.Equal(t, "employees", got.Resource)
	assert.Equal(t, 2, got.Imports.MaxConcurrent)
}

func TestRateLimit_ImportRoutes(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 100, ImportLimit: 1}
	env := newTestEnv(t, cfg, "", nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() { _ = env.server.Shutdown(ctx) })
	t.Cleanup(cancel) // runs first, mirroring t.Context being canceled before cleanups

	post := func() int {
		resp, err := http.Post(env.app.URL+"/api/import/employees", "application/json", strings.NewReader(`{}`))
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, post())
	assert.Equal(t, http.StatusTooManyRequests, post())

	resp, err := http.Get(env.app.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "general routes use the wider limit")
}

// testContext stands in for t.Context (Go 1.24+): a context canceled when the
// test finishes.
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
