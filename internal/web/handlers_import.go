package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sarir/personnel-import/internal/gateway"
	"github.com/sarir/personnel-import/internal/importer"
	"github.com/sarir/personnel-import/internal/logging"
	"github.com/sarir/personnel-import/internal/mapping"
	"github.com/sarir/personnel-import/internal/report"
	"github.com/sarir/personnel-import/internal/tabular"
)

const (
	// multipartOverhead is allowed on top of the file size for form fields
	// and part headers.
	multipartOverhead = 1 << 20

	// multipartMemory is kept in memory while parsing; larger files spill to
	// temporary files.
	multipartMemory = 8 << 20

	previewRows = 20
)

// handleImportFile starts a tracked import of the uploaded file and returns
// its ID. The file is buffered before responding because multipart temp
// files do not outlive the request.
//
// Form fields: file (required), profile (optional profile name), mapping
// (optional JSON object header -> field), required_fields (optional JSON
// array). An explicit mapping wins over a profile.
func (s *Server) handleImportFile(w http.ResponseWriter, r *http.Request) {
	file, header, ok := s.formFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	profile, err := s.requestProfile(r)
	if err != nil {
		respondError(w, r, err, profileErrorStatus(err))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, r, fmt.Errorf("read upload: %w", err), http.StatusInternalServerError)
		return
	}

	id, err := s.deps.Tracker.Start(r.Context(), importer.File{
		Name:     header.Filename,
		MIMEType: header.Header.Get("Content-Type"),
		Size:     int64(len(data)),
		Reader:   bytes.NewReader(data),
		Profile:  profile,
	})
	if err != nil {
		if errors.Is(err, importer.ErrTooManyImports) {
			w.Header().Set("Retry-After", "30")
			respondError(w, r, err, http.StatusServiceUnavailable)
			return
		}
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	writeJSONStatus(w, http.StatusAccepted, map[string]string{"import_id": id})
}

// formFile parses the multipart form and returns the "file" part. It writes
// the error response itself when ok is false.
func (s *Server) formFile(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, bool) {
	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, fmt.Errorf("file too large: limit %d bytes", maxSize), http.StatusRequestEntityTooLarge)
			return nil, nil, false
		}
		respondError(w, r, fmt.Errorf("invalid form: %w", err), http.StatusBadRequest)
		return nil, nil, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, errors.New("no file provided"), http.StatusBadRequest)
		return nil, nil, false
	}
	return file, header, true
}

func profileErrorStatus(err error) int {
	if errors.Is(err, mapping.ErrProfileNotFound) {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

// requestProfile builds the per-request mapping profile, or nil when the
// request does not pick one.
func (s *Server) requestProfile(r *http.Request) (*mapping.Profile, error) {
	var p mapping.Profile
	chosen := false

	if name := r.FormValue("profile"); name != "" {
		if s.deps.Profiles == nil {
			return nil, fmt.Errorf("%w: %q", mapping.ErrProfileNotFound, name)
		}
		found, err := s.deps.Profiles.Get(name)
		if err != nil {
			return nil, err
		}
		p, chosen = found, true
	}

	if raw := r.FormValue("mapping"); raw != "" {
		var m mapping.Mapping
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("invalid mapping: %w", err)
		}
		p.Mapping, chosen = m, true
	}

	if raw := r.FormValue("required_fields"); raw != "" {
		var req []string
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			return nil, fmt.Errorf("invalid required_fields: %w", err)
		}
		p.Required, chosen = req, true
	}

	if !chosen {
		return nil, nil
	}
	return &p, nil
}

// handleImportProgress streams import status as server-sent events. The
// event ID is the overall percentage, so a reconnecting client passing
// Last-Event-ID (or ?lastEventId) skips updates it already has.
func (s *Server) handleImportProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "importID")

	lastEventID := -1
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		lastEventID, _ = strconv.Atoi(v)
	} else if v := r.URL.Query().Get("lastEventId"); v != "" {
		lastEventID, _ = strconv.Atoi(v)
	}

	updates, err := s.deps.Tracker.Subscribe(id)
	if err != nil {
		respondError(w, r, err, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)

	for {
		select {
		case st, ok := <-updates:
			if !ok {
				fmt.Fprint(w, "event: complete\ndata: {}\n\n")
				_ = rc.Flush()
				return
			}
			if st.Overall <= lastEventID && !st.Done() {
				continue
			}

			data, _ := json.Marshal(st)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", st.Overall, data)
			if err := rc.Flush(); err != nil {
				logging.FromContext(r.Context()).Debug("progress stream closed", "import_id", id, "error", err)
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Tracker.Status(chi.URLParam(r, "importID"))
	if err != nil {
		respondError(w, r, err, http.StatusNotFound)
		return
	}
	writeJSON(w, st)
}

// ResultResponse is the body of GET /api/import/{id}/result.
type ResultResponse struct {
	Status  importer.Status      `json:"status"`
	Outcome importer.OutcomeKind `json:"outcome,omitempty"`

	// BackendStatus and Response are the backend's answer, when there was one.
	BackendStatus int             `json:"backend_status,omitempty"`
	Response      json.RawMessage `json:"response,omitempty"`
	Endpoint      string          `json:"endpoint,omitempty"`

	Summary *gateway.Summary      `json:"summary,omitempty"`
	Error   *importer.UserMessage `json:"error,omitempty"`
}

func newResultResponse(st importer.Status, out importer.Outcome) ResultResponse {
	resp := ResultResponse{
		Status:        st,
		Outcome:       out.Kind,
		BackendStatus: out.Status,
		Endpoint:      out.Endpoint,
	}
	if json.Valid(out.Body) {
		resp.Response = out.Body
	}
	if sum, ok := gateway.Summarize(out.Body); ok && out.Kind == importer.OutcomeSubmissionAccepted {
		resp.Summary = &sum
	}
	if out.Failed() {
		msg := importer.MapOutcome(out)
		resp.Error = &msg
	}
	return resp
}

// handleImportResult returns 202 with the live status while the import runs,
// then 200 with the outcome.
func (s *Server) handleImportResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "importID")

	out, done, err := s.deps.Tracker.Outcome(id)
	if err != nil {
		respondError(w, r, err, http.StatusNotFound)
		return
	}
	st, err := s.deps.Tracker.Status(id)
	if err != nil {
		respondError(w, r, err, http.StatusNotFound)
		return
	}

	if !done {
		writeJSONStatus(w, http.StatusAccepted, ResultResponse{Status: st})
		return
	}
	writeJSON(w, newResultResponse(st, out))
}

func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Tracker.Cancel(chi.URLParam(r, "importID")); err != nil {
		respondError(w, r, err, http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]string{"status": "cancelled"})
}

// handleImportReport exports the backend's per-row report of a finished
// import as CSV.
func (s *Server) handleImportReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "importID")

	out, done, err := s.deps.Tracker.Outcome(id)
	if err != nil {
		respondError(w, r, err, http.StatusNotFound)
		return
	}
	if !done {
		respondError(w, r, importer.ErrImportRunning, http.StatusConflict)
		return
	}

	var buf bytes.Buffer
	n, err := report.WriteCSV(&buf, out.Body)
	if err != nil {
		if errors.Is(err, report.ErrNoReport) {
			respondError(w, r, err, http.StatusNotFound)
			return
		}
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="import_%s_report.csv"`, short))
	w.Header().Set("X-Report-Rows", strconv.Itoa(n))
	_, _ = w.Write(buf.Bytes())
}

// PreviewResponse is the body of POST /api/import/preview.
type PreviewResponse struct {
	Headers        []string        `json:"headers"`
	Rows           []tabular.Row   `json:"rows"`
	RowCount       int             `json:"row_count"`
	Fields         []string        `json:"fields"`
	RequiredFields []string        `json:"required_fields"`
	Mapping        mapping.Mapping `json:"mapping"`
}

// handlePreview decodes the uploaded file without submitting it and
// suggests a mapping. The suggestion comes from the requested profile, or
// from matching the headers against the backend schema. A backend that
// cannot be reached leaves the suggestion empty rather than failing.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	file, header, ok := s.formFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	profile, err := s.requestProfile(r)
	if err != nil {
		respondError(w, r, err, profileErrorStatus(err))
		return
	}

	out := s.deps.Preview.ImportFile(r.Context(), importer.File{
		Name:     header.Filename,
		MIMEType: header.Header.Get("Content-Type"),
		Size:     header.Size,
		Reader:   file,
	})
	if out.Failed() {
		respondError(w, r, out.Err(), http.StatusUnprocessableEntity)
		return
	}
	res := out.Parsed

	resp := PreviewResponse{
		Headers:        res.Headers,
		Rows:           res.Rows[:min(len(res.Rows), previewRows)],
		RowCount:       len(res.Rows),
		Fields:         []string{},
		RequiredFields: []string{},
		Mapping:        mapping.Mapping{},
	}

	schema, err := s.deps.Gateway.Schema(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Warn("schema unavailable for preview", "error", err)
	} else {
		resp.Fields = schema.Fields()
		if req := schema.RequiredFields(); req != nil {
			resp.RequiredFields = req
		}
	}

	switch {
	case profile != nil:
		p := profile.ApplyTo(res.Headers)
		resp.Mapping = p.Mapping
		if p.Required != nil {
			resp.RequiredFields = p.Required
		}
	case len(resp.Fields) > 0:
		resp.Mapping = mapping.AutoMap(res.Headers, res.Rows, resp.Fields)
	}

	writeJSON(w, resp)
}
