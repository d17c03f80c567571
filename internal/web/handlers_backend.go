package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sarir/personnel-import/internal/gateway"
	"github.com/sarir/personnel-import/internal/logging"
)

// maxProxyBodyFactor bounds a proxied JSON body relative to the file size
// limit. Encoded rows are larger than the spreadsheet they came from.
const maxProxyBodyFactor = 4

// handleProxyImport forwards an already encoded bulk-import request to the
// backend and relays the first answer verbatim: status, body and content
// type. An unreachable backend yields 502 {"error":"backend not reachable"}.
func (s *Server) handleProxyImport(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.Import.MaxFileSize * maxProxyBodyFactor
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, fmt.Errorf("file too large: request body over %d bytes", limit), http.StatusRequestEntityTooLarge)
			return
		}
		respondError(w, r, fmt.Errorf("read request: %w", err), http.StatusBadRequest)
		return
	}

	resp := s.deps.Gateway.Submit(r.Context(), body)

	logger := logging.FromContext(r.Context())
	if sum, ok := gateway.Summarize(resp.Body); ok && resp.Accepted() {
		logger.Info("proxied import accepted", "endpoint", resp.URL, "summary", sum.String())
	} else {
		logger.Warn("proxied import not accepted", "endpoint", resp.URL, "status", resp.Status)
	}

	relay(w, resp.Status, resp.ContentType, resp.Body)
}

// SchemaResponse is the backend schema plus the derived required fields.
type SchemaResponse struct {
	*gateway.Schema
	RequiredFields []string `json:"required_fields"`
}

// handleSchema returns the backend's column list. Backend errors are relayed
// with their status.
func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := s.deps.Gateway.Schema(r.Context())
	if err != nil {
		var se *gateway.StatusError
		switch {
		case errors.As(err, &se):
			relay(w, se.Status, "application/json", se.Body)
		case errors.Is(err, gateway.ErrUnreachable):
			logging.FromContext(r.Context()).Warn("schema: backend not reachable")
			relay(w, http.StatusBadGateway, "application/json", []byte(gateway.UnreachableBody))
		default:
			respondError(w, r, err, http.StatusBadGateway)
		}
		return
	}

	required := schema.RequiredFields()
	if required == nil {
		required = []string{}
	}
	writeJSON(w, SchemaResponse{Schema: schema, RequiredFields: required})
}

// handleHealth reports liveness and import slot usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":   "ok",
		"resource": s.deps.Gateway.Resource(),
	}
	if s.deps.Limiter != nil {
		resp["imports"] = s.deps.Limiter.Status()
	}
	writeJSON(w, resp)
}
