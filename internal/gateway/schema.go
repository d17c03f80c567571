package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/sarir/personnel-import/internal/logging"
)

// Column describes one backend model column.
type Column struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key"`
}

// Schema is the backend's description of the import target.
type Schema struct {
	Model   string   `json:"model"`
	Columns []Column `json:"columns"`
}

// Fields returns the column names in backend order.
func (s *Schema) Fields() []string {
	out := make([]string, 0, len(s.Columns))
	for _, c := range s.Columns {
		out = append(out, c.Name)
	}
	return out
}

// RequiredFields returns the columns that must be filled: not nullable and
// not a primary key.
func (s *Schema) RequiredFields() []string {
	var out []string
	for _, c := range s.Columns {
		if !c.Nullable && !c.PrimaryKey {
			out = append(out, c.Name)
		}
	}
	return out
}

// StatusError is returned when a candidate answered with a non-2xx status.
type StatusError struct {
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d", e.Status)
}

// Schema fetches the import target's columns. It walks the schema candidates
// with the same rules as Submit.
func (g *Gateway) Schema(ctx context.Context) (*Schema, error) {
	logger := logging.WithFields(ctx, "resource", g.resource)

	for _, url := range g.schema {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, err := g.attempt(ctx, http.MethodGet, url, nil)
		if err != nil {
			logger.Warn("schema candidate failed", "url", url, "error", err)
			continue
		}
		if !resp.Accepted() {
			return nil, &StatusError{Status: resp.Status, Body: resp.Body}
		}
		return ParseSchema(resp.Body)
	}
	return nil, ErrUnreachable
}

// ParseSchema reads {"model": ..., "columns": [{"name", "type", "nullable",
// "primary_key"}]}. Columns without a name are skipped.
func ParseSchema(body []byte) (*Schema, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("schema: invalid JSON")
	}
	doc := gjson.ParseBytes(body)

	s := &Schema{Model: doc.Get("model").String(), Columns: []Column{}}
	doc.Get("columns").ForEach(func(_, col gjson.Result) bool {
		name := col.Get("name").String()
		if name == "" {
			return true
		}
		s.Columns = append(s.Columns, Column{
			Name:       name,
			Type:       col.Get("type").String(),
			Nullable:   col.Get("nullable").Bool(),
			PrimaryKey: col.Get("primary_key").Bool(),
		})
		return true
	})
	return s, nil
}
