package mapping

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	"github.com/sarir/personnel-import/internal/tabular"
)

// Request is the bulk-import body understood by the backend.
type Request struct {
	Rows           []tabular.Row `json:"rows"`
	RequiredFields []string      `json:"required_fields"`
	Mapping        Mapping       `json:"mapping"`
}

// BuildRequest encodes the rows of res with mapping m and the required field
// list. The result is meant to be encoded once and sent as-is to every
// candidate endpoint.
func BuildRequest(res *tabular.Result, m Mapping, required []string) ([]byte, error) {
	return Profile{Mapping: m, Required: required}.Build(res)
}

// Build encodes res under the profile. Composite fields are added to every
// row whose parts are not all blank, unless a header already maps to them.
func (p Profile) Build(res *tabular.Result) ([]byte, error) {
	req := Request{
		Rows:           p.Rows(res),
		RequiredFields: p.Required,
		Mapping:        p.Mapping.Compact(),
	}
	if req.RequiredFields == nil {
		req.RequiredFields = []string{}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode import request: %w", err)
	}
	return body, nil
}

// Rows returns fresh copies of the rows of res with composites applied.
func (p Profile) Rows(res *tabular.Result) []tabular.Row {
	if res == nil {
		return []tabular.Row{}
	}

	targets := p.Mapping.Targets()
	out := make([]tabular.Row, len(res.Rows))
	for i, r := range res.Rows {
		row := make(tabular.Row, len(r)+len(p.Composites))
		maps.Copy(row, r)

		for target, c := range p.Composites {
			if targets[target] {
				continue
			}
			if joined := c.join(r); joined != "" {
				row[target] = joined
			}
		}
		out[i] = row
	}
	return out
}

func (c Composite) join(r tabular.Row) string {
	parts := make([]string, 0, len(c.Headers))
	for _, h := range c.Headers {
		if v := strings.TrimSpace(tabular.CellString(r[h])); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, c.Sep)
}
