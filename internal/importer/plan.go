package importer

import (
	"context"
	"fmt"

	"github.com/sarir/personnel-import/internal/gateway"
	"github.com/sarir/personnel-import/internal/logging"
	"github.com/sarir/personnel-import/internal/mapping"
	"github.com/sarir/personnel-import/internal/tabular"
)

// SchemaSource describes the backend's fields. *gateway.Gateway implements it.
type SchemaSource interface {
	Schema(ctx context.Context) (*gateway.Schema, error)
}

// AutoPlan fetches the backend schema on every import and maps the file's
// headers onto its fields. Fields the schema marks required become the
// profile's required list, so an unmappable required field fails validation
// instead of reaching the backend.
func AutoPlan(src SchemaSource) Planner {
	return func(ctx context.Context, res *tabular.Result) (mapping.Profile, error) {
		schema, err := src.Schema(ctx)
		if err != nil {
			return mapping.Profile{}, fmt.Errorf("fetch schema: %w", err)
		}

		m := mapping.AutoMap(res.Headers, res.Rows, schema.Fields())
		logging.FromContext(ctx).Debug("headers auto-mapped",
			"model", schema.Model,
			"mapped", len(m.Compact()),
			"headers", len(res.Headers),
		)
		return mapping.Profile{
			Mapping:  m,
			Required: schema.RequiredFields(),
			Headers:  res.Headers,
		}, nil
	}
}

// ProfilePlan returns the named profile from ps narrowed to each file's
// headers. The lookup happens per import so a reloaded store is honored.
func ProfilePlan(ps *mapping.Profiles, name string) Planner {
	return func(_ context.Context, res *tabular.Result) (mapping.Profile, error) {
		p, err := ps.Get(name)
		if err != nil {
			return mapping.Profile{}, err
		}
		return p.ApplyTo(res.Headers), nil
	}
}
