package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sarir/personnel-import/internal/gateway"
	"github.com/sarir/personnel-import/internal/logging"
	"github.com/sarir/personnel-import/internal/mapping"
	"github.com/sarir/personnel-import/internal/tabular"
	"github.com/sarir/personnel-import/internal/worker"
)

// DefaultMaxFileSize bounds how much of a file is read.
const DefaultMaxFileSize int64 = 50 << 20

// sniffLen is how many leading bytes DetectKind sees.
const sniffLen = 3072

// Submitter sends an encoded import request. *gateway.Gateway implements it.
type Submitter interface {
	Submit(ctx context.Context, body []byte) gateway.Response
}

// Planner chooses the mapping profile for a decoded file.
type Planner func(ctx context.Context, res *tabular.Result) (mapping.Profile, error)

// FixedPlan always returns p narrowed to the file's headers.
func FixedPlan(p mapping.Profile) Planner {
	return func(_ context.Context, res *tabular.Result) (mapping.Profile, error) {
		return p.ApplyTo(res.Headers), nil
	}
}

// Options configures an Orchestrator.
type Options struct {
	Gateway Submitter

	// Planner defaults to an empty mapping, which lets the backend match
	// headers to fields by name.
	Planner Planner

	// Charset decodes text files that are not UTF-8.
	Charset string

	// DecodeTimeout bounds the worker unit. Zero means no bound.
	DecodeTimeout time.Duration

	MaxFileSize int64

	// DryRun stops after decoding and yields a Parsed outcome.
	DryRun bool
}

// Orchestrator runs imports. It holds configuration only and is safe for
// concurrent use.
type Orchestrator struct {
	opts Options
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Planner == nil {
		opts.Planner = FixedPlan(mapping.Profile{})
	}
	if opts.Charset == "" {
		opts.Charset = tabular.DefaultCharset
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	return &Orchestrator{opts: opts}
}

// DryRun reports whether imports stop after decoding.
func (o *Orchestrator) DryRun() bool {
	return o.opts.DryRun
}

// ImportFile runs one import of f. Progress goes to every observer in
// emission order. Exactly one decode runs; the gateway is only called after
// a successful decode.
func (o *Orchestrator) ImportFile(ctx context.Context, f File, observers ...Observer) Outcome {
	logger := logging.WithFields(ctx, "file", f.Name)
	start := time.Now()
	progress := newProgressFanout(observers)

	if f.Reader == nil {
		return parseFailed("no file provided")
	}
	if f.Size > o.opts.MaxFileSize {
		return parseFailed(fmt.Sprintf("file too large: %d bytes (limit %d)", f.Size, o.opts.MaxFileSize))
	}

	data, err := o.read(f, progress)
	if err != nil {
		logger.Warn("read failed", "error", err)
		return parseFailed(err.Error())
	}

	head := data[:min(len(data), sniffLen)]
	kind, err := DetectKind(f.Name, f.MIMEType, head)
	if err != nil {
		return parseFailed(err.Error())
	}

	cmd, err := o.command(kind, data)
	if err != nil {
		return parseFailed(err.Error())
	}

	res, err := o.decode(ctx, cmd, progress)
	if err != nil {
		logger.Warn("decode failed", "kind", kind, "error", err)
		return parseFailed(err.Error())
	}
	logger.Info("file decoded",
		"kind", kind,
		"columns", len(res.Headers),
		"rows", len(res.Rows),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if o.opts.DryRun {
		return parsed(res)
	}

	plan := o.opts.Planner
	if f.Profile != nil {
		plan = FixedPlan(*f.Profile)
	}
	return o.submit(ctx, res, plan, progress)
}

// read buffers the file through a counting reader so "reading" progress is
// reported as bytes arrive.
func (o *Orchestrator) read(f File, progress *progressFanout) ([]byte, error) {
	progress.emit(worker.PhaseReading, 0)

	cr := tabular.NewCountingReader(f.Reader, f.Size, func(pct int) {
		progress.emit(worker.PhaseReading, pct)
	})
	data, err := io.ReadAll(io.LimitReader(cr, o.opts.MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if int64(len(data)) > o.opts.MaxFileSize {
		return nil, fmt.Errorf("file too large: more than %d bytes", o.opts.MaxFileSize)
	}
	if len(data) == 0 {
		return nil, tabular.ErrEmptyPayload
	}

	progress.emit(worker.PhaseReading, 100)
	return data, nil
}

func (o *Orchestrator) command(kind FileKind, data []byte) (worker.Command, error) {
	if !kind.Text() {
		return worker.ParseBinary(data), nil
	}
	text, err := tabular.DecodeBytes(data, o.opts.Charset)
	if err != nil {
		return worker.Command{}, err
	}
	return worker.ParseText(text, kind == KindTSV), nil
}

// decode drives one worker unit, terminating it when DecodeTimeout expires.
func (o *Orchestrator) decode(ctx context.Context, cmd worker.Command, progress *progressFanout) (*tabular.Result, error) {
	decodeCtx := ctx
	if o.opts.DecodeTimeout > 0 {
		var cancel context.CancelFunc
		decodeCtx, cancel = context.WithTimeout(ctx, o.opts.DecodeTimeout)
		defer cancel()
	}

	res, err := worker.Run(decodeCtx, cmd, func(p worker.Progress) {
		progress.emit(p.Phase, p.Percent)
	})
	switch {
	case err == nil:
		return res, nil
	case ctx.Err() != nil:
		return nil, fmt.Errorf("import cancelled: %w", ctx.Err())
	case errors.Is(err, context.DeadlineExceeded):
		return nil, fmt.Errorf("decode timed out after %s", o.opts.DecodeTimeout)
	default:
		return nil, err
	}
}

func (o *Orchestrator) submit(ctx context.Context, res *tabular.Result, plan Planner, progress *progressFanout) Outcome {
	logger := logging.FromContext(ctx)

	if o.opts.Gateway == nil {
		return rejected(http.StatusServiceUnavailable, "no backend configured")
	}

	profile, err := plan(ctx, res)
	if err != nil {
		return rejected(http.StatusUnprocessableEntity, fmt.Sprintf("mapping: %v", err))
	}
	if err := profile.Validate(); err != nil {
		return rejected(http.StatusUnprocessableEntity, err.Error())
	}

	// Encoded once; every candidate receives these exact bytes.
	body, err := profile.Build(res)
	if err != nil {
		return rejected(http.StatusInternalServerError, err.Error())
	}

	progress.emit(PhaseSubmitting, 0)
	resp := o.opts.Gateway.Submit(ctx, body)
	progress.emit(PhaseSubmitting, 100)

	out := fromResponse(resp)
	if !resp.Reached() {
		out.Message = gateway.ErrUnreachable.Error()
	}

	if s, ok := gateway.Summarize(resp.Body); ok && out.Kind == OutcomeSubmissionAccepted {
		logger.Info("import accepted",
			"status", resp.Status,
			"inserted", s.Inserted,
			"updated", s.Updated,
			"failed", s.Failed,
			"deficiencies", s.Deficiencies,
		)
	} else {
		logger.Warn("import not accepted", "status", resp.Status, "message", out.Message)
	}
	return out
}

func jsonError(msg string) ([]byte, error) {
	return json.Marshal(map[string]string{"error": msg})
}

// progressFanout forwards progress to observers, dropping events that would
// move a phase backwards or repeat the last value.
type progressFanout struct {
	observers []Observer
	phase     worker.Phase
	last      int
}

func newProgressFanout(observers []Observer) *progressFanout {
	return &progressFanout{observers: observers, last: -1}
}

func (p *progressFanout) emit(phase worker.Phase, pct int) {
	pct = max(0, min(pct, 100))
	if phase == p.phase && pct <= p.last {
		return
	}
	p.phase, p.last = phase, pct

	ev := worker.Progress{Phase: phase, Percent: pct}
	for _, obs := range p.observers {
		obs.OnProgress(ev)
	}
}
