package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sarir/personnel-import/internal/logging"
	"github.com/sarir/personnel-import/internal/worker"
)

var (
	// ErrImportNotFound is returned for an unknown or expired import ID.
	ErrImportNotFound = errors.New("import not found")

	// ErrImportRunning is returned when a finished import is required.
	ErrImportRunning = errors.New("import still running")
)

const (
	// DefaultRetention is how long a finished import stays queryable.
	DefaultRetention = 5 * time.Minute

	// DefaultImportTimeout bounds a whole background import.
	DefaultImportTimeout = 10 * time.Minute
)

// Stage is the lifecycle position of a tracked import.
type Stage string

const (
	StageQueued     Stage = "queued"
	StageReading    Stage = "reading"
	StageParsing    Stage = "parsing"
	StageSubmitting Stage = "submitting"
	StageComplete   Stage = "complete"
	StageFailed     Stage = "failed"
	StageCancelled  Stage = "cancelled"
)

// Status is a snapshot of a tracked import.
type Status struct {
	ID       string `json:"id"`
	FileName string `json:"file_name"`
	Stage    Stage  `json:"stage"`

	// Percent is the progress within Stage; Overall spans the whole import
	// (reading 0-40, parsing 40-70, submitting 70-100).
	Percent int `json:"progress"`
	Overall int `json:"overall"`

	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Done reports whether the import has finished.
func (s Status) Done() bool {
	return s.Stage == StageComplete || s.Stage == StageFailed || s.Stage == StageCancelled
}

func overall(stage Stage, pct int) int {
	switch stage {
	case StageReading:
		return pct * 40 / 100
	case StageParsing:
		return 40 + pct*30/100
	case StageSubmitting:
		return 70 + pct*30/100
	case StageComplete:
		return 100
	default:
		return 0
	}
}

// TrackerOptions configures a Tracker.
type TrackerOptions struct {
	// Limiter bounds concurrent imports. Nil means unbounded.
	Limiter *Limiter

	Retention time.Duration
	Timeout   time.Duration
}

// Tracker runs imports in the background under generated IDs, fans their
// progress out to subscribers and keeps each outcome for a retention
// window after it finishes.
type Tracker struct {
	orch *Orchestrator
	opts TrackerOptions

	mu      sync.RWMutex
	imports map[string]*trackedImport
}

type trackedImport struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	status    Status
	outcome   Outcome
	cancelled bool
	listeners []chan Status
}

// NewTracker creates a Tracker running imports on orch.
func NewTracker(orch *Orchestrator, opts TrackerOptions) *Tracker {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultImportTimeout
	}
	return &Tracker{
		orch:    orch,
		opts:    opts,
		imports: make(map[string]*trackedImport),
	}
}

// Start registers an import of f and runs it in the background. f.Reader must
// stay readable after Start returns. The import keeps ctx's values (request
// ID for logging) but not its cancellation. Returns ErrTooManyImports when no
// slot frees up in time.
func (t *Tracker) Start(ctx context.Context, f File) (string, error) {
	if t.opts.Limiter != nil {
		if err := t.opts.Limiter.Acquire(ctx); err != nil {
			return "", err
		}
	}

	id := uuid.NewString()
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.opts.Timeout)

	imp := &trackedImport{
		cancel: cancel,
		done:   make(chan struct{}),
		status: Status{
			ID:        id,
			FileName:  f.Name,
			Stage:     StageQueued,
			StartedAt: time.Now(),
		},
	}

	t.mu.Lock()
	t.imports[id] = imp
	t.mu.Unlock()

	logger := logging.WithFields(ctx, "import_id", id, "file", f.Name)
	logger.Info("import started", "size", f.Size)

	go func() {
		if t.opts.Limiter != nil {
			defer t.opts.Limiter.Release()
		}
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic in import", slog.Any("panic", r))
				t.finish(id, imp, parseFailed(fmt.Sprintf("internal error: %v", r)))
			}
		}()

		out := t.orch.ImportFile(runCtx, f, ObserverFunc(imp.progress))
		t.finish(id, imp, out)
		logger.Info("import finished", "outcome", out.Kind, "status", out.Status)
	}()

	return id, nil
}

func (t *Tracker) get(id string) (*trackedImport, error) {
	t.mu.RLock()
	imp, ok := t.imports[id]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrImportNotFound, id)
	}
	return imp, nil
}

// Subscribe returns a channel of status updates. The current status is sent
// first; the channel closes after the final status. Slow subscribers miss
// intermediate updates, never the final one.
func (t *Tracker) Subscribe(id string) (<-chan Status, error) {
	imp, err := t.get(id)
	if err != nil {
		return nil, err
	}

	ch := make(chan Status, 16)

	imp.mu.Lock()
	defer imp.mu.Unlock()

	ch <- imp.status
	if imp.status.Done() {
		close(ch)
		return ch, nil
	}
	imp.listeners = append(imp.listeners, ch)
	return ch, nil
}

// Cancel stops a running import. Cancelling a finished import is a no-op, and
// an import whose submission the backend already accepted still completes.
func (t *Tracker) Cancel(id string) error {
	imp, err := t.get(id)
	if err != nil {
		return err
	}

	imp.mu.Lock()
	if !imp.status.Done() {
		imp.cancelled = true
	}
	imp.mu.Unlock()

	imp.cancel()
	return nil
}

// Status returns the current status without blocking.
func (t *Tracker) Status(id string) (Status, error) {
	imp, err := t.get(id)
	if err != nil {
		return Status{}, err
	}
	imp.mu.Lock()
	defer imp.mu.Unlock()
	return imp.status, nil
}

// Outcome returns the outcome of a finished import. ok is false while the
// import is still running.
func (t *Tracker) Outcome(id string) (out Outcome, ok bool, err error) {
	imp, err := t.get(id)
	if err != nil {
		return Outcome{}, false, err
	}
	select {
	case <-imp.done:
		return imp.outcome, true, nil
	default:
		return Outcome{}, false, nil
	}
}

// Wait blocks until the import finishes or ctx ends.
func (t *Tracker) Wait(ctx context.Context, id string) (Outcome, error) {
	imp, err := t.get(id)
	if err != nil {
		return Outcome{}, err
	}
	select {
	case <-imp.done:
		return imp.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (imp *trackedImport) progress(p worker.Progress) {
	imp.mu.Lock()
	defer imp.mu.Unlock()

	imp.status.Stage = Stage(p.Phase)
	imp.status.Percent = p.Percent
	imp.status.Overall = max(imp.status.Overall, overall(imp.status.Stage, p.Percent))
	imp.notify()
}

// notify sends the status to every listener without blocking. Callers hold
// imp.mu.
func (imp *trackedImport) notify() {
	for _, ch := range imp.listeners {
		select {
		case ch <- imp.status:
		default:
		}
	}
}

func (t *Tracker) finish(id string, imp *trackedImport, out Outcome) {
	imp.mu.Lock()
	if imp.status.Done() {
		imp.mu.Unlock()
		return
	}

	now := time.Now()
	imp.outcome = out
	imp.status.FinishedAt = &now
	switch {
	case imp.cancelled && out.Failed():
		imp.status.Stage = StageCancelled
		imp.status.Error = "import cancelled"
	case out.Failed():
		imp.status.Stage = StageFailed
		imp.status.Error = out.Message
	default:
		imp.status.Stage = StageComplete
		imp.status.Percent = 100
		imp.status.Overall = 100
	}

	// The final status must reach every listener, so make room for it.
	for _, ch := range imp.listeners {
		select {
		case ch <- imp.status:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- imp.status
		}
		close(ch)
	}
	imp.listeners = nil
	imp.mu.Unlock()

	close(imp.done)
	t.cleanup(id, t.opts.Retention)
}

// cleanup forgets the import after delay.
func (t *Tracker) cleanup(id string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		t.mu.Lock()
		delete(t.imports, id)
		t.mu.Unlock()
	})
}
