// Package gateway submits decoded rows to the personnel backend.
//
// The backend may be mounted with or without an "/api" prefix, so every call
// walks an ordered list of candidate URLs. The first candidate that answers
// wins, whatever its HTTP status; only transport failures and per-attempt
// timeouts advance to the next candidate. There is exactly one pass and no
// backoff.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sarir/personnel-import/internal/logging"
)

// DefaultAttemptTimeout bounds a single candidate attempt.
const DefaultAttemptTimeout = 15 * time.Second

// UnreachableBody is relayed when no candidate answered.
const UnreachableBody = `{"error":"backend not reachable"}`

const defaultContentType = "application/json"

// DefaultMaxResponseBytes caps how much of a backend response is buffered.
const DefaultMaxResponseBytes = 32 << 20

// ErrUnreachable is returned by calls other than Submit when every candidate
// failed at the transport level.
var ErrUnreachable = errors.New("backend not reachable")

// Response is a backend answer relayed verbatim.
type Response struct {
	Status      int
	Body        []byte
	ContentType string

	// URL is the candidate that answered. Empty when no candidate did.
	URL string
}

// Accepted reports a 2xx status.
func (r Response) Accepted() bool {
	return r.Status >= 200 && r.Status < 300
}

// Reached reports whether a candidate answered.
func (r Response) Reached() bool {
	return r.URL != ""
}

func unreachable() Response {
	return Response{
		Status:      http.StatusBadGateway,
		Body:        []byte(UnreachableBody),
		ContentType: defaultContentType,
	}
}

// Options configures a Gateway.
type Options struct {
	BaseURL        string
	Resource       string
	AttemptTimeout time.Duration

	// MaxResponseBytes bounds a buffered response body. A larger body fails
	// the attempt instead of being relayed truncated.
	MaxResponseBytes int64

	// Client defaults to a client with no overall timeout; attempts are
	// bounded through their context.
	Client *http.Client
}

// Gateway talks to one backend resource.
type Gateway struct {
	client   *http.Client
	submit   []string
	schema   []string
	timeout  time.Duration
	maxBody  int64
	resource string
}

// New creates a Gateway. Candidate URLs are computed once.
func New(opts Options) *Gateway {
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	timeout := opts.AttemptTimeout
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	maxBody := opts.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxResponseBytes
	}
	resource := opts.Resource
	if resource == "" {
		resource = "employees"
	}

	return &Gateway{
		client:   client,
		submit:   Candidates(opts.BaseURL, resource),
		schema:   SchemaCandidates(opts.BaseURL, resource),
		timeout:  timeout,
		maxBody:  maxBody,
		resource: resource,
	}
}

// Resource returns the backend collection this gateway posts to.
func (g *Gateway) Resource() string {
	return g.resource
}

// Candidates returns the submission URLs in trial order.
func (g *Gateway) Candidates() []string {
	return append([]string(nil), g.submit...)
}

// Submit posts body to each candidate in order and relays the first answer.
// The same bytes are sent on every attempt. When no candidate answers the
// result is a synthetic 502 carrying UnreachableBody.
func (g *Gateway) Submit(ctx context.Context, body []byte) Response {
	logger := logging.WithFields(ctx, "resource", g.resource)

	for _, url := range g.submit {
		if ctx.Err() != nil {
			break
		}
		resp, err := g.attempt(ctx, http.MethodPost, url, body)
		if err != nil {
			logger.Warn("submission candidate failed", "url", url, "error", err)
			continue
		}
		logger.Info("submission relayed",
			slog.String("url", url),
			slog.Int("status", resp.Status),
			slog.Int("bytes", len(body)),
		)
		return resp
	}

	logger.Error("backend not reachable", "candidates", len(g.submit))
	return unreachable()
}

// attempt performs one bounded round-trip. Reading the response body is
// part of the attempt, so a stalled body counts as a transport failure.
func (g *Gateway) attempt(ctx context.Context, method, url string, body []byte) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", defaultContentType)
	}
	req.Header.Set("Accept", defaultContentType)

	resp, err := g.client.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, g.maxBody+1))
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	if int64(len(data)) > g.maxBody {
		return Response{}, fmt.Errorf("response body over %d bytes", g.maxBody)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}

	return Response{
		Status:      resp.StatusCode,
		Body:        data,
		ContentType: contentType,
		URL:         url,
	}, nil
}
