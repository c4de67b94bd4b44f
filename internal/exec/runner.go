// Package exec routes code-execution requests to an external sandboxed
// backend. It is a plain request/response proxy, independent of the
// broadcast channel and invisible to other clients.
package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const defaultTimeout = 10 * time.Second

// ErrBackendUnreachable indicates a transport-level failure talking to the
// execution backend; the caller should surface it and let the user retry.
var ErrBackendUnreachable = errors.New("exec: backend unreachable")

var errMissingEndpoint = errors.New("exec: endpoint is required")

// FilePayload carries one source document.
type FilePayload struct {
	Content string `json:"content"`
}

// Request is a single stateless execution invocation.
type Request struct {
	Language string        `json:"language"`
	Version  string        `json:"version"`
	Files    []FilePayload `json:"files"`
}

// StageResult is the outcome of one backend stage.
type StageResult struct {
	Code   int    `json:"code"`
	Output string `json:"output"`
}

// Result is the structured backend response. When the backend returns a
// body that is not JSON, Raw holds the opaque text and both stages are nil.
type Result struct {
	Compile *StageResult `json:"compile,omitempty"`
	Run     *StageResult `json:"run,omitempty"`
	Raw     string       `json:"-"`
}

// CompileFailed reports whether the result carries a non-zero compile status.
func (r Result) CompileFailed() bool {
	return r.Compile != nil && r.Compile.Code != 0
}

// RouterConfig configures the execution router.
type RouterConfig struct {
	Endpoint   string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Router submits execution requests to the configured backend.
type Router struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewRouter constructs an execution router.
func NewRouter(cfg RouterConfig) (*Router, error) {
	if cfg.Endpoint == "" {
		return nil, errMissingEndpoint
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{endpoint: cfg.Endpoint, client: client, logger: logger}, nil
}

// Run submits the request and returns the parsed result. A body that fails
// to parse as JSON degrades to Result.Raw rather than an error so the
// caller can display the proxy message verbatim.
func (r *Router) Run(ctx context.Context, request Request) (Result, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return Result{}, err
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpRequest.Header.Set("Content-Type", "application/json")

	response, err := r.client.Do(httpRequest)
	if err != nil {
		r.logger.Warn("execution backend unreachable", zap.Error(err))
		return Result{}, fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(response.Body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		r.logger.Warn("execution backend returned non-JSON body",
			zap.Int("status", response.StatusCode))
		return Result{Raw: string(raw)}, nil
	}
	return result, nil
}
