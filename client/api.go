package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/hyperide/backend/internal/exec"
)

const defaultHTTPTimeout = 15 * time.Second

// ErrServerUnreachable indicates a transport failure talking to the
// workspace server. No automatic retry: the user re-triggers the action.
var ErrServerUnreachable = errors.New("client: server unreachable")

// ErrRequestRejected indicates a non-2xx response from the server.
var ErrRequestRejected = errors.New("client: request rejected")

// API wraps the server's HTTP query surface.
type API struct {
	baseURL string
	client  *http.Client

	mu    sync.Mutex
	token string
}

// NewAPI constructs a wrapper around the server at baseURL.
func NewAPI(baseURL string, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &API{baseURL: baseURL, client: httpClient}
}

// Token returns the current session token.
func (a *API) Token() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token
}

// SetToken installs a session token for subsequent requests.
func (a *API) SetToken(token string) {
	a.mu.Lock()
	a.token = token
	a.mu.Unlock()
}

// LoginResult carries the authenticated session details.
type LoginResult struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	Username    string `json:"username"`
	Role        string `json:"role"`
}

// Register creates an account.
func (a *API) Register(ctx context.Context, username, password string) error {
	body := map[string]string{"username": username, "password": password}
	return a.postJSON(ctx, "/api/auth/register", body, nil)
}

// Login authenticates and installs the returned session token.
func (a *API) Login(ctx context.Context, username, password string) (LoginResult, error) {
	var result LoginResult
	body := map[string]string{"username": username, "password": password}
	if err := a.postJSON(ctx, "/api/auth/login", body, &result); err != nil {
		return LoginResult{}, err
	}
	a.SetToken(result.AccessToken)
	return result, nil
}

// ListFiles fetches the authoritative ordered file list.
func (a *API) ListFiles(ctx context.Context) ([]string, error) {
	var paths []string
	if err := a.getJSON(ctx, "/api/files", &paths); err != nil {
		return nil, err
	}
	return paths, nil
}

// FileContent fetches the raw text content of a path.
func (a *API) FileContent(ctx context.Context, path string) (string, error) {
	endpoint := "/api/editor/content?path=" + url.QueryEscape(path)
	request, err := a.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	response, err := a.client.Do(request)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrServerUnreachable, err)
	}
	defer response.Body.Close()
	raw, err := io.ReadAll(response.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrServerUnreachable, err)
	}
	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrRequestRejected, response.StatusCode, string(raw))
	}
	return string(raw), nil
}

// Stats fetches the per-user edit-count snapshot.
func (a *API) Stats(ctx context.Context) (map[string]int64, error) {
	var snapshot map[string]int64
	if err := a.getJSON(ctx, "/api/stats", &snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Run submits an execution request. A non-JSON response body degrades to
// Result.Raw so the caller can render the proxy message verbatim.
func (a *API) Run(ctx context.Context, request exec.Request) (exec.Result, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return exec.Result{}, err
	}
	httpRequest, err := a.newRequest(ctx, http.MethodPost, "/api/run", bytes.NewReader(body))
	if err != nil {
		return exec.Result{}, err
	}
	httpRequest.Header.Set("Content-Type", "application/json")

	response, err := a.client.Do(httpRequest)
	if err != nil {
		return exec.Result{}, fmt.Errorf("%w: %v", ErrServerUnreachable, err)
	}
	defer response.Body.Close()
	raw, err := io.ReadAll(response.Body)
	if err != nil {
		return exec.Result{}, fmt.Errorf("%w: %v", ErrServerUnreachable, err)
	}

	var result exec.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return exec.Result{Raw: string(raw)}, nil
	}
	return result, nil
}

func (a *API) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	request, err := http.NewRequestWithContext(ctx, method, a.baseURL+endpoint, body)
	if err != nil {
		return nil, err
	}
	if token := a.Token(); token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	return request, nil
}

func (a *API) postJSON(ctx context.Context, endpoint string, body interface{}, out interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}
	request, err := a.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	return a.doJSON(request, out)
}

func (a *API) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	request, err := a.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return a.doJSON(request, out)
}

func (a *API) doJSON(request *http.Request, out interface{}) error {
	response, err := a.client.Do(request)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServerUnreachable, err)
	}
	defer response.Body.Close()
	raw, err := io.ReadAll(response.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServerUnreachable, err)
	}
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d: %s", ErrRequestRejected, response.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
