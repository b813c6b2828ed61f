// Package panel is a typed client for the remote panel HTTP surface.
package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"
)

const (
	// DefaultBaseURL is the default panel server URL.
	DefaultBaseURL = "http://127.0.0.1:8788"

	// DefaultRequestTimeout bounds the wait for response headers.
	DefaultRequestTimeout = 2500 * time.Millisecond

	// DefaultResourceTimeout bounds a whole exchange, body included.
	DefaultResourceTimeout = 5 * time.Second

	// maxBodyBytes caps how much of a response is read.
	maxBodyBytes = 8 << 20

	// previewWidth is the display width of Result.Summary.
	previewWidth = 180
)

// DefaultPresets are the surfaces offered for recon.
var DefaultPresets = []string{
	"http://173.212.203.211:8788",
	"http://149.102.153.201:8788",
	"http://hyle.hyperstitious.org:8788",
	"http://hyperstitious.art:8788",
	DefaultBaseURL,
}

// Client provides methods to interact with the panel API.
type Client struct {
	mu         sync.RWMutex
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

// Option configures the Client.
type Option func(*Client)

// WithBaseURL sets the panel base URL. Invalid URLs are ignored.
func WithBaseURL(raw string) Option {
	return func(c *Client) {
		if u, err := NormalizeBaseURL(raw); err == nil {
			c.baseURL = u
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeouts sets the request (headers) and resource (whole exchange)
// timeouts.
func WithTimeouts(request, resource time.Duration) Option {
	return func(c *Client) {
		if resource > 0 {
			c.httpClient.Timeout = resource
		}
		if t, ok := c.httpClient.Transport.(*http.Transport); ok && request > 0 {
			t.ResponseHeaderTimeout = request
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a new panel client with the given options.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		userAgent: "manicctl",
		httpClient: &http.Client{
			Timeout: DefaultResourceTimeout,
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxIdleConns:          10,
				MaxIdleConnsPerHost:   4,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: DefaultRequestTimeout,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NormalizeBaseURL validates raw and returns it without a trailing slash.
// Only absolute http and https URLs with a host are accepted.
func NormalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidBaseURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme must be http or https", ErrInvalidBaseURL)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidBaseURL)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimRight(u.String(), "/"), nil
}

// BaseURL returns the current base URL.
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// SetBaseURL switches surfaces. On error the previous URL is kept.
func (c *Client) SetBaseURL(raw string) error {
	u, err := NormalizeBaseURL(raw)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.baseURL = u
	c.mu.Unlock()
	return nil
}

// HTTPClient returns the underlying HTTP client.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// exchange performs one request and returns status and body. Transport
// failures come back as APIError; non-2xx responses are not errors here.
func (c *Client) exchange(ctx context.Context, op, method, path string, payload any) (int, []byte, error) {
	return exchange(ctx, c.httpClient, c.userAgent, c.BaseURL(), op, method, path, payload)
}

func exchange(ctx context.Context, hc *http.Client, ua, base, op, method, path string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, NewAPIError(op, 0, fmt.Errorf("encode request: %w", err))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, base+path, body)
	if err != nil {
		return 0, nil, NewAPIError(op, 0, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return 0, nil, NewAPIError(op, 0, classifyTransportError(err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, NewAPIError(op, resp.StatusCode, classifyTransportError(err))
	}
	return resp.StatusCode, data, nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrServerUnavailable, err)
}

// call is exchange plus a 2xx check.
func (c *Client) call(ctx context.Context, op, method, path string, payload any) ([]byte, error) {
	status, data, err := c.exchange(ctx, op, method, path, payload)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return data, NewAPIError(op, status, fmt.Errorf("%w: %s", ErrUnexpectedStatus, Preview(data)))
	}
	return data, nil
}

// State fetches GET /api/state.
func (c *Client) State(ctx context.Context) (*PanelState, error) {
	data, err := c.call(ctx, RouteState, http.MethodGet, "/api/state", nil)
	if err != nil {
		return nil, err
	}
	var st PanelState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, NewAPIError(RouteState, 0, fmt.Errorf("%w: %v", ErrDecode, err))
	}
	return &st, nil
}

// Index fetches GET / and returns the body.
func (c *Client) Index(ctx context.Context) (string, error) {
	data, err := c.call(ctx, "index", http.MethodGet, "/", nil)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Capabilities sniffs route hints from GET /.
func (c *Client) Capabilities(ctx context.Context) (Capabilities, error) {
	body, err := c.Index(ctx)
	if err != nil {
		return Capabilities{}, err
	}
	return SniffCapabilities(body, time.Now()), nil
}

// Health checks GET /health.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.call(ctx, "health", http.MethodGet, "/health", nil)
	return err
}

// Tmux fetches the optional GET /tmux page.
func (c *Client) Tmux(ctx context.Context) (string, error) {
	data, err := c.call(ctx, "tmux", http.MethodGet, "/tmux", nil)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (c *Client) post(ctx context.Context, route string, payload any) (*Result, error) {
	r, ok := LookupRoute(route)
	if !ok {
		return nil, NewAPIError(route, 0, ErrMissingRoute)
	}
	status, data, err := c.exchange(ctx, route, r.Method, r.Path, payload)
	if err != nil {
		return nil, err
	}
	res := &Result{Route: route, StatusCode: status, Body: string(data), Summary: Preview(data)}
	if status < 200 || status > 299 {
		return res, NewAPIError(route, status, fmt.Errorf("%w: %s", ErrUnexpectedStatus, res.Summary))
	}
	return res, nil
}

// Autopilot posts /api/autopilot/run.
func (c *Client) Autopilot(ctx context.Context, req AutopilotRequest) (*Result, error) {
	return c.post(ctx, RouteAutopilot, req)
}

// Smoke posts /api/smoke.
func (c *Client) Smoke(ctx context.Context, req SmokeRequest) (*Result, error) {
	return c.post(ctx, RouteSmoke, req)
}

// PaneSend posts /api/pane/send.
func (c *Client) PaneSend(ctx context.Context, req PaneSendRequest) (*Result, error) {
	return c.post(ctx, RoutePaneSend, req)
}

// QueueAdd posts /api/queue/add.
func (c *Client) QueueAdd(ctx context.Context, req QueueAddRequest) (*Result, error) {
	return c.post(ctx, RouteQueueAdd, req)
}

// QueueRun posts /api/queue/run.
func (c *Client) QueueRun(ctx context.Context, req QueueRunRequest) (*Result, error) {
	return c.post(ctx, RouteQueueRun, req)
}

// Nudge posts /api/nudge.
func (c *Client) Nudge(ctx context.Context, req NudgeRequest) (*Result, error) {
	return c.post(ctx, RouteNudge, req)
}

// Spawn posts /api/spawn.
func (c *Client) Spawn(ctx context.Context, req SpawnRequest) (*Result, error) {
	return c.post(ctx, RouteSpawn, req)
}

// SnapshotIngest posts /api/snapshot/ingest.
func (c *Client) SnapshotIngest(ctx context.Context, req SnapshotIngestRequest) (*Result, error) {
	return c.post(ctx, RouteSnapshotIngest, req)
}

// Preview collapses whitespace in body and truncates it for display.
func Preview(body []byte) string {
	s := strings.Join(strings.Fields(string(body)), " ")
	if s == "" {
		return "(empty)"
	}
	return runewidth.Truncate(s, previewWidth, "…")
}
