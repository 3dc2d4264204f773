package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"progresskit/core"
)

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the progresskit HTTP + WebSocket API.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	headers    http.Header
}

// NewClient constructs a new SDK client targeting the given baseURL (e.g., http://localhost:8080/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL:    baseURL,
		wsURL:      deriveWSURL(baseURL),
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAuthToken adds an Authorization: Bearer token header to all requests (HTTP + WS).
func WithAuthToken(token string) Option {
	return func(c *Client) {
		if strings.TrimSpace(token) != "" {
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithAPIKey adds an X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set("X-API-Key", key)
		}
	}
}

// WithHeader sets an arbitrary header applied to HTTP and WS calls.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if k != "" {
			c.headers.Set(k, v)
		}
	}
}

// AwardXP records one achievement event for a user and returns the
// award outcome. Set opts.EventID to retry safely after a timeout.
func (c *Client) AwardXP(ctx context.Context, userID, action string, opts AwardOpts) (AwardResult, error) {
	if strings.TrimSpace(userID) == "" {
		return AwardResult{}, ErrEmptyUserID
	}
	if strings.TrimSpace(action) == "" {
		return AwardResult{}, errors.New("action is required")
	}

	payload, err := json.Marshal(struct {
		Action string `json:"action"`
		AwardOpts
	}{Action: action, AwardOpts: opts})
	if err != nil {
		return AwardResult{}, err
	}

	u := fmt.Sprintf("%s/users/%s/awards", c.baseURL, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return AwardResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return AwardResult{}, err
	}
	defer resp.Body.Close()

	var res AwardResult
	if err := decodeJSON(resp, &res); err != nil {
		return AwardResult{}, err
	}
	return res, nil
}

// GetUser fetches the current progression for a user.
func (c *Client) GetUser(ctx context.Context, userID string) (Progression, error) {
	if strings.TrimSpace(userID) == "" {
		return Progression{}, ErrEmptyUserID
	}
	u := fmt.Sprintf("%s/users/%s", c.baseURL, url.PathEscape(userID))
	var prog Progression
	if err := c.getJSON(ctx, u, &prog); err != nil {
		return Progression{}, err
	}
	return prog, nil
}

// History fetches a page of a user's ledger, newest first.
func (c *Client) History(ctx context.Context, userID string, page, limit int) ([]XPEvent, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrEmptyUserID
	}
	u, err := url.Parse(fmt.Sprintf("%s/users/%s/history", c.baseURL, url.PathEscape(userID)))
	if err != nil {
		return nil, err
	}
	q := u.Query()
	if page > 0 {
		q.Set("page", fmt.Sprintf("%d", page))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	u.RawQuery = q.Encode()

	var events []XPEvent
	if err := c.getJSON(ctx, u.String(), &events); err != nil {
		return nil, err
	}
	return events, nil
}

// Rank fetches a user's 1-based leaderboard rank.
func (c *Client) Rank(ctx context.Context, userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, ErrEmptyUserID
	}
	u := fmt.Sprintf("%s/users/%s/rank", c.baseURL, url.PathEscape(userID))
	var body struct {
		Rank int64 `json:"rank"`
	}
	if err := c.getJSON(ctx, u, &body); err != nil {
		return 0, err
	}
	return body.Rank, nil
}

// Leaderboard fetches the top entries ordered by XP.
func (c *Client) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	u, err := url.Parse(c.baseURL + "/leaderboard")
	if err != nil {
		return nil, err
	}
	if limit > 0 {
		q := u.Query()
		q.Set("limit", fmt.Sprintf("%d", limit))
		u.RawQuery = q.Encode()
	}
	var entries []LeaderboardEntry
	if err := c.getJSON(ctx, u.String(), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Badges fetches the badge catalog.
func (c *Client) Badges(ctx context.Context) ([]BadgeDef, error) {
	var defs []BadgeDef
	if err := c.getJSON(ctx, c.baseURL+"/badges", &defs); err != nil {
		return nil, err
	}
	return defs, nil
}

// Health probes /healthz and returns status + storage check.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var hs HealthStatus
	if err := c.getJSON(ctx, c.baseURL+"/healthz", &hs); err != nil {
		return HealthStatus{}, err
	}
	return hs, nil
}

// SubscribeEvents connects to the WebSocket stream and emits core.Event
// values. A non-empty userID narrows the stream to one learner. The
// returned channel closes when ctx is done or the connection drops.
func (c *Client) SubscribeEvents(ctx context.Context, userID string) (<-chan core.Event, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	wsURL := c.wsURL
	if userID != "" {
		wsURL += "?user=" + url.QueryEscape(userID)
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, c.headers)
	if err != nil {
		return nil, err
	}

	out := make(chan core.Event, 32)
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			select {
			case <-ctx.Done():
				return
			default:
				var evt core.Event
				if err := conn.ReadJSON(&evt); err != nil {
					return
				}
				select {
				case out <- evt:
				default:
					// drop if consumer is slow
				}
			}
		}
	}()
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, u string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, target)
}

func (c *Client) applyHeaders(r *http.Request) {
	for k, vals := range c.headers {
		for _, v := range vals {
			r.Header.Add(k, v)
		}
	}
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		// leave as-is for custom schemes
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
