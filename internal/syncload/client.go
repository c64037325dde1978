package syncload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Entry is one leaderboard row as served by GET /leaderboard.
type Entry struct {
	Type        string `json:"type"`
	Pubkey      string `json:"pubkey"`
	Name        string `json:"name"`
	TotalStaked int64  `json:"total_staked"`
	Rank        *int   `json:"rank"`
}

// Page is a GET /leaderboard response.
type Page struct {
	Entries    []Entry `json:"entries"`
	Pagination struct {
		Total   int  `json:"total"`
		Limit   int  `json:"limit"`
		Offset  int  `json:"offset"`
		HasMore bool `json:"hasMore"`
	} `json:"pagination"`
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// Client talks to the stakerank HTTP API.
type Client struct {
	base   string
	secret string
	runID  string
	http   *http.Client
}

// NewClient creates a client for base with the given request timeout.
func NewClient(base, secret string, timeout time.Duration) *Client {
	return &Client{
		base:   base,
		secret: secret,
		runID:  uuid.NewString(),
		http:   &http.Client{Timeout: timeout},
	}
}

// RunID identifies this client's requests in server logs.
func (c *Client) RunID() string { return c.runID }

// Health returns nil when GET /healthz answers 200.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// Sync pushes one batch of records.
func (c *Client) Sync(ctx context.Context, records []Record) error {
	return c.do(ctx, http.MethodPost, "/leaderboard/sync", records, nil)
}

// Recompute asks the service to recompute every type.
func (c *Client) Recompute(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/leaderboard/recompute", map[string]any{}, nil)
}

// Leaderboard fetches one page.
func (c *Client) Leaderboard(ctx context.Context, typ string, limit, offset int) (Page, error) {
	q := url.Values{}
	q.Set("type", typ)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	var p Page
	err := c.do(ctx, http.MethodGet, "/leaderboard?"+q.Encode(), nil, &p)
	return p, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", c.runID+"-"+uuid.NewString()[:8])
	if method == http.MethodPost {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return &StatusError{Status: resp.StatusCode, Body: string(data)}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
