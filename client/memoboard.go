package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Lifecycle states as rendered by the server.
const (
	StateIdle             = "idle"
	StateAwaitingApproval = "awaiting_approval"
	StateBroadcast        = "broadcast"
	StateConfirmed        = "confirmed"
	StateFailed           = "failed"
)

// ErrSubmitRejected is returned by Submit when the server refuses to start a
// write; SubmitError carries the reason and the view at that moment.
var ErrSubmitRejected = errors.New("submit rejected")

// Form is the pair of free-text fields a memo is built from.
type Form struct {
	DisplayName string `json:"display_name"`
	Text        string `json:"text"`
}

// Lifecycle is the state of the most recent write.
type Lifecycle struct {
	Handle    string    `json:"handle,omitempty"`
	State     string    `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	Message   string    `json:"message,omitempty"`
	TxRef     string    `json:"tx_ref,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// Terminal reports whether the lifecycle has finished.
func (l Lifecycle) Terminal() bool {
	return l.State == StateConfirmed || l.State == StateFailed
}

// Record is one memo in the feed.
type Record struct {
	Sender      string    `json:"sender"`
	DisplayName string    `json:"display_name"`
	Text        string    `json:"text"`
	SubmittedAt time.Time `json:"submitted_at"`
	TxRef       string    `json:"tx_ref,omitempty"`
}

// View is the server's controller snapshot. Feed is most recent first.
type View struct {
	Form            Form      `json:"form"`
	Lifecycle       Lifecycle `json:"lifecycle"`
	Submittable     bool      `json:"submittable"`
	Feed            []Record  `json:"feed"`
	FeedRefreshedAt time.Time `json:"feed_refreshed_at,omitzero"`
	FeedError       string    `json:"feed_error,omitempty"`
	RefreshPending  bool      `json:"refresh_pending"`
	Refreshing      bool      `json:"refreshing"`
	FeedStale       bool      `json:"feed_stale"`
}

// Memo is an indexed memo from the database.
type Memo struct {
	Backend     string    `json:"backend"`
	Position    int64     `json:"position"`
	Sender      string    `json:"sender"`
	DisplayName string    `json:"display_name"`
	Text        string    `json:"text"`
	SubmittedAt time.Time `json:"submitted_at"`
	TxRef       *string   `json:"tx_ref,omitempty"`
	IndexedAt   time.Time `json:"indexed_at"`
}

// MemoPage is one page of ListMemos.
type MemoPage struct {
	Memos  []Memo `json:"memos"`
	Count  int    `json:"count"`
	Total  int64  `json:"total"`
	Limit  int32  `json:"limit"`
	Offset int32  `json:"offset"`
}

// Submission is an audited write.
type Submission struct {
	Handle      string    `json:"handle"`
	Backend     string    `json:"backend"`
	DisplayName string    `json:"display_name"`
	Text        string    `json:"text"`
	Value       string    `json:"value"`
	State       string    `json:"state"`
	Reason      *string   `json:"reason,omitempty"`
	Message     *string   `json:"message,omitempty"`
	TxRef       *string   `json:"tx_ref,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ListOptions pages list endpoints. Zero values use server defaults.
type ListOptions struct {
	Limit  int
	Offset int
}

// StreamMessage is one "view" event from the view stream.
type StreamMessage struct {
	Kind  string          `json:"kind"`
	Event json.RawMessage `json:"event,omitempty"`
	View  View            `json:"view"`
}

// SubmitError is returned when the server answers 409 to a submit.
type SubmitError struct {
	Reason string
	View   View
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("%s: %s", ErrSubmitRejected, e.Reason)
}

func (e *SubmitError) Unwrap() error { return ErrSubmitRejected }

// Client is the HTTP client for the memoboard service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new memoboard client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// GetView returns the controller's current view.
func (c *Client) GetView(ctx context.Context) (*View, error) {
	var v View
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/view", nil, http.StatusOK, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// UpdateForm sets the given fields; nil leaves a field unchanged.
func (c *Client) UpdateForm(ctx context.Context, displayName, text *string) (*View, error) {
	body := map[string]string{}
	if displayName != nil {
		body["display_name"] = *displayName
	}
	if text != nil {
		body["text"] = *text
	}

	var v View
	if err := c.doJSON(ctx, http.MethodPut, "/api/v1/form", body, http.StatusOK, &v); err != nil {
		return nil, err
	}
	c.logger.Debug("form updated", "submittable", v.Submittable)
	return &v, nil
}

// Submit starts a write from the current form and returns its handle.
// A refusal is reported as a *SubmitError.
func (c *Client) Submit(ctx context.Context) (string, *View, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/submit", nil)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		var out struct {
			Handle string `json:"handle"`
			View   View   `json:"view"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", nil, fmt.Errorf("failed to decode response: %w", err)
		}
		c.logger.Debug("submit accepted", "handle", out.Handle)
		return out.Handle, &out.View, nil

	case http.StatusConflict:
		var out struct {
			Error string `json:"error"`
			View  View   `json:"view"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return "", nil, &SubmitError{Reason: out.Error, View: out.View}

	default:
		return "", nil, c.parseErrorResponse(resp)
	}
}

// Refresh asks the server to re-read the feed.
func (c *Client) Refresh(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v1/refresh", nil, http.StatusAccepted, nil)
}

// ListMemos lists indexed memos, most recent first. An empty backend uses the
// server's configured ledger.
func (c *Client) ListMemos(ctx context.Context, backend string, opts ListOptions) (*MemoPage, error) {
	q := opts.query()
	if backend != "" {
		q.Set("backend", backend)
	}

	var page MemoPage
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/memos?"+q.Encode(), nil, http.StatusOK, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ListSubmissions lists audited submissions, optionally filtered by state.
func (c *Client) ListSubmissions(ctx context.Context, state string, opts ListOptions) ([]Submission, error) {
	q := opts.query()
	if state != "" {
		q.Set("state", state)
	}

	var out struct {
		Submissions []Submission `json:"submissions"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/submissions?"+q.Encode(), nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Submissions, nil
}

// GetSubmission retrieves one audited submission.
func (c *Client) GetSubmission(ctx context.Context, handle string) (*Submission, error) {
	var s Submission
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/submissions/"+url.PathEscape(handle), nil, http.StatusOK, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Health checks the server's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	return nil
}

// Stream follows the view stream and calls fn for each view message, starting
// with the initial view. It returns when ctx is done, the server ends the
// stream, or fn returns an error.
func (c *Client) Stream(ctx context.Context, fn func(StreamMessage) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/stream", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream is long-lived; drop the client-wide timeout.
	hc := *c.httpClient
	hc.Timeout = 0
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var event, data string

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if event == "view" && data != "" {
				var msg StreamMessage
				if err := json.Unmarshal([]byte(data), &msg); err != nil {
					c.logger.Warn("failed to decode stream message", "error", err)
				} else if err := fn(msg); err != nil {
					if errors.Is(err, errStopStream) {
						return nil
					}
					return err
				}
			}
			event, data = "", ""
			continue
		}

		if strings.HasPrefix(line, "event:") {
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("error reading stream: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

var errStopStream = errors.New("stop stream")

// Await follows the view stream until the write identified by handle reaches
// a terminal state and returns that lifecycle. A lifecycle for a different
// handle means a newer write replaced this one.
func (c *Client) Await(ctx context.Context, handle string) (*Lifecycle, error) {
	var final *Lifecycle
	err := c.Stream(ctx, func(msg StreamMessage) error {
		lc := msg.View.Lifecycle
		if lc.Handle != handle {
			if lc.Handle != "" && lc.State != StateIdle {
				return fmt.Errorf("write %s was superseded by %s", handle, lc.Handle)
			}
			return nil
		}
		if lc.Terminal() {
			final = &lc
			return errStopStream
		}
		c.logger.Debug("awaiting write", "handle", handle, "state", lc.State)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if final == nil {
		return nil, fmt.Errorf("stream ended before write %s finished", handle)
	}
	return final, nil
}

func (o ListOptions) query() url.Values {
	q := url.Values{}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset > 0 {
		q.Set("offset", strconv.Itoa(o.Offset))
	}
	return q
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// doJSON sends body, expects status, and decodes the response into out when non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, body any, status int, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != status {
		return c.parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
