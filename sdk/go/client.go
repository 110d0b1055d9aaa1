package radsitesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal radsite JSON API client.
type Client struct {
	// BaseURL includes the API base path, e.g. http://127.0.0.1:8000/api.
	BaseURL     string
	BearerToken string
	// APIKey is sent as X-Api-Key when no BearerToken is set.
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

// Transition describes the state change of a transition action.
type Transition struct {
	Field  string `json:"field"`
	Source []any  `json:"source"`
	Target any    `json:"target"`
}

// Action is a registered action as the API describes it.
type Action struct {
	Name          string      `json:"name"`
	FullName      string      `json:"full_name"`
	VerboseName   string      `json:"verbose_name"`
	Icon          string      `json:"icon,omitempty"`
	Owner         string      `json:"owner,omitempty"`
	Field         string      `json:"field,omitempty"`
	NeedsInstance bool        `json:"needs_instance"`
	Params        []string    `json:"params"`
	URL           string      `json:"url,omitempty"`
	Transition    *Transition `json:"transition,omitempty"`
}

// SignedURL is a freshly signed or verified site path.
type SignedURL struct {
	Path       string   `json:"path"`
	FullPath   string   `json:"full_path"`
	ValidUntil int64    `json:"valid_until"`
	ExpiresAt  string   `json:"expires_at,omitempty"`
	Verbs      []string `json:"verbs"`
	UserPK     *int64   `json:"user_pk,omitempty"`
}

// SignOptions tune SignURL. Nil fields keep the server defaults.
type SignOptions struct {
	Expire *time.Duration
	Verbs  []string
	UserPK *int64
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	UID        string         `json:"uid"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	Action     string         `json:"action"`
	EntityKind string         `json:"entity_kind,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// EventFilter narrows Events. Zero values match everything.
type EventFilter struct {
	Type       string
	Action     string
	EntityKind string
	EntityID   string
	Limit      int
	Cursor     string
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Health reports whether the server answers.
func (c *Client) Health(ctx context.Context) error {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "health", nil, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("unhealthy: %q", resp.Status)
	}
	return nil
}

// Actions lists registered actions, only those of owner when not empty.
func (c *Client) Actions(ctx context.Context, owner string) ([]Action, error) {
	endpoint := "actions"
	if owner != "" {
		endpoint += "?" + url.Values{"owner": {owner}}.Encode()
	}
	var resp []Action
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AvailableActions lists the actions the caller may run on a model, or on
// one of its records when pk is not zero.
func (c *Client) AvailableActions(ctx context.Context, model string, pk int64) ([]Action, error) {
	endpoint := fmt.Sprintf("models/%s/actions", url.PathEscape(model))
	if pk != 0 {
		endpoint = fmt.Sprintf("%s?pk=%d", endpoint, pk)
	}
	var resp []Action
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SignURL signs a site path.
func (c *Client) SignURL(ctx context.Context, path string, opts SignOptions) (SignedURL, error) {
	body := map[string]any{"path": path}
	if opts.Expire != nil {
		body["expire_seconds"] = int64(opts.Expire.Seconds())
	}
	if len(opts.Verbs) > 0 {
		body["verbs"] = opts.Verbs
	}
	if opts.UserPK != nil {
		body["user_pk"] = *opts.UserPK
	}
	var resp SignedURL
	err := c.do(ctx, http.MethodPost, "urls/sign", body, &resp)
	return resp, err
}

// VerifyURL checks the signature carried by a signed path.
func (c *Client) VerifyURL(ctx context.Context, path string) (SignedURL, error) {
	var resp SignedURL
	err := c.do(ctx, http.MethodPost, "urls/verify", map[string]any{"path": path}, &resp)
	return resp, err
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, f EventFilter) (PaginatedEvents, error) {
	q := url.Values{}
	for k, v := range map[string]string{
		"type":        f.Type,
		"action":      f.Action,
		"entity_kind": f.EntityKind,
		"entity_id":   f.EntityID,
		"cursor":      f.Cursor,
	} {
		if v != "" {
			q.Set(k, v)
		}
	}
	if f.Limit > 0 {
		q.Set("limit", fmt.Sprint(f.Limit))
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
