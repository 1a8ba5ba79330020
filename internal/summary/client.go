// Package summary talks to the meeting notes service and stores what it
// produces next to the session transcript.
package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Kind string

const (
	Summary     Kind = "summary"
	Minutes     Kind = "minutes"
	ActionItems Kind = "action_items"
)

// Kinds lists every artifact the service can produce.
var Kinds = []Kind{Summary, Minutes, ActionItems}

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ReplaceAll(strings.ToLower(s), "-", "_")); k {
	case Summary, Minutes, ActionItems:
		return k, nil
	default:
		return "", fmt.Errorf("unknown artifact %q", s)
	}
}

func (k Kind) endpoint() string {
	return "/api/v1/" + strings.ReplaceAll(string(k), "_", "-")
}

type Request struct {
	Transcript   string   `json:"transcript"`
	MeetingTitle string   `json:"meeting_title,omitempty"`
	MeetingDate  string   `json:"meeting_date,omitempty"`
	Participants []string `json:"participants,omitempty"`
}

// Artifact is one generated document. Items is set for action items,
// Text for everything else.
type Artifact struct {
	Kind        Kind
	Text        string
	Items       []string
	ProcessedAt string
}

type response struct {
	Summary     string   `json:"summary"`
	Minutes     string   `json:"minutes"`
	ActionItems []string `json:"action_items"`
	ProcessedAt string   `json:"processed_at"`
}

// StatusError is a non-2xx reply. Detail carries the service's error text.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("summary service returned %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("summary service returned %d: %s", e.Code, e.Detail)
}

type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client with a per-request timeout. A nil httpClient
// uses a fresh http.Client.
func NewClient(baseURL string, timeout time.Duration, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// Health checks /health, falling back to the root path.
func (c *Client) Health(ctx context.Context) error {
	var err error
	for _, path := range []string{"/health", "/"} {
		if err = c.get(ctx, path); err == nil {
			return nil
		}
	}
	return err
}

func (c *Client) get(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// Generate asks the service for one artifact.
func (c *Client) Generate(ctx context.Context, kind Kind, r Request) (Artifact, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return Artifact{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+kind.endpoint(), bytes.NewReader(body))
	if err != nil {
		return Artifact{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Artifact{}, fmt.Errorf("request %s: %w", kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Artifact{}, statusError(resp)
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Artifact{}, fmt.Errorf("decode %s response: %w", kind, err)
	}

	art := Artifact{Kind: kind, ProcessedAt: out.ProcessedAt}
	switch kind {
	case Summary:
		art.Text = strings.TrimSpace(out.Summary)
	case Minutes:
		art.Text = strings.TrimSpace(out.Minutes)
	case ActionItems:
		art.Items = out.ActionItems
	}
	return art, nil
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	e := &StatusError{Code: resp.StatusCode, Detail: strings.TrimSpace(string(raw))}

	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(raw, &body) == nil && len(body.Detail) > 0 {
		var s string
		if json.Unmarshal(body.Detail, &s) == nil {
			e.Detail = s
		} else {
			e.Detail = string(body.Detail)
		}
	}
	return e
}
