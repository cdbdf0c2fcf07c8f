// Package guard submits a sanitized conversation to the external
// content-safety classifier and parses its verdict. Any ambiguity fails
// closed: an unparseable reply is treated as unsafe.
package guard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chattiavato/edge-relay/internal/sanitize"
)

// CategoryUnparseable is the synthetic category attached when the
// classifier reply could not be interpreted.
const CategoryUnparseable = "GUARD_UNPARSEABLE"

// Verdict is the classifier outcome.
type Verdict struct {
	Safe       bool
	Categories []string
}

// Client calls the safety classifier over HTTP. One blocking round-trip
// per request, no retry.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient builds a classifier client. The short timeout is deliberate:
// a slow classifier fails the request rather than holding it open.
func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type checkRequest struct {
	Messages []sanitize.Message `json:"messages"`
}

// Check submits the full message list and returns the parsed verdict.
// A transport or non-2xx failure is returned as an error and must be
// surfaced as classifier unavailability, never as a safe verdict.
func (c *Client) Check(ctx context.Context, msgs []sanitize.Message) (Verdict, error) {
	body, err := json.Marshal(checkRequest{Messages: msgs})
	if err != nil {
		return Verdict{}, fmt.Errorf("marshal guard request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, fmt.Errorf("build guard request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("guard request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Verdict{}, fmt.Errorf("guard returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Verdict{}, fmt.Errorf("read guard response: %w", err)
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		// Some classifiers reply with bare text.
		return ParseVerdict(string(raw)), nil
	}
	return ParseVerdict(v), nil
}

// ParseVerdict interprets a classifier reply that may be a structured
// {safe, categories} object (possibly wrapped under result/response) or
// a free-text "safe"/"unsafe" string. Unrecognizable shapes are unsafe.
func ParseVerdict(v any) Verdict {
	r := unwrap(v)

	if m, ok := r.(map[string]any); ok {
		if safe, ok := m["safe"].(bool); ok {
			return Verdict{Safe: safe, Categories: stringSlice(m["categories"])}
		}
	}
	if s, ok := r.(string); ok {
		lower := strings.ToLower(s)
		if strings.Contains(lower, "unsafe") {
			return Verdict{Safe: false}
		}
		if strings.Contains(lower, "safe") {
			return Verdict{Safe: true}
		}
	}
	return Verdict{Safe: false, Categories: []string{CategoryUnparseable}}
}

// unwrap peels the alternative nesting shapes classifiers use:
// top-level, {response: ...}, {result: {response: ...}}, {result: ...}.
func unwrap(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	if inner, ok := m["response"]; ok {
		return inner
	}
	if result, ok := m["result"].(map[string]any); ok {
		if inner, ok := result["response"]; ok {
			return inner
		}
		return result
	}
	if result, ok := m["result"]; ok {
		return result
	}
	return v
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
