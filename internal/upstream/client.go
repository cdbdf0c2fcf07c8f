// Package upstream issues the single forwarding request per relay
// request to the inference backend and exposes the selected response
// headers the relay is allowed to surface.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	apierrors "github.com/chattiavato/edge-relay/internal/errors"
	"github.com/chattiavato/edge-relay/internal/sanitize"
)

const (
	// HopHeader marks relayed calls so the backend can tell them apart
	// from direct ones. Header parity with the backend is required.
	HopHeader = "X-Relay-Hop"
	HopValue  = "gateway"

	// maxErrorExcerpt bounds the upstream error body surfaced to callers.
	maxErrorExcerpt = 2000
)

// PassHeaders are the only upstream response headers copied onto the
// relay response. Everything else is dropped.
var PassHeaders = []string{
	"X-Relay-Lang-Iso2",
	"X-Relay-Model",
	"X-Relay-Translated",
	"X-Relay-Embeddings",
}

// ChatRequest is the forwarded body: the sanitized conversation plus the
// projected advisory metadata.
type ChatRequest struct {
	Messages []sanitize.Message `json:"messages"`
	Meta     sanitize.Meta      `json:"meta"`
}

// StatusError is a non-2xx upstream reply: status plus a bounded body
// excerpt, never the raw unbounded body.
type StatusError struct {
	Status  int
	Excerpt string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %d: %s", e.Status, e.Excerpt)
}

// Unwrap lets callers classify the failure with errors.Is.
func (e *StatusError) Unwrap() error { return apierrors.ErrUpstreamFailure }

// Client sends chat requests to the inference backend.
type Client struct {
	chatURL    string
	httpClient *http.Client
	// streamTransport is reused by streaming requests, which carry no
	// client timeout (the context owns the deadline).
	streamTransport http.RoundTripper
}

// NewClient constructs a Client for the given endpoint URL. proxyURL may
// be empty to use the environment proxy.
func NewClient(chatURL string, timeout time.Duration, proxyURL string) *Client {
	transport := &http.Transport{}
	if proxyURL != "" {
		if parsed, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(parsed)
		}
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}

	return &Client{
		chatURL: chatURL,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		streamTransport: transport,
	}
}

// Send issues the one outbound chat call. The returned response body is
// incrementally readable (raw JSON objects or SSE, the backend decides);
// the caller owns closing it. Header returns the selected response
// headers via Passthrough.
func (c *Client) Send(ctx context.Context, req *ChatRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.chatURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set(HopHeader, HopValue)

	// No client timeout on the streaming call: the context carries the
	// deadline, the transport keeps the proxy setting.
	streamClient := &http.Client{Transport: c.streamTransport}
	resp, err := streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorExcerpt+1))
		resp.Body.Close()
		excerpt := string(raw)
		if len(excerpt) > maxErrorExcerpt {
			excerpt = excerpt[:maxErrorExcerpt]
		}
		return nil, &StatusError{Status: resp.StatusCode, Excerpt: excerpt}
	}
	return resp, nil
}

// Passthrough copies the selected upstream headers verbatim onto dst.
func Passthrough(dst http.Header, src http.Header) {
	for _, k := range PassHeaders {
		if v := src.Get(k); v != "" {
			dst.Set(k, v)
		}
	}
}
