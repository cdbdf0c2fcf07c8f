// Package voice holds the speech sub-pipeline: transcription with a
// conditional fallback backend, and synthesis with a fallback chain.
package voice

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chattiavato/edge-relay/internal/extract"
)

const (
	// MaxAudioBytes caps decoded audio for every intake shape.
	MaxAudioBytes = 12 * 1024 * 1024
	// MaxAudioB64Chars caps the JSON base64 field independently, since
	// base64 inflates size by roughly a third.
	MaxAudioB64Chars = 2_500_000
	// fallbackMaxBytes is the safety threshold below which the secondary
	// transcription backend is worth attempting.
	fallbackMaxBytes = 1_500_000
)

var transcriptPaths = []extract.Path{
	{"text"},
	{"result", "text"},
	{"response", "text"},
}

// STTClient calls the transcription backends. The primary takes a
// base64-encoded form; the fallback takes an array-of-bytes form and is
// only attempted for small payloads.
type STTClient struct {
	primaryURL  string
	fallbackURL string
	httpClient  *http.Client
}

// NewSTTClient builds a transcription client. fallbackURL may be empty
// to disable the secondary backend.
func NewSTTClient(primaryURL, fallbackURL string, timeout time.Duration) *STTClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &STTClient{
		primaryURL:  primaryURL,
		fallbackURL: fallbackURL,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// Transcribe sends the audio to the primary backend and, on failure,
// retries against the fallback when the payload is small enough. The
// returned transcript is raw; callers sanitize it like chat content.
func (c *STTClient) Transcribe(ctx context.Context, audio []byte) (string, error) {
	b64 := base64.StdEncoding.EncodeToString(audio)
	text, primaryErr := c.post(ctx, c.primaryURL, map[string]any{"audio": b64})
	if primaryErr == nil {
		return text, nil
	}

	if c.fallbackURL != "" && len(audio) <= fallbackMaxBytes {
		ints := make([]int, len(audio))
		for i, b := range audio {
			ints[i] = int(b)
		}
		text, fallbackErr := c.post(ctx, c.fallbackURL, map[string]any{"audio": ints})
		if fallbackErr == nil {
			return text, nil
		}
		return "", fmt.Errorf("transcription fallback: %w", fallbackErr)
	}
	return "", fmt.Errorf("transcription: %w", primaryErr)
}

func (c *STTClient) post(ctx context.Context, url string, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal audio: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return "", fmt.Errorf("backend %d: %s", resp.StatusCode, raw)
	}

	var v any
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	text, ok := extract.FirstNonEmpty(v, transcriptPaths...)
	if !ok {
		return "", fmt.Errorf("no transcript in response")
	}
	return text, nil
}
