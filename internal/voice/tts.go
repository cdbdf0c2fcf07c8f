package voice

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chattiavato/edge-relay/internal/extract"
	"github.com/chattiavato/edge-relay/internal/sanitize"
)

// minAudioBytes below which a synthesis reply is treated as trivial and
// the next stage of the chain is attempted.
const minAudioBytes = 16

var audioPaths = []extract.Path{
	{"audio"},
	{"result", "audio"},
	{"response", "audio"},
}

// Audio is a synthesized reply.
type Audio struct {
	Bytes       []byte
	ContentType string
}

// TTSClient drives the synthesis fallback chain: a language-matched
// primary voice tried in raw-audio shape then JSON shape, then a generic
// multilingual fallback backend.
type TTSClient struct {
	// voices maps a two-letter language code to its primary voice URL.
	voices      map[string]string
	fallbackURL string
	httpClient  *http.Client
}

// NewTTSClient builds a synthesis client. voices should carry at least
// the "en" and "es" primary voices; unknown languages use "en".
func NewTTSClient(voices map[string]string, fallbackURL string, timeout time.Duration) *TTSClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &TTSClient{
		voices:      voices,
		fallbackURL: fallbackURL,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// Synthesize returns the first non-trivial audio the chain produces.
func (c *TTSClient) Synthesize(ctx context.Context, text, langISO2 string) (Audio, error) {
	iso2 := sanitize.NormalizeISO2(langISO2)
	if iso2 == "" {
		iso2 = "en"
	}
	primary := c.voices[iso2]
	if primary == "" {
		primary = c.voices["en"]
	}

	payload := map[string]any{"text": text, "encoding": "mp3", "container": "none"}

	if primary != "" {
		if out, err := c.postRaw(ctx, primary, payload); err == nil {
			return out, nil
		}
		if out, err := c.postJSON(ctx, primary, payload); err == nil {
			return out, nil
		}
	}

	if c.fallbackURL == "" {
		return Audio{}, fmt.Errorf("synthesis failed: no voice produced audio")
	}
	out, err := c.postJSON(ctx, c.fallbackURL, map[string]any{"prompt": text, "lang": iso2})
	if err != nil {
		return Audio{}, fmt.Errorf("synthesis failed: %w", err)
	}
	return out, nil
}

// postRaw accepts only a raw audio body.
func (c *TTSClient) postRaw(ctx context.Context, url string, payload map[string]any) (Audio, error) {
	resp, err := c.post(ctx, url, payload, "audio/mpeg")
	if err != nil {
		return Audio{}, err
	}
	defer resp.Body.Close()

	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.Contains(ct, "audio") {
		return Audio{}, fmt.Errorf("not an audio response: %q", ct)
	}
	raw, err := readCapped(resp)
	if err != nil {
		return Audio{}, err
	}
	if len(raw) < minAudioBytes {
		return Audio{}, fmt.Errorf("trivial audio response")
	}
	return Audio{Bytes: raw, ContentType: resp.Header.Get("Content-Type")}, nil
}

// postJSON accepts an encoded-audio-in-JSON body.
func (c *TTSClient) postJSON(ctx context.Context, url string, payload map[string]any) (Audio, error) {
	resp, err := c.post(ctx, url, payload, "application/json")
	if err != nil {
		return Audio{}, err
	}
	defer resp.Body.Close()

	var v any
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return Audio{}, fmt.Errorf("decode response: %w", err)
	}
	b64, ok := extract.FirstNonEmpty(v, audioPaths...)
	if !ok || len(b64) <= minAudioBytes {
		return Audio{}, fmt.Errorf("no audio in response")
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return Audio{}, fmt.Errorf("decode audio: %w", err)
	}
	return Audio{Bytes: raw, ContentType: "audio/mpeg"}, nil
}

func (c *TTSClient) post(ctx context.Context, url string, payload map[string]any, accept string) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("backend %d", resp.StatusCode)
	}
	return resp, nil
}

// readCapped buffers at most MaxAudioBytes of the backend reply rather
// than trusting it to be bounded.
func readCapped(resp *http.Response) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxAudioBytes+1))
	if err != nil {
		return nil, err
	}
	if len(raw) > MaxAudioBytes {
		return nil, fmt.Errorf("audio response exceeds %d bytes", MaxAudioBytes)
	}
	return raw, nil
}
