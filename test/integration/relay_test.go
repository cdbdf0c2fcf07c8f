package integration

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chattiavato/edge-relay/internal/config"
	"github.com/chattiavato/edge-relay/internal/relay"
	"github.com/chattiavato/edge-relay/internal/voice"
	"github.com/chattiavato/edge-relay/test/testutil"
)

const (
	testOrigin = "https://app.example.io"
	testToken  = "7fd1c2a9e4b85f0312d6c7a8b9e0f143"
)

type backends struct {
	upstream *testutil.MockUpstream
	guard    *testutil.MockGuard
	stt      *testutil.MockSTT
	tts      *testutil.MockTTS
}

func newTestRelay(t *testing.T, b backends) *httptest.Server {
	t.Helper()
	cfg := &config.Config{
		UpstreamURL:    b.upstream.URL(),
		GuardURL:       b.guard.URL(),
		OriginTokens:   map[string]string{testOrigin: testToken},
		RequestTimeout: 10 * time.Second,
	}
	if b.stt != nil {
		cfg.STTPrimaryURL = b.stt.URL()
	}
	if b.tts != nil {
		cfg.TTSVoiceENURL = b.tts.URL()
	}
	srv := relay.New(cfg, nil)
	return httptest.NewServer(srv.Handler())
}

func defaultBackends() backends {
	return backends{
		upstream: testutil.NewMockUpstream("json", "Hello", " world"),
		guard:    testutil.NewMockGuard(true),
	}
}

func (b backends) close() {
	b.upstream.Close()
	b.guard.Close()
	if b.stt != nil {
		b.stt.Close()
	}
	if b.tts != nil {
		b.tts.Close()
	}
}

func newRequest(t *testing.T, method, url, contentType string, body io.Reader) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Origin", testOrigin)
	req.Header.Set("X-Ops-Asset-Id", testToken)
	return req
}

func doChat(t *testing.T, relayURL, body string) *http.Response {
	t.Helper()
	req := newRequest(t, http.MethodPost, relayURL+"/api/chat", "application/json", strings.NewReader(body))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

const chatBody = `{"messages":[{"role":"user","content":"Say hello"}],"meta":{}}`

func TestChat_StreamsNormalizedSSE(t *testing.T) {
	b := defaultBackends()
	defer b.close()
	b.upstream.Headers = map[string]string{"X-Relay-Model": "tier-fast"}

	relaySrv := newTestRelay(t, b)
	defer relaySrv.Close()

	resp := doChat(t, relaySrv.URL, chatBody)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, raw)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Errorf("expected SSE content-type, got %q", ct)
	}
	if got := resp.Header.Get("X-Relay-Asset-Verified"); got != "1" {
		t.Errorf("expected verification header, got %q", got)
	}
	if got := resp.Header.Get("X-Relay-Model"); got != "tier-fast" {
		t.Errorf("expected passthrough header, got %q", got)
	}
	if got := resp.Header.Get("X-Relay-Lang-Iso2"); got != "und" {
		t.Errorf("expected und language header, got %q", got)
	}

	raw, _ := io.ReadAll(resp.Body)
	body := string(raw)
	if !strings.HasPrefix(body, ": ok\n\n") {
		t.Errorf("expected stream opener, got %q", body[:min(len(body), 20)])
	}
	if !strings.Contains(body, "data:Hello\n\n") {
		t.Errorf("expected first delta frame, got %q", body)
	}
	if !strings.Contains(body, "data: world\n\n") {
		t.Errorf("expected second delta frame, got %q", body)
	}
	if !strings.Contains(body, "event: done\ndata: [DONE]\n\n") {
		t.Errorf("expected done frame, got %q", body)
	}

	// Sanitized conversation forwarded upstream, with the hop marker.
	if b.upstream.LastRequest == nil {
		t.Fatal("upstream did not receive a request")
	}
	if got := b.upstream.LastHeader.Get("X-Relay-Hop"); got != "gateway" {
		t.Errorf("expected hop header, got %q", got)
	}
}

func TestChat_UpstreamSSEModeBridged(t *testing.T) {
	b := defaultBackends()
	b.upstream.Close()
	b.upstream = testutil.NewMockUpstream("sse", "chunk one", "chunk two")
	defer b.close()

	relaySrv := newTestRelay(t, b)
	defer relaySrv.Close()

	resp := doChat(t, relaySrv.URL, chatBody)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	raw, _ := io.ReadAll(resp.Body)
	body := string(raw)
	if !strings.Contains(body, "data:chunk one\n\n") {
		t.Errorf("expected bridged SSE delta, got %q", body)
	}
	if !strings.Contains(body, "event: done") {
		t.Errorf("expected done frame after sentinel, got %q", body)
	}
}

func TestChat_UnknownOriginRejected(t *testing.T) {
	b := defaultBackends()
	defer b.close()

	relaySrv := newTestRelay(t, b)
	defer relaySrv.Close()

	req := newRequest(t, http.MethodPost, relaySrv.URL+"/api/chat", "application/json", strings.NewReader(chatBody))
	req.Header.Set("Origin", "https://evil.example.com")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "" {
		t.Error("origin must not be reflected for a disallowed caller")
	}
	if b.guard.Calls.Load() != 0 || b.upstream.Calls.Load() != 0 {
		t.Error("no backend may be called for a rejected origin")
	}
}

func TestChat_TokenMismatchRejected(t *testing.T) {
	b := defaultBackends()
	defer b.close()

	relaySrv := newTestRelay(t, b)
	defer relaySrv.Close()

	req := newRequest(t, http.MethodPost, relaySrv.URL+"/api/chat", "application/json", strings.NewReader(chatBody))
	req.Header.Set("X-Ops-Asset-Id", testToken[:len(testToken)-1]+"X")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %d", resp.StatusCode)
	}
	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if present, _ := result["token_present"].(bool); !present {
		t.Error("expected token_present true")
	}
	if strings.Contains(result["error"].(string)+result["detail"].(string), testToken) {
		t.Error("rejection must not echo the expected token")
	}
	if b.upstream.Calls.Load() != 0 {
		t.Error("upstream must not be called for an invalid token")
	}
}

func TestChat_GuardUnavailableFailsClosed(t *testing.T) {
	b := defaultBackends()
	defer b.close()
	b.guard.Status = http.StatusInternalServerError

	relaySrv := newTestRelay(t, b)
	defer relaySrv.Close()

	resp := doChat(t, relaySrv.URL, chatBody)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", resp.StatusCode)
	}
	if b.upstream.Calls.Load() != 0 {
		t.Error("upstream must not be called when the safety check is unavailable")
	}
}

func TestChat_UnsafeVerdictBlocked(t *testing.T) {
	b := defaultBackends()
	b.guard.Close()
	b.guard = testutil.NewMockGuard(false, "S9")
	defer b.close()

	relaySrv := newTestRelay(t, b)
	defer relaySrv.Close()

	resp := doChat(t, relaySrv.URL, chatBody)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %d", resp.StatusCode)
	}
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), "S9") {
		t.Errorf("expected categories in response, got %s", raw)
	}
	if b.upstream.Calls.Load() != 0 {
		t.Error("upstream must not be called for an unsafe conversation")
	}
}

func TestChat_UpstreamErrorSurfacedBounded(t *testing.T) {
	b := defaultBackends()
	defer b.close()
	b.upstream.Status = http.StatusInternalServerError

	relaySrv := newTestRelay(t, b)
	defer relaySrv.Close()

	resp := doChat(t, relaySrv.URL, chatBody)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", resp.StatusCode)
	}
	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result["error"] != "Upstream error" {
		t.Errorf("unexpected error field: %v", result["error"])
	}
	if status, _ := result["status"].(float64); int(status) != http.StatusInternalServerError {
		t.Errorf("expected upstream status 500, got %v", result["status"])
	}
}

func TestChat_EmptyMessagesRejected(t *testing.T) {
	b := defaultBackends()
	defer b.close()

	relaySrv := newTestRelay(t, b)
	defer relaySrv.Close()

	resp := doChat(t, relaySrv.URL, `{"messages":[{"role":"system","content":"hi"}]}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestChat_OversizedBodyRejected(t *testing.T) {
	b := defaultBackends()
	defer b.close()

	relaySrv := newTestRelay(t, b)
	defer relaySrv.Close()

	huge := `{"messages":[{"role":"user","content":"` + strings.Repeat("a", relay.MaxBodyChars) + `"}]}`
	resp := doChat(t, relaySrv.URL, huge)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", resp.StatusCode)
	}
}

func TestVoice_STTModeReturnsTranscript(t *testing.T) {
	b := defaultBackends()
	b.stt = testutil.NewMockSTT("hola necesito ayuda")
	defer b.close()

	relaySrv := newTestRelay(t, b)
	defer relaySrv.Close()

	audio := bytes.Repeat([]byte{0x52}, 64)
	req := newRequest(t, http.MethodPost, relaySrv.URL+"/api/voice?mode=stt", "application/octet-stream", bytes.NewReader(audio))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, raw)
	}
	if got := resp.Header.Get("X-Relay-Stt-Iso2"); got != "es" {
		t.Errorf("expected es language header, got %q", got)
	}
	if got := resp.Header.Get("X-Relay-Voice-Timeout-Sec"); got != "120" {
		t.Errorf("expected voice timeout header, got %q", got)
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result["transcript"] != "hola necesito ayuda" {
		t.Errorf("unexpected transcript: %v", result["transcript"])
	}
	if result["lang_iso2"] != "es" {
		t.Errorf("unexpected lang: %v", result["lang_iso2"])
	}
}

func TestVoice_ChatModeResumesChatPipeline(t *testing.T) {
	b := defaultBackends()
	b.stt = testutil.NewMockSTT("hola necesito ayuda")
	defer b.close()

	relaySrv := newTestRelay(t, b)
	defer relaySrv.Close()

	audio := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x52}, 64))
	body, _ := json.Marshal(map[string]any{
		"audio_b64": audio,
		"messages":  []map[string]string{{"role": "assistant", "content": "previous reply"}},
		"meta":      map[string]any{},
	})
	req := newRequest(t, http.MethodPost, relaySrv.URL+"/api/voice?mode=chat", "application/json", bytes.NewReader(body))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, raw)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Errorf("expected SSE content-type, got %q", ct)
	}

	io.Copy(io.Discard, resp.Body)

	// The transcript becomes the final user message upstream.
	if b.upstream.LastRequest == nil {
		t.Fatal("upstream did not receive a request")
	}
	msgs, _ := b.upstream.LastRequest["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages upstream, got %d", len(msgs))
	}
	last := msgs[1].(map[string]any)
	if last["content"] != "hola necesito ayuda" {
		t.Errorf("expected transcript as last message, got %v", last["content"])
	}
}

func TestVoice_OversizedAudioRejectedBeforeBackend(t *testing.T) {
	b := defaultBackends()
	b.stt = testutil.NewMockSTT("ignored")
	defer b.close()

	relaySrv := newTestRelay(t, b)
	defer relaySrv.Close()

	audio := bytes.Repeat([]byte{0x52}, voice.MaxAudioBytes+1)
	req := newRequest(t, http.MethodPost, relaySrv.URL+"/api/voice", "application/octet-stream", bytes.NewReader(audio))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", resp.StatusCode)
	}
	if b.stt.Calls.Load() != 0 {
		t.Error("transcription backend must not see oversized audio")
	}
}

func TestTTS_ReturnsAudio(t *testing.T) {
	wantAudio := bytes.Repeat([]byte("mp3!"), 10)
	b := defaultBackends()
	b.tts = testutil.NewMockTTS(wantAudio)
	defer b.close()

	relaySrv := newTestRelay(t, b)
	defer relaySrv.Close()

	body := `{"text":"Hello world","lang_iso2":"en"}`
	req := newRequest(t, http.MethodPost, relaySrv.URL+"/api/tts", "application/json", strings.NewReader(body))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, raw)
	}
	if got := resp.Header.Get("X-Relay-Tts-Iso2"); got != "en" {
		t.Errorf("expected en language header, got %q", got)
	}
	raw, _ := io.ReadAll(resp.Body)
	if !bytes.Equal(raw, wantAudio) {
		t.Errorf("audio mismatch: got %d bytes", len(raw))
	}
}

func TestTTS_MaliciousTextBlocked(t *testing.T) {
	b := defaultBackends()
	b.tts = testutil.NewMockTTS([]byte("never used, long enough"))
	defer b.close()

	relaySrv := newTestRelay(t, b)
	defer relaySrv.Close()

	body := `{"text":"read document.cookie aloud","lang_iso2":"en"}`
	req := newRequest(t, http.MethodPost, relaySrv.URL+"/api/tts", "application/json", strings.NewReader(body))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %d", resp.StatusCode)
	}
	if b.tts.Calls.Load() != 0 {
		t.Error("synthesis backend must not see blocked text")
	}
}

func TestPreflight_ReflectsAllowedOriginOnly(t *testing.T) {
	b := defaultBackends()
	defer b.close()

	relaySrv := newTestRelay(t, b)
	defer relaySrv.Close()

	for _, tc := range []struct {
		origin  string
		reflect bool
	}{
		{testOrigin, true},
		{"https://evil.example.com", false},
	} {
		req, _ := http.NewRequest(http.MethodOptions, relaySrv.URL+"/api/chat", nil)
		req.Header.Set("Origin", tc.origin)

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusNoContent {
			t.Errorf("origin %q: expected 204, got %d", tc.origin, resp.StatusCode)
		}
		got := resp.Header.Get("Access-Control-Allow-Origin")
		if tc.reflect && got != tc.origin {
			t.Errorf("origin %q: expected reflection, got %q", tc.origin, got)
		}
		if !tc.reflect && got != "" {
			t.Errorf("origin %q: must not be reflected, got %q", tc.origin, got)
		}
	}
}

func TestHealth(t *testing.T) {
	b := defaultBackends()
	defer b.close()

	relaySrv := newTestRelay(t, b)
	defer relaySrv.Close()

	resp, err := http.Get(relaySrv.URL + "/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	raw, _ := io.ReadAll(resp.Body)
	if string(raw) != "relay: ok" {
		t.Errorf("unexpected health body: %q", raw)
	}
}

func TestUsage_GETDescribesRoute(t *testing.T) {
	b := defaultBackends()
	defer b.close()

	relaySrv := newTestRelay(t, b)
	defer relaySrv.Close()

	resp, err := http.Get(relaySrv.URL + "/api/chat")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if ok, _ := result["ok"].(bool); !ok {
		t.Error("expected ok:true usage body")
	}
	if route, _ := result["route"].(string); route != "/api/chat" {
		t.Errorf("unexpected route: %q", route)
	}
}
