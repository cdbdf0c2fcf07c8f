package relay

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/chattiavato/edge-relay/internal/errors"
	"github.com/chattiavato/edge-relay/internal/guard"
	"github.com/chattiavato/edge-relay/internal/identity"
	"github.com/chattiavato/edge-relay/internal/language"
	"github.com/chattiavato/edge-relay/internal/upstream"
	"github.com/chattiavato/edge-relay/internal/voice"
)

// MaxBodyChars bounds chat and tts request bodies.
const MaxBodyChars = 8000

type handler struct {
	origins    identity.Map
	upstream   *upstream.Client
	guard      *guard.Client
	stt        *voice.STTClient
	tts        *voice.TTSClient
	classifier language.Classifier
}

// authorize runs the identity gate shared by every POST operation:
// origin allow-list first, then exact token equality. On success the
// CORS and verification headers are already set on w.
func (h *handler) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	origin := r.Header.Get("Origin")

	if !h.origins.Allowed(origin) {
		slog.Warn("request rejected", "error", apierrors.ErrOriginNotAllowed, "origin", orNone(origin), "path", r.URL.Path)
		setCORSHeaders(w.Header(), origin, false)
		apierrors.WriteJSON(w, http.StatusForbidden, map[string]any{
			"error":      "Origin not allowed",
			"saw_origin": orNone(origin),
		})
		return "", false
	}

	setCORSHeaders(w.Header(), origin, true)

	res := h.origins.Verify(origin, r.Header.Get(identity.TokenHeader))
	if !res.OK {
		slog.Warn("request rejected", "error", apierrors.ErrIdentityMismatch, "origin", origin, "token_present", res.TokenSeen)
		apierrors.WriteJSON(w, http.StatusForbidden, map[string]any{
			"error":         "Invalid asset identity",
			"detail":        identity.TokenHeader + " must match the calling Origin",
			"origin":        origin,
			"token_present": res.TokenSeen,
		})
		return "", false
	}

	w.Header().Set(HeaderAssetVerified, "1")
	return origin, true
}

// readJSONBody enforces the content-type declaration and the body cap,
// returning the raw bytes. A false return means a response was written.
func (h *handler) readJSONBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if !strings.Contains(ct, "application/json") {
		apierrors.WriteJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return nil, false
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyChars+1))
	if err != nil {
		apierrors.WriteJSONError(w, http.StatusBadRequest, "unreadable request body")
		return nil, false
	}
	if len(raw) == 0 {
		apierrors.WriteJSONError(w, http.StatusBadRequest, "empty request body")
		return nil, false
	}
	if len(raw) > MaxBodyChars {
		apierrors.WriteJSONError(w, http.StatusRequestEntityTooLarge, "request too large")
		return nil, false
	}
	return raw, true
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w.Header(), r.Header.Get("Origin"), h.origins.Allowed(r.Header.Get("Origin")))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("relay: ok"))
}

// handlePreflight answers capability negotiation. It reflects the origin
// only when allow-listed and never touches the token or any backend.
func (h *handler) handlePreflight(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	setCORSHeaders(w.Header(), origin, h.origins.Allowed(origin))
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleNotFound(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w.Header(), r.Header.Get("Origin"), h.origins.Allowed(r.Header.Get("Origin")))
	apierrors.WriteJSONError(w, http.StatusNotFound, "not found")
}

// handleUsage describes an API route for GET probes.
func (h *handler) handleUsage(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	setCORSHeaders(w.Header(), origin, h.origins.Allowed(origin))

	var body map[string]any
	switch r.URL.Path {
	case "/api/chat":
		body = map[string]any{
			"ok":               true,
			"route":            "/api/chat",
			"method":           "POST",
			"required_headers": []string{"Content-Type", "Accept", identity.TokenHeader},
			"body_json":        map[string]any{"messages": []map[string]string{{"role": "user", "content": "Hello"}}, "meta": map[string]any{}},
		}
	case "/api/tts":
		body = map[string]any{
			"ok":               true,
			"route":            "/api/tts",
			"method":           "POST",
			"required_headers": []string{"Content-Type", "Accept", identity.TokenHeader},
			"body_json":        map[string]any{"text": "Hello", "lang_iso2": "en"},
		}
	case "/api/voice":
		body = map[string]any{
			"ok":               true,
			"route":            "/api/voice?mode=stt | /api/voice?mode=chat",
			"method":           "POST",
			"required_headers": []string{"Accept", identity.TokenHeader},
			"body":             "binary audio OR multipart/form-data(audio=file) OR small JSON {audio_b64|audio[]}",
		}
	default:
		body = map[string]any{"ok": true}
	}
	apierrors.WriteJSON(w, http.StatusOK, body)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
