package relay

import (
	"net/http"
	"strings"

	"github.com/chattiavato/edge-relay/internal/identity"
	"github.com/chattiavato/edge-relay/internal/upstream"
)

// Response headers surfaced to callers beyond the upstream passthrough set.
const (
	HeaderAssetVerified = "X-Relay-Asset-Verified"
	HeaderSTTLang       = "X-Relay-Stt-Iso2"
	HeaderTTSLang       = "X-Relay-Tts-Iso2"
	HeaderVoiceTimeout  = "X-Relay-Voice-Timeout-Sec"
	HeaderLang          = "X-Relay-Lang-Iso2"
)

var allowedRequestHeaders = strings.Join([]string{
	"Content-Type",
	"Accept",
	identity.TokenHeader,
}, ", ")

var exposedResponseHeaders = strings.Join(append([]string{
	HeaderSTTLang,
	HeaderTTSLang,
	HeaderVoiceTimeout,
	HeaderAssetVerified,
}, upstream.PassHeaders...), ", ")

// setCORSHeaders reflects the origin only when it is allow-listed; the
// method/header lists are static either way.
func setCORSHeaders(h http.Header, origin string, allowed bool) {
	if allowed {
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Vary", "Origin, Access-Control-Request-Method, Access-Control-Request-Headers")
	}
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", allowedRequestHeaders)
	h.Set("Access-Control-Expose-Headers", exposedResponseHeaders)
	h.Set("Access-Control-Max-Age", "86400")
}
