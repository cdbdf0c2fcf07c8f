// Package relay is the HTTP surface of the edge relay: origin/identity
// verification, the chat pipeline, and the voice sub-pipeline.
package relay

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/chattiavato/edge-relay/internal/config"
	"github.com/chattiavato/edge-relay/internal/guard"
	"github.com/chattiavato/edge-relay/internal/identity"
	"github.com/chattiavato/edge-relay/internal/language"
	"github.com/chattiavato/edge-relay/internal/upstream"
	"github.com/chattiavato/edge-relay/internal/voice"
)

// Server is the relay HTTP server.
type Server struct {
	httpServer *http.Server
}

// New constructs a Server from the given config. classifier may be nil
// to disable the language-detection fallback model call.
func New(cfg *config.Config, classifier language.Classifier) *Server {
	h := &handler{
		origins:    identity.NewMap(cfg.OriginTokens),
		upstream:   upstream.NewClient(cfg.UpstreamURL, cfg.RequestTimeout, cfg.UpstreamProxyURL),
		guard:      guard.NewClient(cfg.GuardURL, 10*time.Second),
		stt:        voice.NewSTTClient(cfg.STTPrimaryURL, cfg.STTFallbackURL, cfg.RequestTimeout),
		tts:        voice.NewTTSClient(ttsVoices(cfg), cfg.TTSFallbackURL, cfg.RequestTimeout),
		classifier: classifier,
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/chat", h.handleChat).Methods(http.MethodPost)
	r.HandleFunc("/api/voice", h.handleVoice).Methods(http.MethodPost)
	r.HandleFunc("/api/tts", h.handleTTS).Methods(http.MethodPost)
	for _, path := range []string{"/api/chat", "/api/voice", "/api/tts"} {
		r.HandleFunc(path, h.handleUsage).Methods(http.MethodGet)
	}
	r.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(h.handlePreflight)
	r.NotFoundHandler = http.HandlerFunc(h.handleNotFound)

	r.Use(recoveryMiddleware, loggingMiddleware, securityMiddleware)

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.ListenAddr,
			Handler:      r,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0, // streaming responses have no fixed duration
			IdleTimeout:  60 * time.Second,
		},
	}
}

func ttsVoices(cfg *config.Config) map[string]string {
	voices := map[string]string{}
	if cfg.TTSVoiceENURL != "" {
		voices["en"] = cfg.TTSVoiceENURL
	}
	if cfg.TTSVoiceESURL != "" {
		voices["es"] = cfg.TTSVoiceESURL
	}
	return voices
}

// Start begins listening and blocks until the server is stopped.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Handler returns the underlying http.Handler (for use in tests with
// httptest.NewServer).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
