package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

type Config struct {
	ListenAddr string

	// UpstreamURL is the inference backend chat endpoint.
	UpstreamURL string
	// UpstreamProxyURL is an optional HTTP/HTTPS proxy for upstream calls.
	UpstreamProxyURL string
	// GuardURL is the content-safety classifier endpoint.
	GuardURL string

	// STT endpoints: primary (base64 form) and fallback (byte-array form).
	STTPrimaryURL  string
	STTFallbackURL string

	// TTS endpoints: per-language primary voices plus a multilingual fallback.
	TTSVoiceENURL  string
	TTSVoiceESURL  string
	TTSFallbackURL string

	// GenAIAPIKey enables the language-detection fallback classifier.
	GenAIAPIKey string
	GenAIModel  string

	// OriginTokens binds each allow-listed origin to its asset token.
	// Loaded from ORIGIN_TOKENS ("origin=token,origin=token") or from the
	// JSON file named by -origin-tokens-file.
	OriginTokens map[string]string

	RequestTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{}
	var tokensFile string

	flag.StringVar(&cfg.ListenAddr, "listen-addr", getEnv("LISTEN_ADDR", ":8080"), "Relay listen address")
	flag.StringVar(&cfg.UpstreamURL, "upstream-url", getEnv("UPSTREAM_URL", ""), "Inference backend chat endpoint")
	flag.StringVar(&cfg.UpstreamProxyURL, "upstream-proxy-url", getEnv("UPSTREAM_PROXY_URL", ""), "HTTP/HTTPS proxy for upstream requests")
	flag.StringVar(&cfg.GuardURL, "guard-url", getEnv("GUARD_URL", ""), "Content-safety classifier endpoint")
	flag.StringVar(&cfg.STTPrimaryURL, "stt-primary-url", getEnv("STT_PRIMARY_URL", ""), "Primary transcription endpoint (base64 form)")
	flag.StringVar(&cfg.STTFallbackURL, "stt-fallback-url", getEnv("STT_FALLBACK_URL", ""), "Fallback transcription endpoint (byte-array form)")
	flag.StringVar(&cfg.TTSVoiceENURL, "tts-voice-en-url", getEnv("TTS_VOICE_EN_URL", ""), "English primary voice endpoint")
	flag.StringVar(&cfg.TTSVoiceESURL, "tts-voice-es-url", getEnv("TTS_VOICE_ES_URL", ""), "Spanish primary voice endpoint")
	flag.StringVar(&cfg.TTSFallbackURL, "tts-fallback-url", getEnv("TTS_FALLBACK_URL", ""), "Multilingual fallback voice endpoint")
	flag.StringVar(&cfg.GenAIAPIKey, "genai-api-key", getEnv("GENAI_API_KEY", ""), "Gemini API key for the language-detection fallback (optional)")
	flag.StringVar(&cfg.GenAIModel, "genai-model", getEnv("GENAI_MODEL", ""), "Model for the language-detection fallback")
	flag.StringVar(&tokensFile, "origin-tokens-file", getEnv("ORIGIN_TOKENS_FILE", ""), "JSON file mapping origins to asset tokens")

	timeoutStr := getEnv("REQUEST_TIMEOUT", "120s")
	defaultTimeout, _ := time.ParseDuration(timeoutStr)
	if defaultTimeout == 0 {
		defaultTimeout = 120 * time.Second
	}
	flag.DurationVar(&cfg.RequestTimeout, "request-timeout", defaultTimeout, "Upstream round-trip timeout")

	flag.Parse()

	tokens, err := loadOriginTokens(tokensFile, os.Getenv("ORIGIN_TOKENS"))
	if err != nil {
		return nil, err
	}
	cfg.OriginTokens = tokens

	if cfg.UpstreamURL == "" {
		return nil, fmt.Errorf("upstream-url is required")
	}
	if cfg.GuardURL == "" {
		return nil, fmt.Errorf("guard-url is required")
	}
	return cfg, nil
}

// loadOriginTokens prefers the JSON file; the env variable is the
// compact alternative for small deployments.
func loadOriginTokens(file, env string) (map[string]string, error) {
	if file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read origin tokens: %w", err)
		}
		var m map[string]string
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("parse origin tokens: %w", err)
		}
		return m, nil
	}

	m := map[string]string{}
	for _, pair := range strings.Split(env, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		origin, token, ok := strings.Cut(pair, "=")
		if !ok || origin == "" || token == "" {
			return nil, fmt.Errorf("malformed ORIGIN_TOKENS entry %q", pair)
		}
		m[origin] = token
	}
	return m, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
