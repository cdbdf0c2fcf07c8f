package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/chattiavato/edge-relay/internal/config"
	"github.com/chattiavato/edge-relay/internal/language"
	"github.com/chattiavato/edge-relay/internal/relay"
)

func main() {
	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("starting edge-relay",
		"listen", cfg.ListenAddr,
		"upstream", cfg.UpstreamURL,
		"origins", len(cfg.OriginTokens),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var classifier language.Classifier
	if cfg.GenAIAPIKey != "" {
		c, err := language.NewGenAIClassifier(ctx, cfg.GenAIAPIKey, cfg.GenAIModel)
		if err != nil {
			slog.Error("failed to create language classifier", "error", err)
			os.Exit(1)
		}
		classifier = c
	}

	srv := relay.New(cfg, classifier)
	srvErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			slog.Error("relay shutdown error", "error", err)
		}
	case err := <-srvErr:
		slog.Error("relay server error", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}
