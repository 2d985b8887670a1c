// Command havend runs the haven backend: chat memory, semantic search,
// the authorization fabric, and the HTTP adapter, all against a local
// inference server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/havenlab/haven"
	"github.com/havenlab/haven/authz"
	"github.com/havenlab/haven/chat"
	"github.com/havenlab/haven/embed"
	"github.com/havenlab/haven/index"
	"github.com/havenlab/haven/ingest"
	"github.com/havenlab/haven/internal/config"
	"github.com/havenlab/haven/internal/httpapi"
	"github.com/havenlab/haven/observer"
	"github.com/havenlab/haven/provider/ollama"
	"github.com/havenlab/haven/store/sqlite"
	"github.com/havenlab/haven/vault"
	"github.com/havenlab/haven/vectorize"
)

func main() {
	if err := run(); err != nil {
		slog.Error("havend exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Config and logging
	cfg := config.Load(os.Getenv("HAVEN_CONFIG"))
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	uploadDir := filepath.Join(cfg.Data.Dir, "uploads")
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Observability (optional)
	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		var shutdown func(context.Context) error
		var err error
		inst, shutdown, err = observer.Init(ctx)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				logger.Warn("observer shutdown failed", "error", err)
			}
		}()
	}

	// 3. Embedding backend
	var embedder haven.Embedder = embed.Select(embed.Config{
		Backend:    cfg.Embedding.Backend,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Logger:     logger,
	})
	if inst != nil {
		embedder = observer.WrapEmbedder(embedder, inst)
	}

	// 4. Stores
	memory := sqlite.NewMemoryStore(filepath.Join(cfg.Data.Dir, "chat_memory.db"), sqlite.WithLogger(logger))
	teams := sqlite.NewTeamStore(filepath.Join(cfg.Data.Dir, "app.db"), sqlite.WithLogger(logger))
	vstore := sqlite.NewVaultStore(filepath.Join(cfg.Data.Dir, "app.db"), sqlite.WithLogger(logger))
	audit := sqlite.NewAuditStore(filepath.Join(cfg.Data.Dir, "audit_log.db"), sqlite.WithLogger(logger))
	stores := []interface {
		Init(context.Context) error
		Close() error
	}{memory, teams, vstore, audit}
	for _, st := range stores {
		if err := st.Init(ctx); err != nil {
			return err
		}
	}
	defer func() {
		for i := len(stores) - 1; i >= 0; i-- {
			if err := stores[i].Close(); err != nil {
				logger.Warn("store close failed", "error", err)
			}
		}
	}()

	// 5. Provider
	var provider haven.Provider = ollama.New(cfg.Inference.BaseURL, cfg.Inference.DefaultModel,
		ollama.WithLogger(logger),
		ollama.WithTimeout(time.Duration(cfg.Inference.TimeoutSeconds)*time.Second),
	)
	if cfg.Inference.RPM > 0 {
		provider = haven.WithRateLimit(provider, haven.RPM(cfg.Inference.RPM))
	}
	if inst != nil {
		provider = observer.WrapProvider(provider, cfg.Inference.DefaultModel, inst)
	}

	// 6. Core services
	ix := index.New(memory, embedder, index.WithLogger(logger))
	engine := vectorize.New(embedder,
		vectorize.WithLogger(logger),
		vectorize.WithWorkers(cfg.Context.Workers),
		vectorize.WithQueueSize(cfg.Context.QueueSize),
		vectorize.WithRetentionDays(cfg.Context.RetentionDays),
	)
	defer func() {
		if err := engine.Shutdown(5 * time.Second); err != nil {
			logger.Warn("vectorize shutdown timed out", "error", err)
		}
	}()

	fabric := authz.New(teams, audit,
		authz.WithLogger(logger),
		authz.WithFounders(cfg.Authz.Founders...),
	)
	go authz.NewSweeper(fabric, 0).Run(ctx)

	orch := chat.New(memory, provider, embedder, ix,
		chat.WithLogger(logger),
		chat.WithFabric(fabric),
		chat.WithEngine(engine),
	)

	// 7. HTTP adapter
	api := httpapi.New(memory, fabric, orch,
		httpapi.WithLogger(logger),
		httpapi.WithDevMode(cfg.Development()),
		httpapi.WithTeams(teams),
		httpapi.WithAudit(audit),
		httpapi.WithVault(vault.New(vstore, vault.WithLogger(logger), vault.WithPepper(cfg.Vault.Pepper))),
		httpapi.WithIngestor(ingest.New(memory, embedder, ingest.WithLogger(logger), ingest.WithUploadDir(uploadDir))),
		httpapi.WithIndex(ix),
		httpapi.WithEngine(engine),
		httpapi.WithProvider(provider),
	)
	srv := api.NewHTTPServer(cfg.Server.Addr)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("havend listening", "addr", cfg.Server.Addr, "environment", cfg.Server.Environment)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Server.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if cfg.Development() {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
