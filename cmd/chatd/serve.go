package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"chatd/internal/chat"
	"chatd/internal/config"
	"chatd/internal/embedding"
	"chatd/internal/history"
	"chatd/internal/httpapi"
	"chatd/internal/instance"
	"chatd/internal/llm"
	"chatd/internal/logging"
	"chatd/internal/memory"
	"chatd/internal/prompt"
	"chatd/internal/registry"
	"chatd/internal/vectorstore"
)

func newBackend(cfg config.Config, log zerolog.Logger) (llm.Backend, func(), error) {
	switch cfg.Backend {
	case "llama":
		models, err := registry.LoadDir(cfg.ModelsDir)
		if err != nil {
			return nil, nil, fmt.Errorf("scan models: %w", err)
		}
		log.Info().Str("models_dir", cfg.ModelsDir).Int("models", len(models)).Msg("llama catalog loaded")
		b := llm.NewLlamaBackend(models, cfg.LlamaCtx, cfg.LlamaThreads)
		return b, func() { _ = b.Close() }, nil
	default:
		return llm.NewOllamaBackend(cfg.OllamaURL, 0, 0, log), func() {}, nil
	}
}

func serve(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	httpapi.SetLogger(log)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetCORSOptions(cfg.CORSOrigins, nil, nil)

	backend, closeBackend, err := newBackend(cfg, log)
	if err != nil {
		return err
	}
	defer closeBackend()

	hs, err := history.NewFileStore(cfg.HistoryDir)
	if err != nil {
		return err
	}
	pool, err := vectorstore.NewPool(cfg.VectorDir)
	if err != nil {
		return err
	}
	defer pool.Close()
	emb, err := embedding.New(cfg.EmbedProvider, cfg.EmbedModel, cfg.OllamaURL)
	if err != nil {
		return err
	}

	svc := chat.NewService(chat.Options{
		Registry:  instance.NewRegistry(backend, log),
		Templates: prompt.NewCache(),
		Memory: memory.NewLoader(memory.LoaderOptions{
			History:    hs,
			Pool:       pool,
			Embedder:   emb,
			WindowK:    cfg.WindowK,
			RetrievalK: cfg.RetrievalK,
		}),
		Publisher:         chat.NewLogPublisher(log),
		Logger:            log,
		SerializePerModel: cfg.SerializePerModel,
		MaxQueueDepth:     cfg.MaxQueueDepth,
		MaxWait:           seconds(cfg.MaxWaitSeconds),
		RequestTimeout:    seconds(cfg.RequestTimeoutSeconds),
		StreamBuffer:      cfg.StreamBuffer,
	})

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	httpapi.SetBaseContext(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("backend", backend.Name()).Str("history_dir", cfg.HistoryDir).Msg("chatd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	svc.Preload(cfg.PreloadModels, *cfg.DefaultTemperature)
	log.Info().Strs("models", cfg.PreloadModels).Float64("temperature", *cfg.DefaultTemperature).Msg("models preloaded")

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	log.Info().Msg("chatd stopped")
	return nil
}
