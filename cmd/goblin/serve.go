package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/RichardoC/goblin/internal/api"
	"github.com/RichardoC/goblin/internal/config"
	"github.com/RichardoC/goblin/internal/db"
	"github.com/RichardoC/goblin/internal/persona"
	"github.com/RichardoC/goblin/internal/transcript"
	"github.com/RichardoC/goblin/internal/web"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat page and API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), root, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func runServe(ctx context.Context, root *rootOptions, addr string) (err error) {
	loader, err := root.load()
	if err != nil {
		return err
	}
	cfg := loader.Get()

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return err
	}
	if addr == "" {
		addr = cfg.Server.Addr
	}

	for _, dir := range []string{cfg.Prompts.Dir, cfg.Logs.Dir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		logger.Error("failed to initialize database",
			zap.Error(err),
			zap.String("dbPath", cfg.Database.Path))
		return err
	}
	defer func() { err = multierr.Append(err, database.Close()) }()

	completer, err := newCompleter(cfg.LLMSettings(), logger)
	if err != nil {
		logger.Error("failed to initialize model client", zap.Error(err))
		return err
	}

	loader.SetLogger(logger)
	loader.OnChange(func(old, new config.Config) {
		logger.Info("config file changed; model catalog and prompts are re-read per request, other settings apply on restart",
			zap.String("model.catalog", new.Model.Catalog))
	})

	handler := api.NewHandler(api.Config{
		LLM:      completer,
		Personas: persona.NewLibrary(cfg.Prompts.Dir),
		Models: func() ([]string, error) {
			return config.LoadModels(loader.Get().Model.Catalog)
		},
		Store:  database,
		Writer: &transcript.Writer{Dir: cfg.Logs.Dir, PersonaDir: cfg.Prompts.Dir},
		Defaults: api.Defaults{
			Model:           cfg.Model.Default,
			Temperature:     cfg.Model.Temperature,
			MaxTokens:       cfg.Model.MaxTokens,
			MaxTurns:        cfg.Session.MaxTurns,
			RollbackOnError: cfg.Session.Rollback(false),
			Timeout:         cfg.Model.Timeout,
			IdleTimeout:     cfg.Session.IdleTimeout,
		},
		Logger: logger,
	})

	mux := http.NewServeMux()
	handler.Routes(mux)
	mux.Handle("/", web.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to start server", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
