package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/jw6ventures/calassist/internal/api"
	"github.com/jw6ventures/calassist/internal/auth"
	"github.com/jw6ventures/calassist/internal/chat"
	"github.com/jw6ventures/calassist/internal/config"
	"github.com/jw6ventures/calassist/internal/extract"
	"github.com/jw6ventures/calassist/internal/googlesync"
	httpserver "github.com/jw6ventures/calassist/internal/http"
	"github.com/jw6ventures/calassist/internal/llm"
	"github.com/jw6ventures/calassist/internal/logging"
	"github.com/jw6ventures/calassist/internal/secret"
	"github.com/jw6ventures/calassist/internal/store"
	"github.com/jw6ventures/calassist/internal/tracing"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	logger.Info("starting calassist", slog.String("version", version), slog.String("timezone", cfg.Schedule.Location.String()))

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(cfg.TraceExporter)
	if err != nil {
		return fmt.Errorf("set up tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("flush traces", logging.Err(err))
		}
	}()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN)
	if err != nil {
		return fmt.Errorf("create db pool: %w", err)
	}
	defer pool.Close()

	stor := store.New(pool)
	if err := migrate(ctx, stor, logger); err != nil {
		return err
	}

	model := llm.New(llm.Options{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	})
	chatService := chat.NewService(chat.ServiceOptions{
		LLM:           model,
		Events:        stor.Events,
		Conversations: stor.Conversations,
		Messages:      stor.Messages,
		Location:      cfg.Schedule.Location,
		Logger:        logger,
	})

	opts := api.Options{
		Store:         stor,
		Chat:          chatService,
		Extractor:     extract.New(model, cfg.LLM.VisionModel),
		Location:      cfg.Schedule.Location,
		Window:        cfg.Schedule.Window,
		ExcludeAllDay: cfg.Schedule.ExcludeAllDay,
		BaseURL:       cfg.BaseURL,
		Logger:        logger,
	}
	if cfg.GoogleEnabled() {
		importer, closeState, err := newGoogleImporter(cfg, stor, logger)
		if err != nil {
			return err
		}
		defer closeState()
		opts.Google = importer
	} else {
		logger.Info("google calendar sync disabled")
	}

	sessions := auth.NewSessionManager(cfg.Session.Secret, cfg.BaseURL)
	authService := auth.NewService(cfg, stor.Users, stor, sessions, logger)
	if cfg.AllowAnonymous {
		logger.Warn("anonymous access enabled: unauthenticated requests share one calendar")
	}

	router := httpserver.NewRouter(cfg, stor, authService, api.NewHandler(opts))
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// a chat turn makes up to two model calls plus a title request
		WriteTimeout: 3*cfg.LLM.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func newGoogleImporter(cfg *config.Config, stor *store.Store, logger *slog.Logger) (*googlesync.Importer, func(), error) {
	box, err := secret.NewBox(cfg.Session.Secret, "google-token")
	if err != nil {
		return nil, nil, fmt.Errorf("google token encryption: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Google.SyncStatePath), 0o700); err != nil {
		return nil, nil, fmt.Errorf("create sync state dir: %w", err)
	}
	state, err := googlesync.OpenStateStore(cfg.Google.SyncStatePath)
	if err != nil {
		return nil, nil, err
	}
	redirect := strings.TrimRight(cfg.BaseURL, "/") + cfg.Google.RedirectPath
	importer := googlesync.NewImporter(googlesync.ImporterOptions{
		Connector: googlesync.NewConnector(cfg.Google.ClientID, cfg.Google.ClientSecret, redirect, stor.GoogleTokens, box),
		Events:    stor.Events,
		State:     state,
		Location:  cfg.Schedule.Location,
		Logger:    logger,
	})
	closeState := func() {
		if err := state.Close(); err != nil {
			logger.Warn("close sync state", logging.Err(err))
		}
	}
	return importer, closeState, nil
}
