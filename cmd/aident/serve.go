package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zakki0925224/aident/internal/api"
	"github.com/zakki0925224/aident/internal/chat"
	"github.com/zakki0925224/aident/internal/config"
	"github.com/zakki0925224/aident/internal/db"
	"github.com/zakki0925224/aident/internal/llm"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the web UI",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runServe(ctx, flags)
		},
	}
}

func runServe(ctx context.Context, flags *globalFlags) error {
	cfg, err := config.Load(flags.configPath, flags.envFile)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	llmService, err := newLLMService(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialize LLM service", zap.Error(err))
		return err
	}

	var store chat.Store
	if cfg.Database.Path != "" {
		database, err := db.New(cfg.Database.Path)
		if err != nil {
			logger.Error("failed to initialize database",
				zap.Error(err),
				zap.String("dbPath", cfg.Database.Path))
			return err
		}
		defer database.Close()
		store = database
	}

	sessions := chat.NewManager(llmService, store, cfg.Session.TTL, logger, chat.WithTimeout(cfg.Model.Timeout))
	go sessions.Run(ctx)

	handler := api.NewHandler(sessions, cfg.Model.Name, logger)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Starting server",
		zap.String("addr", cfg.Server.Addr),
		zap.String("provider", cfg.Model.Provider),
		zap.String("model", cfg.Model.Name),
		zap.Bool("persistent", store != nil))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}

func newLLMService(ctx context.Context, cfg *config.Config) (*llm.Service, error) {
	return llm.New(ctx, llm.Config{
		Provider:           cfg.Model.Provider,
		APIKey:             cfg.Model.APIKey,
		Model:              cfg.Model.Name,
		BaseURL:            cfg.Model.BaseURL,
		SystemInstructions: cfg.Model.SystemInstructions,
	})
}
