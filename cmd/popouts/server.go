package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/popouts/backend/internal/api"
	"github.com/popouts/backend/internal/config"
	"github.com/popouts/backend/internal/extract"
	"github.com/popouts/backend/internal/license"
	"github.com/popouts/backend/internal/metrics"
	"github.com/popouts/backend/internal/provider"
	"github.com/popouts/backend/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the popouts backend server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var mcpStdio bool

func init() {
	serveCmd.Flags().BoolVar(&mcpStdio, "mcp-stdio", false, "also serve MCP admin tools on stdio")
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "popouts version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	backend, err := provider.New(cfg.LLM.Provider, provider.Options{
		OpenAIAPIKey:  cfg.LLM.OpenAIAPIKey,
		OpenAIModel:   cfg.LLM.OpenAIModel,
		OpenAIBaseURL: cfg.LLM.OpenAIBaseURL,
		ToqanAPIKey:   cfg.LLM.ToqanAPIKey,
		ToqanBaseURL:  cfg.LLM.ToqanBaseURL,
		PollInterval:  cfg.Dedup.PollInterval,
		Timeout:       cfg.LLM.Timeout,
	})
	if err != nil {
		return fmt.Errorf("configuring LLM provider: %w", err)
	}
	slog.Info("LLM provider configured", "provider", backend.Name())

	coordinator := extract.NewCoordinator(store, backend, cfg.Dedup.PollInterval, cfg.Dedup.PollTimeout)
	licenses := license.NewService(store)

	handler := api.NewHandler(api.Deps{
		Store:       store,
		Licenses:    licenses,
		Coordinator: coordinator,
		AdminToken:  cfg.Admin.Token,
		Version:     version,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("popouts listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if mcpStdio {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Store: store, Version: version})
		stdioSrv := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("MCP stdio server: %w", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	return g.Wait()
}
