// Command kbserve answers questions from the indexed knowledge base over MCP,
// optionally scheduling the ingestion pipelines in the same process.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/poiesic/kbpipe"
	"github.com/poiesic/kbpipe/config"
	"github.com/poiesic/kbpipe/mcpserver"
	"github.com/poiesic/kbpipe/metrics"
)

// version is set at build time via -ldflags.
var version = "dev"

const shutdownTimeout = 10 * time.Second

type serveFlags struct {
	config    string
	transport string
	addr      string
	logFormat string
	stateless bool
	schedule  bool
}

func newRootCmd() *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "kbserve",
		Short: "Serve the knowledge base answer_question tool over MCP",
		Long: `Serves the answer_question tool over MCP.

With --transport stdio (the default) the server talks to a single local
client over stdin/stdout. With --transport http it serves Streamable HTTP at
/mcp alongside /health and /metrics.

Environment variables are read from a .env file when present, so secrets
such as KBPIPE_SECRET_AI_API_KEY can be kept out of the configuration file.`,
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
	cmd.Flags().StringVarP(&flags.config, "config", "c", "kbpipe.yaml", "path to the pipeline configuration file")
	cmd.Flags().StringVar(&flags.transport, "transport", "stdio", "MCP transport (stdio, http)")
	cmd.Flags().StringVar(&flags.addr, "addr", ":8080", "listen address for HTTP transport, health and metrics")
	cmd.Flags().StringVar(&flags.logFormat, "log-format", "text", "log format (text, json)")
	cmd.Flags().BoolVar(&flags.stateless, "stateless", false, "disable MCP session tracking on the HTTP transport")
	cmd.Flags().BoolVar(&flags.schedule, "schedule", false, "also run every pipeline on its interval")
	return cmd
}

func main() {
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(format string) (*slog.Logger, error) {
	// stdout carries the stdio transport, so logs always go to stderr.
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, nil)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, nil)), nil
	}
	return nil, fmt.Errorf("invalid log format %q: must be one of text, json", format)
}

func runServe(ctx context.Context, flags *serveFlags) error {
	if flags.transport != "stdio" && flags.transport != "http" {
		return fmt.Errorf("invalid transport %q: must be one of stdio, http", flags.transport)
	}
	logger, err := newLogger(flags.logFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	cfg, err := config.Load(flags.config)
	if err != nil {
		return err
	}
	sys, err := kbpipe.Open(ctx, cfg, kbpipe.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to open pipeline system: %w", err)
	}
	defer sys.Close()

	server, err := mcpserver.NewServer(&mcpserver.Config{
		Answerer: sys.Router(),
		Version:  version,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if flags.schedule {
		g.Go(func() error {
			err := sys.Scheduler().Serve(ctx, sys.Definitions())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	mux := newMux(sys, server, flags.stateless)
	switch flags.transport {
	case "http":
		g.Go(func() error { return listen(ctx, flags.addr, mux, logger) })
	default:
		if flags.addr != "" {
			g.Go(func() error { return listen(ctx, flags.addr, mux, logger) })
		}
		g.Go(func() error {
			logger.Info("serving MCP over stdio")
			err := server.Run(ctx)
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("stdio server: %w", err)
			}
			return context.Canceled
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newMux mounts the MCP endpoint, the index health probe and the metrics registry.
func newMux(sys *kbpipe.System, server *mcpserver.Server, stateless bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/mcp", mcpserver.NewHTTPHandler(server, &mcpserver.HTTPHandlerOptions{Stateless: stateless}))
	mux.HandleFunc("/health", mcpserver.NewHealthHandler(sys.Index()))
	mux.Handle("/metrics", metrics.Handler(sys.Registry()))
	return mux
}

func listen(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr, "mcp", "/mcp", "health", "/health", "metrics", "/metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
