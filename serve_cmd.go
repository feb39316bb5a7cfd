package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/readaloud/internal/bookmark"
	"github.com/dgnsrekt/readaloud/internal/observability"
	"github.com/dgnsrekt/readaloud/internal/server"
)

const shutdownTimeout = 5 * time.Second

var (
	serveAnyOrigin bool

	serveCmd = &cobra.Command{
		Use:   "serve [SOURCE]",
		Short: "Control a reader over HTTP and WebSocket",
		Long: paragraph(fmt.Sprintf("\n%s a reader with a JSON control API on /v1, a WebSocket state stream "+
			"on /v1/ws and Prometheus metrics on /metrics. A SOURCE is loaded before the first request.", keyword("Serve"))),
		Example: paragraph("readaloud serve --addr 127.0.0.1:7381\nreadaloud serve -e piper article.md"),
		Args:    cobra.MaximumNArgs(1),
		RunE:    runServe,
	}
)

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default from config, 127.0.0.1:7381)")
	serveCmd.Flags().Bool("no-metrics", false, "do not expose /metrics")
	serveCmd.Flags().BoolVar(&serveAnyOrigin, "any-origin", false, "accept WebSocket connections from any origin")
	_ = viper.BindPFlag("serve.addr", serveCmd.Flags().Lookup("addr"))
}

func runServe(cmd *cobra.Command, args []string) error {
	// the log file is kept; the terminal gets a copy
	log.SetOutput(io.MultiWriter(os.Stderr, logOutput))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *observability.Metrics
	noMetrics, _ := cmd.Flags().GetBool("no-metrics")
	if viper.GetBool("serve.metrics") && !noMetrics {
		metrics = observability.NewMetrics(metricsNamespace)
	}

	marks, err := openBookmarks(ctx)
	if err != nil {
		log.Warn("Bookmarks disabled", "err", err)
		marks = bookmark.NewMemory()
	}
	defer marks.Close() //nolint:errcheck

	sess, err := openSession(sessionOptions{engine: engineName, metrics: metrics})
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn("Could not close session", "err", err)
		}
	}()

	if len(args) > 0 {
		src, err := sourceFromArg(args[0])
		if err != nil {
			return err
		}
		body, err := readSource(src)
		if err != nil {
			return err
		}
		if err := sess.engine.LoadText(body); err != nil {
			return err
		}
	}

	opts := []server.Option{
		server.WithBookmarks(marks),
		server.WithLogger(log.Default().WithPrefix("server")),
	}
	if metrics != nil {
		opts = append(opts, server.WithMetrics(metrics))
	}
	if serveAnyOrigin {
		opts = append(opts, server.WithAnyOrigin())
	}
	srv := server.New(sess.engine, opts...)

	ln, err := net.Listen("tcp", viper.GetString("serve.addr"))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	log.Info("Server listening", "addr", ln.Addr().String(), "engine", engineName)
	return serve(ctx, ln, srv.Router())
}

// serve runs handler on ln until ctx is done, then shuts down gracefully.
func serve(ctx context.Context, ln net.Listener, handler http.Handler) error {
	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("Graceful shutdown failed", "err", err)
		_ = httpServer.Close()
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
