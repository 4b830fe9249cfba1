package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"gdpr-guardian/internal/app"
	"gdpr-guardian/internal/config"
	internaldb "gdpr-guardian/internal/db"
	"gdpr-guardian/internal/policy"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("guardian: %v", err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file (if present)
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("warning: could not load .env: %v", err)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	// No run may start against an unvalidated policy.
	policies := policy.NewStore()
	if _, err := policies.Load(cfg.PolicyPath); err != nil {
		return err
	}
	logger.Info("policy loaded", "path", cfg.PolicyPath)

	// writeDB: single-connection pool for serialized writes (WAL + txlock=immediate).
	// readDB:  4-connection pool for concurrent reads.
	pool, err := internaldb.OpenPool(cfg.MetaDBPath, 4)
	if err != nil {
		return fmt.Errorf("open metastore: %w", err)
	}
	defer pool.Close() //nolint:errcheck

	if err := internaldb.Migrate(pool.Write); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	application, err := app.New(ctx, app.Deps{
		Cfg:    cfg,
		Pool:   pool,
		Policy: policies,
		DataFS: afero.NewOsFs(),
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer application.Close() //nolint:errcheck

	handler, err := application.Router(ctx)
	if err != nil {
		return err
	}

	if err := application.Monitor.Start(ctx); err != nil {
		return fmt.Errorf("start sla monitor: %w", err)
	}
	defer application.Monitor.Stop()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP API listening", "addr", cfg.ListenAddr)
		logger.Info("point the CLI at this server", "command", "guardian --host "+localURL(cfg.ListenAddr)+" runs list")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// localURL is the base URL a local operator uses to reach listenAddr.
func localURL(listenAddr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(listenAddr))
	if err != nil || port == "" {
		return "http://localhost:8080"
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}
