// Command tokenizerd serves morphological analysis over HTTP for the
// furigana engine, backed by kagome and the IPA dictionary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"furigana/tokenizer"
)

func main() {
	var (
		addr     = flag.String("addr", "127.0.0.1:8765", "Listen address")
		logLevel = flag.String("log", "info", "Log level (debug, info, warn, error)")
		grace    = flag.Duration("grace", 5*time.Second, "Shutdown grace period")
	)
	flag.Parse()

	if err := run(*addr, *logLevel, *grace); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(addr, level string, grace time.Duration) error {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	logger, err := zc.Build()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	analyzer, err := tokenizer.NewKagomeAnalyzer()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           tokenizer.NewServer(analyzer, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("tokenizer listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
