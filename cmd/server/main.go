package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iudanet/collabnotes/internal/server"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	addr := flag.String("addr", envOr("COLLABNOTES_ADDR", ":8080"), "HTTP listen address")
	dbPath := flag.String("db", envOr("COLLABNOTES_DB", "collabnotes.db"), "SQLite database path")
	ocrPath := flag.String("ocr-db", envOr("COLLABNOTES_OCR_DB", "ocr-queue.db"), "OCR queue database path")
	jwtSecret := flag.String("jwt-secret", os.Getenv("COLLABNOTES_JWT_SECRET"), "JWT signing secret")
	logLevel := flag.String("log-level", envOr("COLLABNOTES_LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	logger := newLogger(*logLevel)

	if *jwtSecret == "" {
		logger.Error("JWT secret is required (flag -jwt-secret or COLLABNOTES_JWT_SECRET)")
		os.Exit(1)
	}

	cfg := server.Config{
		Addr:            *addr,
		DatabasePath:    *dbPath,
		OCRQueuePath:    *ocrPath,
		JWTSecret:       *jwtSecret,
		AccessTokenTTL:  time.Hour,
		ShutdownTimeout: 15 * time.Second,
		RateLimit:       100,
		RateWindow:      time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, logger, cfg)
	if err != nil {
		logger.Error("Failed to initialize server", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting collabnotes server", "version", Version)
	if err := srv.Run(ctx); err != nil {
		logger.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Server stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printVersion() {
	fmt.Printf("Collabnotes Server\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
