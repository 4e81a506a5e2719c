// Package app wires the application together and runs it.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"optout-sentry-go/internal/activity"
	"optout-sentry-go/internal/brokers"
	"optout-sentry-go/internal/classifier"
	"optout-sentry-go/internal/config"
	"optout-sentry-go/internal/db"
	"optout-sentry-go/internal/handlers"
	"optout-sentry-go/internal/lifecycle"
	"optout-sentry-go/internal/mail"
	"optout-sentry-go/internal/metrics"
	"optout-sentry-go/internal/orchestrator"
	"optout-sentry-go/internal/ratelimit"
	"optout-sentry-go/internal/scanner"
	"optout-sentry-go/internal/server"
)

// Run initializes and starts the application.
func Run() error {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting Opt-Out Sentry")

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	dbConn, err := db.Init(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	m := metrics.New()

	store := ratelimit.NewRedisStore(&cfg.Redis)
	defer store.Close()
	limiter := ratelimit.NewLimiter(store)

	gmailClient := mail.NewGmailClient(&cfg.Gmail)

	var reader mail.Reader = gmailClient
	if cfg.UseIMAP {
		imapReader, err := mail.NewIMAPReader(&cfg.IMAP)
		if err != nil {
			return fmt.Errorf("failed to create IMAP reader: %w", err)
		}
		defer imapReader.Close()
		reader = imapReader
		logrus.Info("Using IMAP for response scanning")
	} else {
		logrus.Info("Using Gmail API for response scanning")
	}

	directory := brokers.NewDirectory(dbConn)
	if cfg.Brokers.SeedFile != "" {
		created, err := directory.LoadFromJSON(cfg.Brokers.SeedFile)
		if err != nil {
			return fmt.Errorf("failed to seed broker directory: %w", err)
		}
		logrus.Infof("Broker directory seeded, %d broker(s) created", created)
	}

	audit := activity.NewLogger(dbConn)
	lc := lifecycle.NewService(dbConn, gmailClient, audit, cfg.Lifecycle.ConfidenceThreshold)
	clf := classifier.NewKeywordClassifier()

	sc := scanner.New(dbConn, reader, clf, directory, lc, audit, m, cfg.Scanner)
	orch := orchestrator.New(dbConn, sc, audit, &cfg.Orchestrator)

	h := handlers.NewHandlers(dbConn, lc, directory, sc, orch, limiter, audit, m, handlers.RateLimits{
		ScanLimit:         cfg.RateLimit.ScanLimit,
		ScanWindowSeconds: cfg.RateLimit.ScanWindowSeconds,
		SendLimit:         cfg.RateLimit.SendLimit,
		SendWindowSeconds: cfg.RateLimit.SendWindowSeconds,
	})
	router := server.SetupRouter(h)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if err := orch.Start(); err != nil {
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := orch.Stop(); err != nil {
		logrus.Errorf("Failed to stop orchestrator: %v", err)
	}
	orch.Wait()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	logrus.Info("Server stopped gracefully")
	return nil
}
