// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// mailwatch: mailbox monitoring service
//
// Entry point for the monitoring service. It:
//  1. Loads configuration from config.yaml
//  2. Connects to PostgreSQL and Redis
//  3. Builds the fetch/dedup/analysis/auto-reply pipeline
//  4. Runs the polling scheduler over all registered accounts
//  5. Serves a /health endpoint
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/cobalthq/mailwatch/internal/accounts"
	"github.com/cobalthq/mailwatch/internal/analysis"
	"github.com/cobalthq/mailwatch/internal/autoreply"
	"github.com/cobalthq/mailwatch/internal/config"
	"github.com/cobalthq/mailwatch/internal/dedup"
	"github.com/cobalthq/mailwatch/internal/models"
	"github.com/cobalthq/mailwatch/internal/monitor"
	"github.com/cobalthq/mailwatch/internal/notify"
	"github.com/cobalthq/mailwatch/internal/store"
	"github.com/cobalthq/mailwatch/internal/transport"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting mailwatch monitoring service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"poll_interval", cfg.PollInterval,
		"fetch_limit", cfg.FetchLimit,
		"auto_reply", cfg.AutoReplyEnabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	notifier := notify.NewNotifier(rdb, cfg.EventsQueue)
	if err := notifier.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Stores ---
	registry, err := accounts.NewRegistry(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise account registry", "error", err)
		os.Exit(1)
	}

	mailStore, err := store.New(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise mail store", "error", err)
		os.Exit(1)
	}

	// --- Pipeline ---
	gate := dedup.NewGate(mailStore)
	analyzer := analysis.NewOpenAIAnalyzer(cfg.OpenAIKey, cfg.OpenAIModel)
	dispatcher := analysis.NewDispatcher(analyzer, mailStore)
	engine := autoreply.NewEngine(mailStore, cfg.AutoReplyEnabled, cfg.ExcludedCategories)
	responder := autoreply.NewResponder(mailStore, analyzer, engine)

	newTransport := func(ctx context.Context, account models.Account) (transport.Transport, error) {
		switch account.Credential {
		case models.CredentialOAuth:
			onRefresh := func(tok models.OAuthToken) {
				if err := registry.UpdateOAuthToken(context.Background(), account.ID, tok); err != nil {
					slog.Error("persist refreshed token failed",
						"account", account.Email,
						"error", err,
					)
				}
			}
			return transport.NewGmailTransport(ctx, account, cfg.GoogleClientID, cfg.GoogleClientSecret, onRefresh)
		default:
			return transport.NewIMAPTransport(account, cfg.FetchLimit), nil
		}
	}

	scheduler := monitor.NewScheduler(monitor.Config{
		Registry:     registry,
		Store:        mailStore,
		Gate:         gate,
		Dispatcher:   dispatcher,
		Engine:       engine,
		Responder:    responder,
		Notifier:     notifier,
		NewTransport: newTransport,
		Interval:     cfg.PollInterval,
	})
	scheduler.Start(ctx)

	// --- Health Check Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := notifier.Ping(r.Context()); err != nil {
			http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
			return
		}
		if err := pgPool.Ping(r.Context()); err != nil {
			http.Error(w, "postgres unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy"}`))
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel()

		scheduler.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		rdb.Close()
		pgPool.Close()
	}()

	slog.Info("monitoring service listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("monitoring service stopped")
}
