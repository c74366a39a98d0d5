package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"chatedit/server/internal/auth"
	"chatedit/server/internal/chat"
	"chatedit/server/internal/config"
	"chatedit/server/internal/dispatch"
	"chatedit/server/internal/engine"
	"chatedit/server/internal/events"
	"chatedit/server/internal/intent"
	"chatedit/server/internal/ledger"
	"chatedit/server/internal/llm"
	"chatedit/server/internal/model"
	"chatedit/server/internal/respond"
	"chatedit/server/internal/store"
	"chatedit/server/internal/tracker"
)

// backend is everything the services need from persistence.
type backend interface {
	auth.Store
	tracker.Store
	ledger.Store
	chat.Store
	Ping(ctx context.Context) error
	Close() error
}

type toolchain interface {
	engine.Toolchain
	engine.Prober
}

// app is one fully wired process: store, pipeline and services.
type app struct {
	cfg        config.Config
	log        *slog.Logger
	store      backend
	hub        *events.Hub
	dispatcher *dispatch.Dispatcher
	auth       *auth.Service
	chat       *chat.Service
	degraded   bool

	lock *flock.Flock
}

// openApp takes the data-dir lock and wires every component. Only one
// process may hold a data dir at a time.
func openApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	lockPath := filepath.Join(cfg.Storage.DataDir, "chatedit.lock")
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another chatedit process is using %s", cfg.Storage.DataDir)
	}

	a := &app{cfg: cfg, log: logger, lock: lock}
	if err := a.openStore(ctx); err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	tc := a.newToolchain()
	a.hub = events.NewHub()
	tr := tracker.New(a.store, a.hub, logger)
	versions := ledger.New(a.store)
	eng := engine.New(tc, cfg.Toolchain.OutputDir, logger)
	a.dispatcher = dispatch.New(eng, tr, versions, a.store, logger, dispatch.Options{
		MaxConcurrent: cfg.Dispatch.MaxConcurrentOps,
		MaxUserOps:    cfg.Dispatch.MaxUserOps,
		Timeout:       cfg.Toolchain.Timeout.Duration,
	})

	conn, tokens := a.newConnector()
	a.auth = auth.NewService(a.store, cfg.Server.JWTSecret, cfg.Server.AccessTTL.Duration, cfg.Server.RefreshTTL.Duration)
	a.chat = chat.NewService(a.store,
		intent.New(conn, tokens, cfg.Conversation.HistoryTokenBudget, logger),
		respond.New(conn, logger),
		a.dispatcher, tr, versions, tc, logger,
		chat.Options{
			MinConfidence: cfg.Dispatch.MinConfidence,
			HistoryTurns:  cfg.Conversation.HistoryTurns,
		})
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Storage.Driver {
	case "sqlite":
		st, err := store.OpenSQLite(a.cfg.Storage.SQLitePath, a.log)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		a.store = st
	default:
		a.store = store.NewMemoryStore()
	}
	return a.store.Ping(ctx)
}

func (a *app) newToolchain() toolchain {
	if a.cfg.Toolchain.Driver == "mock" {
		return engine.NewMock(500 * time.Millisecond)
	}
	return engine.NewFFmpeg(a.cfg.Toolchain.FFmpegBinary, a.cfg.Toolchain.FFprobeBinary, a.log)
}

// newConnector returns the language-model connector and a token counter.
// Without an API key every component runs on its deterministic path.
func (a *app) newConnector() (llm.Connector, llm.TokenCounter) {
	if a.cfg.LLM.APIKey == "" {
		a.degraded = true
		a.log.Warn("llm disabled; running in degraded mode", "reason", "no api key")
		return llm.Disabled{}, llm.EstimateCounter{}
	}
	client := llm.NewClient(llm.Config{
		BaseURL: a.cfg.LLM.BaseURL,
		APIKey:  a.cfg.LLM.APIKey,
		Model:   a.cfg.LLM.Model,
		Timeout: a.cfg.LLM.Timeout.Duration,
	})
	tokens, err := llm.NewTokenCounter(a.cfg.LLM.Model)
	if err != nil {
		a.log.Warn("tokenizer unavailable; estimating history size", "model", a.cfg.LLM.Model, "error", err)
		return client, llm.EstimateCounter{}
	}
	return client, tokens
}

// operator is the account CLI commands act as.
func (a *app) operator(ctx context.Context) (model.User, error) {
	return a.auth.EnsureUser(ctx, a.cfg.Server.DemoEmail, a.cfg.Server.DemoPass, model.RoleUser)
}

// Close drains in-flight operations for up to grace, then releases the
// store and the lock.
func (a *app) Close(grace time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	var errs []error
	if err := a.dispatcher.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain operations: %w", err))
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if err := a.lock.Unlock(); err != nil {
		errs = append(errs, fmt.Errorf("release lock: %w", err))
	}
	return errors.Join(errs...)
}
