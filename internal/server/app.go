// Package server wires the vault services together and runs them: the
// storage backend, notification delivery, the check-in scheduler, the
// session sweeper and the HTTP API. It handles graceful shutdown on signals.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/legacyvault/internal/common"
	"github.com/dmitrijs2005/legacyvault/internal/cryptox"
	"github.com/dmitrijs2005/legacyvault/internal/logging"
	"github.com/dmitrijs2005/legacyvault/internal/notify"
	"github.com/dmitrijs2005/legacyvault/internal/server/auth"
	"github.com/dmitrijs2005/legacyvault/internal/server/config"
	"github.com/dmitrijs2005/legacyvault/internal/server/httpserver"
	"github.com/dmitrijs2005/legacyvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/legacyvault/internal/server/services"
	"github.com/dmitrijs2005/legacyvault/internal/server/session"
)

const (
	migrationTimeout    = 30 * time.Second
	sessionSweepEvery   = time.Minute
	notifyQueueSize     = 1024
	notifyWorkers       = 4
	webhookTimeout      = 10 * time.Second
	httpReadTimeout     = 10 * time.Second
	httpWriteTimeout    = 60 * time.Second
	httpShutdownTimeout = 10 * time.Second
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	store     repomanager.Store
	notifier  *notify.AsyncDispatcher
	kdf       *cryptox.KDFPool
	sessions  *session.Store
	scheduler *services.Scheduler
	http      *httpserver.Server
}

func NewApp(c *config.Config) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(slogger)

	store, err := newStore(c)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), migrationTimeout)
	defer cancel()
	if err := store.RunMigrations(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	escrowKey, err := escrowKey(ctx, c, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	sinks := notify.Fanout{notify.NewLogDispatcher(logger)}
	if c.NotifyWebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookDispatcher(c.NotifyWebhookURL, &http.Client{Timeout: webhookTimeout}, logger))
	}
	notifier := notify.NewAsyncDispatcher(sinks, notifyQueueSize, notifyWorkers, logger)

	clk := clock.New()
	policy := services.PolicyFromConfig(c)
	tokens := auth.NewIssuer([]byte(c.SecretKey), c.AccessTokenValidityDuration).WithClock(clk)
	sessions := session.NewStore(c.SessionTTL, clk)
	kdf := cryptox.NewKDFPool(c.KDFWorkers, cryptox.DefaultKDFParams)

	shares := services.NewShareStore(escrowKey, logger)
	common.WipeByteArray(escrowKey)

	recipients := services.NewRecipientService(store, sessions, clk, logger)
	unlock := services.NewUnlockMachine(store, shares, recipients, notifier, tokens, clk, logger, policy)
	checkins := services.NewCheckInService(store, unlock, notifier, clk, logger, policy, c.SweepWorkers)
	contacts := services.NewContactService(store, shares, sessions, notifier, tokens, clk, logger)
	vault := services.NewVaultService(store, sessions, kdf, shares, notifier, clk, logger)

	handler := httpserver.NewHandler(checkins, unlock, contacts, vault, recipients, tokens, store, logger)
	srv := httpserver.New(&httpserver.Config{
		ListenAddr:               c.EndpointAddrHTTP,
		ReadTimeout:              httpReadTimeout,
		WriteTimeout:             httpWriteTimeout,
		GracefulShutdownDuration: httpShutdownTimeout,
	}, handler, slogger, logger)

	return &App{
		config:    c,
		logger:    logger,
		store:     store,
		notifier:  notifier,
		kdf:       kdf,
		sessions:  sessions,
		scheduler: services.NewScheduler(checkins, clk, c.SweepInterval, logger),
		http:      srv,
	}, nil
}

func newStore(c *config.Config) (repomanager.Store, error) {
	if c.StoreKind == config.StoreMemory {
		return repomanager.NewMemoryStore(), nil
	}
	return repomanager.NewPostgresStore(c.DatabaseDSN)
}

// escrowKey falls back to a random key for the memory store only; Validate
// rejects a postgres store without one.
func escrowKey(ctx context.Context, c *config.Config, logger logging.Logger) ([]byte, error) {
	if c.EscrowKey == "" && c.StoreKind == config.StoreMemory {
		logger.Warn(ctx, "no escrow key configured, using an ephemeral one")
		return cryptox.NewKey(), nil
	}
	return c.EscrowKeyBytes()
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.http.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run blocks until ctx is cancelled or a signal arrives, then releases every
// resource the app holds.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "store", app.config.StoreKind, "address", app.config.EndpointAddrHTTP)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.scheduler.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		app.sessions.Run(ctx, sessionSweepEvery)
	}()

	wg.Wait()

	app.notifier.Close()
	app.kdf.Close()
	if err := app.store.Close(); err != nil {
		app.logger.Error(ctx, "store close failed", "error", err)
	}
	app.logger.Info(ctx, "App stopped")
}
