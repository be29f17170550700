// Package app wires the Shule portal runtime: config, logging, the
// session controller, presence synchronization, and the HTTP routes.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"shule/cmd/internal/api"
	"shule/cmd/internal/credstore"
	"shule/cmd/internal/presence"
	"shule/cmd/internal/push"
	"shule/cmd/internal/session"

	"github.com/redis/go-redis/v9"
)

// App is the portal runtime. It owns the lifecycle of every long-lived
// component: the credential store, the session controller, the presence
// synchronizer, and the HTTP server.
type App struct {
	cfg Config
	log Logger

	ctrl    *session.Controller
	sync    *presence.Synchronizer
	channel push.Channel

	// rdb is set only in redis credential-store mode; the app owns its
	// lifecycle.
	rdb *redis.Client
}

// New constructs a fully wired App from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	store, rdb, err := newCredStore(cfg, log)
	if err != nil {
		return nil, err
	}

	client, err := api.NewClient(cfg.APIBaseURL, cfg.APITimeout, log)
	if err != nil {
		if rdb != nil {
			_ = rdb.Close()
		}
		return nil, err
	}

	var channel push.Channel
	if cfg.PushWSURL != "" {
		channel = push.NewWSChannel(cfg.PushWSURL, log)
		log.Info("push.enabled", "url", cfg.PushWSURL)
	} else {
		log.Info("push.disabled")
	}

	sync := presence.NewSynchronizer(log, client, channel, presence.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		ActivityQuiet:     cfg.ActivityQuiet,
		WriteTimeout:      cfg.PresenceWriteTimeout,
	})

	ctrl := session.NewController(log, store, client, sync)

	return &App{
		cfg:     cfg,
		log:     log,
		ctrl:    ctrl,
		sync:    sync,
		channel: channel,
		rdb:     rdb,
	}, nil
}

// Run restores the session from the stored credential, starts the HTTP
// server, and blocks until context cancellation or a fatal server
// error. On shutdown it fires the offline beacon before tearing the
// session down.
func (a *App) Run(ctx context.Context) error {
	a.ctrl.Start(ctx)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(newRouter(a.log, a.ctrl, a.sync), a.log),
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.ReadTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "state", a.ctrl.Snapshot().State)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	// Best-effort offline announcement before anything else shuts down.
	a.sync.Shutdown()
	a.sync.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.ctrl.Close()
	if a.channel != nil {
		a.channel.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}

	a.log.Info("server.stopped")
	return nil
}

// newCredStore selects the credential backend from config. The redis
// client, when created, is returned for lifecycle ownership by the app.
func newCredStore(cfg Config, log Logger) (*credstore.Notifying, *redis.Client, error) {
	switch cfg.CredStore {
	case "memory":
		log.Info("credstore.memory")
		return credstore.NewNotifying(credstore.NewMemoryStore()), nil, nil

	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		st, err := credstore.NewRedisStore(rdb, cfg.RedisKey)
		if err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		log.Info("credstore.redis", "addr", cfg.RedisAddr)
		return credstore.NewNotifying(st), rdb, nil

	case "file", "":
		st, err := credstore.NewFileStore(cfg.CredFile)
		if err != nil {
			return nil, nil, err
		}
		log.Info("credstore.file", "path", cfg.CredFile)
		return credstore.NewNotifying(st), nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown credential store %q", cfg.CredStore)
	}
}
