package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"consentgate/internal/consent"
	"consentgate/internal/events/kafka"
	"consentgate/internal/platform/config"
	"consentgate/internal/platform/httpserver"
	"consentgate/internal/platform/logger"
	"consentgate/internal/platform/metrics"
	platformredis "consentgate/internal/platform/redis"
	"consentgate/internal/storage"
	httptransport "consentgate/internal/transport/http"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	store, cleanup, health, err := buildStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build consent store: %w", err)
	}
	defer cleanup()

	handlerOpts := []httptransport.HandlerOption{}
	var sink *kafka.Sink
	if len(cfg.Kafka.Brokers) > 0 {
		sink, err = kafka.NewSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, log,
			kafka.WithFailureCounter(m.EventSinkFailures))
		if err != nil {
			return fmt.Errorf("connect event sink: %w", err)
		}
		if err := sink.EnsureTopic(ctx, 3, 1); err != nil {
			log.Warn("event topic not ensured", "error", err)
		}
		handlerOpts = append(handlerOpts, httptransport.WithEventListener(sink.Listener()))
	}

	cookie := consent.CookieSettings{
		Name:       cfg.Cookie.Name,
		ExpiryDays: cfg.Cookie.ExpiryDays,
		Path:       cfg.Cookie.Path,
		Domain:     cfg.Cookie.Domain,
		Secure:     cfg.Cookie.Secure,
		SameSite:   cfg.Cookie.SameSite,
	}
	bannerOpts := consent.BannerOptions{
		ShowOnlyOnce:      cfg.ShowOnlyOnce,
		RespectDoNotTrack: cfg.RespectDoNotTrack,
	}

	registrars := []httptransport.Registrar{
		httptransport.New(
			consent.DefaultRegistry(),
			store,
			cookie,
			bannerOpts,
			cfg.AutoBlock,
			cfg.APIURL,
			log,
			m,
			handlerOpts...,
		),
	}
	if pg, ok := durableStore(store); ok && cfg.AdminToken != "" {
		registrars = append(registrars, httptransport.NewAdminHandler(pg, cfg.AdminToken, log))
	}

	router := httptransport.NewRouter(log, health, registrars...)
	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting consentgate", "addr", cfg.Addr, "storage", string(cfg.Storage))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if sink != nil {
			if err := sink.Close(shutdownCtx); err != nil {
				log.Warn("event sink close", "error", err)
			}
		}
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return runJanitor(gctx, cfg, store, m, log)
	})

	return g.Wait()
}

// buildStore selects and constructs the configured adapter, returning the
// store, a release func, and a health probe for /healthz.
func buildStore(ctx context.Context, cfg config.Config) (consent.Store, func(), httptransport.HealthChecker, error) {
	noop := func() {}

	switch cfg.Storage {
	case config.StorageLegacy:
		return storage.NewTracedStore(storage.NewLegacyStore(), "legacy"), noop, nil, nil

	case config.StorageSealed:
		sealed, err := storage.NewSealedStore(cfg.Secret, cfg.Host)
		if err != nil {
			return nil, nil, nil, err
		}
		return storage.NewTracedStore(sealed, "sealed"), noop, nil, nil

	case config.StorageMemory:
		return storage.NewTracedStore(storage.NewMemoryStore(cfg.Secret), "memory"), noop, nil, nil

	case config.StorageSigned:
		ttl := time.Duration(cfg.Cookie.ExpiryDays) * 24 * time.Hour
		return storage.NewTracedStore(storage.NewSignedStore(cfg.Secret, ttl), "signed"), noop, nil, nil

	case config.StorageRedis:
		client, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, nil, err
		}
		ttl := time.Duration(cfg.Cookie.ExpiryDays) * 24 * time.Hour
		store := storage.NewRedisStore(client.Client, cfg.Secret, ttl)
		health := func() error { return client.Health(context.Background()) }
		return storage.NewTracedStore(store, "redis"), func() { _ = client.Close() }, health, nil

	case config.StoragePostgres:
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		store := storage.NewPostgresStore(db, cfg.Secret)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, nil, err
		}
		health := func() error { return db.Ping() }
		return storage.NewTracedStore(store, "postgres"), func() { _ = db.Close() }, health, nil
	}

	return nil, nil, nil, fmt.Errorf("unknown storage kind %q", cfg.Storage)
}

// durableStore unwraps the traced decorator to reach the Postgres adapter
// when the admin surface should be mounted.
func durableStore(store consent.Store) (*storage.PostgresStore, bool) {
	if traced, ok := store.(*storage.TracedStore); ok {
		store = traced.Inner()
	}
	pg, ok := store.(*storage.PostgresStore)
	return pg, ok
}
