package main

import (
	"context"
	"log/slog"
	"time"

	"consentgate/internal/consent"
	"consentgate/internal/platform/config"
	"consentgate/internal/platform/metrics"
	"consentgate/internal/storage"
)

// runJanitor periodically evicts consent records older than the cookie
// lifetime from backends that accumulate server-side state. Value-carrying
// adapters expire with the cookie itself and need no sweeping.
func runJanitor(ctx context.Context, cfg config.Config, store consent.Store, m *metrics.Metrics, log *slog.Logger) error {
	if traced, ok := store.(*storage.TracedStore); ok {
		store = traced.Inner()
	}

	var sweep func(context.Context) (int64, error)
	switch s := store.(type) {
	case *storage.MemoryStore:
		sweep = func(context.Context) (int64, error) {
			return int64(s.Cleanup(cfg.CleanupMaxAge)), nil
		}
	case *storage.PostgresStore:
		sweep = func(ctx context.Context) (int64, error) {
			return s.Cleanup(ctx, cfg.CleanupMaxAge)
		}
	default:
		return nil
	}

	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			removed, err := sweep(ctx)
			if err != nil {
				log.Warn("consent cleanup sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				m.RecordsCleaned.Add(float64(removed))
				log.Info("consent cleanup sweep", "removed", removed)
			}
		}
	}
}
