package jobs

import (
	"context"
	"log"
	"time"

	"campusconnect/internal/config"
	"campusconnect/internal/repository"
)

func StartSessionPurgeJob(ctx context.Context, cfg config.Config, store *repository.Store) {
	if !cfg.SessionPurgeEnabled {
		return
	}
	interval := cfg.SessionPurgeInterval
	if interval <= 0 {
		interval = time.Hour
	}
	timeout := cfg.SessionPurgeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tickCtx, cancel := context.WithTimeout(ctx, timeout)
				purged, err := store.PurgeRefreshSessions(tickCtx, time.Now().UTC())
				cancel()
				if err != nil {
					log.Printf("session purge job error: %v", err)
					continue
				}
				if purged > 0 {
					log.Printf("session purge job removed %d sessions", purged)
				}
			}
		}
	}()
}
