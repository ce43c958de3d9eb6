package server

import (
	"log/slog"
	"time"
)

// startBackgroundTasks launches the periodic loops: expired-bubble sweep,
// backup snapshot and a stats log line. Each runs on its own ticker and
// stops with the root context; store access goes through the same
// store/sidecar methods the request path uses, so they share its locking.
func (a *App) startBackgroundTasks() {
	a.wg.Add(3)
	go a.sweepLoop()
	go a.backupLoop()
	go a.statsLoop()
}

func (a *App) sweepLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.config.Bubbles.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			removed := a.store.EvictExpired(time.Now())
			if removed == 0 {
				continue
			}
			// The on-disk snapshot should not keep bubbles the sweep
			// just dropped.
			if err := a.sidecar.Save(); err != nil {
				a.logger.Error("backup after sweep failed", slog.Any("error", err))
			}
		}
	}
}

func (a *App) backupLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.config.Backup.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			if err := a.sidecar.Save(); err != nil {
				a.logger.Error("periodic backup failed", slog.Any("error", err))
			}
		}
	}
}

func (a *App) statsLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.config.Server.StatsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			snap := a.stats.Snapshot()
			a.logger.Info("system status",
				slog.Int("bubbles", a.store.Count()),
				slog.Int("online", a.sessions.Count()),
				slog.Int64("totalPublished", snap.TotalPublished),
				slog.Int64("totalQueried", snap.TotalQueried),
				slog.Int64("totalMessages", snap.TotalMessages),
			)
		}
	}
}
