// Package admin implements the privileged operations behind the shared
// admin secret. Secret verification is the caller's job (dispatcher or the
// HTTP API); Control assumes it is already authorized.
package admin

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ButterJack07/Momentmap-web-final/internal/bubble"
	"github.com/ButterJack07/Momentmap-web-final/internal/session"
	"github.com/ButterJack07/Momentmap-web-final/internal/stats"
)

// Saver triggers a persistence snapshot. Satisfied by backup.Sidecar.
type Saver interface {
	Save() error
}

// Broadcaster fans a frame out to every live session. Satisfied by
// session.Registry.
type Broadcaster interface {
	Broadcast(frame []byte)
}

type Control struct {
	store    *bubble.Store
	stats    *stats.Stats
	sessions *session.Registry
	saver    Saver
	notify   Broadcaster
	logger   *slog.Logger
}

func NewControl(store *bubble.Store, st *stats.Stats, sessions *session.Registry, saver Saver, notify Broadcaster, logger *slog.Logger) *Control {
	return &Control{
		store:    store,
		stats:    st,
		sessions: sessions,
		saver:    saver,
		notify:   notify,
		logger:   logger.With(slog.String("component", "admin_control")),
	}
}

type ClearResult struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	ClearedCount int    `json:"clearedCount"`
	Timestamp    string `json:"timestamp"`
}

type clearedNotice struct {
	Type         string `json:"type"`
	Message      string `json:"message"`
	ClearedCount int    `json:"clearedCount"`
	Timestamp    int64  `json:"timestamp"`
}

// ClearAllBubbles empties the bubble store, records who did it, notifies
// every session and triggers a backup. The snapshot is best-effort: its
// failure is logged and never rolls back the in-memory clear.
func (c *Control) ClearAllBubbles(initiator string) ClearResult {
	now := time.Now()
	cleared := c.store.ClearAll()
	c.stats.RecordClear(initiator, now)

	notice, err := json.Marshal(clearedNotice{
		Type:         "bubblesCleared",
		Message:      "all bubbles were cleared by " + initiator,
		ClearedCount: cleared,
		Timestamp:    now.UnixMilli(),
	})
	if err == nil {
		c.notify.Broadcast(notice)
	}

	if err := c.saver.Save(); err != nil {
		c.logger.Error("backup after clear failed", slog.Any("error", err))
	}

	c.logger.Info("bubbles cleared",
		slog.String("initiator", initiator),
		slog.Int("clearedCount", cleared),
		slog.Int("onlineUsers", c.sessions.Count()))

	return ClearResult{
		Success:      true,
		Message:      "cleared all bubbles",
		ClearedCount: cleared,
		Timestamp:    now.Format(time.RFC3339),
	}
}

// Report combines the global counters with live store and registry sizes.
type Report struct {
	BubbleCount int `json:"bubbleCount"`
	OnlineUsers int `json:"onlineUsers"`
	stats.Snapshot
}

func (c *Control) Stats() Report {
	return Report{
		BubbleCount: c.store.Count(),
		OnlineUsers: c.sessions.Count(),
		Snapshot:    c.stats.Snapshot(),
	}
}

// SaveBackup snapshots the store on demand, returning how many bubbles the
// store held.
func (c *Control) SaveBackup() (int, error) {
	count := c.store.Count()
	if err := c.saver.Save(); err != nil {
		c.logger.Error("on-demand backup failed", slog.Any("error", err))
		return count, err
	}
	return count, nil
}
