// Package backup is the persistence sidecar: it snapshots the bubble store
// to a JSON file and restores unexpired bubbles at startup. Failures here
// are logged and never surfaced to clients; the in-memory store stays the
// source of truth.
package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/ButterJack07/Momentmap-web-final/internal/bubble"
)

type Sidecar struct {
	path   string
	store  *bubble.Store
	logger *slog.Logger
}

func NewSidecar(path string, store *bubble.Store, logger *slog.Logger) *Sidecar {
	return &Sidecar{
		path:   path,
		store:  store,
		logger: logger.With(slog.String("component", "backup")),
	}
}

// Save writes the full store snapshot, including expired bubbles not yet
// swept, so a crash between sweep runs loses nothing the store still held.
func (s *Sidecar) Save() error {
	records := s.store.Snapshot()
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode backup: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace backup file: %w", err)
	}

	s.logger.Info("backup saved", slog.Int("bubbles", len(records)))
	return nil
}

// Restore loads the backup file into the store, keeping only bubbles whose
// expiry is still in the future. A missing file is not an error.
func (s *Sidecar) Restore(now time.Time) error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read backup: %w", err)
	}

	var records []bubble.Bubble
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to decode backup: %w", err)
	}

	restored := s.store.Restore(records, now)
	s.logger.Info("backup restored", slog.Int("restored", restored), slog.Int("skipped", len(records)-restored))
	return nil
}
