// Package bubble owns the in-memory store of geotagged, time-bounded posts.
package bubble

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ButterJack07/Momentmap-web-final/internal/stats"
	"github.com/ButterJack07/Momentmap-web-final/pkg/geo"
)

// Bubble is a published post. Author fields are denormalized from the
// publishing session and never refreshed afterwards. Timestamps are unix
// milliseconds, matching the wire and snapshot formats.
type Bubble struct {
	ID           string   `json:"id"`
	Author       string   `json:"author"`
	AuthorID     string   `json:"authorId"`
	Avatar       string   `json:"avatar"`
	Kind         string   `json:"type"`
	RoomCode     string   `json:"roomCode,omitempty"`
	Title        string   `json:"title"`
	Content      string   `json:"content"`
	Lat          float64  `json:"lat"`
	Lng          float64  `json:"lng"`
	ActivityTags []string `json:"activityTags"`
	CreatedAt    int64    `json:"createdAt"`
	ExpiresAt    int64    `json:"expiresAt"`
}

// Active reports whether the bubble is still visible at now.
func (b *Bubble) Active(now time.Time) bool {
	return b.ExpiresAt > now.UnixMilli()
}

// Result pairs a bubble with its distance from a query point.
type Result struct {
	Bubble
	Distance float64 `json:"distance"`
}

// Store holds all bubbles behind its own lock, independent of the session
// registry. Expiry is enforced at read time; the periodic sweep only
// reclaims memory.
type Store struct {
	mu      sync.RWMutex
	bubbles map[string]*Bubble
	order   []string // insertion order, breaks distance ties in queries

	stats  *stats.Stats
	logger *slog.Logger
}

func NewStore(st *stats.Stats, logger *slog.Logger) *Store {
	return &Store{
		bubbles: make(map[string]*Bubble),
		order:   make([]string, 0),
		stats:   st,
		logger:  logger.With(slog.String("component", "bubble_store")),
	}
}

// Publish assigns a fresh id, stores the record and returns the id.
func (s *Store) Publish(b Bubble) string {
	b.ID = uuid.NewString()
	if b.ActivityTags == nil {
		b.ActivityTags = []string{}
	}

	s.mu.Lock()
	s.bubbles[b.ID] = &b
	s.order = append(s.order, b.ID)
	s.mu.Unlock()

	s.stats.BubblePublished()
	s.logger.Info("bubble published",
		slog.String("bubbleID", b.ID),
		slog.String("kind", b.Kind),
		slog.String("author", b.Author))
	return b.ID
}

// QueryRadius returns every active bubble within radiusMeters of the query
// point, ordered ascending by distance; ties keep publish order. Distances
// are rounded to whole meters.
func (s *Store) QueryRadius(lat, lng, radiusMeters float64, now time.Time) []Result {
	s.mu.RLock()
	results := make([]Result, 0)
	for _, id := range s.order {
		b, ok := s.bubbles[id]
		if !ok || !b.Active(now) {
			continue
		}
		dist := geo.DistanceMeters(lat, lng, b.Lat, b.Lng)
		if dist <= radiusMeters {
			results = append(results, Result{Bubble: *b, Distance: math.Round(dist)})
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})

	s.stats.BubbleQueried()
	return results
}

// EvictExpired removes every bubble past its expiry, returning the count
// so the caller can decide whether to trigger a snapshot.
func (s *Store) EvictExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	kept := s.order[:0]
	for _, id := range s.order {
		b, ok := s.bubbles[id]
		if !ok {
			continue
		}
		if b.Active(now) {
			kept = append(kept, id)
			continue
		}
		delete(s.bubbles, id)
		removed++
	}
	s.order = kept

	if removed > 0 {
		s.logger.Info("evicted expired bubbles", slog.Int("removed", removed))
	}
	return removed
}

// ClearAll unconditionally empties the store and returns the prior size.
func (s *Store) ClearAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := len(s.bubbles)
	s.bubbles = make(map[string]*Bubble)
	s.order = s.order[:0]
	return count
}

// Snapshot returns every bubble currently held, including expired ones not
// yet swept, in insertion order. Used by the persistence sidecar.
func (s *Store) Snapshot() []Bubble {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Bubble, 0, len(s.bubbles))
	for _, id := range s.order {
		if b, ok := s.bubbles[id]; ok {
			out = append(out, *b)
		}
	}
	return out
}

// Restore inserts records whose expiry is still in the future. Intended for
// one startup call before the store is visible to connections.
func (s *Store) Restore(records []Bubble, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	restored := 0
	for _, b := range records {
		if !b.Active(now) || b.ID == "" {
			continue
		}
		if _, exists := s.bubbles[b.ID]; exists {
			continue
		}
		copied := b
		s.bubbles[b.ID] = &copied
		s.order = append(s.order, b.ID)
		restored++
	}
	return restored
}

// Count returns the number of bubbles currently held.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bubbles)
}
