// Package stats tracks global hub counters: monotonic totals plus the most
// recent bubble-clear event. Counters are process-lifetime only, nothing
// here is persisted.
package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

type Stats struct {
	published atomic.Int64
	queried   atomic.Int64
	messages  atomic.Int64

	mu            sync.Mutex
	lastClearedAt time.Time
	lastClearedBy string
}

func New() *Stats {
	return &Stats{}
}

func (s *Stats) BubblePublished() { s.published.Add(1) }
func (s *Stats) BubbleQueried()   { s.queried.Add(1) }
func (s *Stats) MessageSent()     { s.messages.Add(1) }

// RecordClear notes who cleared the bubble store and when.
func (s *Stats) RecordClear(initiator string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastClearedAt = at
	s.lastClearedBy = initiator
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	TotalPublished int64     `json:"totalPublished"`
	TotalQueried   int64     `json:"totalQueried"`
	TotalMessages  int64     `json:"totalMessages"`
	LastClearedAt  time.Time `json:"lastCleared,omitzero"`
	LastClearedBy  string    `json:"clearedBy,omitempty"`
}

func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	at, by := s.lastClearedAt, s.lastClearedBy
	s.mu.Unlock()

	return Snapshot{
		TotalPublished: s.published.Load(),
		TotalQueried:   s.queried.Load(),
		TotalMessages:  s.messages.Load(),
		LastClearedAt:  at,
		LastClearedBy:  by,
	}
}
