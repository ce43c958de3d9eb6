package session

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Conn is the transport handle a session holds. The registry references
// connections, it never owns their lifecycle.
type Conn interface {
	ID() uuid.UUID
	Send(frame []byte)
	Close(err error)
}

// Position is a user's last reported coordinate.
type Position struct {
	Lat float64
	Lng float64
}

// Session binds a user identity to exactly one active connection.
type Session struct {
	UserID   string
	Nickname string
	Avatar   string
	Phone    string
	Position *Position // nil until the first position update
	Conn     Conn
}

// Registry owns the userID<->connection mapping. Both index directions are
// mutated under a single lock so they can never disagree.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]*Session
	byConn map[uuid.UUID]string

	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		byUser: make(map[string]*Session),
		byConn: make(map[uuid.UUID]string),
		logger: logger.With(slog.String("component", "session_registry")),
	}
}

// Login installs a session for userID on conn. If the user already has a
// live session its connection is closed best-effort; the close outcome is
// deliberately ignored, correctness only needs the old entry dropped from
// the registry.
func (r *Registry) Login(userID, nickname, avatar, phone string, conn Conn) Session {
	r.mu.Lock()

	var stale Conn
	if old, ok := r.byUser[userID]; ok {
		stale = old.Conn
		delete(r.byConn, old.Conn.ID())
	}

	sess := &Session{
		UserID:   userID,
		Nickname: nickname,
		Avatar:   avatar,
		Phone:    phone,
		Conn:     conn,
	}
	r.byUser[userID] = sess
	r.byConn[conn.ID()] = userID
	snapshot := *sess
	r.mu.Unlock()

	// Close outside the lock: the transport close handler re-enters the
	// registry to remove the (already replaced) mapping.
	if stale != nil {
		r.logger.Info("replacing live session, closing stale connection",
			slog.String("userID", userID),
			slog.String("staleConnID", stale.ID().String()))
		stale.Close(nil)
	}

	r.logger.Debug("session installed", slog.String("userID", userID), slog.String("connID", conn.ID().String()))
	return snapshot
}

// UpdatePosition records the user's coordinate. Late frames from users who
// already disconnected are silently ignored.
func (r *Registry) UpdatePosition(userID string, lat, lng float64) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.byUser[userID]
	if !ok {
		return Session{}, false
	}
	sess.Position = &Position{Lat: lat, Lng: lng}
	return *sess, true
}

func (r *Registry) Lookup(userID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.byUser[userID]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// ByConn resolves the session owning a connection, if any.
func (r *Registry) ByConn(connID uuid.UUID) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userID, ok := r.byConn[connID]
	if !ok {
		return Session{}, false
	}
	sess, ok := r.byUser[userID]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// All returns a snapshot of every session, safe to iterate while the
// registry keeps mutating.
func (r *Registry) All() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Session, 0, len(r.byUser))
	for _, s := range r.byUser {
		out = append(out, *s)
	}
	return out
}

// RemoveConn deletes the session bound to connID. Idempotent; reports
// whether a session was actually removed.
func (r *Registry) RemoveConn(connID uuid.UUID) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[connID]
	if !ok {
		return Session{}, false
	}
	sess := r.byUser[userID]
	delete(r.byConn, connID)
	delete(r.byUser, userID)
	r.logger.Debug("session removed", slog.String("userID", userID), slog.String("connID", connID.String()))
	return *sess, true
}

// RemoveUser deletes the session for userID. Idempotent.
func (r *Registry) RemoveUser(userID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.byUser[userID]
	if !ok {
		return Session{}, false
	}
	delete(r.byConn, sess.Conn.ID())
	delete(r.byUser, userID)
	return *sess, true
}

// Count returns the current online count.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// Broadcast delivers a frame to every registered session, best-effort. The
// session set is snapshotted first so concurrent login/removal cannot
// corrupt iteration; individual send failures neither retry nor block the
// remaining deliveries (Conn.Send is non-blocking by contract).
func (r *Registry) Broadcast(frame []byte) {
	for _, sess := range r.All() {
		sess.Conn.Send(frame)
	}
}
