// Package dispatch routes decoded client frames to their handlers and
// performs broadcast, room and direct delivery. The dispatcher itself holds
// no durable state; everything lives in the session registry, the bubble
// store and the global counters.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/ButterJack07/Momentmap-web-final/internal/admin"
	"github.com/ButterJack07/Momentmap-web-final/internal/auth"
	"github.com/ButterJack07/Momentmap-web-final/internal/bubble"
	"github.com/ButterJack07/Momentmap-web-final/internal/session"
	"github.com/ButterJack07/Momentmap-web-final/internal/stats"
	"github.com/ButterJack07/Momentmap-web-final/pkg/geo"
)

// Authenticator resolves identities. Satisfied by auth.Provider.
type Authenticator interface {
	Register(id, phone, username, password string) (auth.User, error)
	Login(loginID, password string) (auth.User, error)
	IssueToken(user auth.User) (string, error)
	VerifyToken(token string) (auth.User, error)
}

type Config struct {
	AdminSecret         string
	DefaultRadiusMeters float64
	DefaultTTL          time.Duration
}

type Dispatcher struct {
	logger   *slog.Logger
	sessions *session.Registry
	bubbles  *bubble.Store
	stats    *stats.Stats
	auth     Authenticator
	admin    *admin.Control
	cfg      Config

	now func() time.Time
}

func New(logger *slog.Logger, sessions *session.Registry, bubbles *bubble.Store, st *stats.Stats, authenticator Authenticator, control *admin.Control, cfg Config) *Dispatcher {
	if cfg.DefaultRadiusMeters <= 0 {
		cfg.DefaultRadiusMeters = 5000
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Hour
	}
	return &Dispatcher{
		logger:   logger.With(slog.String("component", "dispatcher")),
		sessions: sessions,
		bubbles:  bubbles,
		stats:    st,
		auth:     authenticator,
		admin:    control,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetClock overrides the dispatcher's time source. Test hook.
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// HandleFrame processes one inbound frame from conn. Malformed frames are
// dropped silently and the connection stays open; events that need a
// session are likewise dropped silently when the connection has none.
func (d *Dispatcher) HandleFrame(ctx context.Context, conn session.Conn, raw []byte) {
	if !gjson.ValidBytes(raw) {
		d.logger.Debug("dropping undecodable frame", slog.String("connID", conn.ID().String()))
		return
	}
	kind := gjson.GetBytes(raw, "type").String()

	switch kind {
	case "ping":
		d.send(conn, pongFrame{Type: "pong"})
	case "register":
		d.handleRegister(conn, raw)
	case "authLogin":
		d.handleAuthLogin(conn, raw)
	case "login":
		d.handleTokenLogin(conn, raw)
	case "adminCommand":
		d.handleAdminCommand(conn, raw)
	case "position":
		d.withSession(conn, raw, d.handlePosition)
	case "publicChat":
		d.withSession(conn, raw, d.handlePublicChat)
	case "chatroomMsg":
		d.withSession(conn, raw, d.handleRoomChat)
	case "privateChat":
		d.withSession(conn, raw, d.handlePrivateChat)
	case "publishBubble":
		d.withSession(conn, raw, d.handlePublishBubble)
	case "queryBubbles":
		d.withSession(conn, raw, d.handleQueryBubbles)
	default:
		d.logger.Debug("dropping unknown event", slog.String("event", kind))
	}
}

// HandleDisconnect tears the session down synchronously. Connections that
// never logged in produce no broadcasts.
func (d *Dispatcher) HandleDisconnect(connID uuid.UUID) {
	sess, ok := d.sessions.RemoveConn(connID)
	if !ok {
		return
	}
	d.logger.Info("user disconnected", slog.String("userID", sess.UserID))
	d.broadcast(onlineCountFrame{Type: "onlineCount", Count: d.sessions.Count()})
	d.broadcast(userLeftFrame{Type: "userLeft", UserID: sess.UserID, Nickname: sess.Nickname})
}

// withSession resolves the sender's session and silently drops the event
// when there is none. Deliberate fail-silent policy for unauthenticated
// noise; admin and login failures are the only loud rejections.
func (d *Dispatcher) withSession(conn session.Conn, raw []byte, handler func(conn session.Conn, sess session.Session, raw []byte)) {
	sess, ok := d.sessions.ByConn(conn.ID())
	if !ok {
		d.logger.Debug("dropping event from unauthenticated connection", slog.String("connID", conn.ID().String()))
		return
	}
	handler(conn, sess, raw)
}

// --- auth events ---

func (d *Dispatcher) handleRegister(conn session.Conn, raw []byte) {
	var req registerRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return
	}

	user, err := d.auth.Register(req.ID, req.Phone, req.Username, req.Password)
	if err != nil {
		d.send(conn, registerResponseFrame{Type: "registerResponse", Success: false, Message: err.Error()})
		return
	}
	wire := wireUser{ID: user.ID, Nickname: user.Username, Phone: user.Phone, Avatar: user.Avatar}
	d.send(conn, registerResponseFrame{Type: "registerResponse", Success: true, Message: "registered", User: &wire})
}

func (d *Dispatcher) handleAuthLogin(conn session.Conn, raw []byte) {
	var req authLoginRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return
	}

	user, err := d.auth.Login(req.LoginID, req.Password)
	if err != nil {
		d.logger.Info("login rejected", slog.String("loginId", req.LoginID), slog.Any("error", err))
		d.send(conn, loginFailedFrame{Type: "loginFailed", Message: err.Error()})
		return
	}
	d.installSession(conn, user)
}

func (d *Dispatcher) handleTokenLogin(conn session.Conn, raw []byte) {
	var req loginRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return
	}

	user, err := d.auth.VerifyToken(req.Token)
	if err != nil {
		d.send(conn, loginFailedFrame{Type: "loginFailed", Message: "invalid or expired session token"})
		return
	}
	d.installSession(conn, user)
}

// installSession binds the identity to this connection (closing any prior
// one), replies to the sender and announces the arrival to everyone.
func (d *Dispatcher) installSession(conn session.Conn, user auth.User) {
	sess := d.sessions.Login(user.ID, user.Username, user.Avatar, user.Phone, conn)

	token, err := d.auth.IssueToken(user)
	if err != nil {
		d.logger.Warn("failed to issue session token", slog.String("userID", user.ID), slog.Any("error", err))
	}

	d.send(conn, loginSuccessFrame{Type: "loginSuccess", User: wireUserFrom(sess), Token: token, Message: "login successful"})
	d.broadcast(userJoinedFrame{Type: "userJoined", UserID: sess.UserID, Nickname: sess.Nickname, Avatar: sess.Avatar})
	d.broadcast(onlineCountFrame{Type: "onlineCount", Count: d.sessions.Count()})
}

// --- session events ---

func (d *Dispatcher) handlePosition(conn session.Conn, sess session.Session, raw []byte) {
	var req positionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return
	}
	if !d.validCoords(conn, "position", req.Lat, req.Lng) {
		return
	}

	updated, ok := d.sessions.UpdatePosition(sess.UserID, *req.Lat, *req.Lng)
	if !ok {
		return
	}
	d.broadcast(userPositionFrame{
		Type:     "userPosition",
		UserID:   updated.UserID,
		Nickname: updated.Nickname,
		Avatar:   updated.Avatar,
		Lat:      updated.Position.Lat,
		Lng:      updated.Position.Lng,
	})
}

func (d *Dispatcher) handlePublicChat(conn session.Conn, sess session.Session, raw []byte) {
	var req publicChatRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return
	}

	d.stats.MessageSent()
	d.broadcast(chatFrame{
		Type:   "publicChat",
		From:   sess.Nickname,
		FromID: sess.UserID,
		Avatar: sess.Avatar,
		Msg:    req.Msg,
		Time:   d.now().UnixMilli(),
	})
}

// Room chat goes to every connected session; the room code travels as
// metadata only. Preserved from the observed behavior, there is no
// server-side room filtering.
func (d *Dispatcher) handleRoomChat(conn session.Conn, sess session.Session, raw []byte) {
	var req roomChatRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return
	}

	d.stats.MessageSent()
	d.broadcast(chatFrame{
		Type:     "chatroomMsg",
		From:     sess.Nickname,
		FromID:   sess.UserID,
		Avatar:   sess.Avatar,
		Msg:      req.Msg,
		RoomCode: req.RoomCode,
		Time:     d.now().UnixMilli(),
	})
}

func (d *Dispatcher) handlePrivateChat(conn session.Conn, sess session.Session, raw []byte) {
	var req privateChatRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return
	}

	frame, err := json.Marshal(chatFrame{
		Type:   "privateChat",
		From:   sess.Nickname,
		FromID: sess.UserID,
		To:     req.To,
		Avatar: sess.Avatar,
		Msg:    req.Msg,
		Time:   d.now().UnixMilli(),
	})
	if err != nil {
		return
	}

	d.stats.MessageSent()

	// Forwarded copy is dropped silently when the target is offline; the
	// sender always gets their echo.
	if target, ok := d.sessions.Lookup(req.To); ok {
		target.Conn.Send(frame)
	}
	conn.Send(frame)
}

// --- bubble events ---

func (d *Dispatcher) handlePublishBubble(conn session.Conn, sess session.Session, raw []byte) {
	var req publishBubbleRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return
	}
	if !d.validCoords(conn, "publishBubble", req.Lat, req.Lng) {
		return
	}

	kind := req.BubbleType
	if kind == "" {
		kind = "recommend"
	}
	ttl := d.cfg.DefaultTTL
	if req.Duration != nil && *req.Duration > 0 {
		ttl = time.Duration(*req.Duration) * time.Second
	}
	tags := req.ActivityTags
	if tags == nil {
		tags = []string{}
	}

	now := d.now()
	b := bubble.Bubble{
		Author:       sess.Nickname,
		AuthorID:     sess.UserID,
		Avatar:       sess.Avatar,
		Kind:         kind,
		RoomCode:     req.RoomCode,
		Title:        req.Title,
		Content:      req.Content,
		Lat:          *req.Lat,
		Lng:          *req.Lng,
		ActivityTags: tags,
		CreatedAt:    now.UnixMilli(),
		ExpiresAt:    now.Add(ttl).UnixMilli(),
	}
	b.ID = d.bubbles.Publish(b)

	d.broadcast(newBubbleFrame{Type: "newBubble", Bubble: b})
	d.send(conn, publishSuccessFrame{Type: "publishSuccess", BubbleID: b.ID})
}

func (d *Dispatcher) handleQueryBubbles(conn session.Conn, sess session.Session, raw []byte) {
	var req queryBubblesRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return
	}
	if !d.validCoords(conn, "queryBubbles", req.Lat, req.Lng) {
		return
	}

	radius := d.cfg.DefaultRadiusMeters
	if req.Radius != nil && *req.Radius > 0 {
		radius = *req.Radius
	}

	results := d.bubbles.QueryRadius(*req.Lat, *req.Lng, radius, d.now())
	d.logger.Debug("bubble query",
		slog.String("userID", sess.UserID),
		slog.Int("results", len(results)))
	d.send(conn, queryResultFrame{Type: "queryResult", Bubbles: results})
}

// --- admin ---

func (d *Dispatcher) handleAdminCommand(conn session.Conn, raw []byte) {
	var req adminCommandRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return
	}

	initiator := "admin"
	if sess, ok := d.sessions.ByConn(conn.ID()); ok {
		initiator = sess.Nickname
	}

	if req.Password != d.cfg.AdminSecret {
		d.logger.Warn("admin command with wrong secret",
			slog.String("command", req.Command),
			slog.String("initiator", initiator))
		d.send(conn, adminResponseFrame{Type: "adminResponse", Success: false, Message: "invalid admin password"})
		return
	}

	d.logger.Info("admin command", slog.String("command", req.Command), slog.String("initiator", initiator))

	switch req.Command {
	case "clearBubbles":
		res := d.admin.ClearAllBubbles(initiator)
		d.send(conn, adminResponseFrame{
			Type:         "adminResponse",
			Success:      res.Success,
			Message:      res.Message,
			ClearedCount: &res.ClearedCount,
			Timestamp:    res.Timestamp,
		})
	case "getStats":
		report := d.admin.Stats()
		d.send(conn, adminResponseFrame{Type: "adminResponse", Success: true, Stats: &report})
	case "saveBackup":
		count, err := d.admin.SaveBackup()
		if err != nil {
			d.send(conn, adminResponseFrame{Type: "adminResponse", Success: false, Message: "backup failed"})
			return
		}
		d.send(conn, adminResponseFrame{Type: "adminResponse", Success: true, Message: fmt.Sprintf("backup saved, %d bubbles", count)})
	default:
		d.send(conn, adminResponseFrame{Type: "adminResponse", Success: false, Message: "unknown admin command"})
	}
}

// --- helpers ---

// validCoords rejects absent or out-of-range coordinates with a typed
// validation reply instead of letting bad data reach broadcasts.
func (d *Dispatcher) validCoords(conn session.Conn, event string, lat, lng *float64) bool {
	if lat == nil || lng == nil || !geo.ValidCoordinates(*lat, *lng) {
		d.send(conn, validationErrorFrame{
			Type:    "validationError",
			Event:   event,
			Message: "valid lat and lng are required",
		})
		return false
	}
	return true
}

func (d *Dispatcher) send(conn session.Conn, v any) {
	frame, err := json.Marshal(v)
	if err != nil {
		d.logger.Error("failed to marshal outbound frame", slog.Any("error", err))
		return
	}
	conn.Send(frame)
}

func (d *Dispatcher) broadcast(v any) {
	frame, err := json.Marshal(v)
	if err != nil {
		d.logger.Error("failed to marshal broadcast frame", slog.Any("error", err))
		return
	}
	d.sessions.Broadcast(frame)
}
