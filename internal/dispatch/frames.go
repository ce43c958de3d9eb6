package dispatch

import (
	"github.com/ButterJack07/Momentmap-web-final/internal/admin"
	"github.com/ButterJack07/Momentmap-web-final/internal/bubble"
	"github.com/ButterJack07/Momentmap-web-final/internal/session"
)

// Inbound payloads. Coordinates are pointers so a missing field is
// distinguishable from 0 and can be rejected explicitly.

type registerRequest struct {
	ID       string `json:"id"`
	Phone    string `json:"phone"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type authLoginRequest struct {
	LoginID  string `json:"loginId"`
	Password string `json:"password"`
}

type loginRequest struct {
	Token string `json:"token"`
}

type positionRequest struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

type publicChatRequest struct {
	Msg string `json:"msg"`
}

type roomChatRequest struct {
	Msg      string `json:"msg"`
	RoomCode string `json:"roomCode"`
}

type privateChatRequest struct {
	To  string `json:"to"`
	Msg string `json:"msg"`
}

type publishBubbleRequest struct {
	BubbleType   string   `json:"bubbleType"`
	Title        string   `json:"title"`
	Content      string   `json:"content"`
	Lat          *float64 `json:"lat"`
	Lng          *float64 `json:"lng"`
	ActivityTags []string `json:"activityTags"`
	RoomCode     string   `json:"roomCode"`
	Duration     *int64   `json:"duration"` // seconds
}

type queryBubblesRequest struct {
	Lat    *float64 `json:"lat"`
	Lng    *float64 `json:"lng"`
	Radius *float64 `json:"radius"`
}

type adminCommandRequest struct {
	Command  string `json:"command"`
	Password string `json:"password"`
}

// Outbound frames.

type pongFrame struct {
	Type string `json:"type"`
}

// wireUser is the profile shape clients receive; lat/lng stay null until
// the first position update, as the client expects.
type wireUser struct {
	ID       string   `json:"id"`
	Nickname string   `json:"nickname"`
	Phone    string   `json:"phone,omitempty"`
	Avatar   string   `json:"avatar"`
	Lat      *float64 `json:"lat"`
	Lng      *float64 `json:"lng"`
}

func wireUserFrom(sess session.Session) wireUser {
	u := wireUser{
		ID:       sess.UserID,
		Nickname: sess.Nickname,
		Phone:    sess.Phone,
		Avatar:   sess.Avatar,
	}
	if sess.Position != nil {
		u.Lat = &sess.Position.Lat
		u.Lng = &sess.Position.Lng
	}
	return u
}

type registerResponseFrame struct {
	Type    string    `json:"type"`
	Success bool      `json:"success"`
	Message string    `json:"message"`
	User    *wireUser `json:"user,omitempty"`
}

type loginSuccessFrame struct {
	Type    string   `json:"type"`
	User    wireUser `json:"user"`
	Token   string   `json:"token,omitempty"`
	Message string   `json:"message,omitempty"`
}

type loginFailedFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type userJoinedFrame struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
}

type userLeftFrame struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`
}

type onlineCountFrame struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type userPositionFrame struct {
	Type     string  `json:"type"`
	UserID   string  `json:"userId"`
	Nickname string  `json:"nickname"`
	Avatar   string  `json:"avatar"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
}

// chatFrame covers public, room and private chat echoes; roomCode and to
// are only set for their respective kinds.
type chatFrame struct {
	Type     string `json:"type"`
	From     string `json:"from"`
	FromID   string `json:"fromId"`
	To       string `json:"to,omitempty"`
	Avatar   string `json:"avatar"`
	Msg      string `json:"msg"`
	RoomCode string `json:"roomCode,omitempty"`
	Time     int64  `json:"time"`
}

type newBubbleFrame struct {
	Type   string        `json:"type"`
	Bubble bubble.Bubble `json:"bubble"`
}

type publishSuccessFrame struct {
	Type     string `json:"type"`
	BubbleID string `json:"bubbleId"`
}

type queryResultFrame struct {
	Type    string          `json:"type"`
	Bubbles []bubble.Result `json:"bubbles"`
}

// ClearedCount is a pointer so clearBubbles replies always carry it, zero
// included, while the other commands omit it entirely.
type adminResponseFrame struct {
	Type         string        `json:"type"`
	Success      bool          `json:"success"`
	Message      string        `json:"message,omitempty"`
	ClearedCount *int          `json:"clearedCount,omitempty"`
	Timestamp    string        `json:"timestamp,omitempty"`
	Stats        *admin.Report `json:"stats,omitempty"`
}

type validationErrorFrame struct {
	Type    string `json:"type"`
	Event   string `json:"event"`
	Message string `json:"message"`
}
