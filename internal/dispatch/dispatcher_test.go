package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ButterJack07/Momentmap-web-final/internal/admin"
	"github.com/ButterJack07/Momentmap-web-final/internal/auth"
	"github.com/ButterJack07/Momentmap-web-final/internal/bubble"
	"github.com/ButterJack07/Momentmap-web-final/internal/dispatch"
	"github.com/ButterJack07/Momentmap-web-final/internal/session"
	"github.com/ButterJack07/Momentmap-web-final/internal/stats"
)

// --- Test Suite Setup ---

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type fakeConn struct {
	id uuid.UUID

	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func newFakeConn() *fakeConn { return &fakeConn{id: uuid.New()} }

func (c *fakeConn) ID() uuid.UUID { return c.id }

func (c *fakeConn) Send(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.frames = append(c.frames, frame)
}

func (c *fakeConn) Close(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// framesOfType decodes every captured frame with the given type tag.
func (c *fakeConn) framesOfType(t *testing.T, kind string) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []map[string]any
	for _, raw := range c.frames {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("captured frame is not valid JSON: %v", err)
		}
		if m["type"] == kind {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// fakeAuth accepts any loginId with password "pw" and mints trivial tokens.
type fakeAuth struct{}

func (fakeAuth) Register(id, phone, username, password string) (auth.User, error) {
	if id == "taken" {
		return auth.User{}, auth.ErrIDTaken
	}
	return auth.User{ID: id, Phone: phone, Username: username, Avatar: "👤"}, nil
}

func (fakeAuth) Login(loginID, password string) (auth.User, error) {
	if password != "pw" {
		return auth.User{}, auth.ErrWrongPassword
	}
	return auth.User{ID: loginID, Username: "nick-" + loginID, Avatar: "👤"}, nil
}

func (fakeAuth) IssueToken(user auth.User) (string, error) {
	return "tok-" + user.ID, nil
}

func (fakeAuth) VerifyToken(token string) (auth.User, error) {
	if len(token) < 5 || token[:4] != "tok-" {
		return auth.User{}, errors.New("bad token")
	}
	id := token[4:]
	return auth.User{ID: id, Username: "nick-" + id, Avatar: "👤"}, nil
}

type fakeSaver struct {
	mu    sync.Mutex
	saves int
}

func (s *fakeSaver) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	return nil
}

type harness struct {
	d        *dispatch.Dispatcher
	sessions *session.Registry
	store    *bubble.Store
	stats    *stats.Stats
	saver    *fakeSaver
}

func newHarness() *harness {
	logger := newTestLogger()
	st := stats.New()
	sessions := session.NewRegistry(logger)
	store := bubble.NewStore(st, logger)
	saver := &fakeSaver{}
	control := admin.NewControl(store, st, sessions, saver, sessions, logger)

	d := dispatch.New(logger, sessions, store, st, fakeAuth{}, control, dispatch.Config{
		AdminSecret:         "sekrit",
		DefaultRadiusMeters: 5000,
		DefaultTTL:          time.Hour,
	})
	return &harness{d: d, sessions: sessions, store: store, stats: st, saver: saver}
}

func (h *harness) frame(conn session.Conn, raw string) {
	h.d.HandleFrame(context.Background(), conn, []byte(raw))
}

// login establishes an authenticated session for userID.
func (h *harness) login(t *testing.T, userID string) *fakeConn {
	t.Helper()
	conn := newFakeConn()
	h.frame(conn, `{"type":"authLogin","loginId":"`+userID+`","password":"pw"}`)
	if got := conn.framesOfType(t, "loginSuccess"); len(got) != 1 {
		t.Fatalf("login for %q produced %d loginSuccess frames, want 1", userID, len(got))
	}
	return conn
}

// --- Tests ---

func TestPingPong(t *testing.T) {
	h := newHarness()
	conn := newFakeConn()

	h.frame(conn, `{"type":"ping"}`)
	if got := conn.framesOfType(t, "pong"); len(got) != 1 {
		t.Fatalf("got %d pong frames, want 1", len(got))
	}
}

func TestMalformedFrameIsDroppedSilently(t *testing.T) {
	h := newHarness()
	conn := newFakeConn()

	h.frame(conn, `{not json at all`)
	if conn.frameCount() != 0 {
		t.Fatalf("malformed frame produced %d replies, want 0", conn.frameCount())
	}

	// Connection stays usable.
	h.frame(conn, `{"type":"ping"}`)
	if got := conn.framesOfType(t, "pong"); len(got) != 1 {
		t.Fatal("connection unusable after malformed frame")
	}
}

func TestLoginAnnouncesJoin(t *testing.T) {
	h := newHarness()
	observer := h.login(t, "bob")

	alice := h.login(t, "alice")

	joined := observer.framesOfType(t, "userJoined")
	if len(joined) != 1 || joined[0]["userId"] != "alice" {
		t.Fatalf("observer saw userJoined = %v, want one for alice", joined)
	}
	counts := observer.framesOfType(t, "onlineCount")
	if len(counts) == 0 || counts[len(counts)-1]["count"].(float64) != 2 {
		t.Fatalf("observer's last onlineCount = %v, want 2", counts)
	}

	success := alice.framesOfType(t, "loginSuccess")
	if success[0]["token"] != "tok-alice" {
		t.Errorf("loginSuccess token = %v, want tok-alice", success[0]["token"])
	}
}

func TestLoginFailedReply(t *testing.T) {
	h := newHarness()
	conn := newFakeConn()

	h.frame(conn, `{"type":"authLogin","loginId":"alice","password":"wrong"}`)
	if got := conn.framesOfType(t, "loginFailed"); len(got) != 1 {
		t.Fatalf("got %d loginFailed frames, want 1", len(got))
	}
	if h.sessions.Count() != 0 {
		t.Error("failed login must not create a session")
	}
}

func TestTokenLoginResumesSession(t *testing.T) {
	h := newHarness()
	conn := newFakeConn()

	h.frame(conn, `{"type":"login","token":"tok-alice"}`)
	if got := conn.framesOfType(t, "loginSuccess"); len(got) != 1 {
		t.Fatalf("token login produced %d loginSuccess frames, want 1", len(got))
	}

	bad := newFakeConn()
	h.frame(bad, `{"type":"login","token":"garbage"}`)
	if got := bad.framesOfType(t, "loginFailed"); len(got) != 1 {
		t.Fatalf("bad token produced %d loginFailed frames, want 1", len(got))
	}
}

func TestSecondLoginDisplacesFirstConnection(t *testing.T) {
	h := newHarness()
	first := h.login(t, "alice")
	firstFrames := first.frameCount()

	second := newFakeConn()
	h.frame(second, `{"type":"authLogin","loginId":"alice","password":"pw"}`)

	if h.sessions.Count() != 1 {
		t.Fatalf("session count = %d after re-login, want 1", h.sessions.Count())
	}
	if _, ok := h.sessions.ByConn(second.ID()); !ok {
		t.Fatal("second connection does not own the session")
	}

	// First connection was closed and must not see later broadcasts.
	h.frame(second, `{"type":"publicChat","msg":"hello"}`)
	if first.frameCount() != firstFrames {
		t.Errorf("displaced connection received %d new frames", first.frameCount()-firstFrames)
	}
	if got := second.framesOfType(t, "publicChat"); len(got) != 1 {
		t.Errorf("live connection got %d publicChat frames, want 1", len(got))
	}
}

func TestUnauthenticatedEventsAreSilentlyDropped(t *testing.T) {
	h := newHarness()
	observer := h.login(t, "bob")
	before := observer.frameCount()

	conn := newFakeConn()
	for _, raw := range []string{
		`{"type":"publicChat","msg":"spam"}`,
		`{"type":"chatroomMsg","msg":"spam","roomCode":"r1"}`,
		`{"type":"privateChat","to":"bob","msg":"spam"}`,
		`{"type":"position","lat":40,"lng":-75}`,
		`{"type":"publishBubble","title":"x","lat":40,"lng":-75}`,
		`{"type":"queryBubbles","lat":40,"lng":-75}`,
	} {
		h.frame(conn, raw)
	}

	if conn.frameCount() != 0 {
		t.Errorf("unauthenticated sender received %d replies, want 0", conn.frameCount())
	}
	if observer.frameCount() != before {
		t.Errorf("unauthenticated noise reached other sessions (%d frames)", observer.frameCount()-before)
	}
}

func TestPositionBroadcast(t *testing.T) {
	h := newHarness()
	alice := h.login(t, "alice")
	bob := h.login(t, "bob")

	h.frame(alice, `{"type":"position","lat":40.5,"lng":-75.5}`)

	for name, conn := range map[string]*fakeConn{"sender": alice, "peer": bob} {
		got := conn.framesOfType(t, "userPosition")
		if len(got) != 1 {
			t.Fatalf("%s received %d userPosition frames, want 1", name, len(got))
		}
		if got[0]["userId"] != "alice" || got[0]["lat"].(float64) != 40.5 {
			t.Errorf("%s saw wrong position frame: %v", name, got[0])
		}
	}
}

func TestRoomChatBroadcastsToAllRegardlessOfRoom(t *testing.T) {
	h := newHarness()
	alice := h.login(t, "alice")
	outsider := h.login(t, "outsider")

	h.frame(alice, `{"type":"chatroomMsg","msg":"hi","roomCode":"room-9"}`)

	// Room code is metadata only; everyone receives the frame.
	got := outsider.framesOfType(t, "chatroomMsg")
	if len(got) != 1 {
		t.Fatalf("outsider received %d room frames, want 1 (no room filtering)", len(got))
	}
	if got[0]["roomCode"] != "room-9" {
		t.Errorf("roomCode not carried: %v", got[0])
	}
	if h.stats.Snapshot().TotalMessages != 1 {
		t.Errorf("totalMessages = %d, want 1", h.stats.Snapshot().TotalMessages)
	}
}

func TestPrivateChatDeliveryAndEcho(t *testing.T) {
	h := newHarness()
	alice := h.login(t, "alice")
	bob := h.login(t, "bob")
	carol := h.login(t, "carol")

	h.frame(alice, `{"type":"privateChat","to":"bob","msg":"psst"}`)

	if got := bob.framesOfType(t, "privateChat"); len(got) != 1 {
		t.Fatalf("target received %d copies, want exactly 1", len(got))
	}
	if got := alice.framesOfType(t, "privateChat"); len(got) != 1 {
		t.Fatalf("sender received %d echo copies, want exactly 1", len(got))
	}
	if got := carol.framesOfType(t, "privateChat"); len(got) != 0 {
		t.Fatalf("third party received %d copies, want 0", len(got))
	}
}

func TestPrivateChatToOfflineTargetStillEchoes(t *testing.T) {
	h := newHarness()
	alice := h.login(t, "alice")

	h.frame(alice, `{"type":"privateChat","to":"ghost","msg":"anyone?"}`)

	if got := alice.framesOfType(t, "privateChat"); len(got) != 1 {
		t.Fatalf("sender received %d echo copies, want 1", len(got))
	}
}

func TestPublishAndQueryScenario(t *testing.T) {
	h := newHarness()
	t0 := time.Now()
	h.d.SetClock(func() time.Time { return t0 })

	alice := h.login(t, "alice")
	bob := h.login(t, "bob")

	h.frame(alice, `{"type":"publishBubble","bubbleType":"meetup","title":"coffee","lat":40.0,"lng":-75.0,"duration":3600}`)

	success := alice.framesOfType(t, "publishSuccess")
	if len(success) != 1 || success[0]["bubbleId"] == "" {
		t.Fatalf("publishSuccess = %v", success)
	}
	if got := bob.framesOfType(t, "newBubble"); len(got) != 1 {
		t.Fatalf("peer received %d newBubble frames, want 1", len(got))
	}

	// Query at t0+10s from the same point: exactly that bubble, distance ~0.
	h.d.SetClock(func() time.Time { return t0.Add(10 * time.Second) })
	h.frame(bob, `{"type":"queryBubbles","lat":40.0,"lng":-75.0,"radius":100}`)
	results := bob.framesOfType(t, "queryResult")
	if len(results) != 1 {
		t.Fatalf("got %d queryResult frames, want 1", len(results))
	}
	found := results[0]["bubbles"].([]any)
	if len(found) != 1 {
		t.Fatalf("query found %d bubbles, want 1", len(found))
	}
	if dist := found[0].(map[string]any)["distance"].(float64); dist != 0 {
		t.Errorf("distance = %v, want 0", dist)
	}

	// Query past expiry: empty.
	h.d.SetClock(func() time.Time { return t0.Add(3601 * time.Second) })
	h.frame(bob, `{"type":"queryBubbles","lat":40.0,"lng":-75.0,"radius":100}`)
	results = bob.framesOfType(t, "queryResult")
	if len(results) != 2 {
		t.Fatalf("got %d queryResult frames, want 2", len(results))
	}
	if expired := results[1]["bubbles"].([]any); len(expired) != 0 {
		t.Errorf("query past expiry found %d bubbles, want 0", len(expired))
	}
}

func TestPublishValidationFailure(t *testing.T) {
	h := newHarness()
	alice := h.login(t, "alice")
	bob := h.login(t, "bob")

	h.frame(alice, `{"type":"publishBubble","title":"nowhere"}`)
	h.frame(alice, `{"type":"publishBubble","title":"off-earth","lat":200,"lng":0}`)

	if got := alice.framesOfType(t, "validationError"); len(got) != 2 {
		t.Fatalf("got %d validationError frames, want 2", len(got))
	}
	if got := bob.framesOfType(t, "newBubble"); len(got) != 0 {
		t.Error("invalid publish must not reach broadcasts")
	}
	if h.store.Count() != 0 {
		t.Error("invalid publish must not be stored")
	}
}

func TestPositionValidationFailure(t *testing.T) {
	h := newHarness()
	alice := h.login(t, "alice")
	bob := h.login(t, "bob")

	h.frame(alice, `{"type":"position","lng":-75}`)
	h.frame(alice, `{"type":"position","lat":91,"lng":-75}`)

	errs := alice.framesOfType(t, "validationError")
	if len(errs) != 2 {
		t.Fatalf("got %d validationError frames, want 2", len(errs))
	}
	if errs[0]["event"] != "position" {
		t.Errorf("validationError event = %v, want position", errs[0]["event"])
	}
	if got := bob.framesOfType(t, "userPosition"); len(got) != 0 {
		t.Error("invalid position must not be broadcast")
	}
	if sess, _ := h.sessions.ByConn(alice.ID()); sess.Position != nil {
		t.Error("invalid position must not update the session")
	}
}

func TestAdminWrongSecret(t *testing.T) {
	h := newHarness()
	alice := h.login(t, "alice")
	h.frame(alice, `{"type":"publishBubble","title":"keep me","lat":40,"lng":-75}`)

	h.frame(alice, `{"type":"adminCommand","command":"clearBubbles","password":"wrong"}`)

	res := alice.framesOfType(t, "adminResponse")
	if len(res) != 1 || res[0]["success"].(bool) {
		t.Fatalf("adminResponse = %v, want explicit success:false", res)
	}
	if h.store.Count() != 1 {
		t.Error("store must be unchanged after rejected admin command")
	}
}

func TestAdminClearBubbles(t *testing.T) {
	h := newHarness()
	alice := h.login(t, "alice")
	bob := h.login(t, "bob")
	for i := 0; i < 3; i++ {
		h.frame(alice, `{"type":"publishBubble","title":"b","lat":40,"lng":-75}`)
	}

	h.frame(alice, `{"type":"adminCommand","command":"clearBubbles","password":"sekrit"}`)

	res := alice.framesOfType(t, "adminResponse")
	if len(res) != 1 || !res[0]["success"].(bool) {
		t.Fatalf("adminResponse = %v, want success", res)
	}
	if res[0]["clearedCount"].(float64) != 3 {
		t.Errorf("clearedCount = %v, want 3", res[0]["clearedCount"])
	}

	if got := bob.framesOfType(t, "bubblesCleared"); len(got) != 1 {
		t.Fatalf("peers received %d bubblesCleared notices, want 1", len(got))
	}
	if h.store.Count() != 0 {
		t.Error("store not empty after clear")
	}
	if h.saver.saves != 1 {
		t.Errorf("clear triggered %d backups, want 1", h.saver.saves)
	}

	h.frame(alice, `{"type":"queryBubbles","lat":40,"lng":-75}`)
	results := alice.framesOfType(t, "queryResult")
	if found := results[0]["bubbles"].([]any); len(found) != 0 {
		t.Errorf("query after clear found %d bubbles, want 0", len(found))
	}
}

func TestAdminClearEmptyStoreReportsZero(t *testing.T) {
	h := newHarness()
	alice := h.login(t, "alice")

	h.frame(alice, `{"type":"adminCommand","command":"clearBubbles","password":"sekrit"}`)

	res := alice.framesOfType(t, "adminResponse")
	if len(res) != 1 || !res[0]["success"].(bool) {
		t.Fatalf("adminResponse = %v, want success", res)
	}
	// The count must be present even when nothing was cleared.
	count, ok := res[0]["clearedCount"]
	if !ok {
		t.Fatal("clearedCount missing from adminResponse")
	}
	if count.(float64) != 0 {
		t.Errorf("clearedCount = %v, want 0", count)
	}
}

func TestAdminGetStats(t *testing.T) {
	h := newHarness()
	alice := h.login(t, "alice")
	h.frame(alice, `{"type":"publicChat","msg":"x"}`)
	h.frame(alice, `{"type":"publishBubble","title":"b","lat":40,"lng":-75}`)

	h.frame(alice, `{"type":"adminCommand","command":"getStats","password":"sekrit"}`)

	res := alice.framesOfType(t, "adminResponse")
	if len(res) != 1 || !res[0]["success"].(bool) {
		t.Fatalf("adminResponse = %v", res)
	}
	st := res[0]["stats"].(map[string]any)
	if st["totalPublished"].(float64) != 1 || st["totalMessages"].(float64) != 1 {
		t.Errorf("stats = %v", st)
	}
	if st["onlineUsers"].(float64) != 1 || st["bubbleCount"].(float64) != 1 {
		t.Errorf("live counts wrong: %v", st)
	}
}

func TestAdminUnknownCommand(t *testing.T) {
	h := newHarness()
	conn := newFakeConn()

	h.frame(conn, `{"type":"adminCommand","command":"selfDestruct","password":"sekrit"}`)
	res := conn.framesOfType(t, "adminResponse")
	if len(res) != 1 || res[0]["success"].(bool) {
		t.Fatalf("adminResponse = %v, want success:false", res)
	}
}

func TestDisconnectBroadcastsLeft(t *testing.T) {
	h := newHarness()
	alice := h.login(t, "alice")
	bob := h.login(t, "bob")

	h.d.HandleDisconnect(alice.ID())

	left := bob.framesOfType(t, "userLeft")
	if len(left) != 1 || left[0]["userId"] != "alice" {
		t.Fatalf("userLeft = %v", left)
	}
	counts := bob.framesOfType(t, "onlineCount")
	if counts[len(counts)-1]["count"].(float64) != 1 {
		t.Errorf("last onlineCount = %v, want 1", counts[len(counts)-1])
	}
	if h.sessions.Count() != 1 {
		t.Errorf("session count = %d, want 1", h.sessions.Count())
	}
}

func TestDisconnectWithoutLoginIsNoop(t *testing.T) {
	h := newHarness()
	observer := h.login(t, "bob")
	before := observer.frameCount()

	h.d.HandleDisconnect(uuid.New())

	if observer.frameCount() != before {
		t.Errorf("anonymous disconnect emitted %d broadcasts, want 0", observer.frameCount()-before)
	}
}
