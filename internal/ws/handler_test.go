package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SeongJinSong/kb-echotimer/internal/event"
	"github.com/SeongJinSong/kb-echotimer/internal/ratelimit"
	"github.com/SeongJinSong/kb-echotimer/internal/timer"
)

type fakeCore struct {
	mu     sync.Mutex
	views  map[string]timer.View
	joined []string
	left   []string
	shared []string
	saves  []string
}

func (c *fakeCore) Get(_ context.Context, timerID, _ string) (timer.View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.views[timerID]
	if !ok {
		return timer.View{}, fmt.Errorf("get %s: %w", timerID, timer.ErrTimerNotFound)
	}
	return v, nil
}

func (c *fakeCore) ChangeTarget(_ context.Context, timerID string, _ time.Time, _ string) (timer.View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.views[timerID], nil
}

func (c *fakeCore) SaveTimestamp(_ context.Context, timerID, userID string, _ time.Time, _ map[string]string) (timer.TimestampMark, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saves = append(c.saves, timerID+"/"+userID)
	return timer.TimestampMark{TimerID: timerID, UserID: userID}, nil
}

func (c *fakeCore) ForceComplete(_ context.Context, timerID, _ string) (timer.View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.views[timerID], nil
}

func (c *fakeCore) NotifyJoined(_ context.Context, timerID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined = append(c.joined, timerID+"/"+userID)
}

func (c *fakeCore) NotifyLeft(_ context.Context, timerID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.left = append(c.left, timerID+"/"+userID)
}

func (c *fakeCore) OnSharedAccess(_ context.Context, timerID, accessedUserID, ownerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shared = append(c.shared, timerID+"/"+accessedUserID+"/"+ownerID)
}

func (c *fakeCore) joinedList() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.joined...)
}

func (c *fakeCore) leftList() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.left...)
}

func (c *fakeCore) sharedList() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.shared...)
}

func (c *fakeCore) savesList() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.saves...)
}

type fakeSessionIndex struct {
	mu       sync.Mutex
	recorded []string
	removed  []string
	beats    int
}

func (p *fakeSessionIndex) RecordConnection(_ context.Context, _, _, _, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recorded = append(p.recorded, sessionID)
	return nil
}

func (p *fakeSessionIndex) RemoveConnection(_ context.Context, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed = append(p.removed, sessionID)
	return nil
}

func (p *fakeSessionIndex) Heartbeat(context.Context, string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.beats++
	return nil
}

func (p *fakeSessionIndex) recordedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.recorded)
}

func (p *fakeSessionIndex) removedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.removed)
}

type wsFixture struct {
	ts       *httptest.Server
	core     *fakeCore
	presence *fakeSessionIndex
	hub      *Hub
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	f := &wsFixture{
		core:     &fakeCore{views: map[string]timer.View{}},
		presence: &fakeSessionIndex{},
		hub:      NewHub(),
	}
	h := NewHandler("srv-test", f.core, f.presence, f.hub, ratelimit.NewSessionLimiter(100, 100))
	f.ts = httptest.NewServer(h)
	t.Cleanup(func() {
		h.Shutdown()
		f.ts.Close()
	})
	return f
}

func (f *wsFixture) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.ts.URL, "http")
	header := http.Header{}
	if userID != "" {
		header.Set("X-User-Id", userID)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func subscribeFrame(t *testing.T, conn *websocket.Conn, timerID string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(Frame{
		Type:        FrameSubscribe,
		Destination: "timer/" + timerID,
	}))
}

func waitForCount(t *testing.T, hub *Hub, timerID string, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return hub.Count(timerID) == want
	}, 2*time.Second, 10*time.Millisecond, "hub count for %s never reached %d", timerID, want)
}

func TestSubscribeBindsSessionAndNotifies(t *testing.T) {
	f := newWSFixture(t)
	f.core.views["t1"] = timer.View{TimerID: "t1", OwnerID: "owner-1", Role: timer.RoleOwner}

	conn := f.dial(t, "owner-1")
	subscribeFrame(t, conn, "t1")
	waitForCount(t, f.hub, "t1", 1)

	assert.Equal(t, []string{"t1/owner-1"}, f.core.joinedList())
	assert.Empty(t, f.core.sharedList(), "owner subscriptions do not count as shared access")
	assert.Equal(t, 1, f.presence.recordedCount())
}

func TestViewerSubscriptionFiresSharedAccess(t *testing.T) {
	f := newWSFixture(t)
	f.core.views["t1"] = timer.View{TimerID: "t1", OwnerID: "owner-1", Role: timer.RoleViewer}

	conn := f.dial(t, "viewer-2")
	subscribeFrame(t, conn, "t1")
	waitForCount(t, f.hub, "t1", 1)

	require.Eventually(t, func() bool {
		return len(f.core.sharedList()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"t1/viewer-2/owner-1"}, f.core.sharedList())
}

func TestSubscribeUnknownTimerRejected(t *testing.T) {
	f := newWSFixture(t)
	f.core.views["t1"] = timer.View{TimerID: "t1", OwnerID: "owner-1", Role: timer.RoleOwner}

	conn := f.dial(t, "u1")
	subscribeFrame(t, conn, "ghost")
	// Frames on one connection are handled in order, so once t1 lands the
	// ghost subscribe has already been rejected.
	subscribeFrame(t, conn, "t1")
	waitForCount(t, f.hub, "t1", 1)

	assert.Zero(t, f.hub.Count("ghost"))
	assert.Equal(t, []string{"t1/u1"}, f.core.joinedList())
}

func TestBroadcastReachesSubscriber(t *testing.T) {
	f := newWSFixture(t)
	f.core.views["t1"] = timer.View{TimerID: "t1", OwnerID: "owner-1", Role: timer.RoleOwner}

	conn := f.dial(t, "owner-1")
	subscribeFrame(t, conn, "t1")
	waitForCount(t, f.hub, "t1", 1)

	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	// A frame for a foreign timer must not reach this session.
	f.hub.Broadcast("t2", event.NewUserJoined("t2", "srv-test", "u9", 1))
	f.hub.Broadcast("t1", event.NewTimerCompleted("t1", "srv-test", now, now, "owner-1", 2))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var env event.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, event.TypeTimerCompleted, env.Type)
	assert.Equal(t, "t1", env.TimerID)

	payload, ok := env.Payload.(event.TimerCompleted)
	require.True(t, ok)
	assert.Equal(t, "owner-1", payload.OwnerID)
	assert.Equal(t, int64(2), payload.OnlineUserCount)
}

func TestSendSaveActionReachesCore(t *testing.T) {
	f := newWSFixture(t)
	f.core.views["t1"] = timer.View{TimerID: "t1", OwnerID: "owner-1", Role: timer.RoleOwner}

	conn := f.dial(t, "u1")
	payload, err := json.Marshal(map[string]any{
		"targetTime": time.Now().Add(time.Minute).UTC(),
		"metadata":   map[string]string{"note": "checkpoint"},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Frame{
		Type:        FrameSend,
		Destination: "timer/t1/save",
		Payload:     payload,
	}))

	require.Eventually(t, func() bool {
		return len(f.core.savesList()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"t1/u1"}, f.core.savesList())
}

func TestResubscribeSwitchesTimers(t *testing.T) {
	f := newWSFixture(t)
	f.core.views["t1"] = timer.View{TimerID: "t1", OwnerID: "owner-1", Role: timer.RoleOwner}
	f.core.views["t2"] = timer.View{TimerID: "t2", OwnerID: "owner-1", Role: timer.RoleOwner}

	conn := f.dial(t, "u1")
	subscribeFrame(t, conn, "t1")
	waitForCount(t, f.hub, "t1", 1)

	subscribeFrame(t, conn, "t2")
	waitForCount(t, f.hub, "t2", 1)

	assert.Zero(t, f.hub.Count("t1"), "old subscription must be released")
	assert.Equal(t, []string{"t1/u1"}, f.core.leftList())
	assert.Equal(t, []string{"t1/u1", "t2/u1"}, f.core.joinedList())
	assert.Equal(t, 1, f.presence.removedCount())
}

func TestSameTimerResubscribeIsNoOp(t *testing.T) {
	f := newWSFixture(t)
	f.core.views["t1"] = timer.View{TimerID: "t1", OwnerID: "owner-1", Role: timer.RoleOwner}
	f.core.views["t2"] = timer.View{TimerID: "t2", OwnerID: "owner-1", Role: timer.RoleOwner}

	conn := f.dial(t, "u1")
	subscribeFrame(t, conn, "t1")
	subscribeFrame(t, conn, "t1")
	// The t2 subscribe proves both t1 frames have been handled.
	subscribeFrame(t, conn, "t2")
	waitForCount(t, f.hub, "t2", 1)

	assert.Equal(t, []string{"t1/u1", "t2/u1"}, f.core.joinedList(), "duplicate subscribe must not re-announce")
}

func TestClientDisconnectCleansUp(t *testing.T) {
	f := newWSFixture(t)
	f.core.views["t1"] = timer.View{TimerID: "t1", OwnerID: "owner-1", Role: timer.RoleOwner}

	conn := f.dial(t, "u1")
	subscribeFrame(t, conn, "t1")
	waitForCount(t, f.hub, "t1", 1)

	require.NoError(t, conn.Close())

	waitForCount(t, f.hub, "t1", 0)
	require.Eventually(t, func() bool {
		return f.presence.removedCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"t1/u1"}, f.core.leftList())
}

func TestMalformedFramesDoNotKillSession(t *testing.T) {
	f := newWSFixture(t)
	f.core.views["t1"] = timer.View{TimerID: "t1", OwnerID: "owner-1", Role: timer.RoleOwner}

	conn := f.dial(t, "u1")
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteJSON(Frame{Type: "dance", Destination: "timer/t1"}))
	require.NoError(t, conn.WriteJSON(Frame{Type: FrameSend, Destination: "timer/t1"}))

	// The session survives all of it and can still subscribe.
	subscribeFrame(t, conn, "t1")
	waitForCount(t, f.hub, "t1", 1)
}

func TestDerivedIdentityForAnonymousClients(t *testing.T) {
	f := newWSFixture(t)
	f.core.views["t1"] = timer.View{TimerID: "t1", OwnerID: "owner-1", Role: timer.RoleViewer}

	conn := f.dial(t, "")
	subscribeFrame(t, conn, "t1")
	waitForCount(t, f.hub, "t1", 1)

	joined := f.core.joinedList()
	require.Len(t, joined, 1)
	assert.True(t, strings.HasPrefix(joined[0], "t1/user-"), "anonymous users get a derived id, got %s", joined[0])
}

func TestHubBroadcastSkipsUnsubscribedTimers(t *testing.T) {
	hub := NewHub()
	// No sessions at all: must not panic and must not block.
	hub.Broadcast("t1", event.NewUserLeft("t1", "srv-test", "u1", 0))
}
