package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/SeongJinSong/kb-echotimer/internal/store"
)

func setupIndex(t *testing.T) (*miniredis.Miniredis, *Index) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewIndex(client)
}

func TestRecordConnectionWritesAllKeys(t *testing.T) {
	mr, idx := setupIndex(t)
	ctx := context.Background()

	if err := idx.RecordConnection(ctx, "t-1", "u-1", "srv-a", "sess-1"); err != nil {
		t.Fatalf("RecordConnection: %v", err)
	}

	for _, key := range []string{
		store.KeyOnlineUsers("t-1"),
		store.KeyServerUsers("srv-a"),
		store.KeyUserServer("u-1"),
		store.KeySession("sess-1"),
		store.KeyUserSessions("u-1"),
	} {
		if !mr.Exists(key) {
			t.Errorf("key %q missing after RecordConnection", key)
		}
		if mr.TTL(key) <= 0 {
			t.Errorf("key %q has no TTL", key)
		}
	}

	if got := mr.TTL(store.KeyOnlineUsers("t-1")); got != store.TTLOnlineUsers {
		t.Errorf("online users TTL = %v", got)
	}
	if got := mr.TTL(store.KeySession("sess-1")); got != store.TTLSession {
		t.Errorf("session TTL = %v", got)
	}
}

func TestRemoveConnectionReversesRecord(t *testing.T) {
	mr, idx := setupIndex(t)
	ctx := context.Background()

	if err := idx.RecordConnection(ctx, "t-1", "u-1", "srv-a", "sess-1"); err != nil {
		t.Fatalf("RecordConnection: %v", err)
	}
	if err := idx.RemoveConnection(ctx, "sess-1"); err != nil {
		t.Fatalf("RemoveConnection: %v", err)
	}

	if mr.Exists(store.KeySession("sess-1")) {
		t.Error("session key must be deleted")
	}
	if mr.Exists(store.KeyUserServer("u-1")) {
		t.Error("user to server mapping must be deleted")
	}
	isMember, _ := mr.SIsMember(store.KeyOnlineUsers("t-1"), "u-1")
	if isMember {
		t.Error("user must leave the online set")
	}
}

func TestRemoveConnectionMissingSessionIsNoOp(t *testing.T) {
	_, idx := setupIndex(t)

	if err := idx.RemoveConnection(context.Background(), "never-recorded"); err != nil {
		t.Fatalf("RemoveConnection on absent session: %v", err)
	}
}

func TestHeartbeatRefreshesTTLs(t *testing.T) {
	mr, idx := setupIndex(t)
	ctx := context.Background()

	if err := idx.RecordConnection(ctx, "t-1", "u-1", "srv-a", "sess-1"); err != nil {
		t.Fatalf("RecordConnection: %v", err)
	}

	mr.FastForward(20 * time.Minute)
	if got := mr.TTL(store.KeyOnlineUsers("t-1")); got != store.TTLOnlineUsers-20*time.Minute {
		t.Fatalf("pre-heartbeat online TTL = %v", got)
	}

	if err := idx.Heartbeat(ctx, "sess-1"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	if got := mr.TTL(store.KeyOnlineUsers("t-1")); got != store.TTLOnlineUsers {
		t.Errorf("online users TTL = %v after heartbeat", got)
	}
	if got := mr.TTL(store.KeySession("sess-1")); got != store.TTLSession {
		t.Errorf("session TTL = %v after heartbeat", got)
	}
	if got := mr.TTL(store.KeyUserServer("u-1")); got != store.TTLUserServer {
		t.Errorf("user server TTL = %v after heartbeat", got)
	}
}

func TestHeartbeatExpiredSessionIsNoOp(t *testing.T) {
	mr, idx := setupIndex(t)
	ctx := context.Background()

	if err := idx.RecordConnection(ctx, "t-1", "u-1", "srv-a", "sess-1"); err != nil {
		t.Fatalf("RecordConnection: %v", err)
	}
	mr.FastForward(store.TTLSession + time.Minute)

	if err := idx.Heartbeat(ctx, "sess-1"); err != nil {
		t.Fatalf("Heartbeat after expiry: %v", err)
	}
}

func TestIsServerRelevant(t *testing.T) {
	_, idx := setupIndex(t)
	ctx := context.Background()

	if err := idx.RecordConnection(ctx, "t-1", "u-1", "srv-a", "sess-1"); err != nil {
		t.Fatalf("RecordConnection: %v", err)
	}

	relevant, err := idx.IsServerRelevant(ctx, "t-1", "srv-a")
	if err != nil {
		t.Fatalf("IsServerRelevant: %v", err)
	}
	if !relevant {
		t.Error("srv-a must be relevant for t-1")
	}

	relevant, err = idx.IsServerRelevant(ctx, "t-1", "srv-b")
	if err != nil {
		t.Fatalf("IsServerRelevant: %v", err)
	}
	if relevant {
		t.Error("srv-b must not be relevant for t-1")
	}

	if err := idx.RemoveConnection(ctx, "sess-1"); err != nil {
		t.Fatalf("RemoveConnection: %v", err)
	}
	relevant, err = idx.IsServerRelevant(ctx, "t-1", "srv-a")
	if err != nil {
		t.Fatalf("IsServerRelevant: %v", err)
	}
	if relevant {
		t.Error("srv-a must lose relevance once its viewer leaves")
	}
}

func TestOnlineCount(t *testing.T) {
	_, idx := setupIndex(t)
	ctx := context.Background()

	if n, err := idx.OnlineCount(ctx, "t-1"); err != nil || n != 0 {
		t.Fatalf("empty count = (%d, %v)", n, err)
	}

	_ = idx.RecordConnection(ctx, "t-1", "u-1", "srv-a", "sess-1")
	_ = idx.RecordConnection(ctx, "t-1", "u-2", "srv-b", "sess-2")
	_ = idx.RecordConnection(ctx, "t-1", "u-2", "srv-b", "sess-3") // same user twice

	n, err := idx.OnlineCount(ctx, "t-1")
	if err != nil {
		t.Fatalf("OnlineCount: %v", err)
	}
	if n != 2 {
		t.Fatalf("count = %d, want 2 distinct users", n)
	}
}

func TestRemoveUserForced(t *testing.T) {
	mr, idx := setupIndex(t)
	ctx := context.Background()

	_ = idx.RecordConnection(ctx, "t-1", "u-1", "srv-a", "sess-1")
	_ = idx.RecordConnection(ctx, "t-2", "u-1", "srv-a", "sess-2")

	if err := idx.RemoveUser(ctx, "t-1", "u-1"); err != nil {
		t.Fatalf("RemoveUser: %v", err)
	}

	isMember, _ := mr.SIsMember(store.KeyOnlineUsers("t-1"), "u-1")
	if isMember {
		t.Error("u-1 must be removed from t-1 online set")
	}
	if mr.Exists(store.KeySession("sess-1")) {
		t.Error("session on t-1 must be deleted")
	}
	if !mr.Exists(store.KeySession("sess-2")) {
		t.Error("session on t-2 must survive")
	}
}

func TestCleanupServerRemovesOnlyItsSessions(t *testing.T) {
	mr, idx := setupIndex(t)
	ctx := context.Background()

	_ = idx.RecordConnection(ctx, "t-1", "u-1", "srv-a", "sess-a1")
	_ = idx.RecordConnection(ctx, "t-1", "u-2", "srv-b", "sess-b1")

	if err := idx.CleanupServer(ctx, "srv-a"); err != nil {
		t.Fatalf("CleanupServer: %v", err)
	}

	if mr.Exists(store.KeySession("sess-a1")) {
		t.Error("srv-a session must be gone")
	}
	if mr.Exists(store.KeyServerUsers("srv-a")) {
		t.Error("srv-a user set must be gone")
	}
	if !mr.Exists(store.KeySession("sess-b1")) {
		t.Error("srv-b session must survive")
	}
	isMember, _ := mr.SIsMember(store.KeyOnlineUsers("t-1"), "u-2")
	if !isMember {
		t.Error("srv-b viewer must stay online")
	}
}

func TestCleanupZombies(t *testing.T) {
	mr, idx := setupIndex(t)
	ctx := context.Background()

	_ = idx.RecordConnection(ctx, "t-1", "u-1", "srv-a", "sess-1")
	_ = idx.RecordConnection(ctx, "t-1", "u-1", "srv-a", "sess-2")

	// Simulate a session record expiring while the set reference survives.
	mr.Del(store.KeySession("sess-1"))

	removed, err := idx.CleanupZombies(ctx)
	if err != nil {
		t.Fatalf("CleanupZombies: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	isMember, _ := mr.SIsMember(store.KeyUserSessions("u-1"), "sess-1")
	if isMember {
		t.Error("dead session reference must be removed")
	}
	isMember, _ = mr.SIsMember(store.KeyUserSessions("u-1"), "sess-2")
	if !isMember {
		t.Error("live session reference must survive")
	}
}

func TestPresenceDecaysWithoutHeartbeat(t *testing.T) {
	mr, idx := setupIndex(t)
	ctx := context.Background()

	_ = idx.RecordConnection(ctx, "t-1", "u-1", "srv-a", "sess-1")

	mr.FastForward(store.TTLOnlineUsers + time.Minute)
	if mr.Exists(store.KeyOnlineUsers("t-1")) {
		t.Error("online set must decay after its TTL")
	}

	mr.FastForward(store.TTLSession) // well past every layer
	for _, key := range []string{
		store.KeyServerUsers("srv-a"),
		store.KeyUserServer("u-1"),
		store.KeySession("sess-1"),
		store.KeyUserSessions("u-1"),
	} {
		if mr.Exists(key) {
			t.Errorf("key %q must decay after max TTL", key)
		}
	}
}
