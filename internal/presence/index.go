// Package presence maintains the server-affinity presence index in the
// shared store: which users view which timer, which server holds which
// user's socket, and the per-session records. Layered TTLs make the index
// self-cleaning; nothing here compensates partial writes.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/SeongJinSong/kb-echotimer/internal/log"
	"github.com/SeongJinSong/kb-echotimer/internal/metrics"
	"github.com/SeongJinSong/kb-echotimer/internal/store"
	"github.com/SeongJinSong/kb-echotimer/internal/timer"
)

// Index is the presence index. All methods are safe for concurrent use; the
// store is the only state.
type Index struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewIndex creates a presence index on the given client.
func NewIndex(client *redis.Client) *Index {
	return &Index{
		client: client,
		logger: log.WithComponent("presence"),
	}
}

// RecordConnection registers a new session in all five key families. The
// writes are pipelined; if the pipeline fails partway the surviving keys
// decay via their TTLs.
func (i *Index) RecordConnection(ctx context.Context, timerID, userID, serverID, sessionID string) error {
	now := time.Now().UTC()
	sess := timer.Session{
		ID:            sessionID,
		TimerID:       timerID,
		UserID:        userID,
		ServerID:      serverID,
		ConnectedAt:   now,
		LastHeartbeat: now,
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	_, err = i.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, store.KeyOnlineUsers(timerID), userID)
		p.Expire(ctx, store.KeyOnlineUsers(timerID), store.TTLOnlineUsers)
		p.SAdd(ctx, store.KeyServerUsers(serverID), userID)
		p.Expire(ctx, store.KeyServerUsers(serverID), store.TTLServerUsers)
		p.Set(ctx, store.KeyUserServer(userID), serverID, store.TTLUserServer)
		p.Set(ctx, store.KeySession(sessionID), data, store.TTLSession)
		p.SAdd(ctx, store.KeyUserSessions(userID), sessionID)
		p.Expire(ctx, store.KeyUserSessions(userID), store.TTLSession)
		return nil
	})
	if err != nil {
		metrics.IncPresenceOp("record", "error")
		return fmt.Errorf("record connection: %w: %w", timer.ErrStoreUnavailable, err)
	}

	metrics.IncPresenceOp("record", "ok")
	i.logger.Debug().
		Str(log.FieldTimerID, timerID).
		Str(log.FieldUserID, userID).
		Str(log.FieldSessionID, sessionID).
		Str(log.FieldEvent, "presence.connection_recorded").
		Msg("connection recorded")
	return nil
}

// RemoveConnection reverses RecordConnection for one session. A session that
// is already gone (expired or never recorded) is a no-op.
func (i *Index) RemoveConnection(ctx context.Context, sessionID string) error {
	sess, err := i.session(ctx, sessionID)
	if errors.Is(err, redis.Nil) {
		metrics.IncPresenceOp("remove", "miss")
		return nil
	}
	if err != nil {
		metrics.IncPresenceOp("remove", "error")
		return fmt.Errorf("remove connection: %w: %w", timer.ErrStoreUnavailable, err)
	}

	_, err = i.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.SRem(ctx, store.KeyOnlineUsers(sess.TimerID), sess.UserID)
		p.SRem(ctx, store.KeyServerUsers(sess.ServerID), sess.UserID)
		p.Del(ctx, store.KeyUserServer(sess.UserID))
		p.SRem(ctx, store.KeyUserSessions(sess.UserID), sessionID)
		p.Del(ctx, store.KeySession(sessionID))
		return nil
	})
	if err != nil {
		metrics.IncPresenceOp("remove", "error")
		return fmt.Errorf("remove connection: %w: %w", timer.ErrStoreUnavailable, err)
	}

	metrics.IncPresenceOp("remove", "ok")
	i.logger.Debug().
		Str(log.FieldTimerID, sess.TimerID).
		Str(log.FieldUserID, sess.UserID).
		Str(log.FieldSessionID, sessionID).
		Str(log.FieldEvent, "presence.connection_removed").
		Msg("connection removed")
	return nil
}

// RemoveUser forcibly removes a user from a timer, including any of their
// sessions bound to it. Used by moderation and debug surfaces.
func (i *Index) RemoveUser(ctx context.Context, timerID, userID string) error {
	serverID, err := i.client.Get(ctx, store.KeyUserServer(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		metrics.IncPresenceOp("remove_user", "error")
		return fmt.Errorf("remove user: %w: %w", timer.ErrStoreUnavailable, err)
	}

	sessionIDs, err := i.client.SMembers(ctx, store.KeyUserSessions(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		metrics.IncPresenceOp("remove_user", "error")
		return fmt.Errorf("remove user: %w: %w", timer.ErrStoreUnavailable, err)
	}

	_, err = i.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.SRem(ctx, store.KeyOnlineUsers(timerID), userID)
		if serverID != "" {
			p.SRem(ctx, store.KeyServerUsers(serverID), userID)
		}
		p.Del(ctx, store.KeyUserServer(userID))
		return nil
	})
	if err != nil {
		metrics.IncPresenceOp("remove_user", "error")
		return fmt.Errorf("remove user: %w: %w", timer.ErrStoreUnavailable, err)
	}

	// Drop the user's sessions bound to this timer; sessions on other timers
	// stay untouched.
	for _, sid := range sessionIDs {
		sess, err := i.session(ctx, sid)
		if errors.Is(err, redis.Nil) {
			i.client.SRem(ctx, store.KeyUserSessions(userID), sid)
			continue
		}
		if err != nil {
			continue
		}
		if sess.TimerID != timerID {
			continue
		}
		_, _ = i.client.Pipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, store.KeySession(sid))
			p.SRem(ctx, store.KeyUserSessions(userID), sid)
			return nil
		})
	}

	metrics.IncPresenceOp("remove_user", "ok")
	i.logger.Info().
		Str(log.FieldTimerID, timerID).
		Str(log.FieldUserID, userID).
		Str(log.FieldEvent, "presence.user_removed").
		Msg("user removed from timer")
	return nil
}

// Heartbeat refreshes every TTL tied to the session and bumps lastHeartbeat.
// A vanished session is a no-op; the next client frame resubscribes.
func (i *Index) Heartbeat(ctx context.Context, sessionID string) error {
	sess, err := i.session(ctx, sessionID)
	if errors.Is(err, redis.Nil) {
		metrics.IncPresenceOp("heartbeat", "miss")
		return nil
	}
	if err != nil {
		metrics.IncPresenceOp("heartbeat", "error")
		return fmt.Errorf("heartbeat: %w: %w", timer.ErrStoreUnavailable, err)
	}

	sess.LastHeartbeat = time.Now().UTC()
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	_, err = i.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, store.KeySession(sessionID), data, store.TTLSession)
		p.Expire(ctx, store.KeyUserSessions(sess.UserID), store.TTLSession)
		p.Expire(ctx, store.KeyUserServer(sess.UserID), store.TTLUserServer)
		p.Expire(ctx, store.KeyOnlineUsers(sess.TimerID), store.TTLOnlineUsers)
		p.Expire(ctx, store.KeyServerUsers(sess.ServerID), store.TTLServerUsers)
		return nil
	})
	if err != nil {
		metrics.IncPresenceOp("heartbeat", "error")
		return fmt.Errorf("heartbeat: %w: %w", timer.ErrStoreUnavailable, err)
	}

	metrics.IncPresenceOp("heartbeat", "ok")
	return nil
}

// IsServerRelevant reports whether the server has at least one local viewer
// of the timer. One SINTERCARD round-trip with limit 1; the intersection is
// never materialized.
func (i *Index) IsServerRelevant(ctx context.Context, timerID, serverID string) (bool, error) {
	n, err := i.client.SInterCard(ctx, 1,
		store.KeyOnlineUsers(timerID),
		store.KeyServerUsers(serverID),
	).Result()
	if err != nil {
		metrics.IncPresenceOp("relevance", "error")
		return false, fmt.Errorf("is server relevant: %w: %w", timer.ErrStoreUnavailable, err)
	}
	metrics.IncPresenceOp("relevance", "ok")
	return n > 0, nil
}

// OnlineCount returns the fleet-wide number of viewers of the timer.
func (i *Index) OnlineCount(ctx context.Context, timerID string) (int64, error) {
	n, err := i.client.SCard(ctx, store.KeyOnlineUsers(timerID)).Result()
	if err != nil {
		metrics.IncPresenceOp("count", "error")
		return 0, fmt.Errorf("online count: %w: %w", timer.ErrStoreUnavailable, err)
	}
	metrics.IncPresenceOp("count", "ok")
	return n, nil
}

// Members returns the user ids currently viewing the timer.
func (i *Index) Members(ctx context.Context, timerID string) ([]string, error) {
	members, err := i.client.SMembers(ctx, store.KeyOnlineUsers(timerID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		metrics.IncPresenceOp("members", "error")
		return nil, fmt.Errorf("timer members: %w: %w", timer.ErrStoreUnavailable, err)
	}
	metrics.IncPresenceOp("members", "ok")
	return members, nil
}

// CleanupServer removes every trace of this server's sessions on graceful
// shutdown, so peers see the departures immediately instead of after TTL
// decay. Best effort: errors are logged, not returned per user.
func (i *Index) CleanupServer(ctx context.Context, serverID string) error {
	userIDs, err := i.client.SMembers(ctx, store.KeyServerUsers(serverID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		metrics.IncPresenceOp("cleanup", "error")
		return fmt.Errorf("cleanup server: %w: %w", timer.ErrStoreUnavailable, err)
	}

	removed := 0
	for _, userID := range userIDs {
		sessionIDs, err := i.client.SMembers(ctx, store.KeyUserSessions(userID)).Result()
		if err != nil {
			continue
		}
		for _, sid := range sessionIDs {
			sess, err := i.session(ctx, sid)
			if err != nil || sess.ServerID != serverID {
				continue
			}
			if err := i.RemoveConnection(ctx, sid); err != nil {
				i.logger.Warn().
					Err(err).
					Str(log.FieldSessionID, sid).
					Str(log.FieldEvent, "presence.cleanup_session_failed").
					Msg("failed to remove session during server cleanup")
				continue
			}
			removed++
		}
	}

	if err := i.client.Del(ctx, store.KeyServerUsers(serverID)).Err(); err != nil {
		metrics.IncPresenceOp("cleanup", "error")
		return fmt.Errorf("cleanup server: %w: %w", timer.ErrStoreUnavailable, err)
	}

	metrics.IncPresenceOp("cleanup", "ok")
	i.logger.Info().
		Str(log.FieldServerID, serverID).
		Int("sessions_removed", removed).
		Str(log.FieldEvent, "presence.server_cleaned").
		Msg("server presence cleaned up")
	return nil
}

// CleanupZombies sweeps the per-user session sets and drops members whose
// backing session records have expired. Debug surface; the TTLs make this
// unnecessary in steady state.
func (i *Index) CleanupZombies(ctx context.Context) (int, error) {
	removed := 0
	iter := i.client.Scan(ctx, 0, "user:*:sessions", 100).Iterator()
	for iter.Next(ctx) {
		setKey := iter.Val()
		sessionIDs, err := i.client.SMembers(ctx, setKey).Result()
		if err != nil {
			continue
		}
		for _, sid := range sessionIDs {
			exists, err := i.client.Exists(ctx, store.KeySession(sid)).Result()
			if err != nil || exists > 0 {
				continue
			}
			if i.client.SRem(ctx, setKey, sid).Val() > 0 {
				removed++
			}
		}
	}
	if err := iter.Err(); err != nil {
		metrics.IncPresenceOp("cleanup", "error")
		return removed, fmt.Errorf("cleanup zombies: %w: %w", timer.ErrStoreUnavailable, err)
	}

	metrics.IncPresenceOp("cleanup", "ok")
	if removed > 0 {
		i.logger.Info().
			Int("removed", removed).
			Str(log.FieldEvent, "presence.zombies_cleaned").
			Msg("zombie session references removed")
	}
	return removed, nil
}

func (i *Index) session(ctx context.Context, sessionID string) (timer.Session, error) {
	var sess timer.Session
	data, err := i.client.Get(ctx, store.KeySession(sessionID)).Bytes()
	if err != nil {
		return sess, err
	}
	if err := json.Unmarshal(data, &sess); err != nil {
		return sess, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return sess, nil
}
