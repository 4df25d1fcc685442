package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/SeongJinSong/kb-echotimer/internal/log"
	"github.com/SeongJinSong/kb-echotimer/internal/store"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// handleRedisKeys lists store keys matching ?pattern= (default "*"). SCAN,
// not KEYS, so poking at a busy instance stays safe.
func (s *Server) handleRedisKeys(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		pattern = "*"
	}

	keys := []string{}
	iter := s.rdb.Scan(r.Context(), 0, pattern, 100).Iterator()
	for iter.Next(r.Context()) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		writeTimerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pattern": pattern,
		"keys":    keys,
		"count":   len(keys),
	})
}

func (s *Server) handleTimerUsers(w http.ResponseWriter, r *http.Request) {
	timerID := chi.URLParam(r, "timerID")

	count, err := s.presence.OnlineCount(r.Context(), timerID)
	if err != nil {
		writeTimerError(w, r, err)
		return
	}
	members, err := s.presence.Members(r.Context(), timerID)
	if err != nil {
		writeTimerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"timerId":         timerID,
		"onlineUserCount": count,
		"userList":        members,
		"redisKey":        store.KeyOnlineUsers(timerID),
	})
}

// handleRemoveTimerUser force-evicts a user from a timer's presence index.
// The websocket session, if any, survives; only the presence decays.
func (s *Server) handleRemoveTimerUser(w http.ResponseWriter, r *http.Request) {
	timerID := chi.URLParam(r, "timerID")
	userID := chi.URLParam(r, "userID")

	if err := s.presence.RemoveUser(r.Context(), timerID, userID); err != nil {
		writeTimerError(w, r, err)
		return
	}
	remaining, err := s.presence.OnlineCount(r.Context(), timerID)
	if err != nil {
		writeTimerError(w, r, err)
		return
	}

	s.logger.Info().
		Str(log.FieldTimerID, timerID).
		Str(log.FieldUserID, userID).
		Str(log.FieldEvent, "api.user_force_removed").
		Msg("user removed from presence index")

	writeJSON(w, http.StatusOK, map[string]any{
		"timerId":            timerID,
		"removedUserId":      userID,
		"remainingUserCount": remaining,
	})
}

func (s *Server) handleCleanupZombies(w http.ResponseWriter, r *http.Request) {
	removed, err := s.presence.CleanupZombies(r.Context())
	if err != nil {
		writeTimerError(w, r, err)
		return
	}

	s.logger.Info().
		Int("removed_sessions", removed).
		Str(log.FieldEvent, "api.zombies_cleaned").
		Msg("zombie session sweep finished")

	writeJSON(w, http.StatusOK, map[string]any{
		"removedSessions": removed,
		"message":         "zombie sessions cleaned up",
	})
}

func (s *Server) handleTimerEvents(w http.ResponseWriter, r *http.Request) {
	limit := int64(defaultEventLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		if n > maxEventLimit {
			n = maxEventLimit
		}
		limit = n
	}

	records, err := s.events.FindByTimer(r.Context(), chi.URLParam(r, "timerID"), limit)
	if err != nil {
		writeTimerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}
