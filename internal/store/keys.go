package store

import (
	"strings"
	"time"
)

// Presence and scheduling TTLs. The layering is deliberate: each level
// outlives the one below it, so a missed cleanup at one level is caught by
// the decay of the next.
const (
	// TTLOnlineUsers bounds the per-timer online set.
	TTLOnlineUsers = 30 * time.Minute
	// TTLServerUsers bounds the per-server user set.
	TTLServerUsers = 45 * time.Minute
	// TTLUserServer bounds the user to server mapping.
	TTLUserServer = 60 * time.Minute
	// TTLSession bounds session records and the per-user session set.
	TTLSession = 120 * time.Minute
	// TTLProcessing bounds the completion mutex so a crashed holder cannot
	// block the timer forever.
	TTLProcessing = 5 * time.Minute
)

// ScheduleKeyPrefix prefixes the volatile keys whose expiry drives timer
// completion. The expiry subscriber matches on it.
const ScheduleKeyPrefix = "timer:schedule:"

// KeyOnlineUsers is the set of user ids currently viewing the timer.
func KeyOnlineUsers(timerID string) string {
	return "timer:" + timerID + ":online_users"
}

// KeyServerUsers is the set of user ids connected to the server instance.
func KeyServerUsers(serverID string) string {
	return "server:" + serverID + ":users"
}

// KeyUserServer maps a user id to the server instance holding its socket.
func KeyUserServer(userID string) string {
	return "user:" + userID + ":connected_server_id"
}

// KeySession holds the JSON session record.
func KeySession(sessionID string) string {
	return "session:" + sessionID
}

// KeyUserSessions is the set of session ids belonging to the user.
func KeyUserSessions(userID string) string {
	return "user:" + userID + ":sessions"
}

// KeySchedule is the volatile key whose expiry signals timer completion.
func KeySchedule(timerID string) string {
	return ScheduleKeyPrefix + timerID
}

// KeyProcessing is the completion mutex key for the timer.
func KeyProcessing(timerID string) string {
	return "timer:processing:" + timerID
}

// TimerIDFromScheduleKey extracts the timer id from a schedule key. The
// second return is false for keys outside the schedule namespace.
func TimerIDFromScheduleKey(key string) (string, bool) {
	id, ok := strings.CutPrefix(key, ScheduleKeyPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
