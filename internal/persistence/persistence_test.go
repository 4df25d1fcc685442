package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/SeongJinSong/kb-echotimer/internal/event"
)

func findIndex(t *testing.T, models []mongo.IndexModel, firstKey string) mongo.IndexModel {
	t.Helper()
	for _, m := range models {
		keys, ok := m.Keys.(bson.D)
		require.True(t, ok, "index keys must be bson.D")
		require.NotEmpty(t, keys)
		if keys[0].Key == firstKey {
			return m
		}
	}
	t.Fatalf("no index starting with key %q", firstKey)
	return mongo.IndexModel{}
}

func TestTimerIndexes(t *testing.T) {
	models := timerIndexes()
	require.Len(t, models, 3)

	token := findIndex(t, models, "shareToken")
	require.NotNil(t, token.Options)
	require.NotNil(t, token.Options.Unique)
	assert.True(t, *token.Options.Unique)

	sweep := findIndex(t, models, "completed")
	keys := sweep.Keys.(bson.D)
	require.Len(t, keys, 2)
	assert.Equal(t, "targetTime", keys[1].Key)

	retention := findIndex(t, models, "updatedAt")
	require.NotNil(t, retention.Options)
	require.NotNil(t, retention.Options.ExpireAfterSeconds)
	assert.Equal(t, int32(30*24*3600), *retention.Options.ExpireAfterSeconds)
}

func TestCompletionLogIndexes(t *testing.T) {
	models := completionLogIndexes()
	require.Len(t, models, 3)

	retention := findIndex(t, models, "createdAt")
	require.NotNil(t, retention.Options)
	require.NotNil(t, retention.Options.ExpireAfterSeconds)
	assert.Equal(t, int32(90*24*3600), *retention.Options.ExpireAfterSeconds)
}

func TestEventIndexes(t *testing.T) {
	models := eventIndexes()
	require.Len(t, models, 2)

	byTimer := findIndex(t, models, "timerId")
	keys := byTimer.Keys.(bson.D)
	require.Len(t, keys, 2)
	assert.Equal(t, "timestamp", keys[1].Key)

	retention := findIndex(t, models, "createdAt")
	require.NotNil(t, retention.Options)
	require.NotNil(t, retention.Options.ExpireAfterSeconds)
	assert.Equal(t, int32(365*24*3600), *retention.Options.ExpireAfterSeconds)
}

func TestTimestampIndexes(t *testing.T) {
	models := timestampIndexes()
	require.Len(t, models, 2)
	perUser := findIndex(t, models, "timerId")
	keys := perUser.Keys.(bson.D)
	assert.Equal(t, "createdAt", keys[len(keys)-1].Key)
}

func TestNewEventRecordSplitsMetadata(t *testing.T) {
	target := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	completedAt := target.Add(150 * time.Millisecond)
	env := event.NewTimerCompleted("timer-1", "server-a", target, completedAt, "owner-1", 0)

	now := time.Date(2025, 3, 1, 12, 0, 1, 0, time.UTC)
	rec, err := newEventRecord(env, now)
	require.NoError(t, err)

	assert.Equal(t, env.ID, rec.EventID)
	assert.Equal(t, "TIMER_COMPLETED", rec.Type)
	assert.Equal(t, "timer-1", rec.TimerID)
	assert.Equal(t, "server-a", rec.OriginServerID)
	assert.Equal(t, now, rec.CreatedAt)
	assert.NotEqual(t, rec.EventID, rec.ID, "record id must be distinct from the event id")

	for _, meta := range envelopeMetaKeys {
		assert.NotContains(t, rec.Payload, meta)
	}
	assert.Contains(t, rec.Payload, "completedTargetTime")
	assert.Contains(t, rec.Payload, "ownerId")

	// A zero online count must survive the reshape, not vanish as an
	// empty field.
	count, ok := rec.Payload["onlineUserCount"]
	require.True(t, ok)
	assert.EqualValues(t, 0, count)
}

func TestNewEventRecordUserJoined(t *testing.T) {
	env := event.NewUserJoined("timer-9", "server-b", "user-3", 4)
	rec, err := newEventRecord(env, time.Now().UTC())
	require.NoError(t, err)

	assert.Equal(t, "USER_JOINED", rec.Type)
	assert.Equal(t, "user-3", rec.Payload["userId"])
	assert.EqualValues(t, 4, rec.Payload["onlineUserCount"])
}
