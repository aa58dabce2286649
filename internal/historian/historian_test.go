package historian

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	assert.Equal(t, "webuno:game:6ba7b810-9dad-11d1-80b4-00c04fd430c8:actions", Key(id))
}

func TestDialBadURL(t *testing.T) {
	_, err := Dial(context.Background(), "not a url")
	assert.Error(t, err)
}

// TestRedisRoundTrip needs a live server; set WEBUNO_TEST_REDIS_URL to run it.
func TestRedisRoundTrip(t *testing.T) {
	url := os.Getenv("WEBUNO_TEST_REDIS_URL")
	if url == "" {
		t.Skip("WEBUNO_TEST_REDIS_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rdb, err := Dial(ctx, url)
	require.NoError(t, err)
	defer rdb.Close()

	gameID := uuid.New()
	t.Cleanup(func() { rdb.Del(context.Background(), Key(gameID)) })

	sub := rdb.Subscribe(ctx, Channel)
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	rec := NewRedis(rdb, time.Minute)
	for i := 1; i <= 3; i++ {
		require.NoError(t, rec.Record(ctx, Record{
			GameID:      gameID,
			ActionIndex: i,
			ActorID:     7,
			ActionType:  "PLAY_CARD",
			Payload:     map[string]any{"cardId": "red-1-0"},
			Timestamp:   time.Now().UnixMilli(),
		}))
	}

	history, err := rec.History(ctx, gameID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, 3, history[2].ActionIndex)
	assert.Equal(t, "red-1-0", history[0].Payload["cardId"])

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Contains(t, msg.Payload, gameID.String())

	ttl, err := rdb.TTL(ctx, Key(gameID)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
