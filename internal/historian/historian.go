// Package historian records every action the host processes so a finished
// game can be replayed or audited. Records are kept in Redis lists and
// published on a channel for live spectators.
package historian

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	engine "github.com/jason-s-yu/webuno/engine"
	"github.com/redis/go-redis/v9"
)

// Channel is the pub/sub channel every record is published on.
const Channel = "webuno:actions"

// DefaultTTL is how long a game's history is kept after its last record.
const DefaultTTL = 24 * time.Hour

// Record is one processed action or lifecycle event.
type Record struct {
	GameID      uuid.UUID       `json:"gameId"`
	ActionIndex int             `json:"actionIndex"`
	ActorID     engine.ClientID `json:"actorId,omitempty"` // zero for game events
	ActionType  string          `json:"actionType"`
	Payload     map[string]any  `json:"payload"`
	Timestamp   int64           `json:"timestamp"` // unix ms
}

// Recorder stores records. Implementations must be safe for concurrent use.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// Key returns the list key holding a game's history.
func Key(gameID uuid.UUID) string {
	return fmt.Sprintf("webuno:game:%s:actions", gameID)
}

// Redis is a Recorder backed by go-redis.
type Redis struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewRedis returns a Recorder that appends to per-game lists with ttl
// (DefaultTTL when zero).
func NewRedis(rdb redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rdb: rdb, ttl: ttl}
}

// Dial parses a redis:// URL and checks the server answers.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func (r *Redis) Record(ctx context.Context, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	key := Key(rec.GameID)
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, b)
		pipe.Expire(ctx, key, r.ttl)
		pipe.Publish(ctx, Channel, b)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record action %d: %w", rec.ActionIndex, err)
	}
	return nil
}

// History returns every record of a game in order.
func (r *Redis) History(ctx context.Context, gameID uuid.UUID) ([]Record, error) {
	raw, err := r.rdb.LRange(ctx, Key(gameID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	out := make([]Record, 0, len(raw))
	for _, s := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}
