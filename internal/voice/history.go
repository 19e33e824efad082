package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"coliblanco-backend/internal/models"
)

// MaxHistory is the number of messages kept per conversation.
const MaxHistory = 10

type History interface {
	Get(ctx context.Context, sessionID string) ([]models.ChatMessage, error)
	Append(ctx context.Context, sessionID string, msgs ...models.ChatMessage) error
	Reset(ctx context.Context, sessionID string) error
}

// trimHistory keeps the newest MaxHistory messages.
func trimHistory(msgs []models.ChatMessage) []models.ChatMessage {
	if len(msgs) <= MaxHistory {
		return msgs
	}
	return msgs[len(msgs)-MaxHistory:]
}

type MemoryHistory struct {
	mu    sync.Mutex
	convs map[string][]models.ChatMessage
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{convs: make(map[string][]models.ChatMessage)}
}

func (h *MemoryHistory) Get(_ context.Context, sessionID string) ([]models.ChatMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	msgs := h.convs[sessionID]
	out := make([]models.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (h *MemoryHistory) Append(_ context.Context, sessionID string, msgs ...models.ChatMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	merged := append(h.convs[sessionID], msgs...)
	trimmed := make([]models.ChatMessage, 0, MaxHistory)
	h.convs[sessionID] = append(trimmed, trimHistory(merged)...)
	return nil
}

func (h *MemoryHistory) Reset(_ context.Context, sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.convs, sessionID)
	return nil
}

// RedisHistory stores conversations as capped Redis lists so they survive
// restarts and are shared between replicas.
type RedisHistory struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisHistory(rdb *redis.Client, ttl time.Duration) *RedisHistory {
	return &RedisHistory{rdb: rdb, ttl: ttl}
}

func historyKey(sessionID string) string {
	return fmt.Sprintf("voice:history:%s", sessionID)
}

func (h *RedisHistory) Get(ctx context.Context, sessionID string) ([]models.ChatMessage, error) {
	vals, err := h.rdb.LRange(ctx, historyKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	msgs := make([]models.ChatMessage, 0, len(vals))
	for _, v := range vals {
		var m models.ChatMessage
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (h *RedisHistory) Append(ctx context.Context, sessionID string, msgs ...models.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	key := historyKey(sessionID)
	vals := make([]interface{}, 0, len(msgs))
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		vals = append(vals, data)
	}

	pipe := h.rdb.TxPipeline()
	pipe.RPush(ctx, key, vals...)
	pipe.LTrim(ctx, key, -MaxHistory, -1)
	if h.ttl > 0 {
		pipe.Expire(ctx, key, h.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (h *RedisHistory) Reset(ctx context.Context, sessionID string) error {
	return h.rdb.Del(ctx, historyKey(sessionID)).Err()
}
