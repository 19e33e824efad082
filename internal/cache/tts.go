package cache

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"

	"coliblanco-backend/internal/models"
)

// maxEntrySize bounds cached clips; longer replies are streamed uncached.
const maxEntrySize = 2 << 20

// TTSCache stores synthesized MP3 clips in Redis keyed by a hash of the
// request, so repeated phrases skip the upstream call.
type TTSCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewTTSCache(rdb *redis.Client, ttl time.Duration) *TTSCache {
	return &TTSCache{rdb: rdb, ttl: ttl}
}

// Key derives the cache key of a fully defaulted request.
func Key(req models.SpeechRequest) string {
	h, _ := blake2b.New256(nil)
	for _, part := range []string{req.Model, req.Voice, strconv.FormatFloat(req.Speed, 'f', -1, 64), req.Instructions, req.Text} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return "tts:" + hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached clip for req, if any.
func (c *TTSCache) Get(ctx context.Context, req models.SpeechRequest) ([]byte, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}

	data, err := c.rdb.Get(ctx, Key(req)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("tts cache read failed", "error", err)
		}
		return nil, false
	}
	return data, true
}

func (c *TTSCache) Set(ctx context.Context, req models.SpeechRequest, audio []byte) error {
	if c == nil || c.rdb == nil || len(audio) == 0 {
		return nil
	}
	if len(audio) > maxEntrySize {
		return fmt.Errorf("clip of %d bytes exceeds cache entry limit", len(audio))
	}
	return c.rdb.Set(ctx, Key(req), audio, c.ttl).Err()
}

// Cacheable reports whether a clip of n bytes fits in one entry.
func Cacheable(n int) bool {
	return n > 0 && n <= maxEntrySize
}
