package cache

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"coliblanco-backend/internal/models"
)

func TestKeyIsStableAndDistinct(t *testing.T) {
	base := models.SpeechRequest{Text: "Goedemorgen", Voice: "alloy", Model: "tts-1", Speed: 1}

	assert.Equal(t, Key(base), Key(base))
	assert.True(t, strings.HasPrefix(Key(base), "tts:"))
	assert.Len(t, Key(base), len("tts:")+64)

	variants := []models.SpeechRequest{
		{Text: "Goedenavond", Voice: "alloy", Model: "tts-1", Speed: 1},
		{Text: "Goedemorgen", Voice: "nova", Model: "tts-1", Speed: 1},
		{Text: "Goedemorgen", Voice: "alloy", Model: "tts-1-hd", Speed: 1},
		{Text: "Goedemorgen", Voice: "alloy", Model: "tts-1", Speed: 1.25},
	}
	for _, v := range variants {
		assert.NotEqual(t, Key(base), Key(v))
	}

	// Field boundaries are part of the hash.
	a := models.SpeechRequest{Model: "ab", Voice: "c"}
	b := models.SpeechRequest{Model: "a", Voice: "bc"}
	assert.NotEqual(t, Key(a), Key(b))
}

func TestNilCacheIsDisabled(t *testing.T) {
	var c *TTSCache
	_, ok := c.Get(context.Background(), models.SpeechRequest{Text: "x"})
	assert.False(t, ok)
	assert.NoError(t, c.Set(context.Background(), models.SpeechRequest{Text: "x"}, []byte("mp3")))
}

func TestCacheable(t *testing.T) {
	assert.False(t, Cacheable(0))
	assert.True(t, Cacheable(1024))
	assert.False(t, Cacheable(maxEntrySize+1))
}
