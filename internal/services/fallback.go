package services

import (
	"fmt"
	"strings"
	"time"

	"coliblanco-backend/internal/models"
)

const mockTokenLifetime = 60 * time.Second

// MockSessionToken is served by /session when OpenAI cannot issue a
// realtime token, so the dashboard can still start in demo mode.
func MockSessionToken(now time.Time) models.SessionToken {
	return models.SessionToken{
		ClientSecret: models.ClientSecret{
			Value:     fmt.Sprintf("mock_ephemeral_token_%d", now.UnixMilli()),
			ExpiresAt: now.Add(mockTokenLifetime).Unix(),
		},
	}
}

// IsMockToken reports whether value was produced by MockSessionToken.
func IsMockToken(value string) bool {
	return strings.HasPrefix(value, "mock_ephemeral_token_")
}

// Phrases are the canned texts substituted when a step of the voice chain fails.
type Phrases struct {
	TranscriptionFailed string
	NotUnderstood       string
	ResponseFailed      string
}

var phrasesByLanguage = map[string]Phrases{
	"nl": {
		TranscriptionFailed: "Er is een fout opgetreden bij het transcriberen. Kun je het nog eens proberen?",
		NotUnderstood:       "Ik heb je niet goed verstaan. Kun je het nog eens proberen?",
		ResponseFailed:      "Er is een fout opgetreden bij het verwerken van je vraag.",
	},
	"en": {
		TranscriptionFailed: "Sorry, something went wrong while transcribing. Could you try again?",
		NotUnderstood:       "I didn't quite catch that. Could you try again?",
		ResponseFailed:      "Sorry, something went wrong while processing your question.",
	},
}

// PhrasesFor returns the canned texts for lang, falling back to English.
func PhrasesFor(lang string) Phrases {
	lang = strings.ToLower(lang)
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	if p, ok := phrasesByLanguage[lang]; ok {
		return p
	}
	return phrasesByLanguage["en"]
}
