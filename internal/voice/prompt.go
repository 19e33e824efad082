package voice

import (
	"errors"
	"strings"
)

var errSpeechDisabled = errors.New("speech synthesis disabled")

var systemPrompts = map[string]string{
	"nl": "Je bent een behulpzame assistent voor het Coliblanco dashboard. " +
		"Beantwoord vragen kort en bondig in het Nederlands. Gebruik maximaal 2-3 zinnen.",
	"en": "You are a helpful assistant for the Coliblanco dashboard. " +
		"Answer questions briefly and to the point in English. Use at most 2-3 sentences.",
}

// DefaultSystemPrompt returns the assistant instructions for lang.
func DefaultSystemPrompt(lang string) string {
	lang = strings.ToLower(lang)
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	if p, ok := systemPrompts[lang]; ok {
		return p
	}
	return systemPrompts["en"]
}
