package models

import (
	"time"

	"github.com/google/uuid"
)

// SpeechRequest is the payload the dashboard posts to /tts.
type SpeechRequest struct {
	Text         string  `json:"text"`
	Voice        string  `json:"voice"`
	Model        string  `json:"model"`
	Speed        float64 `json:"speed"`
	Instructions string  `json:"instructions,omitempty"`
}

type TranscriptionResponse struct {
	Text     string `json:"text"`
	Fallback bool   `json:"fallback,omitempty"`
}

// ClientSecret mirrors the realtime session's client_secret object.
type ClientSecret struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at"`
}

type SessionToken struct {
	ClientSecret ClientSecret `json:"client_secret"`
}

// Status is the voice session state shown by the dashboard orb.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusListening  Status = "listening"
	StatusProcessing Status = "processing"
	StatusSpeaking   Status = "speaking"
)

// Exchange is one user/assistant round trip of a voice session.
type Exchange struct {
	ID            uuid.UUID `json:"id"`
	SessionID     string    `json:"session_id"`
	Source        string    `json:"source"` // "voice" | "text"
	UserText      string    `json:"user_text"`
	AssistantText string    `json:"assistant_text"`
	AudioFile     *string   `json:"audio_file"`
	CreatedAt     time.Time `json:"created_at"`
}
