package models

// WebSocket events exchanged on /ws/voice.
const (
	EventConnected        = "connected"
	EventStartListening   = "start_listening"
	EventListeningStarted = "listening_started"
	EventAudioChunk       = "audio_chunk"
	EventStopListening    = "stop_listening"
	EventListeningStopped = "listening_stopped"
	EventProcessCommand   = "process_command"
	EventCommandProcessed = "command_processed"
	EventTranscription    = "transcription"
	EventTextDelta        = "text_delta"
	EventStatus           = "status"
	EventTTSFallback      = "tts_fallback"
	EventReset            = "reset"
	EventError            = "error"
	EventPing             = "ping"
	EventPong             = "pong"
)

// ClientEvent is a message sent by the dashboard over the voice socket.
type ClientEvent struct {
	Event      string `json:"event"`
	Text       string `json:"text,omitempty"`
	Data       string `json:"data,omitempty"` // base64 audio
	Language   string `json:"language,omitempty"`
	Format     string `json:"format,omitempty"` // "webm" | "wav" | "pcm16"
	SampleRate int    `json:"sample_rate,omitempty"`
}

// ServerEvent is a message pushed to the dashboard over the voice socket.
type ServerEvent struct {
	Event     string `json:"event"`
	SessionID string `json:"session_id,omitempty"`
	Status    string `json:"status,omitempty"`
	Text      string `json:"text,omitempty"`
	UserText  string `json:"user_text,omitempty"`
	Delta     string `json:"delta,omitempty"`
	IsFinal   bool   `json:"is_final,omitempty"`
	AudioURL  string `json:"audio_url,omitempty"`
	Message   string `json:"message,omitempty"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
