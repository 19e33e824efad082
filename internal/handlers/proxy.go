package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"coliblanco-backend/internal/cache"
	"coliblanco-backend/internal/models"
	"coliblanco-backend/internal/services"
	"coliblanco-backend/internal/storage"
)

const (
	defaultMaxUpload = 25 << 20 // Whisper's file limit
	maxChatBody      = 1 << 20
	maxSpeechChars   = 4096
)

// OpenAIProxy is the upstream used by the thin proxy routes.
type OpenAIProxy interface {
	CreateSession(ctx context.Context) ([]byte, error)
	Transcribe(ctx context.Context, audio io.Reader, filename, contentType, language string) (*services.Transcription, error)
	Chat(ctx context.Context, body []byte) ([]byte, error)
	Speech(ctx context.Context, req models.SpeechRequest) (io.ReadCloser, error)
	SpeechDefaults(req models.SpeechRequest) models.SpeechRequest
}

type speechCache interface {
	Get(ctx context.Context, req models.SpeechRequest) ([]byte, bool)
	Set(ctx context.Context, req models.SpeechRequest, audio []byte) error
}

type audioCreator interface {
	Create() (*storage.PendingFile, error)
}

// ProxyHandler forwards dashboard requests to OpenAI with the server-side key.
type ProxyHandler struct {
	openai    OpenAIProxy
	cache     speechCache
	audio     audioCreator
	language  string
	maxUpload int64
}

func NewProxyHandler(openai OpenAIProxy, language string) *ProxyHandler {
	return &ProxyHandler{
		openai:    openai,
		language:  language,
		maxUpload: defaultMaxUpload,
	}
}

// WithSpeechCache serves repeated /tts requests from c.
func (h *ProxyHandler) WithSpeechCache(c speechCache) *ProxyHandler {
	h.cache = c
	return h
}

// WithAudioStore keeps a copy of every /tts response on disk.
func (h *ProxyHandler) WithAudioStore(a audioCreator) *ProxyHandler {
	h.audio = a
	return h
}

// Session handles GET /session. Failures degrade to a mock token.
func (h *ProxyHandler) Session(w http.ResponseWriter, r *http.Request) {
	raw, err := h.openai.CreateSession(r.Context())
	if err != nil {
		slog.Warn("realtime session unavailable, serving mock token", "error", err)
		writeJSON(w, http.StatusOK, services.MockSessionToken(time.Now()))
		return
	}
	writeRawJSON(w, http.StatusOK, raw)
}

// HeadSession lets the dashboard check for the backend without minting a token.
func (h *ProxyHandler) HeadSession(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
}

// Transcribe handles POST /transcribe (multipart, field "file").
func (h *ProxyHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResp("FILE_TOO_LARGE", "Audio file exceeds 25MB", r))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Expected multipart form data", r))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"file": "Audio file is required"}, r))
		return
	}
	defer file.Close()

	tr, err := h.openai.Transcribe(r.Context(), file, header.Filename, header.Header.Get("Content-Type"), r.FormValue("language"))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		slog.Warn("transcription failed, serving canned text", "file", header.Filename, "error", err)
		writeJSON(w, http.StatusOK, models.TranscriptionResponse{
			Text:     services.PhrasesFor(h.language).TranscriptionFailed,
			Fallback: true,
		})
		return
	}

	slog.Info("transcribed", "file", header.Filename, "bytes", header.Size, "chars", len(tr.Text))
	writeRawJSON(w, http.StatusOK, tr.Raw)
}

// TTS handles POST /tts and streams audio/mpeg.
func (h *ProxyHandler) TTS(w http.ResponseWriter, r *http.Request) {
	var req models.SpeechRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	req.Text = strings.TrimSpace(req.Text)
	req = h.openai.SpeechDefaults(req)
	if fields := validateSpeech(req); len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return
	}

	if h.cache != nil {
		if clip, ok := h.cache.Get(r.Context(), req); ok {
			w.Header().Set("Content-Type", "audio/mpeg")
			w.Header().Set("Content-Length", strconv.Itoa(len(clip)))
			w.Header().Set("X-Cache", "HIT")
			w.WriteHeader(http.StatusOK)
			w.Write(clip)
			return
		}
	}

	stream, err := h.openai.Speech(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err, "TTS_UNAVAILABLE")
		return
	}
	defer stream.Close()

	sinks := []io.Writer{w}

	var pending *storage.PendingFile
	if h.audio != nil {
		if pending, err = h.audio.Create(); err != nil {
			slog.Warn("audio copy disabled for request", "error", err)
			pending = nil
		} else {
			sinks = append(sinks, pending)
			w.Header().Set("X-Audio-URL", MountPrefix(r.URL.Path, "/tts")+audioURLOf(h.audio, pending))
		}
	}

	var buf *cappedBuffer
	if h.cache != nil {
		buf = &cappedBuffer{}
		sinks = append(sinks, buf)
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("X-Cache", "MISS")
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(io.MultiWriter(sinks...), stream)
	if err != nil {
		slog.Warn("speech stream interrupted", "bytes", n, "error", err)
		if pending != nil {
			pending.Discard()
		}
		return
	}

	if pending != nil {
		if _, err := pending.Commit(); err != nil {
			slog.Warn("failed to keep audio copy", "error", err)
		}
	}
	if buf != nil && !buf.overflow {
		if err := h.cache.Set(context.WithoutCancel(r.Context()), req, buf.Bytes()); err != nil {
			slog.Warn("tts cache write failed", "error", err)
		}
	}
	slog.Info("speech streamed", "voice", req.Voice, "model", req.Model, "bytes", n)
}

// Chat handles POST /chat. The body is forwarded as sent; the server fills
// in model, temperature and max_tokens when they are missing.
func (h *ProxyHandler) Chat(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxChatBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResp("BODY_TOO_LARGE", "Request body exceeds 1MB", r))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	fields := map[string]string{}
	if !gjson.GetBytes(body, "messages").IsArray() {
		fields["messages"] = "Messages array is required"
	}
	if gjson.GetBytes(body, "stream").Bool() {
		fields["stream"] = "Streaming completions are not supported"
	}
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return
	}

	raw, err := h.openai.Chat(r.Context(), body)
	if err != nil {
		handleServiceError(w, r, err, "UPSTREAM_ERROR")
		return
	}
	writeRawJSON(w, http.StatusOK, raw)
}

func validateSpeech(req models.SpeechRequest) map[string]string {
	fields := map[string]string{}
	if req.Text == "" {
		fields["text"] = "Text is required"
	} else if utf8.RuneCountInString(req.Text) > maxSpeechChars {
		fields["text"] = fmt.Sprintf("Text must be at most %d characters", maxSpeechChars)
	}
	if req.Speed < 0.25 || req.Speed > 4.0 {
		fields["speed"] = "Speed must be between 0.25 and 4.0"
	}
	return fields
}

// MountPrefix returns the path the voice routes were reached under, so
// "/api/voice/tts" yields "/api/voice" and "/tts" yields "".
func MountPrefix(path, route string) string {
	return strings.TrimSuffix(strings.TrimSuffix(path, "/"), route)
}

type urlResolver interface {
	URL(name string) string
}

func audioURLOf(a audioCreator, f *storage.PendingFile) string {
	if u, ok := a.(urlResolver); ok {
		return u.URL(f.Name())
	}
	return f.Name()
}

// cappedBuffer collects a clip for the cache and gives up past the entry limit.
type cappedBuffer struct {
	bytes.Buffer
	overflow bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.overflow {
		return len(p), nil
	}
	if !cache.Cacheable(b.Len() + len(p)) {
		b.overflow = true
		b.Reset()
		return len(p), nil
	}
	return b.Buffer.Write(p)
}
