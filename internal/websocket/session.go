package websocket

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"coliblanco-backend/internal/models"
	"coliblanco-backend/internal/voice"
)

const maxEncodedAudio = 25 << 20

// session is one dashboard connected to /ws/voice.
type session struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	urlPrefix string

	writeMu   sync.Mutex
	closeOnce sync.Once
	busy      atomic.Bool

	mu        sync.Mutex
	lastSeen  time.Time
	listening bool
	format    string
	language  string
	pcm       *voice.PCMBuffer
	detector  *voice.SilenceDetector
	encoded   bytes.Buffer
}

func (s *session) readLoop() {
	s.conn.SetReadLimit(maxMessageSize)

	for {
		s.conn.SetReadDeadline(time.Now().Add(2 * s.hub.idleTimeout))
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("voice session read failed", "session", s.id, "error", err)
			}
			return
		}

		s.mu.Lock()
		s.lastSeen = time.Now()
		s.mu.Unlock()

		var ev models.ClientEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			s.send(models.ServerEvent{Event: models.EventError, Message: "Invalid message"})
			continue
		}
		s.handle(ev)
	}
}

func (s *session) handle(ev models.ClientEvent) {
	switch ev.Event {
	case models.EventStartListening:
		s.startListening(ev)
	case models.EventAudioChunk:
		s.audioChunk(ev)
	case models.EventStopListening:
		s.stopListening()
	case models.EventProcessCommand:
		text := strings.TrimSpace(ev.Text)
		s.runTurn(func(ctx context.Context, emit voice.Emitter) (*voice.Result, error) {
			return s.hub.pipeline.ProcessText(ctx, s.id, text, emit)
		})
	case models.EventReset:
		if err := s.hub.pipeline.ResetSession(s.ctx, s.id); err != nil {
			s.send(models.ServerEvent{Event: models.EventError, Message: "Failed to reset conversation"})
			return
		}
		s.send(models.ServerEvent{Event: models.EventReset, SessionID: s.id})
	case models.EventPing:
		s.send(models.ServerEvent{Event: models.EventPong})
	case models.EventPong:
	default:
		s.send(models.ServerEvent{Event: models.EventError, Message: "Unknown event: " + ev.Event})
	}
}

func (s *session) startListening(ev models.ClientEvent) {
	if s.busy.Load() {
		s.send(models.ServerEvent{Event: models.EventError, Message: "Still processing the previous command"})
		return
	}
	format := normalizeFormat(ev.Format)
	if format == "pcm16" && !voice.ValidSampleRate(ev.SampleRate) {
		s.send(models.ServerEvent{Event: models.EventError, Message: fmt.Sprintf(
			"Unsupported sample rate %d, expected %d to %d", ev.SampleRate, voice.MinSampleRate, voice.MaxSampleRate)})
		return
	}

	s.mu.Lock()
	s.listening = true
	s.format = format
	if ev.Language != "" {
		s.language = ev.Language
	}
	s.encoded.Reset()
	if s.format == "pcm16" {
		s.pcm = voice.NewPCMBuffer(ev.SampleRate)
		s.detector = voice.NewSilenceDetector(s.pcm.SampleRate())
	}
	s.mu.Unlock()

	s.send(models.ServerEvent{Event: models.EventListeningStarted, SessionID: s.id})
	s.send(statusEvent(models.StatusListening))
}

func (s *session) audioChunk(ev models.ClientEvent) {
	chunk, err := base64.StdEncoding.DecodeString(ev.Data)
	if err != nil {
		s.send(models.ServerEvent{Event: models.EventError, Message: "Audio chunk is not valid base64"})
		return
	}

	s.mu.Lock()
	if !s.listening {
		s.mu.Unlock()
		s.send(models.ServerEvent{Event: models.EventError, Message: "Not listening"})
		return
	}

	var ended bool
	if s.format == "pcm16" {
		samples, appendErr := s.pcm.Append(chunk)
		if appendErr != nil {
			err = appendErr
			ended = true
		} else {
			ended = s.detector.Feed(samples)
		}
	} else if s.encoded.Len()+len(chunk) > maxEncodedAudio {
		err = errors.New("audio exceeds 25MB")
		ended = true
	} else {
		s.encoded.Write(chunk)
	}
	s.mu.Unlock()

	if err != nil {
		slog.Warn("audio buffer full, ending utterance", "session", s.id, "error", err)
	}
	if ended {
		s.stopListening()
	}
}

// stopListening closes the current utterance and hands it to the pipeline.
func (s *session) stopListening() {
	s.mu.Lock()
	if !s.listening {
		s.mu.Unlock()
		return
	}
	s.listening = false
	clip, err := s.takeClip()
	s.mu.Unlock()

	s.send(models.ServerEvent{Event: models.EventListeningStopped, SessionID: s.id})

	if err != nil || len(clip.Data) == 0 {
		// Nothing usable was recorded; answer with the canned prompt.
		s.runTurn(func(ctx context.Context, emit voice.Emitter) (*voice.Result, error) {
			return s.hub.pipeline.ProcessText(ctx, s.id, "", emit)
		})
		return
	}

	s.runTurn(func(ctx context.Context, emit voice.Emitter) (*voice.Result, error) {
		return s.hub.pipeline.ProcessAudio(ctx, s.id, clip, emit)
	})
}

// takeClip must be called with s.mu held.
func (s *session) takeClip() (voice.Clip, error) {
	clip := voice.Clip{Language: s.language}

	switch s.format {
	case "pcm16":
		if s.pcm == nil || s.pcm.Len() == 0 {
			return clip, nil
		}
		wav, err := s.pcm.WAV()
		s.pcm.Reset()
		s.detector.Reset()
		if err != nil {
			return clip, err
		}
		clip.Data, clip.Filename, clip.ContentType = wav, "audio.wav", "audio/wav"
	case "wav":
		clip.Data, clip.Filename, clip.ContentType = copyBytes(s.encoded.Bytes()), "audio.wav", "audio/wav"
	default:
		clip.Data, clip.Filename, clip.ContentType = copyBytes(s.encoded.Bytes()), "audio.webm", "audio/webm"
	}
	s.encoded.Reset()
	return clip, nil
}

// runTurn executes fn in the background; one turn runs at a time.
func (s *session) runTurn(fn func(ctx context.Context, emit voice.Emitter) (*voice.Result, error)) {
	if !s.busy.CompareAndSwap(false, true) {
		s.send(models.ServerEvent{Event: models.EventError, Message: "Still processing the previous command"})
		return
	}

	go func() {
		defer s.busy.Store(false)

		_, err := fn(s.ctx, func(ev models.ServerEvent) {
			if strings.HasPrefix(ev.AudioURL, "/") {
				ev.AudioURL = s.urlPrefix + ev.AudioURL
			}
			s.send(ev)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("voice turn failed", "session", s.id, "error", err)
			s.send(models.ServerEvent{Event: models.EventError, Message: "Failed to process command"})
			s.send(statusEvent(models.StatusIdle))
		}
	}()
}

// keepAlive sends an application ping after the idle timeout.
func (s *session) keepAlive() {
	ticker := time.NewTicker(s.hub.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			idle := time.Since(s.lastSeen)
			s.mu.Unlock()
			if idle >= s.hub.idleTimeout {
				s.send(models.ServerEvent{Event: models.EventPing})
			}
		}
	}
}

// send writes ev to the client. A failed write closes the session.
func (s *session) send(ev models.ServerEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.ctx.Err() != nil {
		return
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Debug("voice session write failed", "session", s.id, "error", err)
		s.close()
	}
}

func (s *session) writeControl(messageType int, data []byte) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.WriteControl(messageType, data, time.Now().Add(writeTimeout))
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.conn.Close()
	})
}

func normalizeFormat(f string) string {
	switch strings.ToLower(f) {
	case "pcm16", "pcm", "pcm_s16le":
		return "pcm16"
	case "wav":
		return "wav"
	default:
		return "webm"
	}
}

func copyBytes(b []byte) []byte {
	return append([]byte(nil), b...)
}
