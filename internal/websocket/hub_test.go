package websocket

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"coliblanco-backend/internal/models"
	"coliblanco-backend/internal/voice"
)

type stubPipeline struct {
	mu     sync.Mutex
	clips  []voice.Clip
	texts  []string
	resets []string
}

func (p *stubPipeline) ProcessAudio(ctx context.Context, sessionID string, clip voice.Clip, emit voice.Emitter) (*voice.Result, error) {
	p.mu.Lock()
	p.clips = append(p.clips, clip)
	p.mu.Unlock()

	reply := "audio:" + string(clip.Data)
	if clip.ContentType == "audio/wav" {
		reply = "audio:wav"
	}
	emit(models.ServerEvent{Event: models.EventTranscription, Text: "heard", IsFinal: true})
	emit(models.ServerEvent{Event: models.EventCommandProcessed, Text: reply, UserText: "heard"})
	return &voice.Result{UserText: "heard", Reply: reply}, nil
}

func (p *stubPipeline) ProcessText(ctx context.Context, sessionID, text string, emit voice.Emitter) (*voice.Result, error) {
	p.mu.Lock()
	p.texts = append(p.texts, text)
	p.mu.Unlock()

	reply := "echo:" + text
	emit(models.ServerEvent{Event: models.EventTextDelta, Text: reply, IsFinal: true})
	emit(models.ServerEvent{Event: models.EventCommandProcessed, Text: reply, UserText: text, AudioURL: "/audio/reply.mp3"})
	return &voice.Result{UserText: text, Reply: reply}, nil
}

func (p *stubPipeline) ResetSession(ctx context.Context, sessionID string) error {
	p.mu.Lock()
	p.resets = append(p.resets, sessionID)
	p.mu.Unlock()
	return nil
}

func startHub(t *testing.T, hub *Hub) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		hub.Shutdown()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, event string) models.ServerEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var ev models.ServerEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		if ev.Event == event {
			return ev
		}
	}
}

func TestHub_ConnectAndPing(t *testing.T) {
	hub := NewHub(&stubPipeline{}, 10, "nl")
	conn := dial(t, startHub(t, hub)+"?session_id=kitchen")

	connected := readUntil(t, conn, models.EventConnected)
	if connected.SessionID != "kitchen" {
		t.Fatalf("expected resumed session id, got %q", connected.SessionID)
	}

	conn.WriteJSON(models.ClientEvent{Event: models.EventPing})
	readUntil(t, conn, models.EventPong)

	if hub.Count() != 1 {
		t.Fatalf("expected 1 session, got %d", hub.Count())
	}
}

func TestHub_ProcessCommand(t *testing.T) {
	pipeline := &stubPipeline{}
	conn := dial(t, startHub(t, NewHub(pipeline, 10, "nl")))
	readUntil(t, conn, models.EventConnected)

	conn.WriteJSON(models.ClientEvent{Event: models.EventProcessCommand, Text: "  Hoe laat is het?  "})
	ev := readUntil(t, conn, models.EventCommandProcessed)

	if ev.Text != "echo:Hoe laat is het?" {
		t.Fatalf("unexpected reply %q", ev.Text)
	}
}

func TestHub_AudioURLFollowsMountPoint(t *testing.T) {
	url := startHub(t, NewHub(&stubPipeline{}, 10, "nl"))

	tests := map[string]string{
		"/ws/voice":           "/audio/reply.mp3",
		"/api/voice/ws/voice": "/api/voice/audio/reply.mp3",
	}
	for path, want := range tests {
		conn := dial(t, url+path)
		readUntil(t, conn, models.EventConnected)

		conn.WriteJSON(models.ClientEvent{Event: models.EventProcessCommand, Text: "hoi"})
		if ev := readUntil(t, conn, models.EventCommandProcessed); ev.AudioURL != want {
			t.Fatalf("%s: expected audio url %q, got %q", path, want, ev.AudioURL)
		}
	}
}

func TestHub_ListeningFlow(t *testing.T) {
	pipeline := &stubPipeline{}
	conn := dial(t, startHub(t, NewHub(pipeline, 10, "nl")))
	readUntil(t, conn, models.EventConnected)

	conn.WriteJSON(models.ClientEvent{Event: models.EventStartListening, Format: "webm", Language: "en"})
	readUntil(t, conn, models.EventListeningStarted)

	for _, part := range []string{"ab", "cd"} {
		conn.WriteJSON(models.ClientEvent{Event: models.EventAudioChunk, Data: base64.StdEncoding.EncodeToString([]byte(part))})
	}
	conn.WriteJSON(models.ClientEvent{Event: models.EventStopListening})

	readUntil(t, conn, models.EventListeningStopped)
	ev := readUntil(t, conn, models.EventCommandProcessed)
	if ev.Text != "audio:abcd" {
		t.Fatalf("unexpected reply %q", ev.Text)
	}

	pipeline.mu.Lock()
	defer pipeline.mu.Unlock()
	if len(pipeline.clips) != 1 {
		t.Fatalf("expected one clip, got %d", len(pipeline.clips))
	}
	clip := pipeline.clips[0]
	if clip.Filename != "audio.webm" || clip.ContentType != "audio/webm" || clip.Language != "en" {
		t.Fatalf("unexpected clip metadata %+v", clip)
	}
}

func TestHub_EmptyUtteranceGetsCannedTurn(t *testing.T) {
	pipeline := &stubPipeline{}
	conn := dial(t, startHub(t, NewHub(pipeline, 10, "nl")))
	readUntil(t, conn, models.EventConnected)

	conn.WriteJSON(models.ClientEvent{Event: models.EventStartListening})
	readUntil(t, conn, models.EventListeningStarted)
	conn.WriteJSON(models.ClientEvent{Event: models.EventStopListening})
	readUntil(t, conn, models.EventCommandProcessed)

	pipeline.mu.Lock()
	defer pipeline.mu.Unlock()
	if len(pipeline.texts) != 1 || pipeline.texts[0] != "" {
		t.Fatalf("expected empty text turn, got %v", pipeline.texts)
	}
}

func TestHub_ProtocolErrors(t *testing.T) {
	conn := dial(t, startHub(t, NewHub(&stubPipeline{}, 10, "nl")))
	readUntil(t, conn, models.EventConnected)

	conn.WriteMessage(websocket.TextMessage, []byte("not json"))
	if ev := readUntil(t, conn, models.EventError); ev.Message != "Invalid message" {
		t.Fatalf("unexpected error message %q", ev.Message)
	}

	conn.WriteJSON(models.ClientEvent{Event: "dance"})
	if ev := readUntil(t, conn, models.EventError); !strings.Contains(ev.Message, "dance") {
		t.Fatalf("unexpected error message %q", ev.Message)
	}

	conn.WriteJSON(models.ClientEvent{Event: models.EventAudioChunk, Data: "AAAA"})
	if ev := readUntil(t, conn, models.EventError); ev.Message != "Not listening" {
		t.Fatalf("unexpected error message %q", ev.Message)
	}
}

func TestHub_Reset(t *testing.T) {
	pipeline := &stubPipeline{}
	conn := dial(t, startHub(t, NewHub(pipeline, 10, "nl"))+"?session_id=s9")
	readUntil(t, conn, models.EventConnected)

	conn.WriteJSON(models.ClientEvent{Event: models.EventReset})
	readUntil(t, conn, models.EventReset)

	pipeline.mu.Lock()
	defer pipeline.mu.Unlock()
	if len(pipeline.resets) != 1 || pipeline.resets[0] != "s9" {
		t.Fatalf("expected reset of s9, got %v", pipeline.resets)
	}
}

func TestHub_SessionLimit(t *testing.T) {
	url := startHub(t, NewHub(&stubPipeline{}, 1, "nl"))

	first := dial(t, url)
	readUntil(t, first, models.EventConnected)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected second dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %+v", resp)
	}
}

func pcm16(n int, v int16) string {
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func TestHub_PCMSilenceEndsUtterance(t *testing.T) {
	pipeline := &stubPipeline{}
	conn := dial(t, startHub(t, NewHub(pipeline, 10, "nl")))
	readUntil(t, conn, models.EventConnected)

	conn.WriteJSON(models.ClientEvent{Event: models.EventStartListening, Format: "pcm16", SampleRate: 16000})
	readUntil(t, conn, models.EventListeningStarted)

	// 200ms of speech, then 700ms of silence in 100ms chunks. No stop_listening.
	conn.WriteJSON(models.ClientEvent{Event: models.EventAudioChunk, Data: pcm16(3200, 10000)})
	for i := 0; i < 7; i++ {
		conn.WriteJSON(models.ClientEvent{Event: models.EventAudioChunk, Data: pcm16(1600, 0)})
	}

	readUntil(t, conn, models.EventListeningStopped)
	if ev := readUntil(t, conn, models.EventCommandProcessed); ev.Text != "audio:wav" {
		t.Fatalf("unexpected reply %q", ev.Text)
	}

	pipeline.mu.Lock()
	defer pipeline.mu.Unlock()
	if len(pipeline.clips) != 1 {
		t.Fatalf("expected one clip, got %d", len(pipeline.clips))
	}
	clip := pipeline.clips[0]
	if clip.Filename != "audio.wav" || clip.ContentType != "audio/wav" {
		t.Fatalf("unexpected clip metadata %+v", clip)
	}
	if len(clip.Data) < 12 || string(clip.Data[:4]) != "RIFF" || string(clip.Data[8:12]) != "WAVE" {
		t.Fatalf("clip is not a WAV file")
	}
}

func TestHub_PCMBufferCapEndsUtterance(t *testing.T) {
	pipeline := &stubPipeline{}
	conn := dial(t, startHub(t, NewHub(pipeline, 10, "nl")))
	readUntil(t, conn, models.EventConnected)

	conn.WriteJSON(models.ClientEvent{Event: models.EventStartListening, Format: "pcm16", SampleRate: 8000})
	readUntil(t, conn, models.EventListeningStarted)

	// Silence never trips the detector; the 60s cap ends the utterance.
	chunk := pcm16(16000, 0) // 2s at 8kHz
	for i := 0; i < 31; i++ {
		conn.WriteJSON(models.ClientEvent{Event: models.EventAudioChunk, Data: chunk})
	}

	readUntil(t, conn, models.EventListeningStopped)
	readUntil(t, conn, models.EventCommandProcessed)

	pipeline.mu.Lock()
	defer pipeline.mu.Unlock()
	if len(pipeline.clips) != 1 || pipeline.clips[0].ContentType != "audio/wav" {
		t.Fatalf("expected one wav clip, got %+v", pipeline.clips)
	}
}

func TestHub_RejectsUnsupportedSampleRate(t *testing.T) {
	conn := dial(t, startHub(t, NewHub(&stubPipeline{}, 10, "nl")))
	readUntil(t, conn, models.EventConnected)

	conn.WriteJSON(models.ClientEvent{Event: models.EventStartListening, Format: "pcm16", SampleRate: 10})
	if ev := readUntil(t, conn, models.EventError); !strings.Contains(ev.Message, "sample rate") {
		t.Fatalf("unexpected error message %q", ev.Message)
	}

	// The session is still responsive and not listening.
	conn.WriteJSON(models.ClientEvent{Event: models.EventAudioChunk, Data: pcm16(3, 100)})
	if ev := readUntil(t, conn, models.EventError); ev.Message != "Not listening" {
		t.Fatalf("unexpected error message %q", ev.Message)
	}
	conn.WriteJSON(models.ClientEvent{Event: models.EventPing})
	readUntil(t, conn, models.EventPong)
}

func TestHub_RegisterEnforcesLimit(t *testing.T) {
	hub := NewHub(&stubPipeline{}, 1, "nl")

	if err := hub.register(&session{id: "a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := hub.register(&session{id: "a"}); err != errSessionExists {
		t.Fatalf("expected errSessionExists, got %v", err)
	}
	if err := hub.register(&session{id: "b"}); err != errTooManySessions {
		t.Fatalf("expected errTooManySessions, got %v", err)
	}
	if hub.Count() != 1 {
		t.Fatalf("expected 1 session, got %d", hub.Count())
	}
}

func TestNormalizeFormat(t *testing.T) {
	tests := map[string]string{
		"":          "webm",
		"webm":      "webm",
		"WAV":       "wav",
		"pcm":       "pcm16",
		"pcm_s16le": "pcm16",
		"ogg":       "webm",
	}
	for in, want := range tests {
		if got := normalizeFormat(in); got != want {
			t.Errorf("normalizeFormat(%q) = %q, want %q", in, got, want)
		}
	}
}
