package voice

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"coliblanco-backend/internal/models"
	"coliblanco-backend/internal/services"
)

type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename, contentType, language string) (*services.Transcription, error)
}

type Responder interface {
	Respond(ctx context.Context, system string, history []models.ChatMessage, text string) (string, error)
}

type Synthesizer interface {
	Speech(ctx context.Context, req models.SpeechRequest) (io.ReadCloser, error)
}

// AudioSink persists synthesized speech and returns the URL it is served from.
type AudioSink interface {
	Save(ctx context.Context, r io.Reader) (url string, err error)
}

type ExchangeRecorder interface {
	Create(ctx context.Context, ex *models.Exchange) error
}

// Emitter receives progress events for one turn. It may be nil.
type Emitter func(models.ServerEvent)

type PipelineConfig struct {
	Language      string
	SystemPrompt  string
	DeltaInterval time.Duration
	Voice         string
	TTSModel      string
}

// Pipeline chains transcription, the language model and speech synthesis
// for one spoken or typed turn, keeping a short rolling history per session.
type Pipeline struct {
	stt       Transcriber
	llm       Responder
	tts       Synthesizer
	history   History
	audio     AudioSink
	exchanges ExchangeRecorder
	cfg       PipelineConfig
}

func NewPipeline(stt Transcriber, llm Responder, tts Synthesizer, history History, cfg PipelineConfig) *Pipeline {
	if history == nil {
		history = NewMemoryHistory()
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt(cfg.Language)
	}
	return &Pipeline{
		stt:     stt,
		llm:     llm,
		tts:     tts,
		history: history,
		cfg:     cfg,
	}
}

// WithAudioSink enables spoken replies; without a sink the client is told
// to fall back to browser speech synthesis.
func (p *Pipeline) WithAudioSink(sink AudioSink) *Pipeline {
	p.audio = sink
	return p
}

func (p *Pipeline) WithExchangeRecorder(rec ExchangeRecorder) *Pipeline {
	p.exchanges = rec
	return p
}

// Clip is a recorded utterance.
type Clip struct {
	Data        []byte
	Filename    string
	ContentType string
	Language    string
}

// Result summarizes a completed turn.
type Result struct {
	UserText string
	Reply    string
	AudioURL string
	Fallback bool
}

// ProcessAudio transcribes clip and answers it.
func (p *Pipeline) ProcessAudio(ctx context.Context, sessionID string, clip Clip, emit Emitter) (*Result, error) {
	emit = orNoop(emit)
	emit(statusEvent(models.StatusProcessing))

	lang := clip.Language
	if lang == "" {
		lang = p.cfg.Language
	}
	phrases := services.PhrasesFor(lang)

	tr, err := p.stt.Transcribe(ctx, bytes.NewReader(clip.Data), clip.Filename, clip.ContentType, lang)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("transcription failed, using canned reply", "session", sessionID, "error", err)
		return p.finish(ctx, sessionID, "voice", "", phrases.TranscriptionFailed, true, emit)
	}

	emit(models.ServerEvent{Event: models.EventTranscription, Text: tr.Text, IsFinal: true})

	if tr.Text == "" {
		return p.finish(ctx, sessionID, "voice", "", phrases.NotUnderstood, true, emit)
	}
	return p.respond(ctx, sessionID, "voice", tr.Text, phrases, emit)
}

// ProcessText answers a typed command.
func (p *Pipeline) ProcessText(ctx context.Context, sessionID, text string, emit Emitter) (*Result, error) {
	emit = orNoop(emit)
	emit(statusEvent(models.StatusProcessing))

	phrases := services.PhrasesFor(p.cfg.Language)
	if text == "" {
		return p.finish(ctx, sessionID, "text", "", phrases.NotUnderstood, true, emit)
	}
	return p.respond(ctx, sessionID, "text", text, phrases, emit)
}

// ResetSession forgets the conversation of sessionID.
func (p *Pipeline) ResetSession(ctx context.Context, sessionID string) error {
	return p.history.Reset(ctx, sessionID)
}

// History returns the stored conversation of sessionID.
func (p *Pipeline) History(ctx context.Context, sessionID string) ([]models.ChatMessage, error) {
	return p.history.Get(ctx, sessionID)
}

func (p *Pipeline) respond(ctx context.Context, sessionID, source, userText string, phrases services.Phrases, emit Emitter) (*Result, error) {
	history, err := p.history.Get(ctx, sessionID)
	if err != nil {
		slog.Warn("history unavailable, answering without context", "session", sessionID, "error", err)
		history = nil
	}

	reply, err := p.llm.Respond(ctx, p.cfg.SystemPrompt, history, userText)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("response generation failed, using canned reply", "session", sessionID, "error", err)
		return p.finish(ctx, sessionID, source, userText, phrases.ResponseFailed, true, emit)
	}

	err = p.history.Append(ctx, sessionID,
		models.ChatMessage{Role: models.RoleUser, Content: userText},
		models.ChatMessage{Role: models.RoleAssistant, Content: reply},
	)
	if err != nil {
		slog.Warn("failed to store history", "session", sessionID, "error", err)
	}

	return p.finish(ctx, sessionID, source, userText, reply, false, emit)
}

// finish streams the reply text, speaks it and records the exchange.
func (p *Pipeline) finish(ctx context.Context, sessionID, source, userText, reply string, fallback bool, emit Emitter) (*Result, error) {
	if err := p.streamText(ctx, reply, emit); err != nil {
		return nil, err
	}

	res := &Result{UserText: userText, Reply: reply, Fallback: fallback}

	emit(statusEvent(models.StatusSpeaking))
	url, err := p.speak(ctx, reply)
	if err != nil {
		if !errors.Is(err, errSpeechDisabled) {
			slog.Warn("speech synthesis failed, client will speak locally", "session", sessionID, "error", err)
		}
		emit(models.ServerEvent{Event: models.EventTTSFallback, Text: reply})
	}
	res.AudioURL = url

	emit(models.ServerEvent{
		Event:    models.EventCommandProcessed,
		Text:     reply,
		UserText: userText,
		AudioURL: url,
	})

	p.record(ctx, sessionID, source, res)

	emit(statusEvent(models.StatusIdle))
	return res, nil
}

// streamText emits reply one rune at a time, then the full text.
func (p *Pipeline) streamText(ctx context.Context, reply string, emit Emitter) error {
	for _, r := range reply {
		emit(models.ServerEvent{Event: models.EventTextDelta, Delta: string(r)})
		if p.cfg.DeltaInterval <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.cfg.DeltaInterval):
		}
	}
	emit(models.ServerEvent{Event: models.EventTextDelta, Text: reply, IsFinal: true})
	return nil
}

func (p *Pipeline) speak(ctx context.Context, text string) (string, error) {
	if p.tts == nil || p.audio == nil {
		return "", errSpeechDisabled
	}

	rc, err := p.tts.Speech(ctx, models.SpeechRequest{
		Text:  text,
		Voice: p.cfg.Voice,
		Model: p.cfg.TTSModel,
	})
	if err != nil {
		return "", err
	}
	defer rc.Close()

	return p.audio.Save(ctx, rc)
}

func (p *Pipeline) record(ctx context.Context, sessionID, source string, res *Result) {
	if p.exchanges == nil {
		return
	}

	ex := &models.Exchange{
		ID:            uuid.New(),
		SessionID:     sessionID,
		Source:        source,
		UserText:      res.UserText,
		AssistantText: res.Reply,
		CreatedAt:     time.Now(),
	}
	if res.AudioURL != "" {
		url := res.AudioURL
		ex.AudioFile = &url
	}

	if err := p.exchanges.Create(ctx, ex); err != nil {
		slog.Warn("failed to record exchange", "session", sessionID, "error", err)
	}
}

func statusEvent(s models.Status) models.ServerEvent {
	return models.ServerEvent{Event: models.EventStatus, Status: string(s)}
}

func orNoop(emit Emitter) Emitter {
	if emit == nil {
		return func(models.ServerEvent) {}
	}
	return emit
}
