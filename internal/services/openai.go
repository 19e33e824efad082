package services

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/tidwall/gjson"

	"coliblanco-backend/internal/models"
)

type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	MaxRetries int

	STTModel      string
	LLMModel      string
	TTSModel      string
	TTSVoice      string
	RealtimeModel string
	RealtimeVoice string

	Temperature float64
	MaxTokens   int
	// ReplyMaxTokens caps spoken replies, which are shorter than /chat answers.
	ReplyMaxTokens int
}

// OpenAIService talks to the OpenAI REST API on behalf of the dashboard.
type OpenAIService struct {
	client openai.Client
	cfg    OpenAIConfig
}

func NewOpenAIService(cfg OpenAIConfig) *OpenAIService {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.ReplyMaxTokens <= 0 {
		cfg.ReplyMaxTokens = 100
	}

	return &OpenAIService{
		client: openai.NewClient(opts...),
		cfg:    cfg,
	}
}

func (s *OpenAIService) Configured() bool {
	return s.cfg.APIKey != ""
}

// CreateSession requests an ephemeral realtime token. The upstream body is
// returned untouched so the browser sees exactly what OpenAI issued.
func (s *OpenAIService) CreateSession(ctx context.Context) ([]byte, error) {
	if !s.Configured() {
		return nil, ErrNotConfigured
	}

	body := map[string]string{
		"model": s.cfg.RealtimeModel,
		"voice": s.cfg.RealtimeVoice,
	}

	var raw []byte
	err := s.client.Post(ctx, "realtime/sessions", body, &raw,
		option.WithHeader("OpenAI-Beta", "realtime=v1"),
	)
	if err != nil {
		return nil, wrapUpstream("realtime session", err)
	}
	if !gjson.GetBytes(raw, "client_secret.value").Exists() {
		return nil, &UpstreamError{Op: "realtime session", Message: "response has no client_secret"}
	}
	return raw, nil
}

// Transcription is a Whisper result. Raw holds the upstream JSON.
type Transcription struct {
	Text string
	Raw  []byte
}

func (s *OpenAIService) Transcribe(ctx context.Context, audio io.Reader, filename, contentType, language string) (*Transcription, error) {
	if !s.Configured() {
		return nil, ErrNotConfigured
	}
	if filename == "" {
		filename = "audio.webm"
	}
	if contentType == "" {
		contentType = "audio/webm"
	}

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(audio, filename, contentType),
		Model: openai.AudioModel(s.cfg.STTModel),
	}
	if language != "" {
		params.Language = openai.String(language)
	}

	res, err := s.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, wrapUpstream("transcription", err)
	}

	raw := []byte(res.RawJSON())
	if len(raw) == 0 {
		raw, _ = json.Marshal(models.TranscriptionResponse{Text: res.Text})
	}
	return &Transcription{Text: strings.TrimSpace(res.Text), Raw: raw}, nil
}

// Chat forwards a chat completion body and returns the upstream JSON. Only
// model, temperature and max_tokens are touched, and only when the caller left
// them empty or zero; messages and every other field pass through unchanged.
func (s *OpenAIService) Chat(ctx context.Context, body []byte) ([]byte, error) {
	if !s.Configured() {
		return nil, ErrNotConfigured
	}

	var opts []option.RequestOption
	if gjson.GetBytes(body, "model").String() == "" {
		opts = append(opts, option.WithJSONSet("model", s.cfg.LLMModel))
	}
	if gjson.GetBytes(body, "temperature").Float() == 0 {
		opts = append(opts, option.WithJSONSet("temperature", s.cfg.Temperature))
	}
	if gjson.GetBytes(body, "max_tokens").Int() == 0 && !gjson.GetBytes(body, "max_completion_tokens").Exists() {
		opts = append(opts, option.WithJSONSet("max_tokens", s.cfg.MaxTokens))
	}

	var raw []byte
	if err := s.client.Post(ctx, "chat/completions", body, &raw, opts...); err != nil {
		return nil, wrapUpstream("chat completion", err)
	}
	return raw, nil
}

// Respond produces the assistant reply for one voice turn.
func (s *OpenAIService) Respond(ctx context.Context, system string, history []models.ChatMessage, text string) (string, error) {
	if !s.Configured() {
		return "", ErrNotConfigured
	}

	messages := make([]models.ChatMessage, 0, len(history)+2)
	if system != "" {
		messages = append(messages, models.ChatMessage{Role: models.RoleSystem, Content: system})
	}
	messages = append(messages, history...)
	messages = append(messages, models.ChatMessage{Role: models.RoleUser, Content: text})

	res, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(s.cfg.LLMModel),
		Messages:    toMessageParams(messages),
		Temperature: openai.Float(s.cfg.Temperature),
		MaxTokens:   openai.Int(int64(s.cfg.ReplyMaxTokens)),
	})
	if err != nil {
		return "", wrapUpstream("chat completion", err)
	}

	reply := strings.TrimSpace(gjson.Get(res.RawJSON(), "choices.0.message.content").String())
	if reply == "" {
		return "", &UpstreamError{Op: "chat completion", Message: "empty reply"}
	}
	return reply, nil
}

type speechBody struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	Speed          float64 `json:"speed,omitempty"`
	Instructions   string  `json:"instructions,omitempty"`
	ResponseFormat string  `json:"response_format"`
}

// Speech synthesizes req.Text and returns the MP3 stream. The caller closes it.
func (s *OpenAIService) Speech(ctx context.Context, req models.SpeechRequest) (io.ReadCloser, error) {
	if !s.Configured() {
		return nil, ErrNotConfigured
	}

	req = s.SpeechDefaults(req)
	body := speechBody{
		Model:          req.Model,
		Input:          req.Text,
		Voice:          req.Voice,
		Speed:          req.Speed,
		Instructions:   req.Instructions,
		ResponseFormat: "mp3",
	}

	var res *http.Response
	err := s.client.Post(ctx, "audio/speech", body, &res,
		option.WithHeader("Accept", "application/octet-stream"),
	)
	if err != nil {
		return nil, wrapUpstream("speech", err)
	}
	slog.Debug("speech stream opened", "model", req.Model, "voice", req.Voice, "chars", len(req.Text))
	return res.Body, nil
}

// SpeechDefaults fills empty fields of req with the configured defaults.
func (s *OpenAIService) SpeechDefaults(req models.SpeechRequest) models.SpeechRequest {
	if req.Model == "" {
		req.Model = s.cfg.TTSModel
	}
	if req.Voice == "" {
		req.Voice = s.cfg.TTSVoice
	}
	if req.Speed == 0 {
		req.Speed = 1.0
	}
	return req
}

func toMessageParams(msgs []models.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case models.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case models.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		case "developer":
			out = append(out, openai.DeveloperMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
