package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"coliblanco-backend/internal/models"
)

// GeminiService answers voice turns with Gemini when LLM_PROVIDER=gemini.
type GeminiService struct {
	client      *genai.Client
	modelName   string
	temperature float32
	maxTokens   int32
	rateChan    chan struct{} // Token bucket
}

func NewGeminiService(apiKey, modelName string, concurrentReqs int, temperature float64, maxTokens int) (*GeminiService, error) {
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	if concurrentReqs <= 0 {
		concurrentReqs = 1
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	// Token bucket for rate limiting
	rateChan := make(chan struct{}, concurrentReqs)
	for i := 0; i < concurrentReqs; i++ {
		rateChan <- struct{}{}
	}

	return &GeminiService{
		client:      client,
		modelName:   modelName,
		temperature: float32(temperature),
		maxTokens:   int32(maxTokens),
		rateChan:    rateChan,
	}, nil
}

func (s *GeminiService) Close() {
	s.client.Close()
}

// acquireRate blocks until a rate slot is available
func (s *GeminiService) acquireRate(ctx context.Context) error {
	select {
	case <-s.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timeout waiting for Gemini rate slot")
	}
}

func (s *GeminiService) releaseRate() {
	s.rateChan <- struct{}{}
}

// Respond replays history into a chat session and sends text as the next turn.
func (s *GeminiService) Respond(ctx context.Context, system string, history []models.ChatMessage, text string) (string, error) {
	if err := s.acquireRate(ctx); err != nil {
		return "", err
	}
	defer s.releaseRate()

	// A model per call: SystemInstruction is per conversation.
	model := s.client.GenerativeModel(s.modelName)
	model.SetTemperature(s.temperature)
	if s.maxTokens > 0 {
		model.SetMaxOutputTokens(s.maxTokens)
	}
	if system != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(system))
	}

	cs := model.StartChat()
	cs.History = toGeminiHistory(history)

	resp, err := cs.SendMessage(ctx, genai.Text(text))
	if err != nil {
		return "", &UpstreamError{Op: "gemini chat", Message: err.Error(), Err: err}
	}

	reply := strings.TrimSpace(extractText(resp))
	if reply == "" {
		return "", &UpstreamError{Op: "gemini chat", Message: "empty reply"}
	}
	return reply, nil
}

func toGeminiHistory(history []models.ChatMessage) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		role := "user"
		switch m.Role {
		case models.RoleAssistant:
			role = "model"
		case models.RoleSystem:
			continue
		}
		out = append(out, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}
	return out
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}
