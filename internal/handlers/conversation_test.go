package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"coliblanco-backend/internal/models"
)

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

type stubConversations struct {
	history map[string][]models.ChatMessage
	reset   []string
	err     error
}

func (s *stubConversations) History(ctx context.Context, sessionID string) ([]models.ChatMessage, error) {
	return s.history[sessionID], s.err
}

func (s *stubConversations) ResetSession(ctx context.Context, sessionID string) error {
	s.reset = append(s.reset, sessionID)
	return s.err
}

type stubExchanges struct {
	exchanges []models.Exchange
	gotLimit  int
}

func (s *stubExchanges) ListBySession(ctx context.Context, sessionID string, limit int) ([]models.Exchange, error) {
	s.gotLimit = limit
	return s.exchanges, nil
}

func TestConversationHandler_Get(t *testing.T) {
	convs := &stubConversations{history: map[string][]models.ChatMessage{
		"s1": {{Role: models.RoleUser, Content: "Hoi"}, {Role: models.RoleAssistant, Content: "Hallo!"}},
	}}
	ex := &stubExchanges{exchanges: []models.Exchange{{SessionID: "s1", UserText: "Hoi", AssistantText: "Hallo!"}}}
	h := NewConversationHandler(convs, ex)

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/conversations/s1?limit=5", nil), "sessionID", "s1")
	rr := httptest.NewRecorder()
	h.Get(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp conversationResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.SessionID != "s1" || len(resp.Messages) != 2 || len(resp.Exchanges) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if ex.gotLimit != 5 {
		t.Fatalf("expected limit 5, got %d", ex.gotLimit)
	}
}

func TestConversationHandler_GetWithoutExchangeLog(t *testing.T) {
	h := NewConversationHandler(&stubConversations{}, nil)

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/conversations/s2", nil), "sessionID", "s2")
	rr := httptest.NewRecorder()
	h.Get(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestConversationHandler_GetError(t *testing.T) {
	h := NewConversationHandler(&stubConversations{err: errors.New("redis down")}, nil)

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/conversations/s1", nil), "sessionID", "s1")
	rr := httptest.NewRecorder()
	h.Get(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
}

func TestConversationHandler_Delete(t *testing.T) {
	convs := &stubConversations{}
	h := NewConversationHandler(convs, nil)

	req := withURLParam(httptest.NewRequest(http.MethodDelete, "/conversations/s1", nil), "sessionID", "s1")
	rr := httptest.NewRecorder()
	h.Delete(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if len(convs.reset) != 1 || convs.reset[0] != "s1" {
		t.Fatalf("expected reset of s1, got %v", convs.reset)
	}
}

func TestHealthHandler(t *testing.T) {
	h := NewHealthHandler(true).WithSessions(func() int { return 3 })
	h.AddCheck("redis", func(ctx context.Context) error { return nil })
	h.AddCheck("postgres", func(ctx context.Context) error { return errors.New("refused") })

	rr := httptest.NewRecorder()
	h.Health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var body struct {
		Status           string            `json:"status"`
		OpenAIConfigured bool              `json:"openai_configured"`
		ActiveSessions   int               `json:"active_sessions"`
		Dependencies     map[string]string `json:"dependencies"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Status != "degraded" || !body.OpenAIConfigured || body.ActiveSessions != 3 {
		t.Fatalf("unexpected body %+v", body)
	}
	if body.Dependencies["redis"] != "up" || body.Dependencies["postgres"] != "down" {
		t.Fatalf("unexpected dependencies %v", body.Dependencies)
	}
}
