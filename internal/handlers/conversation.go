package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"coliblanco-backend/internal/models"
)

type conversationStore interface {
	History(ctx context.Context, sessionID string) ([]models.ChatMessage, error)
	ResetSession(ctx context.Context, sessionID string) error
}

type exchangeLister interface {
	ListBySession(ctx context.Context, sessionID string, limit int) ([]models.Exchange, error)
}

type ConversationHandler struct {
	conversations conversationStore
	exchanges     exchangeLister
}

func NewConversationHandler(conversations conversationStore, exchanges exchangeLister) *ConversationHandler {
	return &ConversationHandler{conversations: conversations, exchanges: exchanges}
}

type conversationResponse struct {
	SessionID string               `json:"session_id"`
	Messages  []models.ChatMessage `json:"messages"`
	Exchanges []models.Exchange    `json:"exchanges,omitempty"`
}

// Get handles GET /conversations/{sessionID}.
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Session ID is required", r))
		return
	}

	messages, err := h.conversations.History(r.Context(), sessionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to load conversation", r))
		return
	}

	resp := conversationResponse{SessionID: sessionID, Messages: messages}

	if h.exchanges != nil {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		exchanges, err := h.exchanges.ListBySession(r.Context(), sessionID, limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to load exchanges", r))
			return
		}
		resp.Exchanges = exchanges
	}

	writeJSON(w, http.StatusOK, resp)
}

// Delete handles DELETE /conversations/{sessionID} and forgets the history.
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.conversations.ResetSession(r.Context(), sessionID); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to reset conversation", r))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
