package handlers

import (
	"fmt"
	"net/http"

	"github.com/Ibragimm228/realtimechat/internal/apperr"
	"github.com/Ibragimm228/realtimechat/internal/auth"
	"github.com/Ibragimm228/realtimechat/internal/models"
)

// PostMessageRequest represents the post message request. Text is
// client-side ciphertext.
type PostMessageRequest struct {
	Sender string `json:"sender" validate:"max=100"`
	Text   string `json:"text" validate:"required,max=5000"`
}

// TypingRequest represents a typing indicator update.
type TypingRequest struct {
	Username string `json:"username" validate:"max=100"`
	IsTyping *bool  `json:"isTyping" validate:"required"`
}

// MessagesResponse represents the list messages response.
type MessagesResponse struct {
	Messages []models.Message `json:"messages"`
}

// PostMessage relays a message to the room.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request, capability auth.Capability) {
	var req PostMessageRequest
	if err := h.decode(r, &req); err != nil {
		h.Fail(w, r, err)
		return
	}

	if _, err := h.relay.Post(r.Context(), capability, req.Sender, req.Text); err != nil {
		h.Fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Typing broadcasts a typing indicator.
func (h *Handler) Typing(w http.ResponseWriter, r *http.Request, capability auth.Capability) {
	var req TypingRequest
	if err := h.decode(r, &req); err != nil {
		h.Fail(w, r, err)
		return
	}

	if err := h.relay.Typing(r.Context(), capability, *req.IsTyping, req.Username); err != nil {
		h.Fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListMessages returns the room history.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request, capability auth.Capability) {
	messages, err := h.relay.List(r.Context(), capability)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, MessagesResponse{Messages: messages})
}

// DeleteMessage removes one message. Unknown ids succeed without effect.
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request, capability auth.Capability) {
	messageID := r.URL.Query().Get("messageId")
	if messageID == "" {
		h.Fail(w, r, fmt.Errorf("%w: messageId is required", apperr.ErrValidation))
		return
	}

	if _, err := h.relay.Delete(r.Context(), capability, messageID); err != nil {
		h.Fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
