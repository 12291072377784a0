package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"carelink/internal/model"
	"carelink/internal/service"
	"carelink/internal/transport/rest/middleware"
)

// ConversationHandler handles chat endpoints.
type ConversationHandler struct {
	chatSvc *service.ChatService
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(chatSvc *service.ChatService) *ConversationHandler {
	return &ConversationHandler{chatSvc: chatSvc}
}

// List handles GET /v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	convs, err := h.chatSvc.Conversations(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

// Messages handles GET /v1/conversations/{id}/messages
func (h *ConversationHandler) Messages(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	convID := mux.Vars(r)["id"]

	msgs, err := h.chatSvc.Messages(r.Context(), userID, convID)
	if err != nil {
		writeChatError(w, err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// SendMessageRequest is the request body for sending a message.
type SendMessageRequest struct {
	Content     string             `json:"content"`
	MessageType model.MessageType  `json:"messageType,omitempty"`
	Attachments []model.Attachment `json:"attachments,omitempty"`
}

// Send handles POST /v1/conversations/{id}/messages
func (h *ConversationHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	convID := mux.Vars(r)["id"]

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" && len(req.Attachments) == 0 {
		writeError(w, http.StatusBadRequest, "message is empty")
		return
	}

	msg, err := h.chatSvc.SendMessage(r.Context(), userID, convID, req.Content, req.MessageType, req.Attachments)
	if err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func writeChatError(w http.ResponseWriter, err error) {
	switch err {
	case service.ErrConversationNotFound:
		writeError(w, http.StatusNotFound, err.Error())
	case service.ErrNotParticipant:
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
