package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gymhub/chat/internal/chat"
	"github.com/gymhub/chat/internal/middleware"
	"github.com/gymhub/chat/internal/model"
	"github.com/gymhub/chat/internal/ws"
)

type ConversationHandler struct {
	dir *chat.Directory
	hub *ws.Hub
}

func NewConversationHandler(dir *chat.Directory, hub *ws.Hub) *ConversationHandler {
	return &ConversationHandler{dir: dir, hub: hub}
}

type CreateConversationRequest struct {
	ReceiverID string `json:"receiverId"`
}

type CreateConversationResponse struct {
	Conversation *model.Conversation `json:"conversation"`
	Created      bool                `json:"created"`
}

// List возвращает беседы участника: последние сообщения и счётчики непрочитанных.
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.GetParticipant(r.Context())
	list, err := h.dir.ListConversations(r.Context(), p)
	if err != nil {
		writeChatError(w, "conversations.List", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Create находит или создаёт личную беседу с участником противоположной роли.
// При создании все живые соединения обеих сторон подписываются на комнату и получают conversationCreated.
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	req.ReceiverID = strings.TrimSpace(req.ReceiverID)
	if req.ReceiverID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "receiverId is required", Code: "validation"})
		return
	}

	p, _ := middleware.GetParticipant(r.Context())
	receiver := model.Participant{ID: req.ReceiverID, Role: p.Role.Counterpart()}
	conv, created, err := h.dir.ResolveOrCreateDirect(r.Context(), p, receiver)
	if err != nil {
		writeChatError(w, "conversations.Create", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.hub.NotifyConversationCreated(conv, []model.Participant{p, receiver}, nil)
	}
	writeJSON(w, status, CreateConversationResponse{Conversation: conv, Created: created})
}
