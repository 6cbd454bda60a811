package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gymhub/chat/internal/chat"
	"github.com/gymhub/chat/internal/middleware"
	"github.com/gymhub/chat/internal/ws"
)

type MessageHandler struct {
	history  *chat.History
	receipts *chat.Receipts
	hub      *ws.Hub
}

func NewMessageHandler(history *chat.History, receipts *chat.Receipts, hub *ws.Hub) *MessageHandler {
	return &MessageHandler{history: history, receipts: receipts, hub: hub}
}

// GetMessages отдаёт окно истории: ?before=<id> — более старые, ?after=<id> — более новые, иначе последние.
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.GetParticipant(r.Context())
	q := r.URL.Query()
	page, err := h.history.Page(r.Context(), p, chi.URLParam(r, "id"), chat.Cursor{
		Before: q.Get("before"),
		After:  q.Get("after"),
		Limit:  queryInt(r, "limit", chat.DefaultPageSize),
	})
	if err != nil {
		writeChatError(w, "messages.GetMessages", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type markAllReadResponse struct {
	ConversationID string `json:"conversationId"`
	Count          int    `json:"count"`
	LastMessageID  string `json:"lastMessageId,omitempty"`
}

// MarkAllRead отмечает прочитанными все чужие сообщения беседы и рассылает messageRead.
func (h *MessageHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.GetParticipant(r.Context())
	convID := chi.URLParam(r, "id")
	n, last, err := h.receipts.MarkAllRead(r.Context(), convID, p)
	if err != nil {
		writeChatError(w, "messages.MarkAllRead", err)
		return
	}
	if n > 0 {
		h.hub.NotifyRead(convID, last, p, true)
	}
	writeJSON(w, http.StatusOK, markAllReadResponse{ConversationID: convID, Count: n, LastMessageID: last})
}

func (h *MessageHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.GetParticipant(r.Context())
	n, err := h.receipts.UnreadCount(r.Context(), p)
	if err != nil {
		writeChatError(w, "messages.UnreadCount", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unreadCount": n})
}
