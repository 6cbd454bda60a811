package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gymhub/chat/internal/logger"
	"github.com/gymhub/chat/internal/middleware"
	"github.com/gymhub/chat/internal/model"
	"github.com/gymhub/chat/internal/storage"
	"github.com/gymhub/chat/internal/ws"
)

type PresenceHandler struct {
	store storage.PresenceStore
	hub   *ws.Hub
}

func NewPresenceHandler(store storage.PresenceStore, hub *ws.Hub) *PresenceHandler {
	return &PresenceHandler{store: store, hub: hub}
}

// Get возвращает статус участника противоположной роли (клиент спрашивает о тренере и наоборот).
// Живое соединение в этом процессе важнее зеркала: статус online берётся из реестра.
func (h *PresenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	self, _ := middleware.GetParticipant(r.Context())
	target := model.Participant{ID: chi.URLParam(r, "participantId"), Role: self.Role.Counterpart()}
	if !target.Valid() {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "participantId is required", Code: "validation"})
		return
	}
	out := &model.Presence{ParticipantID: target.ID, Role: target.Role, Status: model.StatusOffline}
	if h.store != nil {
		got, err := h.store.Get(r.Context(), target)
		if err != nil {
			logger.Errorf("presence.Get %s: %v", target.Key(), err)
		} else {
			out = got
		}
	}
	if h.hub.IsOnline(target) {
		out.Status = model.StatusOnline
	}
	writeJSON(w, http.StatusOK, out)
}

// Rooms — отладочный снимок комнаты во всех пространствах каналов (/internal/rooms/{id}).
func (h *PresenceHandler) Rooms(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, ws.RoomMembersPayload{ConversationID: id, Members: h.hub.RoomMembers(id)})
}
