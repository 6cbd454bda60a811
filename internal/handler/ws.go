package handler

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"github.com/gymhub/chat/internal/logger"
	"github.com/gymhub/chat/internal/middleware"
	"github.com/gymhub/chat/internal/ws"
)

// WSHandler поднимает WebSocket в пространстве каналов роли участника.
type WSHandler struct {
	hub      *ws.Hub
	anyOrig  bool
	origins  map[string]struct{}
	upgrader websocket.Upgrader
}

// NewWSHandler: allowedOrigins — список через запятую, "*" или пусто — без ограничений.
func NewWSHandler(hub *ws.Hub, allowedOrigins string) *WSHandler {
	list := lo.FilterMap(strings.Split(allowedOrigins, ","), func(o string, _ int) (string, bool) {
		o = strings.TrimSpace(o)
		return o, o != ""
	})
	h := &WSHandler{
		hub:     hub,
		anyOrig: len(list) == 0 || lo.Contains(list, "*"),
		origins: lo.SliceToMap(list, func(o string) (string, struct{}) { return o, struct{}{} }),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.originAllowed,
	}
	return h
}

// originAllowed: запросы без Origin (не браузер) пропускаются.
func (h *WSHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if h.anyOrig || origin == "" {
		return true
	}
	_, ok := h.origins[origin]
	return ok
}

// ServeWS ожидает участника в контексте (ParticipantAuth стоит перед ним).
// Отказы отдаются JSON до upgrade; после upgrade соединением владеет hub.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.GetParticipant(r.Context())
	switch {
	case !ok:
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	case !h.originAllowed(r):
		writeError(w, http.StatusForbidden, "origin not allowed")
		return
	case h.hub.Full():
		writeError(w, http.StatusServiceUnavailable, "too many connections")
		return
	}
	if _, ok := h.hub.Broadcaster().Namespace(p.Role); !ok {
		writeError(w, http.StatusNotFound, "unknown channel-space")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrader уже ответил клиенту.
		logger.Errorf("ws upgrade %s: %v", p.Key(), err)
		return
	}
	logger.Debugf("ws connect %s from %s", p.Key(), r.RemoteAddr)

	// Pumps first: if the hub rejects the client, Close stops them at once.
	client := ws.NewClient(h.hub, conn, p)
	client.Start()
	h.hub.Register(client)
}
