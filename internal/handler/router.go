package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/gymhub/chat/internal/auth"
	"github.com/gymhub/chat/internal/chat"
	"github.com/gymhub/chat/internal/metrics"
	"github.com/gymhub/chat/internal/middleware"
	"github.com/gymhub/chat/internal/model"
	"github.com/gymhub/chat/internal/storage"
	"github.com/gymhub/chat/internal/ws"
)

// RouterDeps — всё, что нужно HTTP-слою сервиса чата.
type RouterDeps struct {
	Hub       *ws.Hub
	Directory *chat.Directory
	History   *chat.History
	Receipts  *chat.Receipts
	Presence  storage.PresenceStore
	Verifiers auth.Verifiers
	// Cookies — имя cookie с токеном на каждую роль.
	Cookies map[model.ParticipantRole]string

	AllowedOrigins   []string
	WSAllowedOrigins string
	RateLimitPerIP   int
	RateLimitPerUser int
	InternalSecret   string
	DebugRooms       bool
}

// NewRouter собирает chi-роутер: /ws/{role} и /api/{role}/* на каждое пространство каналов,
// /internal/* только для внутренней сети, /health и /metrics без авторизации.
func NewRouter(d RouterDeps) http.Handler {
	wsH := NewWSHandler(d.Hub, d.WSAllowedOrigins)
	convH := NewConversationHandler(d.Directory, d.Hub)
	msgH := NewMessageHandler(d.History, d.Receipts, d.Hub)
	presH := NewPresenceHandler(d.Presence, d.Hub)

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Handle("/metrics", metrics.Handler())

	for _, role := range d.Hub.Broadcaster().Roles() {
		verifier, ok := d.Verifiers.For(role)
		if !ok {
			continue
		}
		authMW := middleware.ParticipantAuth(role, verifier, d.Cookies[role])

		r.With(authMW).Get("/ws/"+string(role), wsH.ServeWS)
		r.Route("/api/"+string(role), func(r chi.Router) {
			r.Use(authMW)
			r.Use(middleware.RateLimit(d.RateLimitPerIP, d.RateLimitPerUser))
			r.Get("/conversations", convH.List)
			r.Post("/conversations", convH.Create)
			r.Get("/conversations/{id}/messages", msgH.GetMessages)
			r.Post("/conversations/{id}/read", msgH.MarkAllRead)
			r.Get("/messages/unread-count", msgH.UnreadCount)
			r.Get("/presence/{participantId}", presH.Get)
		})
	}

	if d.DebugRooms {
		r.Route("/internal", func(r chi.Router) {
			r.Use(middleware.InternalOnly(d.InternalSecret))
			r.Get("/rooms/{id}", presH.Rooms)
		})
	}
	return r
}
