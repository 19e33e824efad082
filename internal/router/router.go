package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"coliblanco-backend/internal/handlers"
	"coliblanco-backend/internal/middleware"
	"coliblanco-backend/internal/websocket"
)

// Deps carries everything the router mounts. JWTAuth and Conversation
// are optional.
type Deps struct {
	Proxy        *handlers.ProxyHandler
	Audio        *handlers.AudioHandler
	Conversation *handlers.ConversationHandler
	Health       *handlers.HealthHandler
	Hub          *websocket.Hub
	JWTAuth      *middleware.JWTAuth
	RateLimiter  *middleware.RateLimiter
	FrontendURL  string
}

func New(d Deps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.CORS(d.FrontendURL))

	// Health check
	r.Get("/health", d.Health.Health)

	// Stored replies are addressed by unguessable names and played by <audio>
	// elements, which cannot send bearer tokens.
	r.Get("/audio/{filename}", d.Audio.Serve)

	voiceRoutes := func(r chi.Router) {
		if d.RateLimiter != nil {
			r.Use(d.RateLimiter.Middleware)
		}
		if d.JWTAuth != nil {
			r.Use(d.JWTAuth.Middleware)
		}

		r.Get("/session", d.Proxy.Session)
		r.Head("/session", d.Proxy.HeadSession)
		r.Post("/transcribe", d.Proxy.Transcribe)
		r.Post("/tts", d.Proxy.TTS)
		r.Post("/chat", d.Proxy.Chat)

		if d.Conversation != nil {
			r.Get("/conversations/{sessionID}", d.Conversation.Get)
			r.Delete("/conversations/{sessionID}", d.Conversation.Delete)
		}

		r.Get("/ws/voice", d.Hub.HandleWebSocket)
	}

	// The Vite dev proxy forwards to the root; production mounts under /api/voice.
	r.Group(voiceRoutes)
	r.Route("/api/voice", func(r chi.Router) {
		r.Get("/audio/{filename}", d.Audio.Serve)
		r.Group(voiceRoutes)
	})

	// Alias kept for dashboards that fetch /api/session.
	r.Group(func(r chi.Router) {
		if d.JWTAuth != nil {
			r.Use(d.JWTAuth.Middleware)
		}
		r.Get("/api/session", d.Proxy.Session)
	})

	return r
}
