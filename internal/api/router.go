package api

import (
	"net/http"
	"time"

	// This blank import is required by swaggo to find the API definitions.
	_ "github.com/JoshBonura/ai-agent-playground-sub001/docs"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

// NewRouter creates and configures a chi router with all the application's
// routes.
func NewRouter(chatHandler *ChatHandler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/api/swagger/*", httpSwagger.WrapHandler)

	// Liveness probe for container orchestration.
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Standard JSON routes get a request timeout so client connections
		// cannot hang indefinitely.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/chats", chatHandler.GetChats)
			r.Get("/chats/{chatID}", chatHandler.GetChat)
			r.Get("/chats/{chatID}/state", chatHandler.GetSessionState)
			r.Put("/chats/{chatID}/title", chatHandler.UpdateChatTitle)
			r.Delete("/chats/{chatID}", chatHandler.HandleDeleteChat)
			r.Post("/chats/{chatID}/cancel", chatHandler.HandleCancelChat)
			r.Post("/chats/stop", chatHandler.HandleStop)
		})

		// Streaming routes hold a connection open for the whole generation
		// and must NOT have a timeout.
		r.Group(func(r chi.Router) {
			r.Post("/chats/messages", chatHandler.HandleSendMessage)
			r.Post("/chats/{chatID}/messages/{messageID}/regenerate", chatHandler.HandleRegenerateMessage)
		})
	})

	return r
}
