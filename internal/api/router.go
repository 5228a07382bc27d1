package api

import (
	"embed"
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/leolani/chatui/internal/api/handler"
	customMiddleware "github.com/leolani/chatui/internal/api/middleware"
	"github.com/leolani/chatui/internal/service"
)

//go:embed static
var staticFS embed.FS

// NewRouter creates and configures the HTTP router
func NewRouter(coordinator *service.Coordinator) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	chatHandler := handler.NewChatHandler(coordinator)

	r.Get("/health", handler.HealthCheck)

	r.Route("/chat", func(r chi.Router) {
		// Polled endpoints must never be cached by the browser.
		r.Use(middleware.NoCache)

		r.Get("/current", chatHandler.Current)
		r.Delete("/terminate", chatHandler.Terminate)
		r.Get("/{chatID}", chatHandler.GetUtterances)
		r.Post("/{chatID}", chatHandler.PostUtterance)
	})

	static, _ := fs.Sub(staticFS, "static")
	r.Handle("/*", http.FileServer(http.FS(static)))

	return r
}
