package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"chirpfeed/internal/cache"
	"chirpfeed/internal/handler"
	"chirpfeed/internal/httputil"
	authmw "chirpfeed/internal/transport/http/middleware"
)

// RouterConfig holds the dependencies needed to create routes
type RouterConfig struct {
	AuthHandler     *handler.AuthHandler
	FollowHandler   *handler.FollowHandler
	PostHandler     *handler.PostHandler
	TimelineHandler *handler.TimelineHandler

	FollowingLookup     cache.FollowingLookup
	MaxFollowingSetSize int
	JWTSecret           string
}

// NewRouter creates and configures a new Chi router with all route groups
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	followingSet := authmw.FollowingSetMiddleware(cfg.FollowingLookup, cfg.MaxFollowingSetSize)

	// Health check endpoint (useful for deployment/monitoring)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, 200, map[string]string{"status": "ok"})
	})

	// Public routes - no authentication required
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", cfg.AuthHandler.Register)
		r.Post("/login", cfg.AuthHandler.Login)
		r.Post("/refresh", cfg.AuthHandler.Refresh)
	})

	// Public endpoints with optional authentication; an authenticated
	// viewer gets a request-scoped following set for status enrichment.
	r.Group(func(r chi.Router) {
		r.Use(authmw.OptionalAuthMiddleware(cfg.JWTSecret))
		r.Use(followingSet)

		r.Get("/users/{id}/followers", cfg.FollowHandler.GetFollowers)
		r.Get("/users/{id}/following", cfg.FollowHandler.GetFollowing)
		r.Get("/users/{id}/follow-counts", cfg.FollowHandler.Counts)
		r.Get("/users/{id}/posts", cfg.PostHandler.ListByUser)
		r.Get("/posts/{id}", cfg.PostHandler.Get)
	})

	// Protected routes - require authentication
	r.Group(func(r chi.Router) {
		r.Use(authmw.AuthMiddleware(cfg.JWTSecret))
		r.Use(followingSet)

		// Current user endpoints
		r.Get("/me", cfg.AuthHandler.Me)

		// Auth actions that require authentication
		r.Post("/auth/logout", cfg.AuthHandler.Logout)
		r.Post("/auth/logout-all", cfg.AuthHandler.LogoutAll)

		// Follow membership
		r.Post("/users/{id}/follow", cfg.FollowHandler.Follow)
		r.Delete("/users/{id}/follow", cfg.FollowHandler.Unfollow)
		r.Get("/users/{id}/has-followed", cfg.FollowHandler.HasFollowed)

		// Home timeline
		r.Get("/timeline", cfg.TimelineHandler.Get)

		// Posts
		r.Post("/posts", cfg.PostHandler.Create)
		r.Delete("/posts/{id}", cfg.PostHandler.Delete)
	})

	return r
}
