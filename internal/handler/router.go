/*
Package handler provides the HTTP handlers and routing setup for the server.

This file defines the main Router, applying logging, CORS, and IP-based rate
limiting before delegating to the auth, avatar, and WebSocket handlers.
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"vidchat/internal/pkg/auth/jwt"
	"vidchat/internal/pkg/limiter"
	"vidchat/internal/pkg/logx"
	"vidchat/internal/pkg/resp"
)

const (
	AuthRate  = 0.2
	AuthBurst = 5
	JoinRate  = 0.5
	JoinBurst = 10
)

// Router sets up the HTTP routing table: auth endpoints, optional avatar
// endpoints, the health check, and the WebSocket upgrade route.
func Router(deps *AppDeps) http.Handler {
	authLimiter := limiter.NewIPRateLimiter(rate.Limit(AuthRate), AuthBurst)
	joinLimiter := limiter.NewIPRateLimiter(rate.Limit(JoinRate), JoinBurst)

	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	var wsUpgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.Environment == "development" {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.Environment == "development" {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		data := map[string]string{
			"status":  "ok",
			"service": "vidchat-server",
		}
		resp.RespondSuccess(w, r, data)
	})

	r.Route("/api", func(api chi.Router) {
		api.Group(func(public chi.Router) {
			public.Use(authLimiter.Middleware)
			public.Post("/register", HandleRegister(deps))
			public.Post("/login", HandleLogin(deps))
		})

		if deps.Avatars != nil {
			api.Group(func(avatar chi.Router) {
				avatar.Use(jwt.IdentityExtractorMiddleware(deps.Config.JWTSecret))
				avatar.Post("/avatar/presign", HandlePresignAvatarURL(deps))
			})
			api.Get("/avatar/{key}", HandleGetAvatar(deps))
		}
	})

	r.Get("/ws", HandleWebSocket(wsUpgrader, joinLimiter, deps))

	return r
}
