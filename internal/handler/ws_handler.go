/*
Package handler provides the HTTP handlers and routing setup for the server.

This file contains HandleWebSocket, which rate limits connection attempts,
validates the bearer token presented on connect, upgrades to WebSocket, and
starts the client pumps. Identity is announced by the client afterward over
the connection itself.
*/
package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"vidchat/internal/app/hub"
	"vidchat/internal/pkg/auth/jwt"
	"vidchat/internal/pkg/errs"
	"vidchat/internal/pkg/limiter"
	"vidchat/internal/pkg/logx"
	"vidchat/internal/pkg/resp"
)

// HandleWebSocket creates the HandlerFunc processing WebSocket connection requests.
func HandleWebSocket(upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := limiter.ClientIP(r)

		if !rateLimiter.GetLimiter(ip).Allow() {
			logx.Warn("WebSocket connection rejected: rate limit exceeded.", "ip", ip)
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		// WebSocket clients cannot set an Authorization header from the
		// browser, so the bearer token rides in the query string.
		tokenString := r.URL.Query().Get("token")
		if tokenString == "" {
			logx.Warn("WebSocket request rejected: missing token")
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		payload, err := jwt.ParseToken(tokenString, deps.Config.JWTSecret)
		if err != nil {
			logx.Warn("WebSocket request rejected: invalid token", "error", err)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		client := hub.NewClient(deps.Hub, conn)

		go client.WritePump()

		deps.Hub.Attach(client)

		logx.Info("WebSocket connection established",
			"conn_id", client.ConnID(),
			"user_id", payload.ID,
		)

		client.ReadPump()
	}
}
