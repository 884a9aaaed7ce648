/*
Package handler provides the HTTP handlers and routing setup for the server.

This file implements the authentication boundary: account registration and
login, each returning a bearer token plus the user identity the client then
announces over the WebSocket transport.
*/
package handler

import (
	"net/http"

	"vidchat/internal/app/user"
	"vidchat/internal/pkg/auth/jwt"
	"vidchat/internal/pkg/errs"
	"vidchat/internal/pkg/logx"
	"vidchat/internal/pkg/req"
	"vidchat/internal/pkg/resp"
)

// CredentialsInput is the JSON body of both register and login requests.
type CredentialsInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// respondWithToken issues a JWT for the user and writes the {token, user}
// response shared by register and login.
func respondWithToken(w http.ResponseWriter, r *http.Request, deps *AppDeps, u user.User) {
	payload := &jwt.Payload{
		ID:       u.ID,
		Username: u.Username,
		Avatar:   u.Avatar,
	}

	tokenString, err := jwt.GenerateToken(payload, deps.Config.JWTSecret, jwt.IdentityExpiration)
	if err != nil {
		logx.Error(err, "Failed to generate identity token", "user_id", u.ID)
		resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
		return
	}

	resp.RespondSuccess(w, r, map[string]any{
		"token": tokenString,
		"user":  u,
	})
}

// HandleRegister creates a new account and signs the user in.
func HandleRegister(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input CredentialsInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		u, customErr := deps.Accounts.Register(input.Username, input.Password)
		if customErr != nil {
			if customErr.Code == errs.ErrUserAlreadyExists {
				logx.Warn("registration conflict: username already exists", "username", input.Username)
			}
			resp.RespondError(w, r, customErr)
			return
		}

		logx.Info("User registered", "user_id", u.ID, "username", u.Username)
		respondWithToken(w, r, deps, u)
	}
}

// HandleLogin verifies credentials and signs the user in.
func HandleLogin(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input CredentialsInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		u, customErr := deps.Accounts.Login(input.Username, input.Password)
		if customErr != nil {
			logx.Warn("login failed", "username", input.Username)
			resp.RespondError(w, r, customErr)
			return
		}

		respondWithToken(w, r, deps, u)
	}
}
