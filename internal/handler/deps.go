package handler

import (
	"vidchat/internal/app/auth"
	"vidchat/internal/app/hub"
	"vidchat/internal/app/storage"
	"vidchat/internal/configs"
)

// AppDeps bundles the collaborators the HTTP handlers need.
type AppDeps struct {
	Hub      *hub.Hub
	Accounts *auth.Store
	Config   *configs.AppConfig

	// Avatars is nil when S3 storage is not configured; the avatar routes
	// are not mounted in that case.
	Avatars storage.AvatarStore
}
