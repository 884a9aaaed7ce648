/*
Package handler provides the HTTP handlers and routing setup for the server.

This file implements custom avatar uploads: the server mints a presigned PUT
URL scoped to the authenticated user, records the new avatar reference, and
serves avatar fetches as redirects to presigned GET URLs.
*/
package handler

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"vidchat/internal/app/storage"
	"vidchat/internal/pkg/auth/jwt"
	"vidchat/internal/pkg/errs"
	"vidchat/internal/pkg/req"
	"vidchat/internal/pkg/resp"
)

// PresignAvatarInput is the JSON body for minting an avatar upload URL.
type PresignAvatarInput struct {
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

// avatarRefPrefix marks a custom uploaded avatar. Generated avatars are
// absolute URLs and never match it.
const avatarRefPrefix = "/api/avatar/"

// supersededAvatarKey maps a replaced avatar reference to the storage key of
// the object it leaves behind. A key comes back only for a custom avatar
// whose key differs from the new one; a same-extension re-upload overwrites
// in place.
func supersededAvatarKey(prevRef, newRef string) (string, bool) {
	if prevRef == "" || prevRef == newRef || !strings.HasPrefix(prevRef, avatarRefPrefix) {
		return "", false
	}
	return "avatars/" + strings.TrimPrefix(prevRef, avatarRefPrefix), true
}

// HandlePresignAvatarURL mints a presigned upload URL for the authenticated
// user's avatar and records the new avatar reference on the account. The
// object key is derived from the user id, so a re-upload replaces the old
// avatar in place; when the extension changes, the object under the old key
// is deleted in the background.
func HandlePresignAvatarURL(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := jwt.GetPayloadFromContext(r)
		if payload == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		var input PresignAvatarInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if customErr := storage.ValidateAvatarSize(input.FileSize); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if customErr := storage.ValidateAvatarType(input.FileName, input.MimeType); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		fileExt := strings.ToLower(filepath.Ext(input.FileName))
		fileKey := fmt.Sprintf("avatars/%s%s", payload.ID, fileExt)

		url, err := deps.Avatars.PresignUpload(
			r.Context(),
			fileKey,
			input.MimeType,
			input.FileSize,
			storage.PresignedURLDuration,
		)

		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
			return
		}

		avatarRef := fmt.Sprintf("%s%s%s", avatarRefPrefix, payload.ID, fileExt)

		u, prevRef, customErr := deps.Accounts.UpdateAvatar(payload.ID, avatarRef)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if oldKey, ok := supersededAvatarKey(prevRef, avatarRef); ok {
			go func(store storage.AvatarStore, key string) {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = store.Delete(ctx, key)
			}(deps.Avatars, oldKey)
		}

		resp.RespondSuccess(w, r, map[string]any{
			"presignedUrl": url,
			"fileKey":      fileKey,
			"user":         u,
		})
	}
}

// HandleGetAvatar redirects to a presigned download URL for a stored avatar.
// The path key is "<userID>.<ext>"; anything outside the avatars/ prefix is
// unreachable by construction.
func HandleGetAvatar(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		if key == "" || strings.Contains(key, "/") || strings.Contains(key, "..") {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		url, err := deps.Avatars.PresignDownload(
			r.Context(),
			"avatars/"+key,
			storage.PresignedURLDuration,
		)

		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrFileStorageFailed))
			return
		}

		http.Redirect(w, r, url, http.StatusFound)
	}
}
