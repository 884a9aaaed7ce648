/*
Package resp provides helpers for constructing standardized HTTP JSON responses.

Successful responses return their payload directly. Errors are returned as
{"error": "...", "code": N} with the HTTP status taken from the CustomError.
*/
package resp

import (
	"encoding/json"
	"net/http"

	"vidchat/internal/pkg/errs"
	"vidchat/internal/pkg/logx"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	// Error is the user-facing error message.
	Error string `json:"error"`

	// Code is the business error code (see the errs package).
	Code int `json:"code,omitempty"`
}

// RespondJSON sets the Content-Type and writes the JSON payload.
func RespondJSON(w http.ResponseWriter, r *http.Request, httpStatus int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	response, err := json.Marshal(payload)
	if err != nil {
		logx.Error(
			err,
			"Error encoding JSON response",
			"http_status", httpStatus,
		)

		http.Error(w, "Error encoding JSON response", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(httpStatus)
	w.Write(response)
}

// RespondSuccess sends the payload with HTTP 200 OK.
func RespondSuccess(w http.ResponseWriter, r *http.Request, data any) {
	RespondJSON(w, r, http.StatusOK, data)
}

// RespondError sends an error response built from a CustomError.
func RespondError(w http.ResponseWriter, r *http.Request, customErr *errs.CustomError) {
	if customErr == nil {
		customErr = errs.NewError(errs.ErrUnknown)
	}

	status := customErr.Status
	if status == 0 || status == http.StatusOK {
		status = http.StatusBadRequest
	}

	RespondJSON(w, r, status, ErrorBody{
		Error: customErr.Message,
		Code:  customErr.Code,
	})
}
