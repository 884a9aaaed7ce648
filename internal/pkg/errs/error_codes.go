/*
Package errs provides custom error types and application-level error code constants.

These codes identify specific business or system errors both internally and
in responses and WebSocket error events sent to clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON is malformed.
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates trailing content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRateLimitExceeded indicates that the request rate exceeded the set limit.
	ErrRateLimitExceeded = 1005
)

// 2xxx: Chat and Messaging Errors
const (
	// ErrMessageContentTooLong indicates that a chat message exceeded the length limit.
	ErrMessageContentTooLong = 2001

	// ErrIdentityNotAnnounced indicates a chat or call event arrived on a
	// connection that never announced its identity.
	ErrIdentityNotAnnounced = 2002
)

// 3xxx: User, Session, and Security Errors
const (
	// ErrInvalidUsername indicates the username failed format validation.
	ErrInvalidUsername = 3001

	// ErrInvalidPassword indicates the password failed length validation.
	ErrInvalidPassword = 3002

	// ErrUserAlreadyExists indicates the username is already registered.
	ErrUserAlreadyExists = 3003

	// ErrInvalidCredentials indicates a failed username/password check.
	ErrInvalidCredentials = 3004

	// ErrUnauthorized indicates a missing or invalid bearer token.
	ErrUnauthorized = 3005

	// ErrSessionReplaced indicates the connection was superseded by a newer
	// connection announcing the same user.
	ErrSessionReplaced = 3006
)

// 4xxx: Avatar Storage Errors
const (
	// ErrFileSizeTooLarge indicates the avatar exceeds the size limit.
	ErrFileSizeTooLarge = 4001

	// ErrFileTypeInvalid indicates an unsupported avatar image type.
	ErrFileTypeInvalid = 4002

	// ErrFileStorageFailed indicates a storage backend failure.
	ErrFileStorageFailed = 4003
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified server internal error.
	ErrUnknown = 5000
)
