package oauth

import "fmt"

// RFC 6749 / resource-server error codes.
const (
	ErrInvalidRequest       = "invalid_request"
	ErrInvalidClient        = "invalid_client"
	ErrInvalidGrant         = "invalid_grant"
	ErrInvalidScope         = "invalid_scope"
	ErrAccessDenied         = "access_denied"
	ErrUnsupportedGrantType = "unsupported_grant_type"
	ErrUnauthorized         = "unauthorized"
	ErrForbidden            = "forbidden"
	ErrUnavailable          = "unavailable"
)

// Error is a protocol-level error carrying an RFC 6749 error code. It is
// serialized verbatim as {"error": ..., "error_description": ...}.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewError builds a protocol error with a formatted description.
func NewError(code, format string, args ...any) *Error {
	return &Error{Code: code, Description: fmt.Sprintf(format, args...)}
}
