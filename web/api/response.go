package api

import (
	"github.com/rohanthewiz/rweb"
)

// APIResponse is the standard envelope for all API responses.
// The hub uses the same shape, so clients can share one decoder.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// writeSuccess sends a successful JSON response with data.
// Uses rweb's built-in WriteJSON which sets content-type automatically.
func writeSuccess(ctx rweb.Context, status int, data interface{}) error {
	ctx.SetStatus(status)
	return ctx.WriteJSON(APIResponse{Success: true, Data: data})
}

// writeError sends an error JSON response.
func writeError(ctx rweb.Context, status int, message string) error {
	ctx.SetStatus(status)
	return ctx.WriteJSON(APIResponse{Success: false, Error: message})
}

// GetCurrentUserGUID returns the user set by the auth middleware, or "".
func GetCurrentUserGUID(ctx rweb.Context) string {
	guid, _ := ctx.Get("user_guid").(string)
	return guid
}

// IsAuthenticated checks if the request has valid authentication.
func IsAuthenticated(ctx rweb.Context) bool {
	auth, _ := ctx.Get("authenticated").(bool)
	return auth
}
