package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"mindlink/pkg/types"
)

// Envelope wraps every JSON response.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, Envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Envelope{Success: false, Error: message})
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch types.KindOf(err) {
	case types.KindNotFound:
		return http.StatusNotFound
	case types.KindPermission:
		return http.StatusForbidden
	case types.KindAuth:
		return http.StatusUnauthorized
	case types.KindValidation:
		return http.StatusBadRequest
	case types.KindRateLimit:
		return http.StatusTooManyRequests
	case types.KindAggregation:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
