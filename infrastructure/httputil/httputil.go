// Package httputil provides the small set of HTTP response helpers the
// orchestrator's REST surface shares: JSON encoding/decoding and mapping a
// ServiceError onto the wire format the API's original FastAPI surface used
// ({"detail": "..."}), including the WWW-Authenticate challenge header.
package httputil

import (
	"encoding/json"
	"net/http"

	svcerrors "github.com/r3e-network/dronectl/infrastructure/errors"
	"github.com/r3e-network/dronectl/infrastructure/logging"
)

var defaultLogger = logging.NewFromEnv("httputil")

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		defaultLogger.WithError(err).Warn("write json response")
	}
}

// detailBody is the response envelope: a flat {"detail": "..."} object.
type detailBody struct {
	Detail string `json:"detail"`
}

// WriteError writes {"detail": message} with the given status.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, detailBody{Detail: message})
}

// WriteServiceError maps a *errors.ServiceError onto the wire: its HTTP
// status, a {"detail": message} body, and — when present — a
// WWW-Authenticate challenge header carried in Details["www_authenticate"].
// Any other error is reported as a 500 with a generic message.
func WriteServiceError(w http.ResponseWriter, err error) {
	serviceErr := svcerrors.GetServiceError(err)
	if serviceErr == nil {
		WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if challenge, ok := serviceErr.Details["www_authenticate"].(string); ok && challenge != "" {
		w.Header().Set("WWW-Authenticate", challenge)
	}
	WriteError(w, serviceErr.HTTPStatus, serviceErr.Message)
}

// DecodeJSON decodes a JSON request body into v. Returns false and writes a
// 422 response if decoding fails.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "invalid request body")
		return false
	}
	return true
}
