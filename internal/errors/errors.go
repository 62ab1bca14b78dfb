// Package errors maps domain errors onto HTTP responses and recovers
// handler panics.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/copyleftdev/cmadac/internal/optimization"
)

// ErrNotFound marks a reference to an unknown resource, such as a closed
// environment session.
var ErrNotFound = stderrors.New("not found")

// Response is the JSON body written for failed REST requests.
type Response struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// StatusCode returns the HTTP status for err.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case stderrors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, optimization.ErrInvalidState):
		return http.StatusConflict
	case stderrors.Is(err, optimization.ErrInvalidConfig),
		stderrors.Is(err, optimization.ErrInvalidArgument):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// IsClientError reports whether err is caused by the request rather than
// the server.
func IsClientError(err error) bool {
	code := StatusCode(err)
	return code >= 400 && code < 500
}

// WriteJSON writes err as a JSON Response with the mapped status code.
// Internal errors are reported without their detail.
func WriteJSON(w http.ResponseWriter, err error) int {
	code := StatusCode(err)
	body := Response{Error: http.StatusText(code)}
	if code < http.StatusInternalServerError {
		body.Error = err.Error()
		body.Kind = string(optimization.KindOf(err))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
	return code
}
