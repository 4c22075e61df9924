// Package response writes the JSON envelope every handler answers with.
package response

import (
	"encoding/json"
	"net/http"
)

// Response is the JSON envelope.
type Response struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// WriteJSON writes the envelope with status. A nil err leaves the error field out.
func WriteJSON(w http.ResponseWriter, status int, message string, data any, err error) {
	r := Response{
		Message: message,
		Data:    data,
	}

	if err != nil {
		r.Error = err.Error()
	}

	body, marshalErr := json.Marshal(r)
	if marshalErr != nil {
		http.Error(w, marshalErr.Error(), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// OK writes 200.
func OK(w http.ResponseWriter, message string, data any) {
	WriteJSON(w, http.StatusOK, message, data, nil)
}

// Accepted writes 202.
func Accepted(w http.ResponseWriter, message string, data any) {
	WriteJSON(w, http.StatusAccepted, message, data, nil)
}

// NoContent writes 204 without a body.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// BadRequest writes 400.
func BadRequest(w http.ResponseWriter, message string, err error) {
	WriteJSON(w, http.StatusBadRequest, message, nil, err)
}

// NotFound writes 404.
func NotFound(w http.ResponseWriter, message string, err error) {
	WriteJSON(w, http.StatusNotFound, message, nil, err)
}

// Conflict writes 409 with the conflicting resource.
func Conflict(w http.ResponseWriter, message string, data any, err error) {
	WriteJSON(w, http.StatusConflict, message, data, err)
}

// UnprocessableEntity writes 422.
func UnprocessableEntity(w http.ResponseWriter, message string, err error) {
	WriteJSON(w, http.StatusUnprocessableEntity, message, nil, err)
}

// ServiceUnavailable writes 503.
func ServiceUnavailable(w http.ResponseWriter, message string, err error) {
	WriteJSON(w, http.StatusServiceUnavailable, message, nil, err)
}

// InternalServerError writes 500.
func InternalServerError(w http.ResponseWriter, message string, err error) {
	WriteJSON(w, http.StatusInternalServerError, message, nil, err)
}
