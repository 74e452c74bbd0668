package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// Envelope is the canonical JSON shape returned by every endpoint. Code mirrors
// the HTTP status so clients can branch on the body alone.
type Envelope struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

// Error describes a failed request before it is rendered as an Envelope.
type Error struct {
	Status  int
	Message string
}

// NewError constructs an Error with the provided message and HTTP status.
func NewError(message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Status:  status,
		Message: sanitize(message, 512),
	}
}

// WriteData writes a success envelope with code 200 and the provided payload.
func WriteData(ctx context.Context, w http.ResponseWriter, data any) {
	write(ctx, w, http.StatusOK, Envelope{
		Code:    http.StatusOK,
		Message: "success",
		Data:    data,
	})
}

// WriteDataWithStatus writes a success envelope with a custom HTTP status.
func WriteDataWithStatus(ctx context.Context, w http.ResponseWriter, status int, data any) {
	if status == 0 {
		status = http.StatusOK
	}
	write(ctx, w, status, Envelope{
		Code:    status,
		Message: "success",
		Data:    data,
	})
}

// WriteError renders the error as a failure envelope with a nil data field.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	message := err.Message
	if message == "" {
		message = http.StatusText(status)
	}
	write(ctx, w, status, Envelope{
		Code:    status,
		Message: message,
	})
}

func write(_ context.Context, w http.ResponseWriter, status int, envelope Envelope) {
	if envelope.Timestamp == "" {
		envelope.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope)
}

func sanitize(value string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.TrimSpace(value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
