package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func decodeEnvelope(t *testing.T, recorder *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var envelope Envelope
	if err := json.Unmarshal(recorder.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return envelope
}

func TestWriteData(t *testing.T) {
	recorder := httptest.NewRecorder()
	WriteData(context.Background(), recorder, map[string]any{"orderId": "ord_1"})

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if ct := recorder.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}

	envelope := decodeEnvelope(t, recorder)
	if envelope.Code != http.StatusOK || envelope.Message != "success" {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
	data, ok := envelope.Data.(map[string]any)
	if !ok || data["orderId"] != "ord_1" {
		t.Fatalf("unexpected data: %#v", envelope.Data)
	}
	if _, err := time.Parse(time.RFC3339Nano, envelope.Timestamp); err != nil {
		t.Fatalf("timestamp must be RFC3339Nano, got %q: %v", envelope.Timestamp, err)
	}
}

func TestWriteDataWithStatus(t *testing.T) {
	recorder := httptest.NewRecorder()
	WriteDataWithStatus(context.Background(), recorder, http.StatusCreated, "ok")

	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", recorder.Code)
	}
	envelope := decodeEnvelope(t, recorder)
	if envelope.Code != http.StatusCreated || envelope.Message != "success" {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
}

func TestWriteErrorMirrorsStatusAndNilsData(t *testing.T) {
	recorder := httptest.NewRecorder()
	WriteError(context.Background(), recorder, NewError("order not found", http.StatusNotFound))

	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
	envelope := decodeEnvelope(t, recorder)
	if envelope.Code != http.StatusNotFound || envelope.Message != "order not found" {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
	if envelope.Data != nil {
		t.Fatalf("error envelope data must be null, got %#v", envelope.Data)
	}
	if !strings.Contains(recorder.Body.String(), `"data":null`) {
		t.Fatalf("data field must be serialised as null: %s", recorder.Body.String())
	}
}

func TestNewErrorDefaultsAndSanitises(t *testing.T) {
	err := NewError("line1\nline2", 0)
	if err.Status != http.StatusInternalServerError {
		t.Fatalf("expected default 500, got %d", err.Status)
	}
	if strings.Contains(err.Message, "\n") {
		t.Fatalf("newlines must be stripped, got %q", err.Message)
	}

	long := NewError(strings.Repeat("x", 1000), http.StatusBadRequest)
	if len(long.Message) > 512 {
		t.Fatalf("message must be truncated, got %d chars", len(long.Message))
	}
}

func TestWriteErrorFallbackMessage(t *testing.T) {
	recorder := httptest.NewRecorder()
	WriteError(context.Background(), recorder, Error{Status: http.StatusServiceUnavailable})

	envelope := decodeEnvelope(t, recorder)
	if envelope.Message != http.StatusText(http.StatusServiceUnavailable) {
		t.Fatalf("expected status text fallback, got %q", envelope.Message)
	}
}
