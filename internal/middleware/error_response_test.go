package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/mpheat/internal/model"
)

func TestWriteErrorResponse_WritesUnifiedFormat(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidStarError(9))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeInvalidStar || body.Category != "validation" {
		t.Errorf("body = %+v", body)
	}
	if body.Message == "" || body.Action == "" {
		t.Errorf("messageとactionは必須: %+v", body)
	}
}

func TestWriteInternalServerError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteInternalServerError(w)

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if w.Code != http.StatusInternalServerError || body.Code != model.ErrCodeInternal || body.Category != "system" {
		t.Errorf("status = %d, body = %+v", w.Code, body)
	}
}

func TestWriteRetryableErrorResponse_RetryAfter(t *testing.T) {
	tests := []struct {
		name       string
		retryAfter time.Duration
		want       string
	}{
		{"ちょうど20秒", 20 * time.Second, "20"},
		{"端数は切り上げ", 6*time.Second + time.Millisecond, "7"},
		{"0は1秒", 0, "1"},
		{"1秒未満は1秒", 300 * time.Millisecond, "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteRetryableErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError(), tt.retryAfter)

			if w.Code != http.StatusTooManyRequests {
				t.Errorf("status = %d, want 429", w.Code)
			}
			if got := w.Header().Get("Retry-After"); got != tt.want {
				t.Errorf("Retry-After = %q, want %q", got, tt.want)
			}
		})
	}
}
