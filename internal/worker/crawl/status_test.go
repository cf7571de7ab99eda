package crawl

import "testing"

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Outcome
	}{
		{0, OutcomeNone},
		{200, OutcomeOK},
		{204, OutcomeOK},
		{302, OutcomeFailed},
		{404, OutcomeFailed},
		{500, OutcomeFailed},
		{403, OutcomeThrottled},
		{429, OutcomeThrottled},
	}
	for _, tt := range tests {
		if got := ClassifyHTTPStatus(tt.status); got != tt.want {
			t.Errorf("ClassifyHTTPStatus(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestWorseStatus(t *testing.T) {
	tests := []struct {
		a, b, want int
	}{
		{200, 200, 200},
		{200, 404, 404},
		{404, 200, 404},
		{404, 429, 429},
		{429, 500, 429},
		{403, 429, 403},
		{0, 200, 200},
		{200, 0, 200},
	}
	for _, tt := range tests {
		if got := WorseStatus(tt.a, tt.b); got != tt.want {
			t.Errorf("WorseStatus(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestFailureReason(t *testing.T) {
	if got := FailureReason(0); got != "transport" {
		t.Errorf("FailureReason(0) = %q", got)
	}
	if got := FailureReason(429); got != "throttled" {
		t.Errorf("FailureReason(429) = %q", got)
	}
	if got := FailureReason(502); got != "http_status" {
		t.Errorf("FailureReason(502) = %q", got)
	}
	if got := FailureReason(200); got != "" {
		t.Errorf("FailureReason(200) = %q", got)
	}
}
