package upstream

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"not found", ErrNotFound, false},
		{"wrapped not found", fmt.Errorf("set lookup: %w", ErrNotFound), false},
		{"rate limited", &APIError{StatusCode: http.StatusTooManyRequests}, true},
		{"server error", &APIError{StatusCode: http.StatusBadGateway}, true},
		{"bad request", &APIError{StatusCode: http.StatusBadRequest}, false},
		{"forbidden", &APIError{StatusCode: http.StatusForbidden}, false},
		{"transport error", errors.New("connection refused"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
