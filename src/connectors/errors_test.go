package connectors

import (
	"errors"
	"testing"
)

func TestIsRateLimited(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"http 429", &APIError{Exchange: "mexc", Status: 429}, true},
		{"mexc frequency code", &APIError{Exchange: "mexc", Status: 200, Code: 510}, true},
		{"phemex rate code", &APIError{Exchange: "phemex", Status: 200, Code: 10072}, true},
		{"message substring", errors.New("remote said: Too Many Requests, slow down"), true},
		{"ordinary api error", &APIError{Exchange: "phemex", Status: 200, Code: 11051, Msg: "TE_INSUFFICIENT_BALANCE"}, false},
		{"plain error", errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		if got := IsRateLimited(tt.err); got != tt.want {
			t.Fatalf("%s: IsRateLimited = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestIsAuthStale(t *testing.T) {
	if !IsAuthStale(&APIError{Exchange: "hydra", Status: 401, Msg: "token expired"}) {
		t.Fatal("401 must read as stale auth")
	}
	if IsAuthStale(&APIError{Exchange: "hydra", Status: 500, Msg: "internal"}) {
		t.Fatal("500 is not stale auth")
	}
}

func TestGetErrorMsg(t *testing.T) {
	if got := GetErrorMsg(11051); got != "TE_INSUFFICIENT_BALANCE" {
		t.Fatalf("unexpected message: %s", got)
	}
	if got := GetErrorMsg(99999); got != "UNKNOWN_PHEMEX_ERROR_99999" {
		t.Fatalf("unexpected fallback: %s", got)
	}
}
