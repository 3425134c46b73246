package resilience

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/sony/gobreaker/v2"
)

func TestBreakerSettings_TripsOnFailureRatio(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	var observed []gobreaker.State
	cb := gobreaker.NewCircuitBreaker[struct{}](BreakerSettings("test", logger, func(_ string, to gobreaker.State) {
		observed = append(observed, to)
	}))

	failing := func() (struct{}, error) { return struct{}{}, errors.New("boom") }
	for i := 0; i < 5; i++ {
		_, _ = cb.Execute(failing)
	}

	if cb.State() != gobreaker.StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
	if len(observed) != 1 || observed[0] != gobreaker.StateOpen {
		t.Errorf("observed = %v, want [open]", observed)
	}
	if !strings.Contains(buf.String(), "サーキットブレーカーの状態が変化しました") {
		t.Errorf("状態遷移ログが出力されていません: %s", buf.String())
	}

	_, err := cb.Execute(func() (struct{}, error) { return struct{}{}, nil })
	if !IsRejected(err) {
		t.Errorf("open状態の呼び出しは拒否されるべき: %v", err)
	}
}

func TestBreakerSettings_DoesNotTripBelowMinimumRequests(t *testing.T) {
	cb := gobreaker.NewCircuitBreaker[struct{}](BreakerSettings("test", slog.Default(), nil))
	for i := 0; i < 4; i++ {
		_, _ = cb.Execute(func() (struct{}, error) { return struct{}{}, errors.New("boom") })
	}
	if cb.State() != gobreaker.StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestIsRejected(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{gobreaker.ErrOpenState, true},
		{gobreaker.ErrTooManyRequests, true},
		{fmt.Errorf("wrap: %w", gobreaker.ErrOpenState), true},
		{errors.New("other"), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := IsRejected(tt.err); got != tt.want {
			t.Errorf("IsRejected(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
