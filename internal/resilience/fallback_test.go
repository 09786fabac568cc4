package resilience_test

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/livescribe/internal/resilience"
)

func TestFallbackGroup_Order(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fail    map[string]bool
		want    string
		wantErr bool
	}{
		{"primary serves", nil, "primary", false},
		{"fallback on failure", map[string]bool{"primary": true}, "secondary", false},
		{"all fail", map[string]bool{"primary": true, "secondary": true}, "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			g := resilience.NewFallbackGroup("primary", "primary", resilience.FallbackConfig{})
			g.AddFallback("secondary", "secondary")

			got, err := resilience.ExecuteWithResult(g, func(name string) (string, error) {
				if tc.fail[name] {
					return "", errBackend
				}
				return name, nil
			})
			if tc.wantErr {
				if !errors.Is(err, resilience.ErrAllFailed) || !errors.Is(err, errBackend) {
					t.Errorf("err = %v, want ErrAllFailed wrapping the last error", err)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Errorf("got %q, %v; want %q", got, err, tc.want)
			}
		})
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()

	g := resilience.NewFallbackGroup("primary", "primary", resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	g.AddFallback("secondary", "secondary")

	var calls []string
	call := func(name string) error {
		calls = append(calls, name)
		if name == "primary" {
			return errBackend
		}
		return nil
	}
	for range 3 {
		if err := g.Execute(call); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}

	want := []string{"primary", "secondary", "primary", "secondary", "secondary"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", calls, want)
		}
	}
	if g.Breaker("primary").State() != resilience.StateOpen {
		t.Errorf("primary breaker = %v, want open", g.Breaker("primary").State())
	}
	if g.Breaker("missing") != nil {
		t.Error("Breaker returned a breaker for an unknown name")
	}
}
