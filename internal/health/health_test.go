package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/livescribe/internal/health"
	sttmock "github.com/MrWong99/livescribe/pkg/provider/stt/mock"
)

type body struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func get(t *testing.T, h *health.Handler, path string, ctx context.Context) (int, body) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	req := httptest.NewRequest(http.MethodGet, path, nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var b body
	if err := json.NewDecoder(rec.Body).Decode(&b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, b
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestHealthz(t *testing.T) {
	t.Parallel()

	h := health.New(health.Recognizer(&sttmock.Recognizer{}))
	code, b := get(t, h, "/healthz", context.Background())
	if code != http.StatusOK || b.Status != "ok" {
		t.Errorf("healthz = %d %q, want 200 ok even when not ready", code, b.Status)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []health.Checker
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
		},
		{
			name:       "model loaded",
			checkers:   []health.Checker{health.Recognizer(&sttmock.Recognizer{Initialized: true})},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"recognizer": "ok"},
		},
		{
			name: "model missing",
			checkers: []health.Checker{
				health.Recognizer(&sttmock.Recognizer{}),
				health.Store(pinger{}),
			},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"recognizer": "fail: ", "store": "ok"},
		},
		{
			name:       "store down",
			checkers:   []health.Checker{health.Store(pinger{err: errors.New("connection refused")})},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"store": "fail: connection refused"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			code, b := get(t, health.New(tc.checkers...), "/readyz", context.Background())
			if code != tc.wantStatus {
				t.Errorf("status = %d, want %d", code, tc.wantStatus)
			}
			for name, prefix := range tc.wantChecks {
				if !strings.HasPrefix(b.Checks[name], prefix) {
					t.Errorf("check %s = %q, want prefix %q", name, b.Checks[name], prefix)
				}
			}
		})
	}
}

func TestReadyz_CancelledRequest(t *testing.T) {
	t.Parallel()

	h := health.New(health.Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	code, b := get(t, h, "/readyz", ctx)
	if code != http.StatusServiceUnavailable || b.Status != "fail" {
		t.Errorf("readyz = %d %q, want 503 fail", code, b.Status)
	}
}
