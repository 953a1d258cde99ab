package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewAttachesComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: slog.LevelInfo, Component: ComponentLedger, Output: &buf})
	l.Info("hello", "k", "v")

	out := buf.String()
	if !strings.Contains(out, "component=ledger") || !strings.Contains(out, "k=v") {
		t.Fatalf("unexpected output: %q", out)
	}
	if l.Component() != ComponentLedger {
		t.Fatalf("Component() = %q", l.Component())
	}
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: slog.LevelWarn, Output: &buf})
	l.Info("quiet")
	l.Warn("loud")
	if strings.Contains(buf.String(), "quiet") || !strings.Contains(buf.String(), "loud") {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}

func TestFieldsBuilder(t *testing.T) {
	f := NewFields().
		WithTransaction("t1", "expense", 12.5, "me").
		WithError(errors.New("boom")).
		WithError(nil).
		WithRequestID("")

	if f[FieldTransactionID] != "t1" || f[FieldAmount] != 12.5 || f[FieldError] != "boom" {
		t.Fatalf("unexpected fields: %v", f)
	}
	if _, ok := f[FieldRequestID]; ok {
		t.Fatal("empty request id should be omitted")
	}
	if got := len(f.ToSlice()); got != 2*len(f) {
		t.Fatalf("ToSlice length = %d, want %d", got, 2*len(f))
	}
}

func TestMiddlewareCarriesLogger(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Output: &buf, Component: ComponentHTTP})

	var got *Logger
	h := Middleware(base)(RequestIDMiddleware(func(*http.Request) string { return "req_1" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = FromContext(r.Context())
			got.Info("inside")
		})))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if got == nil || got.Component() != ComponentHTTP {
		t.Fatal("expected logger from context")
	}
	if !strings.Contains(buf.String(), "request_id=req_1") {
		t.Fatalf("expected request id in output: %q", buf.String())
	}
}

func TestFromContextDefault(t *testing.T) {
	if l := FromContext(context.Background()); l.Component() != "unknown" {
		t.Fatalf("Component() = %q", l.Component())
	}
}

func TestLogHTTPEndLevels(t *testing.T) {
	cases := []struct {
		status int
		level  string
	}{
		{200, "level=INFO"},
		{404, "level=WARN"},
		{500, "level=ERROR"},
	}
	for _, c := range cases {
		var buf bytes.Buffer
		sl := NewStructuredLogger(New(Config{Output: &buf}))
		r := httptest.NewRequest(http.MethodGet, "/api/balances?month=2024-01", nil)
		sl.LogHTTPEnd(context.Background(), r, "req_x", c.status, 3, "127.0.0.1")
		if !strings.Contains(buf.String(), c.level) {
			t.Errorf("status %d: expected %s in %q", c.status, c.level, buf.String())
		}
	}
}
