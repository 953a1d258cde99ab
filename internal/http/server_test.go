package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"financas/internal/balance"
	"financas/internal/core"
	applog "financas/internal/log"
	"financas/internal/report"
	"financas/internal/services"
	"financas/internal/storage/memory"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func newTestServer(t *testing.T, writesPerMinute int, ready Pinger) (*Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	if err := store.SaveCard(ctx, core.Card{ID: "nu", Name: "Nubank", ClosingDay: 10}); err != nil {
		t.Fatalf("SaveCard: %v", err)
	}
	for _, p := range []core.Profile{{ID: "me", Name: "Eu"}, {ID: "ana", Name: "Ana"}} {
		if err := store.SaveProfile(ctx, p); err != nil {
			t.Fatalf("SaveProfile: %v", err)
		}
	}
	if err := store.SaveCategory(ctx, core.Category{ID: "food", Name: "Comida"}); err != nil {
		t.Fatalf("SaveCategory: %v", err)
	}

	ledger := services.NewLedgerService(store, nil, services.Options{})
	srv := NewServer(":0", ledger, ready, Options{
		Logger:          applog.New(applog.Config{Output: &bytes.Buffer{}, Component: applog.ComponentHTTP}),
		WritesPerMinute: writesPerMinute,
		Now:             func() time.Time { return time.Date(2024, 3, 20, 12, 0, 0, 0, time.Local) },
	})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv, store
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestHealthAndReady(t *testing.T) {
	srv, _ := newTestServer(t, 60, fakePinger{})
	for _, path := range []string{"/healthz", "/readyz"} {
		rr := do(t, srv, http.MethodGet, path, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Fatalf("%s: missing request id header", path)
		}
		if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Fatalf("%s: missing security headers", path)
		}
	}

	down, _ := newTestServer(t, 60, fakePinger{err: errors.New("db gone")})
	if rr := do(t, down, http.MethodGet, "/readyz", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz with failing backend status=%d", rr.Code)
	}
}

func TestCreateTransactionDerivesInvoice(t *testing.T) {
	srv, _ := newTestServer(t, 60, nil)
	body := `{"type":"expense","amount":"120,50","date":"2024-02-15","card_id":"nu","payer_id":"me","category_id":"food","description":"mercado"}`

	rr := do(t, srv, http.MethodPost, "/api/transactions", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	tx := decode[core.Transaction](t, rr)
	if tx.ID == "" || tx.Amount != 120.5 || tx.InvoiceDate != "2024-03-01" {
		t.Fatalf("unexpected transaction: %+v", tx)
	}

	rr = do(t, srv, http.MethodGet, "/api/transactions/"+tx.ID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get status=%d", rr.Code)
	}
	got := decode[core.Transaction](t, rr)
	if got.Category == nil || got.Category.Name != "Comida" {
		t.Fatalf("expected hydrated category, got %+v", got.Category)
	}

	if rr := do(t, srv, http.MethodDelete, "/api/transactions/"+tx.ID, ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", rr.Code)
	}
	if rr := do(t, srv, http.MethodDelete, "/api/transactions/"+tx.ID, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status=%d", rr.Code)
	}
	if rr := do(t, srv, http.MethodGet, "/api/transactions/"+tx.ID, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("get deleted status=%d", rr.Code)
	}
}

func TestCreateTransactionErrors(t *testing.T) {
	srv, _ := newTestServer(t, 1000, nil)
	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"empty body", "/api/transactions", "", http.StatusBadRequest},
		{"malformed json", "/api/transactions", `{"type":`, http.StatusBadRequest},
		{"unknown field", "/api/transactions", `{"type":"expense","amount":1,"date":"2024-01-01","payer_id":"me","bogus":1}`, http.StatusBadRequest},
		{"bad amount", "/api/transactions", `{"type":"expense","amount":"abc","date":"2024-01-01","payer_id":"me"}`, http.StatusUnprocessableEntity},
		{"bad type", "/api/transactions", `{"type":"gift","amount":1,"date":"2024-01-01","payer_id":"me"}`, http.StatusUnprocessableEntity},
		{"bad date", "/api/transactions", `{"type":"expense","amount":1,"date":"2024-13-01","payer_id":"me"}`, http.StatusUnprocessableEntity},
		{"unknown card", "/api/transactions", `{"type":"expense","amount":1,"date":"2024-01-01","payer_id":"me","card_id":"visa"}`, http.StatusUnprocessableEntity},
		{"split without shares", "/api/transactions/split", `{"type":"expense","amount":10,"date":"2024-01-01","payer_id":"me"}`, http.StatusUnprocessableEntity},
		{"split duplicate participant", "/api/transactions/split", `{"type":"expense","amount":10,"date":"2024-01-01","payer_id":"me","shares":[{"profile_id":"ana","share_amount":5},{"profile_id":"ana","share_amount":5}]}`, http.StatusUnprocessableEntity},
		{"installments without count", "/api/transactions/installments", `{"type":"expense","amount":10,"date":"2024-01-01","payer_id":"me"}`, http.StatusBadRequest},
		{"installments bad count", "/api/transactions/installments?count=x", `{}`, http.StatusBadRequest},
		{"installments zero", "/api/transactions/installments?count=0", `{"type":"expense","amount":10,"date":"2024-01-01","payer_id":"me"}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, tt.path, tt.body)
			if rr.Code != tt.status {
				t.Fatalf("status=%d want %d body=%s", rr.Code, tt.status, rr.Body.String())
			}
			if e := decode[errorResponse](t, rr); e.Error == "" {
				t.Fatal("expected error message")
			}
		})
	}
}

func TestInstallments(t *testing.T) {
	srv, _ := newTestServer(t, 60, nil)
	body := `{"type":"expense","amount":100,"date":"2024-01-31","payer_id":"me","description":"tv"}`
	rr := do(t, srv, http.MethodPost, "/api/transactions/installments?count=3", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	txs := decode[[]core.Transaction](t, rr)
	if len(txs) != 3 {
		t.Fatalf("expected 3 installments, got %d", len(txs))
	}
	if txs[2].Amount != 33.34 || txs[1].Date != "2024-02-29" || txs[0].SeriesID == "" || txs[0].SeriesID != txs[2].SeriesID {
		t.Fatalf("unexpected installments: %+v", txs)
	}
}

func TestBalancesAndDebts(t *testing.T) {
	srv, _ := newTestServer(t, 60, nil)
	split := `{"type":"expense","amount":100,"date":"2024-03-05","payer_id":"me",
		"shares":[{"profile_id":"me","share_amount":50},{"profile_id":"ana","share_amount":"50"}]}`
	if rr := do(t, srv, http.MethodPost, "/api/transactions/split", split); rr.Code != http.StatusCreated {
		t.Fatalf("split status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr := do(t, srv, http.MethodGet, "/api/balances?profile=me&month=2024-03", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("balances status=%d", rr.Code)
	}
	b := decode[balance.Balances](t, rr)
	if b.MyExpenses != 50 || b.TotalAReceber != 50 || b.NetBalance != 50 {
		t.Fatalf("unexpected balances: %+v", b)
	}

	// month defaults to the server clock (March 2024)
	if got := decode[balance.Balances](t, do(t, srv, http.MethodGet, "/api/balances?profile=me", "")); got != b {
		t.Fatalf("default month balances = %+v, want %+v", got, b)
	}

	debts := decode[[]balance.Debt](t, do(t, srv, http.MethodGet, "/api/groups/debts?month=2024-03", ""))
	if len(debts) != 1 || debts[0].From != "ana" || debts[0].To != "me" || debts[0].Amount != 50 {
		t.Fatalf("unexpected debts: %+v", debts)
	}

	members := decode[[]balance.MemberBalance](t, do(t, srv, http.MethodGet, "/api/groups/balances?month=2024-03", ""))
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %+v", members)
	}

	rr = do(t, srv, http.MethodGet, "/api/groups/debts?month=2023-01", "")
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("expected empty list, got %q", rr.Body.String())
	}

	for _, path := range []string{"/api/balances?month=2024-03", "/api/balances?profile=me&month=march"} {
		if rr := do(t, srv, http.MethodGet, path, ""); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}
}

func TestReport(t *testing.T) {
	srv, _ := newTestServer(t, 60, nil)
	for _, body := range []string{
		`{"type":"income","amount":1000,"date":"2024-03-01","payer_id":"me"}`,
		`{"type":"expense","amount":250.5,"date":"2024-03-10","payer_id":"me","category_id":"food"}`,
	} {
		if rr := do(t, srv, http.MethodPost, "/api/transactions", body); rr.Code != http.StatusCreated {
			t.Fatalf("create status=%d body=%s", rr.Code, rr.Body.String())
		}
	}

	rr := do(t, srv, http.MethodGet, "/api/reports?start=2024-03-01&end=2024-03-31", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("report status=%d body=%s", rr.Code, rr.Body.String())
	}
	rep := decode[report.Report](t, rr)
	if rep.Summary.TotalIncome != 1000 || rep.Summary.TotalExpenses != 250.5 || rep.Summary.Balance != 749.5 {
		t.Fatalf("unexpected summary: %+v", rep.Summary)
	}

	rr = do(t, srv, http.MethodGet, "/api/reports?type=expense&category=food", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("default window status=%d", rr.Code)
	}
	rep = decode[report.Report](t, rr)
	if rep.Filters.StartDate != "2024-03-01" || rep.Filters.EndDate != "2024-03-31" || rep.Summary.TotalIncome != 0 {
		t.Fatalf("unexpected filtered report: %+v", rep)
	}

	for _, q := range []string{"type=gift", "start=2024-03-31&end=2024-03-01", "start=yesterday"} {
		if rr := do(t, srv, http.MethodGet, "/api/reports?"+q, ""); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s status=%d", q, rr.Code)
		}
	}
}

func TestWriteRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, 1, nil)
	body := `{"type":"expense","amount":1,"date":"2024-03-01","payer_id":"me"}`
	if rr := do(t, srv, http.MethodPost, "/api/transactions", body); rr.Code != http.StatusCreated {
		t.Fatalf("first status=%d", rr.Code)
	}
	rr := do(t, srv, http.MethodPost, "/api/transactions", body)
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") != "60" {
		t.Fatalf("second status=%d", rr.Code)
	}
	if rr := do(t, srv, http.MethodGet, "/api/balances?profile=me", ""); rr.Code != http.StatusOK {
		t.Fatalf("reads are not limited, status=%d", rr.Code)
	}
	if got := srv.Metrics().TotalRequests; got != 3 {
		t.Fatalf("TotalRequests = %d", got)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{badRequest{"x"}, http.StatusBadRequest},
		{&services.ValidationError{Err: services.ErrInvalidFilters}, http.StatusBadRequest},
		{&services.ValidationError{Err: core.ErrInvalidAmount}, http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := statusFor(c.err); got != c.want {
			t.Errorf("statusFor(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	if got := clientIP(r); got != "10.0.0.1" {
		t.Fatalf("clientIP = %q", got)
	}
	r.Header.Set("X-Forwarded-For", "1.1.1.1, 2.2.2.2")
	if got := clientIP(r); got != "1.1.1.1" {
		t.Fatalf("clientIP = %q", got)
	}
}
