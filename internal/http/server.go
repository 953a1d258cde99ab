package http

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"financas/internal/balance"
	"financas/internal/core"
	applog "financas/internal/log"
	"financas/internal/middleware/ratelimit"
	"financas/internal/middleware/security"
	"financas/internal/middleware/trace"
	"financas/internal/report"
	"financas/internal/services"
)

// Ensure interface conformance
var _ Ledger = (*services.LedgerService)(nil)

// Ledger is the service surface the API exposes.
type Ledger interface {
	AddTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error)
	AddSplitExpense(ctx context.Context, tx core.Transaction) (core.Transaction, error)
	AddInstallments(ctx context.Context, tx core.Transaction, n int) ([]core.Transaction, error)
	GetTransaction(ctx context.Context, id string) (core.Transaction, error)
	DeleteTransaction(ctx context.Context, id string) error

	MonthlyBalances(ctx context.Context, profileID string, ref time.Time) (balance.Balances, error)
	GroupBalances(ctx context.Context, ref time.Time) ([]balance.MemberBalance, error)
	Debts(ctx context.Context, ref time.Time) ([]balance.Debt, error)
	Report(ctx context.Context, f report.Filters) (report.Report, error)
}

// Pinger reports backend readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options tune the middleware chain.
type Options struct {
	Logger          *applog.Logger
	WritesPerMinute int

	// Now is the clock used for default months. Defaults to time.Now.
	Now func() time.Time
}

type Server struct {
	http.Server
	ledger  Ledger
	ready   Pinger
	logger  *applog.Logger
	errs    *applog.StructuredLogger
	limiter *ratelimit.Limiter
	tracer  *trace.Middleware
	now     func() time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, ledger Ledger, ready Pinger, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = applog.New(applog.Config{Component: applog.ComponentHTTP})
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Server{
		ledger:  ledger,
		ready:   ready,
		logger:  opts.Logger,
		errs:    applog.NewStructuredLogger(opts.Logger),
		limiter: ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.WritesPerMinute}),
		now:     opts.Now,
	}
	s.tracer = trace.NewMiddleware(opts.Logger, clientIP)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /api/balances", s.handleBalances)
	mux.HandleFunc("GET /api/groups/balances", s.handleGroupBalances)
	mux.HandleFunc("GET /api/groups/debts", s.handleDebts)
	mux.HandleFunc("GET /api/reports", s.handleReport)

	mux.HandleFunc("POST /api/transactions", s.handleCreateTransaction)
	mux.HandleFunc("POST /api/transactions/split", s.handleCreateSplit)
	mux.HandleFunc("POST /api/transactions/installments", s.handleCreateInstallments)
	mux.HandleFunc("GET /api/transactions/{id}", s.handleGetTransaction)
	mux.HandleFunc("DELETE /api/transactions/{id}", s.handleDeleteTransaction)

	var h http.Handler = mux
	h = s.limiter.Middleware(clientIP, isWrite, func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded, try again later")
	})(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = s.tracer.Middleware(h)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// Metrics returns request counters from the trace middleware.
func (s *Server) Metrics() trace.Metrics {
	return s.tracer.GetMetrics()
}

func isWrite(r *http.Request) bool {
	return r.Method == http.MethodPost || r.Method == http.MethodDelete
}

// clientIP extracts the caller address, preferring proxy headers.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready.Ping(ctx); err != nil {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
