package http

import (
	"net/http"
	"strings"

	"financas/internal/balance"
	applog "financas/internal/log"
)

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	profile := strings.TrimSpace(q.Get("profile"))
	if profile == "" {
		writeError(w, http.StatusBadRequest, "profile is required")
		return
	}
	month, err := parseMonthParam(q, s.now())
	if err != nil {
		s.fail(w, r, applog.OpRead, err)
		return
	}

	b, err := s.ledger.MonthlyBalances(r.Context(), profile, month)
	if err != nil {
		s.fail(w, r, applog.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleGroupBalances(w http.ResponseWriter, r *http.Request) {
	month, err := parseMonthParam(r.URL.Query(), s.now())
	if err != nil {
		s.fail(w, r, applog.OpRead, err)
		return
	}
	members, err := s.ledger.GroupBalances(r.Context(), month)
	if err != nil {
		s.fail(w, r, applog.OpRead, err)
		return
	}
	if members == nil {
		members = []balance.MemberBalance{}
	}
	writeJSON(w, http.StatusOK, members)
}

func (s *Server) handleDebts(w http.ResponseWriter, r *http.Request) {
	month, err := parseMonthParam(r.URL.Query(), s.now())
	if err != nil {
		s.fail(w, r, applog.OpRead, err)
		return
	}
	debts, err := s.ledger.Debts(r.Context(), month)
	if err != nil {
		s.fail(w, r, applog.OpRead, err)
		return
	}
	if debts == nil {
		debts = []balance.Debt{}
	}
	writeJSON(w, http.StatusOK, debts)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	f := parseReportFilters(r.URL.Query(), s.now())
	rep, err := s.ledger.Report(r.Context(), f)
	if err != nil {
		s.fail(w, r, applog.OpReport, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
