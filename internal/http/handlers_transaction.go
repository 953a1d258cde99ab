package http

import (
	"net/http"
	"strings"

	"financas/internal/core"
	applog "financas/internal/log"
)

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := decodeTransaction(r)
	if err != nil {
		s.fail(w, r, applog.OpCreate, err)
		return
	}
	created, err := s.ledger.AddTransaction(r.Context(), tx)
	if err != nil {
		s.fail(w, r, applog.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleCreateSplit(w http.ResponseWriter, r *http.Request) {
	tx, err := decodeTransaction(r)
	if err != nil {
		s.fail(w, r, applog.OpCreate, err)
		return
	}
	created, err := s.ledger.AddSplitExpense(r.Context(), tx)
	if err != nil {
		s.fail(w, r, applog.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleCreateInstallments(w http.ResponseWriter, r *http.Request) {
	n, err := parseCount(r.URL.Query())
	if err != nil {
		s.fail(w, r, applog.OpCreate, err)
		return
	}
	tx, err := decodeTransaction(r)
	if err != nil {
		s.fail(w, r, applog.OpCreate, err)
		return
	}
	created, err := s.ledger.AddInstallments(r.Context(), tx, n)
	if err != nil {
		s.fail(w, r, applog.OpCreate, err)
		return
	}
	if created == nil {
		created = []core.Transaction{}
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	tx, err := s.ledger.GetTransaction(r.Context(), id)
	if err != nil {
		s.fail(w, r, applog.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if err := s.ledger.DeleteTransaction(r.Context(), id); err != nil {
		s.fail(w, r, applog.OpDelete, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
