package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/mcclellann/emiLoan/pkg/ledger"
	"github.com/mcclellann/emiLoan/pkg/models"
)

func pathID(w http.ResponseWriter, r *http.Request, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		badRequest(w, "Invalid "+what+" ID")
		return uuid.Nil, false
	}
	return id, true
}

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 1 << 20

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeProblem(w, ProblemDetail{
				Title:  "Request Entity Too Large",
				Status: http.StatusRequestEntityTooLarge,
				Detail: fmt.Sprintf("Request body must not exceed %d bytes", tooLarge.Limit),
			})
			return false
		}
		badRequest(w, "Malformed JSON body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) listLoanTypesHandler(w http.ResponseWriter, r *http.Request) {
	types, err := s.ledger.ListLoanTypes(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if types == nil {
		types = []*models.LoanType{}
	}
	writeJSON(w, http.StatusOK, types)
}

func (s *Server) createLoanTypeHandler(w http.ResponseWriter, r *http.Request) {
	var req ledger.LoanTypeRequest
	if !decode(w, r, &req) {
		return
	}

	lt, err := s.ledger.CreateLoanType(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, lt)
}

func (s *Server) updateLoanTypeHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "loan type")
	if !ok {
		return
	}
	var req ledger.LoanTypeRequest
	if !decode(w, r, &req) {
		return
	}

	lt, err := s.ledger.UpdateLoanType(r.Context(), id, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lt)
}

func (s *Server) applyLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req ledger.LoanApplication
	if !decode(w, r, &req) {
		return
	}

	loan, err := s.ledger.ApplyLoan(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	var (
		loans []*models.Loan
		err   error
	)
	if key := r.URL.Query().Get("customer_key"); key != "" {
		loans, err = s.ledger.ListCustomerLoans(r.Context(), key)
	} else {
		loans, err = s.ledger.ListLoans(r.Context())
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if loans == nil {
		loans = []*models.Loan{}
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "loan")
	if !ok {
		return
	}

	ov, err := s.ledger.GetLoanOverview(r.Context(), id, r.URL.Query().Get("customer_key"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

func (s *Server) updateLoanStatusHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "loan")
	if !ok {
		return
	}
	var req struct {
		Status   models.LoanStatus `json:"status"`
		Comments string            `json:"comments"`
	}
	if !decode(w, r, &req) {
		return
	}
	switch req.Status {
	case models.LoanStatusApproved, models.LoanStatusRejected, models.LoanStatusClosed:
	default:
		badRequest(w, "status must be one of APPROVED, REJECTED, CLOSED")
		return
	}
	if len(req.Comments) > 500 {
		badRequest(w, "comments must be at most 500 characters")
		return
	}

	loan, err := s.ledger.UpdateLoanStatus(r.Context(), id, req.Status, req.Comments)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) deleteLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "loan")
	if !ok {
		return
	}

	if err := s.ledger.DeleteLoan(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) statusHistoryHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "loan")
	if !ok {
		return
	}

	history, err := s.ledger.GetStatusHistory(r.Context(), id, r.URL.Query().Get("customer_key"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if history == nil {
		history = []*models.StatusHistory{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) transactionsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "loan")
	if !ok {
		return
	}

	txs, err := s.ledger.GetTransactions(r.Context(), id, r.URL.Query().Get("customer_key"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if txs == nil {
		txs = []*models.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) payInstallmentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "installment")
	if !ok {
		return
	}
	var req struct {
		CustomerKey string `json:"customer_key"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.CustomerKey == "" {
		badRequest(w, "customer_key is required")
		return
	}

	inst, err := s.ledger.PayInstallment(r.Context(), id, req.CustomerKey)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) activeLoansHandler(w http.ResponseWriter, r *http.Request) {
	counts, err := s.ledger.ActiveLoanCounts(r.Context(), mux.Vars(r)["key"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}
