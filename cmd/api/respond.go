package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/mcclellann/emiLoan/pkg/amortization"
	"github.com/mcclellann/emiLoan/pkg/ledger"
	"github.com/mcclellann/emiLoan/pkg/store"
)

// ProblemDetail represents RFC7807 problem details.
type ProblemDetail struct {
	Type   string            `json:"type,omitempty"`
	Title  string            `json:"title"`
	Status int               `json:"status"`
	Detail string            `json:"detail,omitempty"`
	Errors map[string]string `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeProblem(w http.ResponseWriter, p ProblemDetail) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func badRequest(w http.ResponseWriter, detail string) {
	writeProblem(w, ProblemDetail{Title: "Bad Request", Status: http.StatusBadRequest, Detail: detail})
}

// writeError maps domain errors onto HTTP problems.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ledger.ValidationError
	switch {
	case errors.As(err, &verr):
		writeProblem(w, ProblemDetail{Title: "Validation Failed", Status: http.StatusUnprocessableEntity, Errors: verr.Fields})
	case errors.Is(err, amortization.ErrInvalidLoanInput):
		writeProblem(w, ProblemDetail{Title: "Invalid Loan Terms", Status: http.StatusUnprocessableEntity, Detail: err.Error()})
	case errors.Is(err, store.ErrNotFound):
		writeProblem(w, ProblemDetail{Title: "Not Found", Status: http.StatusNotFound, Detail: err.Error()})
	case errors.Is(err, ledger.ErrForbidden):
		writeProblem(w, ProblemDetail{Title: "Forbidden", Status: http.StatusForbidden, Detail: err.Error()})
	case errors.Is(err, ledger.ErrInvalidTransition),
		errors.Is(err, ledger.ErrInstallmentNotPayable),
		errors.Is(err, ledger.ErrLoanNotActive),
		errors.Is(err, ledger.ErrLoanNotDeletable),
		errors.Is(err, ledger.ErrLoanLimitReached),
		errors.Is(err, store.ErrDuplicate):
		writeProblem(w, ProblemDetail{Title: "Conflict", Status: http.StatusConflict, Detail: err.Error()})
	default:
		s.logger.Error("request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
		writeProblem(w, ProblemDetail{Title: "Internal Server Error", Status: http.StatusInternalServerError})
	}
}
