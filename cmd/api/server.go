package main

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/gorilla/mux"
	"github.com/unrolled/secure"
	"go.uber.org/zap"

	"github.com/mcclellann/emiLoan/pkg/ledger"
)

// Server holds the ledger instance.
type Server struct {
	ledger *ledger.Ledger
	logger *zap.Logger
}

// ServerOptions tune the HTTP middleware.
type ServerOptions struct {
	RateLimitPerMinute int
	Production         bool
}

func NewServer(l *ledger.Ledger, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{ledger: l, logger: logger.Named("http")}
}

// Routes builds the router with its middleware chain.
func (s *Server) Routes(opts ServerOptions) http.Handler {
	router := mux.NewRouter()

	secureMiddleware := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		SSLRedirect:        opts.Production,
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
	})
	router.Use(secureMiddleware.Handler)
	if opts.RateLimitPerMinute > 0 {
		router.Use(httprate.Limit(opts.RateLimitPerMinute, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				writeProblem(w, ProblemDetail{Title: "Too Many Requests", Status: http.StatusTooManyRequests})
			}),
		))
	}
	router.Use(s.logRequests)

	router.HandleFunc("/loan-types", s.listLoanTypesHandler).Methods("GET")
	router.HandleFunc("/loan-types", s.createLoanTypeHandler).Methods("POST")
	router.HandleFunc("/loan-types/{id}", s.updateLoanTypeHandler).Methods("PUT")

	router.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	router.HandleFunc("/loans", s.applyLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	router.HandleFunc("/loans/{id}", s.deleteLoanHandler).Methods("DELETE")
	router.HandleFunc("/loans/{id}/status", s.updateLoanStatusHandler).Methods("PUT")
	router.HandleFunc("/loans/{id}/history", s.statusHistoryHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/transactions", s.transactionsHandler).Methods("GET")

	router.HandleFunc("/installments/{id}/pay", s.payInstallmentHandler).Methods("POST")
	router.HandleFunc("/customers/{key}/active-loans", s.activeLoansHandler).Methods("GET")

	return router
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)),
		)
	})
}
