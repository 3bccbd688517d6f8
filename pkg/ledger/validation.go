package ledger

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError lists the rejected fields of a request by their JSON name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = msg
	}
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

var (
	minInterestRate     = decimal.RequireFromString("6.5")
	maxInterestRate     = decimal.NewFromInt(15)
	minMaxLoanAmount    = decimal.NewFromInt(20000)
	maxMaxLoanAmount    = decimal.NewFromInt(1_000_000_000)
	maxPenaltyRate      = decimal.NewFromInt(5)
	minPrincipal        = decimal.NewFromInt(500)
	maxPrincipal        = decimal.NewFromInt(1_000_000_000)
	defaultLoansPerType = 3
)

// LoanTypeRequest carries the terms of a loan product.
type LoanTypeRequest struct {
	Name                string          `json:"name" validate:"required,max=100"`
	InterestRate        decimal.Decimal `json:"interest_rate"`
	MaxTenureYears      int             `json:"max_tenure_years" validate:"min=1,max=30"`
	MaxLoanAmount       decimal.Decimal `json:"max_loan_amount"`
	MaxLoansPerCustomer int             `json:"max_loans_per_customer" validate:"omitempty,min=1,max=3"`
	PenaltyRatePercent  decimal.Decimal `json:"penalty_rate_percent"`
}

// LoanApplication is a customer's request for a new loan.
type LoanApplication struct {
	CustomerKey   string          `json:"customer_key" validate:"required,max=100"`
	CustomerEmail string          `json:"customer_email" validate:"omitempty,email"`
	LoanTypeID    uuid.UUID       `json:"loan_type_id"`
	Principal     decimal.Decimal `json:"principal"`
	TenureYears   int             `json:"tenure_years" validate:"min=1,max=30"`
	Purpose       string          `json:"purpose" validate:"required,min=3,max=300"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// check runs the struct tags of req and collects failures into verr.
func (l *Ledger) check(req any, verr *ValidationError) {
	err := l.validate.Struct(req)
	if err == nil {
		return
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.add("request", err.Error())
		return
	}
	for _, fe := range fieldErrs {
		verr.add(fe.Field(), describe(fe))
	}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

func (l *Ledger) validateLoanType(req *LoanTypeRequest) error {
	req.Name = strings.TrimSpace(req.Name)

	verr := &ValidationError{}
	l.check(req, verr)
	checkDecimal(verr, "interest_rate", req.InterestRate, minInterestRate, maxInterestRate)
	checkDecimal(verr, "max_loan_amount", req.MaxLoanAmount, minMaxLoanAmount, maxMaxLoanAmount)
	checkDecimal(verr, "penalty_rate_percent", req.PenaltyRatePercent, decimal.Zero, maxPenaltyRate)
	return verr.orNil()
}

func (l *Ledger) validateApplication(req *LoanApplication) error {
	req.CustomerKey = strings.TrimSpace(req.CustomerKey)
	req.Purpose = strings.TrimSpace(req.Purpose)

	verr := &ValidationError{}
	l.check(req, verr)
	if req.LoanTypeID == uuid.Nil {
		verr.add("loan_type_id", "is required")
	}
	checkDecimal(verr, "principal", req.Principal, minPrincipal, maxPrincipal)
	return verr.orNil()
}

// checkDecimal requires d to lie in [lo, hi] with at most 2 decimal places, the scale
// every money and rate column is stored at.
func checkDecimal(verr *ValidationError, field string, d, lo, hi decimal.Decimal) {
	switch {
	case d.LessThan(lo) || d.GreaterThan(hi):
		verr.add(field, fmt.Sprintf("must be between %s and %s", lo, hi))
	case !d.Equal(d.Truncate(2)):
		verr.add(field, "must have at most 2 decimal places")
	}
}
