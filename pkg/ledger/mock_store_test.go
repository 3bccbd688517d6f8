package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcclellann/emiLoan/pkg/models"
	"github.com/mcclellann/emiLoan/pkg/store"
)

// MockStore is a simple in-memory implementation of the Storage interface for testing.
// It hands out copies so callers cannot mutate stored rows without an update call.
type MockStore struct {
	mu           sync.Mutex
	loanTypes    map[uuid.UUID]models.LoanType
	loans        map[uuid.UUID]models.Loan
	installments map[uuid.UUID]models.Installment
	history      []models.StatusHistory
	transactions []models.Transaction

	saveCalls int
	failSave  error
	// failTransactions rejects new transactions of the given type.
	failTransactions map[models.TransactionType]error
	failDeleteLoan   error
	failUpdateLoan   error
	rollbacks        int
}

type mockSnapshot struct {
	loanTypes    map[uuid.UUID]models.LoanType
	loans        map[uuid.UUID]models.Loan
	installments map[uuid.UUID]models.Installment
	history      []models.StatusHistory
	transactions []models.Transaction
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// WithTx runs fn on the store itself and restores the state from before fn when it fails.
func (m *MockStore) WithTx(_ context.Context, fn func(store.Storage) error) error {
	m.mu.Lock()
	snap := mockSnapshot{
		loanTypes:    copyMap(m.loanTypes),
		loans:        copyMap(m.loans),
		installments: copyMap(m.installments),
		history:      append([]models.StatusHistory(nil), m.history...),
		transactions: append([]models.Transaction(nil), m.transactions...),
	}
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.loanTypes = snap.loanTypes
		m.loans = snap.loans
		m.installments = snap.installments
		m.history = snap.history
		m.transactions = snap.transactions
		m.rollbacks++
		return err
	}
	return nil
}

func NewMockStore() *MockStore {
	return &MockStore{
		loanTypes:    make(map[uuid.UUID]models.LoanType),
		loans:        make(map[uuid.UUID]models.Loan),
		installments: make(map[uuid.UUID]models.Installment),
	}
}

var _ store.Storage = (*MockStore)(nil)

func (m *MockStore) CreateLoanType(_ context.Context, lt *models.LoanType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.loanTypes {
		if existing.Name == lt.Name {
			return fmt.Errorf("loan type name: %w", store.ErrDuplicate)
		}
	}
	m.loanTypes[lt.ID] = *lt
	return nil
}

func (m *MockStore) GetLoanType(_ context.Context, id uuid.UUID) (*models.LoanType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lt, ok := m.loanTypes[id]
	if !ok {
		return nil, fmt.Errorf("loan type %w", store.ErrNotFound)
	}
	return &lt, nil
}

func (m *MockStore) UpdateLoanType(_ context.Context, lt *models.LoanType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.loanTypes[lt.ID]; !ok {
		return fmt.Errorf("loan type %w", store.ErrNotFound)
	}
	m.loanTypes[lt.ID] = *lt
	return nil
}

func (m *MockStore) GetAllLoanTypes(_ context.Context) ([]*models.LoanType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.LoanType{}
	for _, lt := range m.loanTypes {
		lt := lt
		out = append(out, &lt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MockStore) CreateLoan(_ context.Context, loan *models.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loans[loan.ID] = *loan
	return nil
}

func (m *MockStore) GetLoan(_ context.Context, id uuid.UUID) (*models.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loan, ok := m.loans[id]
	if !ok {
		return nil, fmt.Errorf("loan %w", store.ErrNotFound)
	}
	return &loan, nil
}

func (m *MockStore) UpdateLoan(_ context.Context, loan *models.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdateLoan != nil {
		return m.failUpdateLoan
	}
	existing, ok := m.loans[loan.ID]
	if !ok {
		return fmt.Errorf("loan %w", store.ErrNotFound)
	}
	updated := *loan
	updated.AppliedInterestRate = existing.AppliedInterestRate
	m.loans[loan.ID] = updated
	return nil
}

func (m *MockStore) DeleteLoan(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDeleteLoan != nil {
		return m.failDeleteLoan
	}
	if _, ok := m.loans[id]; !ok {
		return fmt.Errorf("loan %w", store.ErrNotFound)
	}
	for _, inst := range m.installments {
		if inst.LoanID == id {
			return fmt.Errorf("loan %s still has installments", id)
		}
	}
	delete(m.loans, id)

	history := m.history[:0]
	for _, h := range m.history {
		if h.LoanID != id {
			history = append(history, h)
		}
	}
	m.history = history

	txs := m.transactions[:0]
	for _, tx := range m.transactions {
		if tx.LoanID != id {
			txs = append(txs, tx)
		}
	}
	m.transactions = txs
	return nil
}

func (m *MockStore) GetAllLoans(_ context.Context) ([]*models.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.Loan{}
	for _, loan := range m.loans {
		loan := loan
		out = append(out, &loan)
	}
	return out, nil
}

func (m *MockStore) GetLoansForCustomer(_ context.Context, customerKey string) ([]*models.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.Loan{}
	for _, loan := range m.loans {
		if loan.CustomerKey == customerKey {
			loan := loan
			out = append(out, &loan)
		}
	}
	return out, nil
}

func (m *MockStore) CountInstallments(_ context.Context, loanID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, inst := range m.installments {
		if inst.LoanID == loanID {
			n++
		}
	}
	return n, nil
}

func (m *MockStore) CountInstallmentsByStatus(_ context.Context, loanID uuid.UUID, statuses ...models.InstallmentStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, inst := range m.installments {
		if inst.LoanID != loanID {
			continue
		}
		for _, s := range statuses {
			if inst.Status == s {
				n++
				break
			}
		}
	}
	return n, nil
}

func (m *MockStore) SaveInstallments(_ context.Context, loanID uuid.UUID, installments []*models.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCalls++
	if m.failSave != nil {
		return m.failSave
	}
	for _, existing := range m.installments {
		if existing.LoanID != loanID {
			continue
		}
		for _, inst := range installments {
			if inst.SequenceIndex == existing.SequenceIndex {
				return fmt.Errorf("installment %d: %w", inst.SequenceIndex, store.ErrDuplicate)
			}
		}
	}
	for _, inst := range installments {
		m.installments[inst.ID] = *inst
	}
	return nil
}

func (m *MockStore) GetInstallment(_ context.Context, id uuid.UUID) (*models.Installment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.installments[id]
	if !ok {
		return nil, fmt.Errorf("installment %w", store.ErrNotFound)
	}
	return &inst, nil
}

func (m *MockStore) GetInstallmentsForLoan(_ context.Context, loanID uuid.UUID) ([]*models.Installment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.Installment{}
	for _, inst := range m.installments {
		if inst.LoanID == loanID {
			inst := inst
			out = append(out, &inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceIndex < out[j].SequenceIndex })
	return out, nil
}

func (m *MockStore) GetPendingInstallmentsDueBefore(_ context.Context, day time.Time) ([]*models.Installment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.Installment{}
	for _, inst := range m.installments {
		if inst.Status == models.InstallmentStatusPending && inst.DueDate.Before(day) {
			inst := inst
			out = append(out, &inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

func (m *MockStore) UpdateInstallment(_ context.Context, inst *models.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.installments[inst.ID]; !ok {
		return fmt.Errorf("installment %w", store.ErrNotFound)
	}
	m.installments[inst.ID] = *inst
	return nil
}

func (m *MockStore) DeleteInstallments(_ context.Context, loanID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, inst := range m.installments {
		if inst.LoanID == loanID {
			delete(m.installments, id)
		}
	}
	return nil
}

func (m *MockStore) AddStatusHistory(_ context.Context, h *models.StatusHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, *h)
	return nil
}

func (m *MockStore) GetStatusHistory(_ context.Context, loanID uuid.UUID) ([]*models.StatusHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.StatusHistory{}
	for _, h := range m.history {
		if h.LoanID == loanID {
			h := h
			out = append(out, &h)
		}
	}
	return out, nil
}

func (m *MockStore) CreateTransaction(_ context.Context, tx *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failTransactions[tx.Type]; err != nil {
		return err
	}
	m.transactions = append(m.transactions, *tx)
	return nil
}

func (m *MockStore) GetTransactionsForLoan(_ context.Context, loanID uuid.UUID) ([]*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.Transaction{}
	for _, tx := range m.transactions {
		if tx.LoanID == loanID {
			tx := tx
			out = append(out, &tx)
		}
	}
	return out, nil
}

func (m *MockStore) Close() error {
	return nil
}
