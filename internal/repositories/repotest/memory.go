package repotest

import (
	"context"
	"sync"

	"billbook-backend/internal/models"
	"billbook-backend/internal/repositories"

	"github.com/samber/lo"
)

// Operation names used for failure injection and call counting.
const (
	OpInitialize      = "initialize"
	OpSave            = "save"
	OpFetchAll        = "fetch_all"
	OpFetchByCustomer = "fetch_by_customer"
	OpDelete          = "delete"
	OpNext            = "next"
)

// MemoryBillRepository is an in-memory BillRepository for tests. Every
// operation can be made to fail, and hooks run before an operation so a
// test can block it.
type MemoryBillRepository struct {
	name string

	mu       sync.Mutex
	records  map[string]models.BillRecord
	failures map[string]error
	hooks    map[string]func(ctx context.Context)
	calls    map[string]int
	closed   bool
}

var _ repositories.BillRepository = (*MemoryBillRepository)(nil)

func NewMemoryBillRepository(name string) *MemoryBillRepository {
	return &MemoryBillRepository{
		name:     name,
		records:  make(map[string]models.BillRecord),
		failures: make(map[string]error),
		hooks:    make(map[string]func(ctx context.Context)),
		calls:    make(map[string]int),
	}
}

// FailOn makes op return err until cleared with a nil err.
func (m *MemoryBillRepository) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// OnCall registers fn to run, without the lock held, at the start of op.
func (m *MemoryBillRepository) OnCall(op string, fn func(ctx context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks[op] = fn
}

// Calls reports how often op has been invoked.
func (m *MemoryBillRepository) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Seed stores records directly, bypassing failure injection.
func (m *MemoryBillRepository) Seed(records ...models.BillRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		c := r.Clone()
		c.Normalize()
		m.records[c.SNo] = c
	}
}

// Get returns the stored record for sNo.
func (m *MemoryBillRepository) Get(sNo string) (models.BillRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[sNo]
	if !ok {
		return models.BillRecord{}, false
	}
	return r.Clone(), true
}

func (m *MemoryBillRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *MemoryBillRepository) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MemoryBillRepository) Name() string { return m.name }

func (m *MemoryBillRepository) Initialize(ctx context.Context) error {
	return m.enter(ctx, OpInitialize)
}

func (m *MemoryBillRepository) SaveRecord(ctx context.Context, record *models.BillRecord) (*models.BillRecord, error) {
	if err := m.enter(ctx, OpSave); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := record.Clone()
	c.Normalize()
	m.records[c.SNo] = c
	echo := c.Clone()
	return &echo, nil
}

func (m *MemoryBillRepository) FetchAll(ctx context.Context) ([]models.BillRecord, error) {
	if err := m.enter(ctx, OpFetchAll); err != nil {
		return nil, err
	}
	return m.sorted(func(models.BillRecord) bool { return true }), nil
}

func (m *MemoryBillRepository) FetchByCustomer(ctx context.Context, customerName string) ([]models.BillRecord, error) {
	if err := m.enter(ctx, OpFetchByCustomer); err != nil {
		return nil, err
	}
	return m.sorted(func(r models.BillRecord) bool {
		return models.SameCustomer(r.CustomerName, customerName)
	}), nil
}

func (m *MemoryBillRepository) DeleteRecord(ctx context.Context, sNo string) error {
	if err := m.enter(ctx, OpDelete); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, sNo)
	return nil
}

func (m *MemoryBillRepository) NextSequenceNumber(ctx context.Context) (string, error) {
	if err := m.enter(ctx, OpNext); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.NextSequence(lo.Keys(m.records)), nil
}

func (m *MemoryBillRepository) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryBillRepository) enter(ctx context.Context, op string) error {
	m.mu.Lock()
	m.calls[op]++
	hook := m.hooks[op]
	m.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[op]
}

func (m *MemoryBillRepository) sorted(keep func(models.BillRecord) bool) []models.BillRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.BillRecord, 0, len(m.records))
	for _, r := range m.records {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	models.SortNewestFirst(out)
	return out
}
