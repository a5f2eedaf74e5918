package sink

import (
	"context"
	"sync"

	"github.com/politicai/apportion/pkg/models"
)

// resultTable keeps rows in first-insertion order with upsert by key
type resultTable struct {
	index map[models.ResultKey]int
	rows  []models.AggregateResult
}

func newResultTable() *resultTable {
	return &resultTable{index: make(map[models.ResultKey]int)}
}

func (t *resultTable) upsert(rows []models.AggregateResult) {
	for _, r := range rows {
		if i, ok := t.index[r.Key()]; ok {
			t.rows[i] = r
			continue
		}
		t.index[r.Key()] = len(t.rows)
		t.rows = append(t.rows, r)
	}
}

func (t *resultTable) snapshot() []models.AggregateResult {
	out := make([]models.AggregateResult, len(t.rows))
	copy(out, t.rows)
	return out
}

// Memory is an in-process sink used for dry runs and tests. Fail, when set,
// is consulted before each batch is applied. Link, when set, decides which
// constituencies the sink can store.
type Memory struct {
	Fail func(rows []models.AggregateResult) error
	Link func(constituency string) bool

	mu      sync.Mutex
	table   *resultTable
	batches int
	closed  bool
}

// NewMemory creates an empty in-memory sink
func NewMemory() *Memory {
	return &Memory{table: newResultTable()}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Linked(constituency string) bool {
	return m.Link == nil || m.Link(constituency)
}

func (m *Memory) Upsert(_ context.Context, rows []models.AggregateResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches++
	if m.Fail != nil {
		if err := m.Fail(rows); err != nil {
			return err
		}
	}
	m.table.upsert(rows)
	return nil
}

// Rows returns the stored rows in insertion order
func (m *Memory) Rows() []models.AggregateResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.table.snapshot()
}

// Batches returns the number of Upsert calls, failed ones included
func (m *Memory) Batches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batches
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called
func (m *Memory) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
