package executor

import (
	"container/list"
	"context"
	"sync"
)

const defaultMemoryCapacity = 1000

// MemoryOutcomeStore keeps the most recent outcomes in process memory.
type MemoryOutcomeStore struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[string]*list.Element
	counts   map[Status]int64
}

func NewMemoryOutcomeStore(capacity int) *MemoryOutcomeStore {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryOutcomeStore{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
		counts:   make(map[Status]int64),
	}
}

func (m *MemoryOutcomeStore) Save(_ context.Context, outcome Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counts[outcome.Status]++
	if el, ok := m.items[outcome.ID]; ok {
		el.Value = outcome
		m.order.MoveToBack(el)
		return nil
	}

	m.items[outcome.ID] = m.order.PushBack(outcome)
	for m.order.Len() > m.capacity {
		oldest := m.order.Front()
		m.order.Remove(oldest)
		delete(m.items, oldest.Value.(Outcome).ID)
	}
	return nil
}

func (m *MemoryOutcomeStore) Get(_ context.Context, id string) (Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.items[id]
	if !ok {
		return Outcome{}, ErrJobNotFound
	}
	return el.Value.(Outcome), nil
}

// Counts covers every outcome saved since start, including evicted ones.
func (m *MemoryOutcomeStore) Counts(_ context.Context) (map[Status]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Status]int64, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	return out, nil
}
