package adapter

import (
	"container/list"
	"context"
	"sync"

	"github.com/vitaliisemenov/syncengine/internal/syncmodel"
)

// MemoryAdapter is an in-process, FIFO-capped store. It stands in for a
// search-index target in tests and small deployments: Apply indexes the
// full payload under the entity key, capped at MaxEntries with oldest-first
// eviction.
type MemoryAdapter struct {
	name       string
	kind       syncmodel.AdapterKind
	maxEntries int

	mu      sync.Mutex
	order   *list.List
	entries map[string]*list.Element
}

type memoryEntry struct {
	key     string
	payload syncmodel.Payload
	version int64
}

// NewMemoryAdapter creates a MemoryAdapter capped at maxEntries (0 = unbounded).
func NewMemoryAdapter(name string, kind syncmodel.AdapterKind, maxEntries int) *MemoryAdapter {
	return &MemoryAdapter{
		name:       name,
		kind:       kind,
		maxEntries: maxEntries,
		order:      list.New(),
		entries:    make(map[string]*list.Element),
	}
}

func (m *MemoryAdapter) Name() string                  { return m.name }
func (m *MemoryAdapter) Kind() syncmodel.AdapterKind    { return m.kind }

func (m *MemoryAdapter) Apply(ctx context.Context, event *syncmodel.SyncEvent) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	key := entityKey(event.EntityType, event.EntityID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if event.Kind == syncmodel.EventDelete {
		if el, ok := m.entries[key]; ok {
			m.order.Remove(el)
			delete(m.entries, key)
		}
		return nil
	}

	if el, ok := m.entries[key]; ok {
		el.Value.(*memoryEntry).payload = event.Payload
		el.Value.(*memoryEntry).version = event.Version
		m.order.MoveToBack(el)
		return nil
	}

	entry := &memoryEntry{key: key, payload: event.Payload, version: event.Version}
	el := m.order.PushBack(entry)
	m.entries[key] = el

	if m.maxEntries > 0 {
		for m.order.Len() > m.maxEntries {
			oldest := m.order.Front()
			if oldest == nil {
				break
			}
			m.order.Remove(oldest)
			delete(m.entries, oldest.Value.(*memoryEntry).key)
		}
	}

	return nil
}

func (m *MemoryAdapter) HealthCheck(ctx context.Context) error {
	return nil
}

// Get returns the currently indexed payload for an entity, used by tests
// and the integrity auditor's consistency checks.
func (m *MemoryAdapter) Get(entityType, entityID string) (syncmodel.Payload, int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[entityKey(entityType, entityID)]
	if !ok {
		return nil, 0, false
	}
	e := el.Value.(*memoryEntry)
	return e.payload, e.version, true
}

// Read returns the currently indexed payload for an entity, or ErrNotFound
// if absent. Satisfies the same reader contract PostgresAdapter and
// SQLiteAdapter expose for conflict detection's current-state lookup.
func (m *MemoryAdapter) Read(ctx context.Context, entityType, entityID string) (syncmodel.Payload, error) {
	payload, _, ok := m.Get(entityType, entityID)
	if !ok {
		return nil, ErrNotFound
	}
	return payload, nil
}

// Len reports the number of currently indexed entries.
func (m *MemoryAdapter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}
