package eventstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/syncengine/internal/syncmodel"
)

// MemoryStore is an in-process Store, used in tests and single-binary
// deployments that don't need durability across restarts.
type MemoryStore struct {
	mu sync.Mutex

	events        map[string]*syncmodel.SyncEvent
	order         []string // event IDs, append order
	latestVersion map[string]int64
	processing    map[string]bool // entity key -> currently claimed

	conflicts map[string]*syncmodel.ConflictRecord // keyed by event ID
	cursors   map[string]*syncmodel.ReplicationCursor

	sideValues map[string]map[string]string

	integrityChecks []*syncmodel.IntegrityCheck
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:        make(map[string]*syncmodel.SyncEvent),
		latestVersion: make(map[string]int64),
		processing:    make(map[string]bool),
		conflicts:     make(map[string]*syncmodel.ConflictRecord),
		cursors:       make(map[string]*syncmodel.ReplicationCursor),
		sideValues:    make(map[string]map[string]string),
	}
}

func (m *MemoryStore) Append(ctx context.Context, event *syncmodel.SyncEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.SubmitTime.IsZero() {
		event.SubmitTime = time.Now().UTC()
	}

	key := event.EntityKey()
	event.Version = nextVersion(m.latestVersion[key], time.Now())
	m.latestVersion[key] = event.Version

	event.Status = syncmodel.StatusPending
	m.events[event.ID] = event.Clone()
	m.order = append(m.order, event.ID)
	return nil
}

func (m *MemoryStore) Dequeue(ctx context.Context, limit int) ([]*syncmodel.SyncEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var claimed []*syncmodel.SyncEvent
	for _, id := range m.order {
		if len(claimed) >= limit {
			break
		}
		ev := m.events[id]
		if ev == nil {
			continue
		}
		if ev.Status != syncmodel.StatusPending && ev.Status != syncmodel.StatusRetrying {
			continue
		}
		key := ev.EntityKey()
		if m.processing[key] {
			continue
		}

		ev.Status = syncmodel.StatusProcessing
		m.processing[key] = true
		claimed = append(claimed, ev.Clone())
	}
	return claimed, nil
}

func (m *MemoryStore) Complete(ctx context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.events[eventID]
	if !ok {
		return ErrNotFound
	}
	ev.Status = syncmodel.StatusCompleted
	delete(m.processing, ev.EntityKey())
	return nil
}

func (m *MemoryStore) Fail(ctx context.Context, eventID string, lastErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.events[eventID]
	if !ok {
		return ErrNotFound
	}

	ev.AttemptCount++
	if lastErr != nil {
		ev.LastError = lastErr.Error()
	}
	if ev.CanRetry() {
		ev.Status = syncmodel.StatusRetrying
	} else {
		ev.Status = syncmodel.StatusFailed
	}
	delete(m.processing, ev.EntityKey())
	return nil
}

func (m *MemoryStore) FailPermanently(ctx context.Context, eventID string, lastErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.events[eventID]
	if !ok {
		return ErrNotFound
	}

	ev.AttemptCount++
	if lastErr != nil {
		ev.LastError = lastErr.Error()
	}
	ev.Status = syncmodel.StatusFailed
	delete(m.processing, ev.EntityKey())
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, eventID string) (*syncmodel.SyncEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.events[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	return ev.Clone(), nil
}

func (m *MemoryStore) LatestVersion(ctx context.Context, entityType, entityID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latestVersion[entityType+":"+entityID], nil
}

func (m *MemoryStore) SaveConflict(ctx context.Context, conflict *syncmodel.ConflictRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *conflict
	m.conflicts[conflict.EventID] = &c
	return nil
}

func (m *MemoryStore) GetConflict(ctx context.Context, eventID string) (*syncmodel.ConflictRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conflicts[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *c
	return &out, nil
}

func (m *MemoryStore) EventsSince(ctx context.Context, entityType string, afterVersion int64, limit int) ([]*syncmodel.SyncEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*syncmodel.SyncEvent
	for _, id := range m.order {
		ev := m.events[id]
		if ev == nil || ev.EntityType != entityType || ev.Version <= afterVersion {
			continue
		}
		out = append(out, ev.Clone())
	}

	// insertion sort by version; event counts per entity type are small in
	// the memory store's test/single-process use cases.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Version > out[j].Version; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) SaveCursor(ctx context.Context, cursor *syncmodel.ReplicationCursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *cursor
	m.cursors[cursor.Region+":"+cursor.EntityType] = &c
	return nil
}

func (m *MemoryStore) GetCursor(ctx context.Context, region, entityType string) (*syncmodel.ReplicationCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cursors[region+":"+entityType]
	if !ok {
		return nil, ErrNotFound
	}
	out := *c
	return &out, nil
}

func (m *MemoryStore) PutSideValue(ctx context.Context, namespace, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sideValues[namespace] == nil {
		m.sideValues[namespace] = make(map[string]string)
	}
	m.sideValues[namespace][key] = value
	return nil
}

func (m *MemoryStore) GetSideValue(ctx context.Context, namespace, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.sideValues[namespace]
	if !ok {
		return "", ErrNotFound
	}
	v, ok := ns[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) DeleteSideValue(ctx context.Context, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ns, ok := m.sideValues[namespace]; ok {
		delete(ns, key)
	}
	return nil
}

func (m *MemoryStore) ListSideValues(ctx context.Context, namespace string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for k, v := range m.sideValues[namespace] {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) SaveIntegrityCheck(ctx context.Context, check *syncmodel.IntegrityCheck) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *check
	m.integrityChecks = append(m.integrityChecks, &c)
	return nil
}

func (m *MemoryStore) RecentIntegrityChecks(ctx context.Context, entityType string, kind syncmodel.IntegrityCheckKind, limit int) ([]*syncmodel.IntegrityCheck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*syncmodel.IntegrityCheck
	for i := len(m.integrityChecks) - 1; i >= 0; i-- {
		c := m.integrityChecks[i]
		if c.EntityType != entityType || c.Kind != kind {
			continue
		}
		out := *c
		matched = append(matched, &out)
		if limit > 0 && len(matched) >= limit {
			break
		}
	}
	return matched, nil
}
