// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject write failures

package store

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	messages []*Message
	events   []*Event
	records  map[string]*PluginRecord // keyed by pie id

	// SaveErr, when set, is returned by every save.
	SaveErr error
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		records: make(map[string]*PluginRecord),
	}
}

// SaveMessage stores a copy of msg.
func (m *MockStore) SaveMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	c := *msg
	m.messages = append(m.messages, &c)
	return nil
}

// SaveEvent stores a copy of evt.
func (m *MockStore) SaveEvent(ctx context.Context, evt *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}

	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now()
	}
	c := *evt
	m.events = append(m.events, &c)
	return nil
}

// ListMessages returns the newest limit messages for subjectID, oldest first.
func (m *MockStore) ListMessages(ctx context.Context, subjectID int64, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Message
	for _, msg := range m.messages {
		if subjectID == 0 || msg.SubjectID == subjectID {
			c := *msg
			out = append(out, &c)
		}
	}
	return tail(out, limit), nil
}

// ListEvents returns the newest limit events of typ, oldest first.
func (m *MockStore) ListEvents(ctx context.Context, typ string, limit int) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Event
	for _, evt := range m.events {
		if typ == "" || evt.Type == typ {
			c := *evt
			out = append(out, &c)
		}
	}
	return tail(out, limit), nil
}

func tail[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[len(s)-limit:]
	}
	return s
}

// SaveOrUpdatePluginRecord upserts a copy of rec.
func (m *MockStore) SaveOrUpdatePluginRecord(ctx context.Context, rec *PluginRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}

	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	c := *rec
	c.Config = maps.Clone(rec.Config)
	m.records[c.PieID] = &c
	return nil
}

// GetPluginRecord returns the record for pieID or ErrNotFound.
func (m *MockStore) GetPluginRecord(ctx context.Context, pieID string) (*PluginRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[pieID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *rec
	c.Config = maps.Clone(rec.Config)
	return &c, nil
}

// GetPluginRecords returns every record ordered by pie id.
func (m *MockStore) GetPluginRecords(ctx context.Context) ([]*PluginRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*PluginRecord, 0, len(m.records))
	for _, rec := range m.records {
		c := *rec
		c.Config = maps.Clone(rec.Config)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PieID < out[j].PieID })
	return out, nil
}

// Close is a no-op.
func (m *MockStore) Close() error { return nil }
