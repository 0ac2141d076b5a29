// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers schema creation, message/event persistence and plugin record upserts

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// stores returns both implementations so contract tests run against each.
func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"sqlite": newTestStore(t),
		"mock":   NewMockStore(),
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestNewSQLiteStoreWithDriver_RejectsUnknown(t *testing.T) {
	_, err := NewSQLiteStoreWithDriver("postgres", filepath.Join(t.TempDir(), "x.db"))
	assert.Error(t, err)
}

func TestStore_Messages(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now().UTC().Truncate(time.Second)

			for i, subject := range []int64{100, 200, 100, 100} {
				msg := &Message{
					Type:       "GroupMessage",
					WindowKind: "group",
					SubjectID:  subject,
					SenderID:   int64(i),
					SourceID:   int64(1000 + i),
					Text:       "hello",
					Raw:        []byte(`{"type":"GroupMessage"}`),
					CreatedAt:  base.Add(time.Duration(i) * time.Second),
				}
				require.NoError(t, s.SaveMessage(ctx, msg))
				assert.NotEmpty(t, msg.ID)
			}

			all, err := s.ListMessages(ctx, 0, 0)
			require.NoError(t, err)
			assert.Len(t, all, 4)

			recent, err := s.ListMessages(ctx, 100, 2)
			require.NoError(t, err)
			require.Len(t, recent, 2)
			assert.Equal(t, int64(1002), recent[0].SourceID, "oldest of the newest two first")
			assert.Equal(t, int64(1003), recent[1].SourceID)
			assert.Equal(t, base.Add(3*time.Second), recent[1].CreatedAt.UTC())
			assert.JSONEq(t, `{"type":"GroupMessage"}`, string(recent[1].Raw))
		})
	}
}

func TestStore_Events(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.SaveEvent(ctx, &Event{Type: "MemberJoinEvent", Raw: []byte(`{"a":1}`)}))
			require.NoError(t, s.SaveEvent(ctx, &Event{Type: "BotOnlineEvent", Raw: []byte(`{}`)}))

			joins, err := s.ListEvents(ctx, "MemberJoinEvent", 10)
			require.NoError(t, err)
			require.Len(t, joins, 1)
			assert.JSONEq(t, `{"a":1}`, string(joins[0].Raw))

			all, err := s.ListEvents(ctx, "", 0)
			require.NoError(t, err)
			assert.Len(t, all, 2)
		})
	}
}

func TestStore_PluginRecords(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.GetPluginRecord(ctx, "demo.echo")
			assert.ErrorIs(t, err, ErrNotFound)

			rec := &PluginRecord{
				PieID:   "demo.echo",
				Version: "1.0.0",
				Enabled: true,
				Config:  map[string]any{"prefix": "!"},
			}
			require.NoError(t, s.SaveOrUpdatePluginRecord(ctx, rec))

			rec.Version = "1.1.0"
			rec.Enabled = false
			rec.Config = map[string]any{"prefix": "?"}
			rec.UpdatedAt = time.Now()
			require.NoError(t, s.SaveOrUpdatePluginRecord(ctx, rec))
			require.NoError(t, s.SaveOrUpdatePluginRecord(ctx, &PluginRecord{PieID: "a.first", Version: "0.1.0"}))

			got, err := s.GetPluginRecord(ctx, "demo.echo")
			require.NoError(t, err)
			assert.Equal(t, "1.1.0", got.Version)
			assert.False(t, got.Enabled)
			assert.Equal(t, "?", got.Config["prefix"])

			all, err := s.GetPluginRecords(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "a.first", all[0].PieID)
			assert.Equal(t, "demo.echo", all[1].PieID)
		})
	}
}
