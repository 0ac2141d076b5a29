// ABOUTME: Store interface and data types for bridge persistence
// ABOUTME: Defines chat message, event and plugin record rows and the Store contract

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Message is a persisted inbound chat message.
type Message struct {
	ID         string
	Type       string // gateway type tag, e.g. "GroupMessage"
	WindowKind string // friend, group or temp
	SubjectID  int64  // friend id or group id
	SenderID   int64
	SourceID   int64 // gateway message id from the Source fragment
	Text       string
	Raw        []byte
	CreatedAt  time.Time
}

// Event is a persisted inbound gateway event.
type Event struct {
	ID        string
	Type      string
	Raw       []byte
	CreatedAt time.Time
}

// PluginRecord is the persisted state of one installed pie.
type PluginRecord struct {
	PieID     string
	Version   string
	Enabled   bool
	Config    map[string]any
	Source    string
	UpdatedAt time.Time
}

// Store is the persistence contract the agent and dispatch router produce to.
type Store interface {
	SaveMessage(ctx context.Context, msg *Message) error
	SaveEvent(ctx context.Context, evt *Event) error

	// ListMessages returns the newest messages for a subject in chronological
	// order. A subject of 0 means every subject; limit <= 0 means no limit.
	ListMessages(ctx context.Context, subjectID int64, limit int) ([]*Message, error)
	// ListEvents returns the newest events of typ ("" for all) in chronological order.
	ListEvents(ctx context.Context, typ string, limit int) ([]*Event, error)

	SaveOrUpdatePluginRecord(ctx context.Context, rec *PluginRecord) error
	GetPluginRecord(ctx context.Context, pieID string) (*PluginRecord, error)
	GetPluginRecords(ctx context.Context) ([]*PluginRecord, error)

	Close() error
}
