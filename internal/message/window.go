// ABOUTME: Read-only chat window view built from an inbound chat message
// ABOUTME: Selects friend, group or temp conversation from the message type tag

package message

import "strings"

// WindowKind is the conversation a chat message arrived in.
type WindowKind string

const (
	WindowFriend WindowKind = "friend"
	WindowGroup  WindowKind = "group"
	WindowTemp   WindowKind = "temp"
)

// Window is an immutable value describing where a message came from and where a
// reply should go. SubjectID is the friend id for friend windows and the group id
// for group and temp windows.
type Window struct {
	Kind        WindowKind
	SubjectID   int64
	SubjectName string
	SenderID    int64
	SenderName  string
	Permission  string
}

// NewWindow builds the window view for a chat message.
func NewWindow(msg ChatMessage) Window {
	w := Window{
		Kind:       windowKind(msg.Type),
		SenderID:   msg.Sender.ID,
		SenderName: msg.Sender.DisplayName(),
		Permission: msg.Sender.Permission,
	}
	if w.Kind != WindowFriend && msg.Sender.Group != nil {
		w.SubjectID = msg.Sender.Group.ID
		w.SubjectName = msg.Sender.Group.Name
		return w
	}
	// Without a group the sender is the only usable reply target.
	if w.Kind != WindowFriend {
		w.Kind = WindowFriend
	}
	w.SubjectID = msg.Sender.ID
	w.SubjectName = msg.Sender.DisplayName()
	return w
}

func windowKind(typ string) WindowKind {
	switch {
	case strings.HasPrefix(typ, "Group"):
		return WindowGroup
	case strings.HasPrefix(typ, "Temp"):
		return WindowTemp
	default:
		return WindowFriend
	}
}
