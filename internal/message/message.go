// ABOUTME: Inbound item model for the gateway: message chains, senders, chat messages and events
// ABOUTME: Decodes raw gateway JSON into typed values and classifies items by their type tag

package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrUnknownType is returned when an item's type tag is neither a message nor a known event.
var ErrUnknownType = errors.New("unknown inbound type")

// ErrMalformed is returned when an inbound item is not a JSON object with a type tag.
var ErrMalformed = errors.New("malformed inbound item")

// Kind classifies an inbound item.
type Kind int

const (
	KindUnknown Kind = iota
	KindMessage
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Classify reports whether a type tag names a chat message or a known event.
func Classify(typ string) Kind {
	if strings.HasSuffix(typ, "Message") {
		return KindMessage
	}
	if _, ok := knownEvents[typ]; ok {
		return KindEvent
	}
	return KindUnknown
}

// Group is the group a member sender belongs to.
type Group struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Permission string `json:"permission"`
}

// Sender identifies who sent a chat message. Group is set for group and temp messages.
type Sender struct {
	ID           int64  `json:"id"`
	Nickname     string `json:"nickname,omitempty"`
	Remark       string `json:"remark,omitempty"`
	MemberName   string `json:"memberName,omitempty"`
	SpecialTitle string `json:"specialTitle,omitempty"`
	Permission   string `json:"permission,omitempty"`
	Group        *Group `json:"group,omitempty"`
}

// DisplayName returns the member card for group senders and the nickname otherwise.
func (s Sender) DisplayName() string {
	if s.MemberName != "" {
		return s.MemberName
	}
	return s.Nickname
}

// ChatMessage is an inbound chat message.
type ChatMessage struct {
	Type   string
	Sender Sender
	Chain  Chain
	Raw    json.RawMessage
}

// Event is an inbound gateway event. Fields are read straight from the raw payload.
type Event struct {
	Type string
	Raw  json.RawMessage
}

// Get returns the event field at a gjson path, e.g. "member.group.id".
func (e Event) Get(path string) gjson.Result {
	return gjson.GetBytes(e.Raw, path)
}

// Inbound is either a ChatMessage or an Event.
type Inbound struct {
	Kind    Kind
	Message *ChatMessage
	Event   *Event
}

// Decode classifies and decodes a single inbound item.
func Decode(raw json.RawMessage) (Inbound, error) {
	if !gjson.ValidBytes(raw) {
		return Inbound{}, ErrMalformed
	}
	typ := gjson.GetBytes(raw, "type")
	if typ.Type != gjson.String || typ.Str == "" {
		return Inbound{}, ErrMalformed
	}

	switch Classify(typ.Str) {
	case KindMessage:
		var body struct {
			Sender       Sender `json:"sender"`
			MessageChain Chain  `json:"messageChain"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return Inbound{}, fmt.Errorf("decoding %s: %w", typ.Str, err)
		}
		return Inbound{
			Kind: KindMessage,
			Message: &ChatMessage{
				Type:   typ.Str,
				Sender: body.Sender,
				Chain:  body.MessageChain,
				Raw:    raw,
			},
		}, nil
	case KindEvent:
		return Inbound{
			Kind:  KindEvent,
			Event: &Event{Type: typ.Str, Raw: raw},
		}, nil
	default:
		return Inbound{}, fmt.Errorf("%w: %s", ErrUnknownType, typ.Str)
	}
}

var knownEvents = map[string]struct{}{
	"BotOnlineEvent":                       {},
	"BotOfflineEventActive":                {},
	"BotOfflineEventForce":                 {},
	"BotOfflineEventDropped":               {},
	"BotReloginEvent":                      {},
	"FriendInputStatusChangedEvent":        {},
	"FriendNickChangedEvent":               {},
	"FriendAddEvent":                       {},
	"FriendDeleteEvent":                    {},
	"BotGroupPermissionChangeEvent":        {},
	"BotMuteEvent":                         {},
	"BotUnmuteEvent":                       {},
	"BotJoinGroupEvent":                    {},
	"BotLeaveEventActive":                  {},
	"BotLeaveEventKick":                    {},
	"BotLeaveEventDisband":                 {},
	"GroupRecallEvent":                     {},
	"FriendRecallEvent":                    {},
	"NudgeEvent":                           {},
	"GroupNameChangeEvent":                 {},
	"GroupEntranceAnnouncementChangeEvent": {},
	"GroupMuteAllEvent":                    {},
	"GroupAllowAnonymousChatEvent":         {},
	"GroupAllowConfessTalkEvent":           {},
	"GroupAllowMemberInviteEvent":          {},
	"MemberJoinEvent":                      {},
	"MemberLeaveEventKick":                 {},
	"MemberLeaveEventQuit":                 {},
	"MemberCardChangeEvent":                {},
	"MemberSpecialTitleChangeEvent":        {},
	"MemberPermissionChangeEvent":          {},
	"MemberMuteEvent":                      {},
	"MemberUnmuteEvent":                    {},
	"MemberHonorChangeEvent":               {},
	"NewFriendRequestEvent":                {},
	"MemberJoinRequestEvent":               {},
	"BotInvitedJoinGroupRequestEvent":      {},
	"OtherClientOnlineEvent":               {},
	"OtherClientOfflineEvent":              {},
	"CommandExecutedEvent":                 {},
}
