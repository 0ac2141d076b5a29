// ABOUTME: Builders for inbound gateway payloads used by tests and the demo gateway
// ABOUTME: Produces friend, group and temp messages plus arbitrary events

package fakegateway

import (
	"encoding/json"
	"time"
)

func source(id int64) map[string]any {
	return map[string]any{"type": "Source", "id": id, "time": time.Now().Unix()}
}

func plain(text string) map[string]any {
	return map[string]any{"type": "Plain", "text": text}
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

// FriendMessage builds a private message from sender.
func FriendMessage(msgID, sender int64, nickname, text string) json.RawMessage {
	return mustJSON(map[string]any{
		"type": "FriendMessage",
		"sender": map[string]any{
			"id":       sender,
			"nickname": nickname,
			"remark":   "",
		},
		"messageChain": []any{source(msgID), plain(text)},
	})
}

// GroupMessage builds a group message from member in group.
func GroupMessage(msgID, group, member int64, memberName, text string) json.RawMessage {
	return mustJSON(map[string]any{
		"type": "GroupMessage",
		"sender": map[string]any{
			"id":         member,
			"memberName": memberName,
			"permission": "MEMBER",
			"group": map[string]any{
				"id":         group,
				"name":       "group " + memberName,
				"permission": "MEMBER",
			},
		},
		"messageChain": []any{source(msgID), plain(text)},
	})
}

// MentionMessage builds a group message that mentions target before text.
func MentionMessage(msgID, group, member, target int64, text string) json.RawMessage {
	return mustJSON(map[string]any{
		"type": "GroupMessage",
		"sender": map[string]any{
			"id":         member,
			"memberName": "member",
			"permission": "MEMBER",
			"group":      map[string]any{"id": group, "name": "group", "permission": "MEMBER"},
		},
		"messageChain": []any{
			source(msgID),
			map[string]any{"type": "At", "target": target, "display": ""},
			plain(text),
		},
	})
}

// TempMessage builds a temporary session message from member via group.
func TempMessage(msgID, group, member int64, text string) json.RawMessage {
	return mustJSON(map[string]any{
		"type": "TempMessage",
		"sender": map[string]any{
			"id":         member,
			"memberName": "member",
			"permission": "MEMBER",
			"group":      map[string]any{"id": group, "name": "group", "permission": "MEMBER"},
		},
		"messageChain": []any{source(msgID), plain(text)},
	})
}

// Event builds an event of typ with the given top-level fields.
func Event(typ string, fields map[string]any) json.RawMessage {
	body := map[string]any{"type": typ}
	for k, v := range fields {
		body[k] = v
	}
	return mustJSON(body)
}

// MemberJoin builds a MemberJoinEvent for member joining group.
func MemberJoin(group, member int64, memberName string) json.RawMessage {
	return Event("MemberJoinEvent", map[string]any{
		"member": map[string]any{
			"id":         member,
			"memberName": memberName,
			"permission": "MEMBER",
			"group":      map[string]any{"id": group, "name": "group", "permission": "MEMBER"},
		},
		"invitor": nil,
	})
}
