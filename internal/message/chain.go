// ABOUTME: Message chain fragments as carried on the gateway wire
// ABOUTME: Keeps the raw fragment JSON and exposes the common fields filters need

package message

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Fragment is one typed piece of a message chain. Raw holds the fragment exactly as
// received; the named fields are the subset most handlers and filters look at.
type Fragment struct {
	Type   string
	Text   string // Plain
	Target int64  // At
	ID     int64  // Source, Quote
	Time   int64  // Source
	Raw    json.RawMessage
}

type fragmentWire struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	Target int64  `json:"target,omitempty"`
	ID     int64  `json:"id,omitempty"`
	Time   int64  `json:"time,omitempty"`
}

// UnmarshalJSON decodes the common fields and keeps a copy of the raw fragment.
func (f *Fragment) UnmarshalJSON(data []byte) error {
	var w fragmentWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*f = Fragment{
		Type:   w.Type,
		Text:   w.Text,
		Target: w.Target,
		ID:     w.ID,
		Time:   w.Time,
		Raw:    bytes.Clone(data),
	}
	return nil
}

// MarshalJSON emits the raw fragment when present so unknown fields survive a
// round trip. The named fields are written over it, so edits to a received
// fragment are sent as edited.
func (f Fragment) MarshalJSON() ([]byte, error) {
	if len(f.Raw) == 0 {
		return json.Marshal(fragmentWire{
			Type:   f.Type,
			Text:   f.Text,
			Target: f.Target,
			ID:     f.ID,
			Time:   f.Time,
		})
	}

	out := bytes.Clone(f.Raw)
	fields := []struct {
		key  string
		val  any
		zero bool
	}{
		{"type", f.Type, f.Type == ""},
		{"text", f.Text, f.Text == ""},
		{"target", f.Target, f.Target == 0},
		{"id", f.ID, f.ID == 0},
		{"time", f.Time, f.Time == 0},
	}
	for _, fd := range fields {
		// A zero value only overwrites a key the fragment already carries.
		if fd.zero && !gjson.GetBytes(out, fd.key).Exists() {
			continue
		}
		var err error
		if out, err = sjson.SetBytes(out, fd.key, fd.val); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Plain builds a text fragment.
func Plain(text string) Fragment {
	return Fragment{Type: "Plain", Text: text}
}

// At builds a mention fragment.
func At(target int64) Fragment {
	return Fragment{Type: "At", Target: target}
}

// Chain is an ordered message chain.
type Chain []Fragment

// PlainText concatenates the text of every Plain fragment.
func (c Chain) PlainText() string {
	var b strings.Builder
	for _, f := range c {
		if f.Type == "Plain" {
			b.WriteString(f.Text)
		}
	}
	return b.String()
}

// SourceID returns the id of the leading Source fragment, or 0 when absent.
func (c Chain) SourceID() int64 {
	for _, f := range c {
		if f.Type == "Source" {
			return f.ID
		}
	}
	return 0
}

// Mentions reports whether the chain contains an At fragment for target.
func (c Chain) Mentions(target int64) bool {
	for _, f := range c {
		if f.Type == "At" && f.Target == target {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. Handlers receive clones so one plugin cannot change
// what another plugin sees.
func (c Chain) Clone() Chain {
	if c == nil {
		return nil
	}
	out := make(Chain, len(c))
	for i, f := range c {
		f.Raw = bytes.Clone(f.Raw)
		out[i] = f
	}
	return out
}
