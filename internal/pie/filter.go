// ABOUTME: Filters gate which chat messages a pie receives
// ABOUTME: A pie's filters are AND-combined; Or and Not build compound predicates

package pie

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/2389/pie-bridge/internal/message"
)

// Input is what a filter sees for one chat message.
type Input struct {
	Window message.Window
	Chain  message.Chain
	Pie    *Instance
	BotID  int64
}

// Filter is a named predicate over one chat message.
type Filter struct {
	Name  string
	Match func(in Input) (bool, error)
}

// NewFilter wraps an infallible predicate.
func NewFilter(name string, fn func(in Input) bool) Filter {
	return Filter{Name: name, Match: func(in Input) (bool, error) { return fn(in), nil }}
}

// MatchAll reports whether every filter matches. Evaluation stops at the first
// miss. A filter that errors or panics counts as a miss and the error names it.
func MatchAll(filters []Filter, in Input) (bool, error) {
	for _, f := range filters {
		ok, err := evalFilter(f, in)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evalFilter(f Filter, in Input) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("filter %s panicked: %v", f.Name, r)
		}
	}()
	if f.Match == nil {
		return false, fmt.Errorf("filter %s has no predicate", f.Name)
	}
	ok, err = f.Match(in)
	if err != nil {
		return false, fmt.Errorf("filter %s: %w", f.Name, err)
	}
	return ok, nil
}

// Or matches when any of filters matches. Errors from earlier filters are
// returned only if nothing matched.
func Or(filters ...Filter) Filter {
	names := make([]string, len(filters))
	for i, f := range filters {
		names[i] = f.Name
	}
	return Filter{
		Name: "or(" + strings.Join(names, ",") + ")",
		Match: func(in Input) (bool, error) {
			var firstErr error
			for _, f := range filters {
				ok, err := evalFilter(f, in)
				if ok {
					return true, nil
				}
				if err != nil && firstErr == nil {
					firstErr = err
				}
			}
			return false, firstErr
		},
	}
}

// Not inverts f. An error from f stays an error.
func Not(f Filter) Filter {
	return Filter{
		Name: "not(" + f.Name + ")",
		Match: func(in Input) (bool, error) {
			ok, err := evalFilter(f, in)
			if err != nil {
				return false, err
			}
			return !ok, nil
		},
	}
}

func windowIs(kind message.WindowKind) func(Input) bool {
	return func(in Input) bool { return in.Window.Kind == kind }
}

// FriendMessage matches private messages.
func FriendMessage() Filter { return NewFilter("friend_message", windowIs(message.WindowFriend)) }

// GroupMessage matches group messages.
func GroupMessage() Filter { return NewFilter("group_message", windowIs(message.WindowGroup)) }

// TempMessage matches temporary session messages.
func TempMessage() Filter { return NewFilter("temp_message", windowIs(message.WindowTemp)) }

// FromGroups matches group and temp messages whose group is one of ids.
func FromGroups(ids ...int64) Filter {
	return NewFilter("from_groups", func(in Input) bool {
		return in.Window.Kind != message.WindowFriend && slices.Contains(ids, in.Window.SubjectID)
	})
}

// FromUsers matches messages sent by one of ids.
func FromUsers(ids ...int64) Filter {
	return NewFilter("from_users", func(in Input) bool {
		return slices.Contains(ids, in.Window.SenderID)
	})
}

// MentionsBot matches messages that mention the bot.
func MentionsBot() Filter {
	return NewFilter("mentions_bot", func(in Input) bool {
		return in.BotID != 0 && in.Chain.Mentions(in.BotID)
	})
}

// TextEquals matches when the trimmed plain text equals text.
func TextEquals(text string) Filter {
	return NewFilter("text_equals", func(in Input) bool {
		return strings.TrimSpace(in.Chain.PlainText()) == text
	})
}

// TextHasPrefix matches when the trimmed plain text starts with prefix.
func TextHasPrefix(prefix string) Filter {
	return NewFilter("text_has_prefix", func(in Input) bool {
		return strings.HasPrefix(strings.TrimSpace(in.Chain.PlainText()), prefix)
	})
}

// TextMatches matches when the plain text matches pattern. An invalid pattern
// makes every evaluation fail with the compile error.
func TextMatches(pattern string) Filter {
	re, compileErr := regexp.Compile(pattern)
	return Filter{
		Name: "text_matches",
		Match: func(in Input) (bool, error) {
			if compileErr != nil {
				return false, compileErr
			}
			return re.MatchString(in.Chain.PlainText()), nil
		},
	}
}
