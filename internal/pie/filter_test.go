// ABOUTME: Tests for pie filters and their combinators
// ABOUTME: Checks AND semantics, short-circuiting, and that errors and panics count as a miss

package pie

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/pie-bridge/internal/message"
)

func groupInput(group, sender int64, text string, extra ...message.Fragment) Input {
	chain := append(message.Chain{message.Plain(text)}, extra...)
	return Input{
		Window: message.Window{Kind: message.WindowGroup, SubjectID: group, SenderID: sender},
		Chain:  chain,
		BotID:  999,
	}
}

func constant(name string, v bool, calls *int) Filter {
	return NewFilter(name, func(Input) bool {
		*calls++
		return v
	})
}

func TestMatchAll_AND(t *testing.T) {
	in := groupInput(1, 2, "x")
	var a, b int

	cases := []struct {
		a, b, want bool
	}{
		{true, true, true},
		{true, false, false},
		{false, true, false},
		{false, false, false},
	}
	for _, tc := range cases {
		ok, err := MatchAll([]Filter{constant("a", tc.a, &a), constant("b", tc.b, &b)}, in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, ok, "a=%v b=%v", tc.a, tc.b)
	}
	assert.Equal(t, 4, a)
	assert.Equal(t, 2, b, "b is skipped once a misses")
}

func TestMatchAll_EmptyMatches(t *testing.T) {
	ok, err := MatchAll(nil, Input{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMatchAll_ErrorAndPanicAreMisses(t *testing.T) {
	var calls int
	failing := Filter{Name: "failing", Match: func(Input) (bool, error) { return true, errors.New("broken") }}
	panicking := NewFilter("panicking", func(Input) bool { panic("boom") })

	ok, err := MatchAll([]Filter{failing, constant("after", true, &calls)}, Input{})
	assert.False(t, ok)
	assert.ErrorContains(t, err, "failing")

	ok, err = MatchAll([]Filter{panicking, constant("after", true, &calls)}, Input{})
	assert.False(t, ok)
	assert.ErrorContains(t, err, "panicking")
	assert.Zero(t, calls)

	ok, err = MatchAll([]Filter{{Name: "empty"}}, Input{})
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestOrNot(t *testing.T) {
	var calls int
	yes := constant("yes", true, &calls)
	no := constant("no", false, &calls)
	broken := NewFilter("broken", func(Input) bool { panic("x") })

	ok, err := Or(no, yes).Match(Input{})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Or(broken, yes).Match(Input{})
	require.NoError(t, err)
	assert.True(t, ok, "a later match wins over an earlier error")

	ok, err = Or(broken, no).Match(Input{})
	assert.False(t, ok)
	assert.Error(t, err)

	ok, err = Not(no).Match(Input{})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = Not(broken).Match(Input{})
	assert.Error(t, err)
	assert.Equal(t, "or(no,yes)", Or(no, yes).Name)
}

func TestBuiltinFilters(t *testing.T) {
	in := groupInput(10, 20, "  /ping now ", message.At(999))
	friend := Input{
		Window: message.Window{Kind: message.WindowFriend, SubjectID: 20, SenderID: 20},
		Chain:  message.Chain{message.Plain("hello")},
	}

	cases := []struct {
		name   string
		filter Filter
		in     Input
		want   bool
	}{
		{"group on group", GroupMessage(), in, true},
		{"friend on group", FriendMessage(), in, false},
		{"friend on friend", FriendMessage(), friend, true},
		{"temp on friend", TempMessage(), friend, false},
		{"from group hit", FromGroups(5, 10), in, true},
		{"from group miss", FromGroups(5), in, false},
		{"from group on friend", FromGroups(20), friend, false},
		{"from user", FromUsers(20), in, true},
		{"mentions bot", MentionsBot(), in, true},
		{"mentions bot absent", MentionsBot(), friend, false},
		{"text equals trims", TextEquals("/ping now"), in, true},
		{"text prefix", TextHasPrefix("/ping"), in, true},
		{"text prefix miss", TextHasPrefix("/pong"), in, false},
		{"text regexp", TextMatches(`^hel+o$`), friend, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := tc.filter.Match(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}
}

func TestTextMatches_InvalidPattern(t *testing.T) {
	ok, err := TextMatches("(").Match(Input{})
	assert.False(t, ok)
	assert.Error(t, err)
}
