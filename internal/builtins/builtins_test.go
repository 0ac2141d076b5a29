// ABOUTME: Tests for the built-in pies
// ABOUTME: Drives them through a real agent and router against a recording API

package builtins

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/pie-bridge/internal/adapter"
	"github.com/2389/pie-bridge/internal/dispatch"
	"github.com/2389/pie-bridge/internal/fakegateway"
	"github.com/2389/pie-bridge/internal/message"
	"github.com/2389/pie-bridge/internal/pie"
)

const (
	adminID = 5
	groupID = 77
)

type sent struct {
	kind   string
	target int64
	text   string
}

// recordingAPI records sends. Any other operation panics on the nil embedded API.
type recordingAPI struct {
	adapter.API

	mu   sync.Mutex
	sent []sent
}

func (r *recordingAPI) record(kind string, target int64, chain message.Chain) (*adapter.SendResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{kind: kind, target: target, text: chain.PlainText()})
	return &adapter.SendResult{MessageID: int64(len(r.sent))}, nil
}

func (r *recordingAPI) SendFriendMessage(ctx context.Context, target int64, chain message.Chain) (*adapter.SendResult, error) {
	return r.record("friend", target, chain)
}

func (r *recordingAPI) SendGroupMessage(ctx context.Context, group int64, chain message.Chain) (*adapter.SendResult, error) {
	return r.record("group", group, chain)
}

func (r *recordingAPI) SendTempMessage(ctx context.Context, qq, group int64, chain message.Chain) (*adapter.SendResult, error) {
	return r.record("temp", qq, chain)
}

func (r *recordingAPI) take() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sent
	r.sent = nil
	return out
}

type harness struct {
	t      *testing.T
	agent  *pie.Agent
	api    *recordingAPI
	router *dispatch.Router
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	a := pie.NewAgent(nil, nil)
	require.NoError(t, a.InstallAll(ctx, All(a)))
	require.NoError(t, a.UpdateConfig(ctx, ManagerID, map[string]any{"admins": []any{adminID}}))

	api := &recordingAPI{}
	r := dispatch.NewRouter(dispatch.Config{Agent: a, API: api, BotID: 10001})
	return &harness{t: t, agent: a, api: api, router: r}
}

// say delivers raw as an inbound message and returns what the bot sent back.
func (h *harness) say(raw []byte) []sent {
	h.t.Helper()
	in, err := message.Decode(raw)
	require.NoError(h.t, err)
	require.NotNil(h.t, in.Message)
	h.router.HandleMessage(context.Background(), *in.Message)
	h.router.Wait()
	return h.api.take()
}

func (h *harness) event(raw []byte) []sent {
	h.t.Helper()
	in, err := message.Decode(raw)
	require.NoError(h.t, err)
	require.NotNil(h.t, in.Event)
	h.router.HandleEvent(context.Background(), *in.Event)
	h.router.Wait()
	return h.api.take()
}

func TestAll_InstallsEnabled(t *testing.T) {
	h := newHarness(t)

	ids := make([]string, 0, 3)
	for _, inst := range h.agent.Enabled() {
		ids = append(ids, inst.ID())
	}
	assert.ElementsMatch(t, []string{PingID, ManagerID, GreeterID}, ids)
}

func TestPing(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, []sent{{kind: "friend", target: 9, text: "pong"}},
		h.say(fakegateway.FriendMessage(1, 9, "bob", "/ping")))
	assert.Equal(t, []sent{{kind: "group", target: groupID, text: "pong"}},
		h.say(fakegateway.GroupMessage(2, groupID, 9, "bob", "  /ping ")))
	assert.Equal(t, []sent{{kind: "temp", target: 9, text: "pong"}},
		h.say(fakegateway.TempMessage(3, groupID, 9, "/ping")))
	assert.Empty(t, h.say(fakegateway.FriendMessage(4, 9, "bob", "/ping please")))
}

func TestManager_List(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.agent.Disable(context.Background(), GreeterID))

	out := h.say(fakegateway.FriendMessage(1, 9, "bob", "/pies"))
	require.Len(t, out, 1)
	assert.Contains(t, out[0].text, "pie.builtin.ping 1.0.0 (enabled)")
	assert.Contains(t, out[0].text, "pie.builtin.manager 1.0.0 (enabled)")
	assert.Contains(t, out[0].text, "pie.builtin.greeter 1.0.0 (disabled)")
}

func TestManager_Toggle(t *testing.T) {
	h := newHarness(t)

	out := h.say(fakegateway.FriendMessage(1, adminID, "admin", "/pie disable pie.builtin.ping"))
	assert.Equal(t, []sent{{kind: "friend", target: adminID, text: "disabled pie.builtin.ping"}}, out)
	inst, ok := h.agent.Get(PingID)
	require.True(t, ok)
	assert.False(t, inst.Enabled())
	assert.Empty(t, h.say(fakegateway.FriendMessage(2, adminID, "admin", "/ping")))

	out = h.say(fakegateway.GroupMessage(3, groupID, adminID, "admin", "/pie enable pie.builtin.ping"))
	assert.Equal(t, []sent{{kind: "group", target: groupID, text: "enabled pie.builtin.ping"}}, out)
	assert.True(t, inst.Enabled())
}

func TestManager_RejectsNonAdmin(t *testing.T) {
	h := newHarness(t)

	out := h.say(fakegateway.FriendMessage(1, 9, "bob", "/pie disable pie.builtin.ping"))
	assert.Equal(t, []sent{{kind: "friend", target: 9, text: "not allowed"}}, out)
	inst, _ := h.agent.Get(PingID)
	assert.True(t, inst.Enabled())
}

func TestManager_BadInput(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		text string
		want string
	}{
		{"/pie", "usage: /pie enable|disable <id>"},
		{"/pie restart pie.builtin.ping", "usage: /pie enable|disable <id>"},
		{"/pie disable pie.builtin.manager", "the manager cannot disable itself"},
	}
	for i, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			out := h.say(fakegateway.FriendMessage(int64(i+1), adminID, "admin", tt.text))
			require.Len(t, out, 1)
			assert.Equal(t, tt.want, out[0].text)
		})
	}

	out := h.say(fakegateway.FriendMessage(10, adminID, "admin", "/pie enable pie.missing"))
	require.Len(t, out, 1)
	assert.Contains(t, out[0].text, "enable pie.missing failed")

	assert.Empty(t, h.say(fakegateway.FriendMessage(11, adminID, "admin", "/pieces")))
}

func TestGreeter(t *testing.T) {
	h := newHarness(t)

	out := h.event(fakegateway.MemberJoin(groupID, 9, "bob"))
	assert.Equal(t, []sent{{kind: "group", target: groupID, text: "Welcome, bob!"}}, out)

	require.NoError(t, h.agent.UpdateConfig(context.Background(), GreeterID, map[string]any{"welcome": "hi {name}, read the rules"}))
	out = h.event(fakegateway.MemberJoin(groupID, 9, "bob"))
	assert.Equal(t, []sent{{kind: "group", target: groupID, text: "hi bob, read the rules"}}, out)

	assert.Empty(t, h.event(fakegateway.Event("MemberLeaveEventQuit", map[string]any{
		"member": map[string]any{"id": 9, "group": map[string]any{"id": groupID}},
	})))
}
