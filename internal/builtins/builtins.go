// ABOUTME: Built-in pies shipped with every bridge
// ABOUTME: Ping, chat-driven pie management and a member join greeter

package builtins

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/2389/pie-bridge/internal/message"
	"github.com/2389/pie-bridge/internal/pie"
)

// Built-in pie ids.
const (
	PingID    = "pie.builtin.ping"
	ManagerID = "pie.builtin.manager"
	GreeterID = "pie.builtin.greeter"
)

const version = "1.0.0"

// All returns every built-in pie.
func All(agent *pie.Agent) []*pie.Pie {
	return []*pie.Pie{Ping(), Manager(agent), Greeter()}
}

// Ping answers "/ping" with "pong".
func Ping() *pie.Pie {
	return &pie.Pie{
		ID:          PingID,
		Version:     version,
		Description: "Answers /ping with pong",
		Filters:     []pie.Filter{pie.TextEquals("/ping")},
		OnMessage: func(ctx context.Context, mc *pie.MessageContext) error {
			return reply(ctx, mc, "pong")
		},
	}
}

// Manager lists, enables and disables pies on agent from chat.
func Manager(agent *pie.Agent) *pie.Pie {
	m := &manager{agent: agent}
	return &pie.Pie{
		ID:          ManagerID,
		Version:     version,
		Description: "Lists and toggles pies from chat",
		Filters:     []pie.Filter{pie.TextHasPrefix("/pie")},
		Schema: []pie.ConfigField{
			{Key: "admins", Default: []any{}, Description: "account ids allowed to enable or disable pies"},
		},
		OnMessage: m.handle,
	}
}

type manager struct {
	agent *pie.Agent
}

func (m *manager) handle(ctx context.Context, mc *pie.MessageContext) error {
	args := strings.Fields(mc.Chain.PlainText())
	switch {
	case len(args) == 1 && args[0] == "/pies":
		return reply(ctx, mc, m.list())
	case len(args) >= 1 && args[0] == "/pie":
		return m.toggle(ctx, mc, args[1:])
	default:
		return nil
	}
}

func (m *manager) list() string {
	insts := m.agent.List()
	if len(insts) == 0 {
		return "no pies installed"
	}
	lines := make([]string, 0, len(insts))
	for _, inst := range insts {
		state := "disabled"
		if inst.Enabled() {
			state = "enabled"
		}
		lines = append(lines, fmt.Sprintf("%s %s (%s)", inst.ID(), inst.Version(), state))
	}
	return strings.Join(lines, "\n")
}

func (m *manager) toggle(ctx context.Context, mc *pie.MessageContext, args []string) error {
	if len(args) != 2 || (args[0] != "enable" && args[0] != "disable") {
		return reply(ctx, mc, "usage: /pie enable|disable <id>")
	}
	if !slices.Contains(mc.Pie.Config().Int64s("admins"), mc.Window.SenderID) {
		mc.Logger.Info("rejected pie toggle", "sender", mc.Window.SenderID, "target", args[1])
		return reply(ctx, mc, "not allowed")
	}

	action, id := args[0], args[1]
	var err error
	switch action {
	case "enable":
		err = m.agent.Enable(ctx, id)
	case "disable":
		if id == ManagerID {
			return reply(ctx, mc, "the manager cannot disable itself")
		}
		err = m.agent.Disable(ctx, id)
	}
	if err != nil {
		return reply(ctx, mc, fmt.Sprintf("%s %s failed: %v", action, id, err))
	}
	return reply(ctx, mc, fmt.Sprintf("%sd %s", action, id))
}

// Greeter welcomes members joining a group.
func Greeter() *pie.Pie {
	return &pie.Pie{
		ID:          GreeterID,
		Version:     version,
		Description: "Welcomes new group members",
		Schema: []pie.ConfigField{
			{Key: "welcome", Default: "Welcome, {name}!", Description: "text sent on join; {name} is the member"},
		},
		OnEvent: func(ctx context.Context, ec *pie.EventContext) error {
			if ec.Event.Type != "MemberJoinEvent" {
				return nil
			}
			group := ec.Event.Get("member.group.id").Int()
			if group == 0 {
				return fmt.Errorf("member join without group")
			}
			text := ec.Pie.Config().String("welcome")
			if text == "" {
				return nil
			}
			text = strings.ReplaceAll(text, "{name}", ec.Event.Get("member.memberName").String())

			res, err := ec.API.SendGroupMessage(ctx, group, message.Chain{message.Plain(text)})
			if err != nil {
				return fmt.Errorf("sending welcome: %w", err)
			}
			if !res.OK() {
				return fmt.Errorf("sending welcome: code %d: %s", res.Code, res.Msg)
			}
			return nil
		},
	}
}

func reply(ctx context.Context, mc *pie.MessageContext, text string) error {
	res, err := mc.Reply(ctx, message.Chain{message.Plain(text)})
	if err != nil {
		return fmt.Errorf("replying: %w", err)
	}
	if !res.OK() {
		return fmt.Errorf("replying: code %d: %s", res.Code, res.Msg)
	}
	return nil
}
