// ABOUTME: Plugin descriptor ("pie") and the per-plugin control block the agent owns
// ABOUTME: Defines hooks, handlers, config schema and the contexts handlers receive

package pie

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/mod/semver"

	"github.com/2389/pie-bridge/internal/adapter"
	"github.com/2389/pie-bridge/internal/message"
)

// ErrPieNotFound indicates no pie with the given id is installed.
var ErrPieNotFound = errors.New("pie not found")

// ErrAlreadyInstalled indicates the same or a newer version of the pie is installed.
var ErrAlreadyInstalled = errors.New("pie already installed")

// ErrInvalidPie indicates a descriptor with a malformed id or version.
var ErrInvalidPie = errors.New("invalid pie")

// ids are namespace-qualified: at least two dot-separated segments.
var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*(\.[a-z0-9][a-z0-9_-]*)+$`)

// Hook runs on a lifecycle transition. Errors and panics are logged, never propagated.
type Hook func(ctx context.Context, inst *Instance) error

// Hooks are the optional lifecycle callbacks of a pie.
type Hooks struct {
	Installed   Hook
	Uninstalled Hook
	Enabled     Hook
	Disabled    Hook
}

// MessageHandler handles a chat message that passed every filter of the pie.
type MessageHandler func(ctx context.Context, mc *MessageContext) error

// EventHandler handles an inbound event.
type EventHandler func(ctx context.Context, ec *EventContext) error

// ConfigField declares one configuration key and its default.
type ConfigField struct {
	Key         string
	Default     any
	Description string
}

// Pie is an independently authored extension unit.
type Pie struct {
	ID           string
	Version      string // semantic version, with or without a leading "v"
	Description  string
	Dependencies []string
	Filters      []Filter
	Hooks        Hooks
	OnMessage    MessageHandler
	OnEvent      EventHandler
	Schema       []ConfigField
}

// Validate checks the id and version.
func (p *Pie) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil descriptor", ErrInvalidPie)
	}
	if !idPattern.MatchString(p.ID) {
		return fmt.Errorf("%w: id %q is not namespace-qualified", ErrInvalidPie, p.ID)
	}
	if !semver.IsValid(canonicalVersion(p.Version)) {
		return fmt.Errorf("%w: %s has invalid version %q", ErrInvalidPie, p.ID, p.Version)
	}
	return nil
}

// Defaults returns the schema defaults as a config.
func (p *Pie) Defaults() Config {
	cfg := make(Config, len(p.Schema))
	for _, f := range p.Schema {
		cfg[f.Key] = f.Default
	}
	return cfg
}

func canonicalVersion(v string) string {
	if v == "" || strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// compareVersions returns -1, 0 or +1 as a is older, equal or newer than b.
func compareVersions(a, b string) int {
	return semver.Compare(canonicalVersion(a), canonicalVersion(b))
}

// Instance is the agent's control block for one installed pie.
type Instance struct {
	pie    *Pie
	source string

	mu      sync.RWMutex
	enabled bool
	config  Config
}

func newInstance(p *Pie, cfg Config, source string) *Instance {
	return &Instance{pie: p, config: cfg, source: source}
}

func (i *Instance) ID() string      { return i.pie.ID }
func (i *Instance) Version() string { return i.pie.Version }
func (i *Instance) Pie() *Pie       { return i.pie }

// Source is where the pie was loaded from, or "" for compiled-in pies.
func (i *Instance) Source() string { return i.source }

func (i *Instance) Enabled() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.enabled
}

// Config returns a copy of the resolved configuration.
func (i *Instance) Config() Config {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return maps.Clone(i.config)
}

func (i *Instance) setEnabled(v bool) (changed bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.enabled == v {
		return false
	}
	i.enabled = v
	return true
}

func (i *Instance) setConfig(cfg Config) {
	i.mu.Lock()
	i.config = cfg
	i.mu.Unlock()
}

// MessageContext is what a message handler receives. Window and Chain are private
// copies; changing them has no effect on other pies.
type MessageContext struct {
	Input
	Message message.ChatMessage
	API     adapter.API
	Logger  *slog.Logger
}

// Reply sends chain to the window the message came from.
func (mc *MessageContext) Reply(ctx context.Context, chain message.Chain) (*adapter.SendResult, error) {
	switch mc.Window.Kind {
	case message.WindowGroup:
		return mc.API.SendGroupMessage(ctx, mc.Window.SubjectID, chain)
	case message.WindowTemp:
		return mc.API.SendTempMessage(ctx, mc.Window.SenderID, mc.Window.SubjectID, chain)
	default:
		return mc.API.SendFriendMessage(ctx, mc.Window.SubjectID, chain)
	}
}

// EventContext is what an event handler receives.
type EventContext struct {
	Event  message.Event
	Pie    *Instance
	API    adapter.API
	Logger *slog.Logger
}
