// ABOUTME: Tests for the plugin lifecycle manager
// ABOUTME: Covers hook ordering, hook failure containment, versions, batches and persistence

package pie

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/pie-bridge/internal/store"
)

// hookLog records hook calls across pies.
type hookLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *hookLog) add(s string) {
	l.mu.Lock()
	l.calls = append(l.calls, s)
	l.mu.Unlock()
}

func (l *hookLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func recordingPie(id, version string, log *hookLog, deps ...string) *Pie {
	hook := func(name string) Hook {
		return func(ctx context.Context, inst *Instance) error {
			log.add(inst.ID() + ":" + name)
			return nil
		}
	}
	return &Pie{
		ID:           id,
		Version:      version,
		Dependencies: deps,
		Hooks: Hooks{
			Installed:   hook("installed"),
			Uninstalled: hook("uninstalled"),
			Enabled:     hook("enabled"),
			Disabled:    hook("disabled"),
		},
		Schema: []ConfigField{{Key: "greeting", Default: "hi"}},
	}
}

func TestAgent_HookOrder(t *testing.T) {
	ctx := context.Background()
	log := &hookLog{}
	a := NewAgent(nil, nil)

	require.NoError(t, a.Install(ctx, recordingPie("demo.one", "1.0.0", log)))
	require.NoError(t, a.Disable(ctx, "demo.one"))
	require.NoError(t, a.Uninstall(ctx, "demo.one"))

	assert.Equal(t, []string{
		"demo.one:installed",
		"demo.one:enabled",
		"demo.one:disabled",
		"demo.one:uninstalled",
	}, log.all())
	_, ok := a.Get("demo.one")
	assert.False(t, ok)
}

func TestAgent_UninstallForcesDisable(t *testing.T) {
	ctx := context.Background()
	log := &hookLog{}
	a := NewAgent(nil, nil)

	require.NoError(t, a.Install(ctx, recordingPie("demo.one", "1.0.0", log)))
	require.NoError(t, a.Uninstall(ctx, "demo.one"))

	assert.Equal(t, []string{
		"demo.one:installed",
		"demo.one:enabled",
		"demo.one:disabled",
		"demo.one:uninstalled",
	}, log.all())
}

func TestAgent_WithoutEnable(t *testing.T) {
	ctx := context.Background()
	log := &hookLog{}
	a := NewAgent(nil, nil)

	require.NoError(t, a.Install(ctx, recordingPie("demo.one", "1.0.0", log), WithoutEnable()))
	inst, ok := a.Get("demo.one")
	require.True(t, ok)
	assert.False(t, inst.Enabled())
	assert.Empty(t, a.Enabled())
	assert.Equal(t, []string{"demo.one:installed"}, log.all())

	require.NoError(t, a.Enable(ctx, "demo.one"))
	require.NoError(t, a.Enable(ctx, "demo.one"))
	assert.Equal(t, []string{"demo.one:installed", "demo.one:enabled"}, log.all(), "enable is idempotent")
}

func TestAgent_HookFailuresContained(t *testing.T) {
	ctx := context.Background()
	a := NewAgent(nil, nil)

	panicky := &Pie{
		ID:      "bad.panics",
		Version: "1.0.0",
		Hooks: Hooks{
			Installed: func(context.Context, *Instance) error { panic("boom") },
			Enabled:   func(context.Context, *Instance) error { return errors.New("nope") },
		},
	}
	require.NoError(t, a.Install(ctx, panicky))

	inst, ok := a.Get("bad.panics")
	require.True(t, ok)
	assert.True(t, inst.Enabled(), "state changes even when hooks fail")
}

func TestAgent_VersionRules(t *testing.T) {
	ctx := context.Background()
	log := &hookLog{}
	a := NewAgent(nil, nil)

	require.NoError(t, a.Install(ctx, recordingPie("demo.one", "1.2.0", log)))

	err := a.Install(ctx, recordingPie("demo.one", "1.2.0", log))
	assert.ErrorIs(t, err, ErrAlreadyInstalled)
	err = a.Install(ctx, recordingPie("demo.one", "v1.1.9", log))
	assert.ErrorIs(t, err, ErrAlreadyInstalled)
	assert.Len(t, log.all(), 2, "rejected installs run no hooks")

	require.NoError(t, a.Install(ctx, recordingPie("demo.one", "1.3.0", log)))
	inst, ok := a.Get("demo.one")
	require.True(t, ok)
	assert.Equal(t, "1.3.0", inst.Version())
	assert.True(t, inst.Enabled())
	assert.Equal(t, []string{
		"demo.one:installed",
		"demo.one:enabled",
		"demo.one:disabled",
		"demo.one:uninstalled",
		"demo.one:installed",
		"demo.one:enabled",
	}, log.all())
	assert.Len(t, a.List(), 1)
}

func TestAgent_InvalidPie(t *testing.T) {
	a := NewAgent(nil, nil)
	for _, p := range []*Pie{
		nil,
		{ID: "nonamespace", Version: "1.0.0"},
		{ID: "Bad.Case", Version: "1.0.0"},
		{ID: "demo.ok", Version: "latest"},
	} {
		assert.ErrorIs(t, a.Install(context.Background(), p), ErrInvalidPie)
	}
}

func TestAgent_UnknownID(t *testing.T) {
	ctx := context.Background()
	a := NewAgent(nil, nil)
	assert.ErrorIs(t, a.Enable(ctx, "no.such"), ErrPieNotFound)
	assert.ErrorIs(t, a.Disable(ctx, "no.such"), ErrPieNotFound)
	assert.ErrorIs(t, a.Uninstall(ctx, "no.such"), ErrPieNotFound)
	assert.ErrorIs(t, a.UpdateConfig(ctx, "no.such", nil), ErrPieNotFound)
}

func TestAgent_InstallAllDependencyOrder(t *testing.T) {
	ctx := context.Background()
	log := &hookLog{}
	a := NewAgent(nil, nil)

	// Each installed hook checks its dependencies are already present.
	var missing []string
	check := func(p *Pie) *Pie {
		p.Hooks.Installed = func(ctx context.Context, inst *Instance) error {
			for _, d := range inst.Pie().Dependencies {
				if _, ok := a.Get(d); !ok {
					missing = append(missing, inst.ID()+"->"+d)
				}
			}
			log.add(inst.ID())
			return nil
		}
		p.Hooks.Enabled = nil
		return p
	}

	err := a.InstallAll(ctx, []*Pie{
		check(recordingPie("demo.c", "1.0.0", log, "demo.a", "demo.b")),
		check(recordingPie("demo.b", "1.0.0", log, "demo.a")),
		check(recordingPie("demo.a", "1.0.0", log)),
	})
	require.NoError(t, err)
	assert.Empty(t, missing)
	assert.Equal(t, []string{"demo.a", "demo.b", "demo.c"}, log.all())

	ids := make([]string, 0, 3)
	for _, inst := range a.List() {
		ids = append(ids, inst.ID())
	}
	assert.Equal(t, []string{"demo.a", "demo.b", "demo.c"}, ids)
}

func TestAgent_InstallAllJoinsErrors(t *testing.T) {
	ctx := context.Background()
	log := &hookLog{}
	a := NewAgent(nil, nil)
	require.NoError(t, a.Install(ctx, recordingPie("demo.a", "2.0.0", log)))

	err := a.InstallAll(ctx, []*Pie{
		recordingPie("demo.a", "1.0.0", log),
		recordingPie("demo.b", "1.0.0", log),
	}, WithoutEnableFor("demo.b"))
	assert.ErrorIs(t, err, ErrAlreadyInstalled)

	b, ok := a.Get("demo.b")
	require.True(t, ok, "batch continues past a failure")
	assert.False(t, b.Enabled())
}

func TestAgent_ConfigDefaultsAndUpdate(t *testing.T) {
	ctx := context.Background()
	st := store.NewMockStore()
	a := NewAgent(st, nil)
	require.NoError(t, a.Install(ctx, recordingPie("demo.one", "1.0.0", &hookLog{}), WithSource("/pies/one")))

	inst, _ := a.Get("demo.one")
	assert.Equal(t, "hi", inst.Config().String("greeting"))

	cfg := inst.Config()
	cfg["greeting"] = "mutated"
	assert.Equal(t, "hi", inst.Config().String("greeting"), "Config returns a copy")

	require.NoError(t, a.UpdateConfig(ctx, "demo.one", map[string]any{"extra": 3}))
	assert.Equal(t, "hi", inst.Config().String("greeting"))
	assert.Equal(t, int64(3), inst.Config().Int64("extra"))

	rec, err := st.GetPluginRecord(ctx, "demo.one")
	require.NoError(t, err)
	assert.True(t, rec.Enabled)
	assert.Equal(t, "/pies/one", rec.Source)
	assert.Equal(t, 3, rec.Config["extra"])
}

func TestAgent_RecordsRestoreState(t *testing.T) {
	ctx := context.Background()
	st := store.NewMockStore()
	require.NoError(t, st.SaveOrUpdatePluginRecord(ctx, &store.PluginRecord{
		PieID:   "demo.one",
		Version: "1.0.0",
		Enabled: false,
		Config:  map[string]any{"greeting": "hello"},
	}))

	a := NewAgent(st, nil)
	require.NoError(t, a.LoadRecords(ctx))
	require.NoError(t, a.Install(ctx, recordingPie("demo.one", "1.0.0", &hookLog{})))

	inst, _ := a.Get("demo.one")
	assert.False(t, inst.Enabled(), "stored flag wins over auto-enable")
	assert.Equal(t, "hello", inst.Config().String("greeting"))
}

func TestAgent_OptOutWinsOverStoredRecord(t *testing.T) {
	ctx := context.Background()
	st := store.NewMockStore()

	first := NewAgent(st, nil)
	require.NoError(t, first.Install(ctx, recordingPie("demo.one", "1.0.0", &hookLog{})))
	inst, _ := first.Get("demo.one")
	require.True(t, inst.Enabled())

	second := NewAgent(st, nil)
	require.NoError(t, second.LoadRecords(ctx))
	require.NoError(t, second.Install(ctx, recordingPie("demo.one", "1.0.0", &hookLog{}), WithoutEnable()))
	inst, _ = second.Get("demo.one")
	assert.False(t, inst.Enabled(), "WithoutEnable holds after a restart")

	third := NewAgent(st, nil)
	require.NoError(t, third.LoadRecords(ctx))
	require.NoError(t, third.InstallAll(ctx, []*Pie{
		recordingPie("demo.one", "1.0.0", &hookLog{}),
		recordingPie("demo.two", "1.0.0", &hookLog{}),
	}, WithoutEnableFor("demo.two")))
	two, _ := third.Get("demo.two")
	assert.False(t, two.Enabled())
}

func TestAgent_ReinstallRestoresEnabledFlag(t *testing.T) {
	ctx := context.Background()
	log := &hookLog{}
	a := NewAgent(nil, nil)

	require.NoError(t, a.Install(ctx, recordingPie("demo.one", "1.0.0", log)))
	require.NoError(t, a.Uninstall(ctx, "demo.one"))
	require.NoError(t, a.Install(ctx, recordingPie("demo.one", "1.0.0", log)))

	inst, _ := a.Get("demo.one")
	assert.True(t, inst.Enabled(), "uninstall does not record the forced disable")
	assert.Equal(t, []string{
		"demo.one:installed",
		"demo.one:enabled",
		"demo.one:disabled",
		"demo.one:uninstalled",
		"demo.one:installed",
		"demo.one:enabled",
	}, log.all())

	// A pie disabled before uninstall comes back disabled.
	require.NoError(t, a.Disable(ctx, "demo.one"))
	require.NoError(t, a.Uninstall(ctx, "demo.one"))
	require.NoError(t, a.Install(ctx, recordingPie("demo.one", "1.0.0", log)))
	inst, _ = a.Get("demo.one")
	assert.False(t, inst.Enabled())
}

func TestAgent_PersistFailureIsLogged(t *testing.T) {
	ctx := context.Background()
	st := store.NewMockStore()
	st.SaveErr = errors.New("disk full")
	a := NewAgent(st, nil)

	require.NoError(t, a.Install(ctx, recordingPie("demo.one", "1.0.0", &hookLog{})))
	inst, _ := a.Get("demo.one")
	assert.True(t, inst.Enabled())
}
