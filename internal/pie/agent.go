// ABOUTME: Plugin lifecycle manager: install, enable, disable, uninstall and config updates
// ABOUTME: Hooks are best effort; every state change is persisted as a plugin record

package pie

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/2389/pie-bridge/internal/store"
)

// RecordStore is the slice of the store the agent needs.
type RecordStore interface {
	SaveOrUpdatePluginRecord(ctx context.Context, rec *store.PluginRecord) error
	GetPluginRecords(ctx context.Context) ([]*store.PluginRecord, error)
}

type installOptions struct {
	noEnable    bool
	noEnableIDs []string
	source      string
}

// InstallOption adjusts a single install.
type InstallOption func(*installOptions)

// WithoutEnable installs without enabling.
func WithoutEnable() InstallOption {
	return func(o *installOptions) { o.noEnable = true }
}

// WithoutEnableFor installs the listed ids without enabling; others are enabled.
func WithoutEnableFor(ids ...string) InstallOption {
	return func(o *installOptions) { o.noEnableIDs = append(o.noEnableIDs, ids...) }
}

// WithSource records where the pie was loaded from.
func WithSource(path string) InstallOption {
	return func(o *installOptions) { o.source = path }
}

// Agent owns the installed pies. Create one per bot with NewAgent.
type Agent struct {
	store  RecordStore
	logger *slog.Logger

	mu      sync.RWMutex
	order   []string
	pies    map[string]*Instance
	records map[string]*store.PluginRecord
}

// NewAgent creates an agent. A nil store disables persistence.
func NewAgent(st RecordStore, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		store:   st,
		logger:  logger.With("component", "agent"),
		pies:    make(map[string]*Instance),
		records: make(map[string]*store.PluginRecord),
	}
}

// LoadRecords reads persisted plugin records. Pies installed afterwards take
// their enabled flag and config values from a matching record.
func (a *Agent) LoadRecords(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	recs, err := a.store.GetPluginRecords(ctx)
	if err != nil {
		return fmt.Errorf("loading plugin records: %w", err)
	}

	a.mu.Lock()
	for _, r := range recs {
		a.records[r.PieID] = r
	}
	a.mu.Unlock()

	a.logger.Info("loaded plugin records", "count", len(recs))
	return nil
}

// Install installs p. Installing an id that is present at the same or a newer
// version is a logged no-op returning ErrAlreadyInstalled; a newer version
// replaces the installed one.
func (a *Agent) Install(ctx context.Context, p *Pie, opts ...InstallOption) error {
	if err := p.Validate(); err != nil {
		a.logger.Error("refusing to install pie", "error", err)
		return err
	}
	var o installOptions
	for _, opt := range opts {
		opt(&o)
	}

	if old, ok := a.Get(p.ID); ok {
		if compareVersions(p.Version, old.Version()) <= 0 {
			a.logger.Warn("pie already installed",
				"pie", p.ID,
				"installed", old.Version(),
				"requested", p.Version,
			)
			return fmt.Errorf("%w: %s %s", ErrAlreadyInstalled, p.ID, old.Version())
		}
		a.logger.Info("upgrading pie", "pie", p.ID, "from", old.Version(), "to", p.Version)
		if err := a.remove(ctx, p.ID, false); err != nil {
			return err
		}
	}

	cfg := p.Defaults()
	enable := !o.noEnable && !slices.Contains(o.noEnableIDs, p.ID)

	a.mu.Lock()
	if _, ok := a.pies[p.ID]; ok {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyInstalled, p.ID)
	}
	if rec, ok := a.records[p.ID]; ok {
		cfg = merge(cfg, rec.Config)
		// An opt-out always wins; a stored disable wins over auto-enable.
		enable = enable && rec.Enabled
	}
	inst := newInstance(p, cfg, o.source)
	a.pies[p.ID] = inst
	a.order = append(a.order, p.ID)
	a.mu.Unlock()

	a.logger.Info("pie installed", "pie", p.ID, "version", p.Version)
	a.runHook(ctx, inst, "installed", p.Hooks.Installed)
	a.persist(ctx, inst)

	if enable {
		return a.Enable(ctx, p.ID)
	}
	return nil
}

// InstallAll installs a batch in dependency order so a pie's installed hook never
// runs before its dependencies are installed. Failures do not stop the batch;
// they are joined into the returned error.
func (a *Agent) InstallAll(ctx context.Context, pies []*Pie, opts ...InstallOption) error {
	deps := make(map[string][]string, len(pies))
	byID := make(map[string]*Pie, len(pies))
	for _, p := range pies {
		if p == nil {
			continue
		}
		deps[p.ID] = p.Dependencies
		byID[p.ID] = p
	}

	plan := PlanInstall(deps)
	for id, missing := range plan.Dangling {
		for _, dep := range missing {
			if _, ok := a.Get(dep); !ok {
				a.logger.Warn("pie depends on a pie that is not installed", "pie", id, "dependency", dep)
			}
		}
	}
	if len(plan.Unordered) > 0 {
		a.logger.Warn("dependency cycle, install order is best effort", "pies", plan.Unordered)
	}

	var errs []error
	for _, id := range plan.Order {
		if err := a.Install(ctx, byID[id], opts...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Enable turns a pie on. Enabling an enabled pie does nothing.
func (a *Agent) Enable(ctx context.Context, id string) error {
	inst, ok := a.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPieNotFound, id)
	}
	if !inst.setEnabled(true) {
		return nil
	}
	a.logger.Info("pie enabled", "pie", id)
	a.runHook(ctx, inst, "enabled", inst.pie.Hooks.Enabled)
	a.persist(ctx, inst)
	return nil
}

// Disable turns a pie off. Handlers already running for earlier items are not
// interrupted.
func (a *Agent) Disable(ctx context.Context, id string) error {
	inst, ok := a.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPieNotFound, id)
	}
	a.disable(ctx, inst, true)
	return nil
}

func (a *Agent) disable(ctx context.Context, inst *Instance, persist bool) {
	if !inst.setEnabled(false) {
		return
	}
	a.logger.Info("pie disabled", "pie", inst.ID())
	a.runHook(ctx, inst, "disabled", inst.pie.Hooks.Disabled)
	if persist {
		a.persist(ctx, inst)
	}
}

// Uninstall disables the pie, removes it, then runs its uninstalled hook.
// Its record is kept with the enabled flag it had before, so a reinstall
// restores the same state.
func (a *Agent) Uninstall(ctx context.Context, id string) error {
	return a.remove(ctx, id, true)
}

func (a *Agent) remove(ctx context.Context, id string, persist bool) error {
	inst, ok := a.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPieNotFound, id)
	}

	// The record keeps the flag the pie had before the forced disable, so a
	// reinstall or an upgrade comes back in the same state.
	wasEnabled := inst.Enabled()
	a.disable(ctx, inst, false)
	if persist {
		a.save(ctx, inst, wasEnabled)
	}

	a.mu.Lock()
	delete(a.pies, id)
	a.order = slices.DeleteFunc(a.order, func(s string) bool { return s == id })
	a.mu.Unlock()

	a.logger.Info("pie uninstalled", "pie", id)
	a.runHook(ctx, inst, "uninstalled", inst.pie.Hooks.Uninstalled)
	return nil
}

// UpdateConfig overlays values on the pie's schema defaults and persists the result.
func (a *Agent) UpdateConfig(ctx context.Context, id string, values map[string]any) error {
	inst, ok := a.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPieNotFound, id)
	}
	inst.setConfig(merge(inst.pie.Defaults(), values))
	a.persist(ctx, inst)
	a.logger.Info("pie config updated", "pie", id, "keys", len(values))
	return nil
}

// Get returns the installed pie with id.
func (a *Agent) Get(id string) (*Instance, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	inst, ok := a.pies[id]
	return inst, ok
}

// List returns every installed pie in install order.
func (a *Agent) List() []*Instance {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Instance, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.pies[id])
	}
	return out
}

// Enabled returns the enabled pies in install order.
func (a *Agent) Enabled() []*Instance {
	return slices.DeleteFunc(a.List(), func(inst *Instance) bool { return !inst.Enabled() })
}

func (a *Agent) persist(ctx context.Context, inst *Instance) {
	a.save(ctx, inst, inst.Enabled())
}

// save writes inst's record with the given enabled flag.
func (a *Agent) save(ctx context.Context, inst *Instance, enabled bool) {
	rec := &store.PluginRecord{
		PieID:     inst.ID(),
		Version:   inst.Version(),
		Enabled:   enabled,
		Config:    inst.Config(),
		Source:    inst.Source(),
		UpdatedAt: time.Now(),
	}

	a.mu.Lock()
	a.records[rec.PieID] = rec
	a.mu.Unlock()

	if a.store == nil {
		return
	}
	if err := a.store.SaveOrUpdatePluginRecord(ctx, rec); err != nil {
		a.logger.Error("saving plugin record failed", "pie", rec.PieID, "error", err)
	}
}

// runHook calls hook, logging an error return or a panic against the pie.
func (a *Agent) runHook(ctx context.Context, inst *Instance, name string, hook Hook) {
	if hook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("pie hook panicked", "pie", inst.ID(), "hook", name, "panic", r)
		}
	}()
	if err := hook(ctx, inst); err != nil {
		a.logger.Error("pie hook failed", "pie", inst.ID(), "hook", name, "error", err)
	}
}
