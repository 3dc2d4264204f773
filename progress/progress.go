// Package progress is the assembly surface: it wires storage, the
// event bus, the badge catalog and optional consumers into a ready
// engine.Service.
package progress

import (
	"context"

	mem "progresskit/adapters/memory"
	"progresskit/analytics"
	"progresskit/core"
	"progresskit/engine"
	"progresskit/realtime"
)

// Option configures the service builder.
type Option func(*config)

type config struct {
	store   engine.Store
	mode    engine.DispatchMode
	catalog core.Catalog
	roles   engine.RoleResolver
	hub     *realtime.Hub
	hooks   []analytics.Hook
	svcOpts []engine.ServiceOption
}

// WithStore sets the persistence adapter.
func WithStore(s engine.Store) Option { return func(c *config) { c.store = s } }

// WithCatalog replaces the default badge catalog.
func WithCatalog(cat core.Catalog) Option { return func(c *config) { c.catalog = cat } }

// WithRoleResolver sets the authentication collaborator.
func WithRoleResolver(r engine.RoleResolver) Option { return func(c *config) { c.roles = r } }

// WithDispatchMode selects sync or async event dispatch.
func WithDispatchMode(m engine.DispatchMode) Option { return func(c *config) { c.mode = m } }

// WithRealtime wires a realtime hub to receive all notification intents.
func WithRealtime(h *realtime.Hub) Option { return func(c *config) { c.hub = h } }

// WithAnalytics attaches KPI hooks to the event stream.
func WithAnalytics(hooks ...analytics.Hook) Option {
	return func(c *config) { c.hooks = append(c.hooks, hooks...) }
}

// WithServiceOptions forwards extra options to engine.NewService.
func WithServiceOptions(opts ...engine.ServiceOption) Option {
	return func(c *config) { c.svcOpts = append(c.svcOpts, opts...) }
}

// allEventTypes is every intent the engine publishes.
var allEventTypes = []core.EventType{
	core.EventXPAwarded,
	core.EventLevelUp,
	core.EventBadgeEarned,
	core.EventStreakExtended,
}

// New builds a configured Service. Defaults when not provided:
//   - store: in-memory
//   - catalog: core.DefaultCatalog
//   - dispatch: async
func New(opts ...Option) *engine.Service {
	cfg := &config{mode: engine.DispatchAsync, catalog: core.DefaultCatalog()}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.store == nil {
		cfg.store = mem.New()
	}

	bus := engine.NewEventBus(cfg.mode)
	svcOpts := cfg.svcOpts
	if cfg.roles != nil {
		svcOpts = append(svcOpts, engine.WithRoleResolver(cfg.roles))
	}
	svc := engine.NewService(cfg.store, bus, cfg.catalog, svcOpts...)

	if cfg.hub != nil {
		for _, typ := range allEventTypes {
			bus.Subscribe(typ, func(ctx context.Context, e core.Event) { cfg.hub.Broadcast(ctx, e) })
		}
	}
	for _, hook := range cfg.hooks {
		h := hook
		for _, typ := range allEventTypes {
			bus.Subscribe(typ, func(_ context.Context, e core.Event) { h.OnEvent(e) })
		}
	}
	return svc
}
