package session

import (
	"sync"

	"tradeterm/src/events"
	"tradeterm/src/model"
	"tradeterm/src/position"
)

// Manager owns the Context table keyed by profile. Contexts are created on
// first reference and live for the process lifetime; the proxy checker and
// metadata cache behind the driver factory are shared across all of them.
type Manager struct {
	cfg     Config
	bus     *events.Bus
	factory DriverFactory
	proxy   *ProxyChecker
	sink    position.TradeSink

	mu       sync.Mutex
	contexts map[model.ExchangeProfile]*Context
}

func NewManager(cfg Config, bus *events.Bus, factory DriverFactory, sink position.TradeSink) *Manager {
	return &Manager{
		cfg:      cfg,
		bus:      bus,
		factory:  factory,
		proxy:    NewProxyChecker(),
		sink:     sink,
		contexts: make(map[model.ExchangeProfile]*Context),
	}
}

// Session returns the Context for profile, creating it on first reference.
// Unknown profiles return nil.
func (m *Manager) Session(profile model.ExchangeProfile) *Context {
	if !profile.Valid() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, ok := m.contexts[profile]
	if !ok {
		ctx = NewContext(profile, m.cfg, m.bus, m.factory, m.proxy, m.sink)
		m.contexts[profile] = ctx
	}
	return ctx
}

// Sessions returns every Context created so far.
func (m *Manager) Sessions() []*Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Context, 0, len(m.contexts))
	for _, ctx := range m.contexts {
		out = append(out, ctx)
	}
	return out
}

// DisconnectAll tears every session down, used on shutdown.
func (m *Manager) DisconnectAll() {
	for _, ctx := range m.Sessions() {
		ctx.Disconnect()
	}
}
