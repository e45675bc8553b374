package ai

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/phildougherty/medic/internal/constants"
)

const defaultHealthCheckInterval = 30 * time.Second

// ErrNoProvider is returned when every configured provider is down.
var ErrNoProvider = errors.New("no available AI provider")

// Manager routes completions to the default provider and falls back along
// FallbackProviders when it is unhealthy or refuses a request. Health is
// re-checked in the background.
type Manager struct {
	config    Config
	order     []string
	providers map[string]Provider

	mu        sync.RWMutex
	current   string
	health    map[string]error
	checkedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager builds every configured provider, checks their health once and
// starts the background checker. Providers that fail to build are kept as
// unavailable so Status can explain them.
func NewManager(config Config) *Manager {
	providers := make([]Provider, 0, len(config.Providers))
	for name, pc := range config.Providers {
		p, err := NewProvider(name, pc)
		if err != nil {
			p = unavailable{name: name, reason: err}
		}
		providers = append(providers, p)
	}
	m := newManager(config, providers)

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.healthLoop(ctx)
	return m
}

// NewManagerWithProviders wraps already constructed providers. The first
// provider is the default unless config names one. No background checks run.
func NewManagerWithProviders(config Config, providers ...Provider) *Manager {
	if config.DefaultProvider == "" && len(providers) > 0 {
		config.DefaultProvider = providers[0].Name()
	}
	return newManager(config, providers)
}

func newManager(config Config, providers []Provider) *Manager {
	m := &Manager{
		config:    config,
		providers: make(map[string]Provider, len(providers)),
		health:    make(map[string]error, len(providers)),
	}
	for _, p := range providers {
		m.providers[p.Name()] = p
	}

	seen := make(map[string]bool)
	for _, name := range append([]string{config.DefaultProvider}, config.FallbackProviders...) {
		if _, ok := m.providers[name]; ok && !seen[name] {
			seen[name] = true
			m.order = append(m.order, name)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultHealthTimeout)
	defer cancel()
	m.refresh(ctx)
	return m
}

func (m *Manager) healthLoop(ctx context.Context) {
	defer close(m.done)

	interval := m.config.HealthCheckInterval
	if interval <= 0 {
		interval = defaultHealthCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, constants.DefaultHealthTimeout)
			m.refresh(checkCtx)
			cancel()
		}
	}
}

// refresh pings every provider and re-elects the current one as the first
// healthy provider in routing order. Pings run without the lock held.
func (m *Manager) refresh(ctx context.Context) {
	results := make(map[string]error, len(m.providers))
	for name, p := range m.providers {
		results[name] = p.Ping(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.health = results
	m.checkedAt = time.Now()
	m.current = ""
	for _, name := range m.order {
		if results[name] == nil {
			m.current = name
			return
		}
	}
}

// candidates is the current provider followed by the other healthy ones.
func (m *Manager) candidates() []Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Provider
	if m.current != "" {
		out = append(out, m.providers[m.current])
	}
	for _, name := range m.order {
		if name != m.current && m.health[name] == nil {
			out = append(out, m.providers[name])
		}
	}
	return out
}

// StreamChat starts a completion on the first provider that accepts it and
// makes that provider current. Errors inside an accepted stream arrive on
// the channel and do not trigger fallback.
func (m *Manager) StreamChat(ctx context.Context, messages []Message, options StreamOptions) (<-chan StreamResponse, error) {
	var lastErr error
	for _, p := range m.candidates() {
		ch, err := p.StreamChat(ctx, messages, options)
		if err != nil {
			lastErr = err
			continue
		}
		m.mu.Lock()
		m.current = p.Name()
		m.mu.Unlock()
		return ch, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoProvider, lastErr)
	}
	return nil, ErrNoProvider
}

// CurrentModel is the default model of the provider requests go to first.
func (m *Manager) CurrentModel() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.providers[m.current]; ok {
		return p.DefaultModel()
	}
	return ""
}

// Status reports the last health check for every configured provider in
// routing order.
func (m *Manager) Status() []ProviderStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make([]ProviderStatus, 0, len(m.providers))
	add := func(name string) {
		p := m.providers[name]
		st := ProviderStatus{
			Name:      name,
			Available: m.health[name] == nil,
			Current:   name == m.current,
			CheckedAt: m.checkedAt,
			Model:     p.DefaultModel(),
		}
		if err := m.health[name]; err != nil {
			st.Error = err.Error()
		}
		status = append(status, st)
	}

	routed := make(map[string]bool, len(m.order))
	for _, name := range m.order {
		routed[name] = true
		add(name)
	}
	var rest []string
	for name := range m.providers {
		if !routed[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		add(name)
	}
	return status
}

// Close stops the background health checker.
func (m *Manager) Close() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}
