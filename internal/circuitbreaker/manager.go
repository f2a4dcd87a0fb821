// Package circuitbreaker protects calls into the shared store and into
// outbound webhook deliveries from cascading into every component when a
// dependency turns unhealthy: each caller routes through a named breaker
// so a sustained run of failures fails fast instead of piling up blocked
// goroutines behind a dependency that will not answer.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Manager hands out a shared *CircuitBreaker per name, building one lazily
// on first use. Every repository or delivery path that passes the same
// name gets back the same breaker instance, so failures against one
// database call trip the breaker every other call through that name also
// observes.
type Manager struct {
	logger   zerolog.Logger
	breakers sync.Map // string -> *CircuitBreaker
	creating sync.Mutex
}

// NewManager creates an empty circuit breaker manager. Breakers are
// created on demand by GetOrCreate, not up front.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{logger: logger}
}

// GetOrCreate returns the breaker registered under name, building it from
// config the first time name is seen. config is ignored on every call
// after the first — a breaker's limits are fixed at creation, not
// reconfigured by a later caller passing a different Config for the same
// name.
func (m *Manager) GetOrCreate(name string, config Config) *CircuitBreaker {
	if v, ok := m.breakers.Load(name); ok {
		return v.(*CircuitBreaker)
	}

	// Serialize construction so two goroutines racing to create the same
	// breaker can't both log "created" or momentarily disagree on which
	// instance is canonical; sync.Map's own LoadOrStore would allow that
	// race to happen silently.
	m.creating.Lock()
	defer m.creating.Unlock()

	if v, ok := m.breakers.Load(name); ok {
		return v.(*CircuitBreaker)
	}

	config.Name = name
	config.Logger = m.logger
	breaker := New(config)
	m.breakers.Store(name, breaker)

	m.logger.Info().
		Str("breaker", name).
		Int("max_failures", config.MaxFailures).
		Dur("timeout", config.Timeout).
		Msg("circuit breaker created")

	return breaker
}

// Get returns the breaker registered under name, if any.
func (m *Manager) Get(name string) (*CircuitBreaker, bool) {
	v, ok := m.breakers.Load(name)
	if !ok {
		return nil, false
	}
	return v.(*CircuitBreaker), true
}

// Snapshot returns a point-in-time Metrics for every breaker the manager
// has created so far, keyed by name.
func (m *Manager) Snapshot() map[string]Metrics {
	out := make(map[string]Metrics)
	m.breakers.Range(func(key, value any) bool {
		out[key.(string)] = value.(*CircuitBreaker).GetMetrics()
		return true
	})
	return out
}

// databaseBreakerConfig and externalAPIBreakerConfig are the two profiles
// every caller in this tree reaches for: the shared store is trusted
// local infrastructure that should fail fast and recover quickly, while an
// external webhook endpoint is allowed to be flaky and given more room
// before the breaker gives up on it.
var (
	databaseBreakerConfig = Config{
		MaxFailures: 3,
		Timeout:     10 * time.Second,
		MaxRequests: 2,
	}
	externalAPIBreakerConfig = Config{
		MaxFailures: 5,
		Timeout:     30 * time.Second,
		MaxRequests: 3,
	}
)

// DefaultDatabaseConfig returns the breaker profile used for calls into
// the shared store.
func DefaultDatabaseConfig() Config { return databaseBreakerConfig }

// DefaultExternalAPIConfig returns the breaker profile used for outbound
// webhook deliveries.
func DefaultExternalAPIConfig() Config { return externalAPIBreakerConfig }
