package context

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yourorg/hpp-checkout/internal/checkout"
)

// ErrStoreNotFound is returned when a store has no configuration.
var ErrStoreNotFound = errors.New("store config not found")

// StoreConfig holds the per-store checkout settings.
type StoreConfig struct {
	ID               string
	AcceptedGateways []checkout.GatewayType
	// SessionTimeout bounds the whole checkout attempt; zero means no bound.
	SessionTimeout time.Duration
	FeatureFlags   map[string]bool
}

// Accepts reports whether the store takes payments through g.
// A store without an explicit list accepts every known gateway.
func (c StoreConfig) Accepts(g checkout.GatewayType) bool {
	if len(c.AcceptedGateways) == 0 {
		return g.Valid()
	}
	for _, accepted := range c.AcceptedGateways {
		if accepted == g {
			return true
		}
	}
	return false
}

// GetFeatureFlag returns false for unknown flags.
func (c StoreConfig) GetFeatureFlag(key string) bool {
	if c.FeatureFlags == nil {
		return false
	}
	return c.FeatureFlags[key]
}

// StoreConfigRepository defines an interface for fetching store configurations.
type StoreConfigRepository interface {
	Get(storeID string) (StoreConfig, error)
}

// InMemoryStoreConfigRepository keeps store configs for the process lifetime.
type InMemoryStoreConfigRepository struct {
	mu      sync.RWMutex
	configs map[string]StoreConfig
}

// NewInMemoryStoreConfigRepository creates a new in-memory repository.
func NewInMemoryStoreConfigRepository(configs ...StoreConfig) *InMemoryStoreConfigRepository {
	r := &InMemoryStoreConfigRepository{configs: make(map[string]StoreConfig)}
	for _, c := range configs {
		r.configs[c.ID] = c
	}
	return r
}

// AddConfig adds or replaces a store configuration.
func (r *InMemoryStoreConfigRepository) AddConfig(config StoreConfig) error {
	if config.ID == "" {
		return fmt.Errorf("store config ID cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[config.ID] = config
	return nil
}

// Get fetches a store configuration by ID.
func (r *InMemoryStoreConfigRepository) Get(storeID string) (StoreConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	config, ok := r.configs[storeID]
	if !ok {
		return StoreConfig{}, fmt.Errorf("%w: %s", ErrStoreNotFound, storeID)
	}
	return config, nil
}
