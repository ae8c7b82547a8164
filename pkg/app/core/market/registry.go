package market

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrMarketExists   = errors.New("market already registered")
	ErrMarketNotFound = errors.New("market not found")
)

// Registry indexes market configs by name and by identity.
// Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]*Config        // name -> config
	byID    map[common.Address]string // id -> name
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		markets: make(map[string]*Config),
		byID:    make(map[common.Address]string),
	}
}

// Register adds a market. Names and identities must be unique.
func (r *Registry) Register(c Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.markets[c.Name]; exists {
		return fmt.Errorf("%w: %s", ErrMarketExists, c.Name)
	}
	if _, exists := r.byID[c.ID]; exists {
		return fmt.Errorf("%w: id %s", ErrMarketExists, c.ID.Hex())
	}

	cp := c
	r.markets[c.Name] = &cp
	r.byID[c.ID] = c.Name
	return nil
}

// Get returns a copy of the config registered under name.
func (r *Registry) Get(name string) (Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.markets[name]
	if !exists {
		return Config{}, fmt.Errorf("%w: %s", ErrMarketNotFound, name)
	}
	return *c, nil
}

// GetByID returns a copy of the config with identity id.
func (r *Registry) GetByID(id common.Address) (Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, exists := r.byID[id]
	if !exists {
		return Config{}, fmt.Errorf("%w: id %s", ErrMarketNotFound, id.Hex())
	}
	return *r.markets[name], nil
}

// Update replaces the stored config of an existing market, e.g. after its
// order counter advanced.
func (r *Registry) Update(c Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, exists := r.markets[c.Name]
	if !exists {
		return fmt.Errorf("%w: %s", ErrMarketNotFound, c.Name)
	}
	if cur.ID != c.ID {
		return fmt.Errorf("market %s: identity is immutable", c.Name)
	}
	cp := c
	r.markets[c.Name] = &cp
	return nil
}

// List returns every registered config ordered by name.
func (r *Registry) List() []Config {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Config, 0, len(r.markets))
	for _, c := range r.markets {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the total number of registered markets
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}

// Exists checks if a market is registered under name
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.markets[name]
	return exists
}
