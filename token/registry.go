package token

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry is a concurrency-safe Resolver backed by a simple address index.
type Registry struct {
	mu     sync.RWMutex
	tokens map[common.Address]Token
}

// NewRegistry creates an empty token registry.
func NewRegistry() *Registry {
	return &Registry{
		tokens: make(map[common.Address]Token),
	}
}

// Register binds a Token implementation to its asset address. Re-registering
// an address replaces the previous binding.
func (r *Registry) Register(asset common.Address, t Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[asset] = t
}

// Token resolves the asset address to its Token implementation.
func (r *Registry) Token(asset common.Address) (Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tokens[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotFound, asset.Hex())
	}
	return t, nil
}

// Addresses returns the registered asset addresses in unspecified order.
func (r *Registry) Addresses() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	addrs := make([]common.Address, 0, len(r.tokens))
	for addr := range r.tokens {
		addrs = append(addrs, addr)
	}
	return addrs
}
