package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/defistate/amm-engine-go/events"
	"github.com/defistate/amm-engine-go/pool"
	"github.com/defistate/amm-engine-go/quote"
	"github.com/defistate/amm-engine-go/token"
)

var (
	// ErrPairExists is returned when a pool is already registered for the unordered pair.
	ErrPairExists = errors.New("pair already exists in registry")
	// ErrPairNotFound is returned when no pool is registered for the unordered pair.
	ErrPairNotFound = errors.New("pair not found in registry")
)

// Logger defines a standard interface for structured, leveled logging,
// compatible with the standard library's slog.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// pairKey is a canonical (token0, token1) pair.
type pairKey struct {
	token0 common.Address
	token1 common.Address
}

// Config holds the dependencies and settings for the Registry.
type Config struct {
	// Address is the registry's own identity; it seeds pool address derivation.
	Address common.Address
	// Tokens resolves asset addresses to their Token implementations.
	Tokens token.Resolver
	// Emitter receives PairCreated and all pool events. Optional.
	Emitter events.Emitter
	// PrometheusReg receives the registry metrics. Optional.
	PrometheusReg prometheus.Registerer
	// Logger for structured logging. Optional.
	Logger Logger
	// Now is the clock handed to created pools. Optional, defaults to time.Now.
	Now func() time.Time
}

func (c *Config) validate() error {
	if c.Address == (common.Address{}) {
		return errors.New("registry address is required")
	}
	if c.Tokens == nil {
		return errors.New("token resolver is required")
	}
	return nil
}

// Registry creates and tracks exactly one canonical pool per unordered asset
// pair. Pool addresses are a pure function of (registry address, canonical
// pair, creation template), so any observer can compute them without a lookup.
type Registry struct {
	address common.Address
	tokens  token.Resolver
	emitter events.Emitter
	logger  Logger
	metrics *Metrics
	now     func() time.Time

	mu       sync.RWMutex
	pairs    map[pairKey]common.Address
	pools    map[common.Address]*pool.Pool
	allPairs []common.Address
	byToken  map[common.Address][]common.Address
}

// New constructs a registry from the given configuration.
func New(cfg *Config) (*Registry, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid registry configuration: %w", err)
	}

	emitter := cfg.Emitter
	if emitter == nil {
		emitter = events.Discard
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := cfg.PrometheusReg
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Registry{
		address: cfg.Address,
		tokens:  cfg.Tokens,
		emitter: emitter,
		logger:  logger,
		metrics: NewMetrics(reg),
		now:     now,
		pairs:   make(map[pairKey]common.Address),
		pools:   make(map[common.Address]*pool.Pool),
		byToken: make(map[common.Address][]common.Address),
	}, nil
}

// Address returns the registry's identity.
func (r *Registry) Address() common.Address { return r.address }

// CreatePair creates and initializes the canonical pool for the unordered
// pair (assetX, assetY) at its deterministically derived address.
func (r *Registry) CreatePair(assetX, assetY common.Address) (common.Address, error) {
	token0, token1, err := quote.Canonicalize(assetX, assetY)
	if err != nil {
		return common.Address{}, err
	}

	t0, err := r.tokens.Token(token0)
	if err != nil {
		return common.Address{}, fmt.Errorf("createPair: %w", err)
	}
	t1, err := r.tokens.Token(token1)
	if err != nil {
		return common.Address{}, fmt.Errorf("createPair: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := pairKey{token0: token0, token1: token1}
	if _, ok := r.pairs[key]; ok {
		return common.Address{}, fmt.Errorf("%w: (%s, %s)", ErrPairExists, token0.Hex(), token1.Hex())
	}

	poolAddr := quote.PoolAddress(r.address, token0, token1)
	p := pool.New(poolAddr, r.address, r.emitter, r.now)
	if err := p.Initialize(r.address, token0, token1, t0, t1); err != nil {
		return common.Address{}, fmt.Errorf("createPair: %w", err)
	}

	r.pairs[key] = poolAddr
	r.pools[poolAddr] = p
	r.allPairs = append(r.allPairs, poolAddr)
	r.byToken[token0] = append(r.byToken[token0], poolAddr)
	r.byToken[token1] = append(r.byToken[token1], poolAddr)

	r.metrics.PairsCreated.Inc()
	r.metrics.PairsTotal.Set(float64(len(r.allPairs)))
	r.logger.Info("Pair created",
		"token0", token0.Hex(),
		"token1", token1.Hex(),
		"pool", poolAddr.Hex(),
		"pairCount", len(r.allPairs),
	)
	r.emitter.Emit(events.PairCreated{
		Token0:    token0,
		Token1:    token1,
		Pool:      poolAddr,
		PairCount: len(r.allPairs),
	})
	return poolAddr, nil
}

// Pair returns the pool for the unordered pair, resolving the same pool
// regardless of argument order.
func (r *Registry) Pair(assetX, assetY common.Address) (*pool.Pool, bool) {
	token0, token1, err := quote.Canonicalize(assetX, assetY)
	if err != nil {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	addr, ok := r.pairs[pairKey{token0: token0, token1: token1}]
	if !ok {
		return nil, false
	}
	return r.pools[addr], true
}

// PoolAt returns the pool registered at the given address, if any.
func (r *Registry) PoolAt(addr common.Address) (*pool.Pool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[addr]
	return p, ok
}

// AllPairs returns the created pool addresses in insertion order.
func (r *Registry) AllPairs() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]common.Address, len(r.allPairs))
	copy(out, r.allPairs)
	return out
}

// PairsLength returns the number of created pools.
func (r *Registry) PairsLength() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.allPairs)
}

// PoolsForToken returns the addresses of every pool whose pair contains the
// given asset, in creation order.
func (r *Registry) PoolsForToken(asset common.Address) []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addrs, ok := r.byToken[asset]
	if !ok {
		return nil
	}
	out := make([]common.Address, len(addrs))
	copy(out, addrs)
	return out
}
