package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Event is a state-change notification emitted by a pool or the registry.
// The typed events below are the engine's only externally observable stream;
// their field sets and emission order are part of the public contract.
type Event interface {
	// Kind returns a stable identifier for the event type.
	Kind() string
}

// Sync reports a pool's reserves immediately after resynchronization.
type Sync struct {
	Pool     common.Address `json:"pool"`
	Reserve0 *big.Int       `json:"reserve0"`
	Reserve1 *big.Int       `json:"reserve1"`
}

func (Sync) Kind() string { return "sync" }

// Deposited reports a completed liquidity deposit.
type Deposited struct {
	Pool    common.Address `json:"pool"`
	Caller  common.Address `json:"caller"`
	Amount0 *big.Int       `json:"amount0"`
	Amount1 *big.Int       `json:"amount1"`
}

func (Deposited) Kind() string { return "deposited" }

// Withdrawn reports a completed liquidity withdrawal.
type Withdrawn struct {
	Pool    common.Address `json:"pool"`
	Caller  common.Address `json:"caller"`
	Amount0 *big.Int       `json:"amount0"`
	Amount1 *big.Int       `json:"amount1"`
	To      common.Address `json:"to"`
}

func (Withdrawn) Kind() string { return "withdrawn" }

// Exchanged reports a completed swap against a single pool.
type Exchanged struct {
	Pool       common.Address `json:"pool"`
	Caller     common.Address `json:"caller"`
	Amount0In  *big.Int       `json:"amount0In"`
	Amount1In  *big.Int       `json:"amount1In"`
	Amount0Out *big.Int       `json:"amount0Out"`
	Amount1Out *big.Int       `json:"amount1Out"`
	To         common.Address `json:"to"`
}

func (Exchanged) Kind() string { return "exchanged" }

// PairCreated reports the registration of a new pool for a canonical pair.
type PairCreated struct {
	Token0    common.Address `json:"token0"`
	Token1    common.Address `json:"token1"`
	Pool      common.Address `json:"pool"`
	PairCount int            `json:"pairCount"`
}

func (PairCreated) Kind() string { return "pairCreated" }

// Emitter receives events synchronously, in emission order.
type Emitter interface {
	Emit(e Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(e Event)

func (f EmitterFunc) Emit(e Event) { f(e) }

// Discard is an Emitter that drops every event.
var Discard Emitter = EmitterFunc(func(Event) {})
