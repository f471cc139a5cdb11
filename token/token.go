package token

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInsufficientBalance is returned when a transfer exceeds the holder's balance.
	ErrInsufficientBalance = errors.New("insufficient token balance")
	// ErrInvalidAmount is returned when an amount is nil or negative.
	ErrInvalidAmount = errors.New("amount must be non-nil and non-negative")
	// ErrTokenNotFound is returned when a resolver has no token at the given address.
	ErrTokenNotFound = errors.New("token not found in registry")
)

// Token is the capability every fungible asset must provide. Implementations
// track balances in a single unsigned-integer unit; nothing else about their
// internal representation is assumed.
type Token interface {
	// BalanceOf returns the holder's current balance. The returned value is
	// owned by the caller and safe to mutate.
	BalanceOf(holder common.Address) *big.Int

	// Transfer moves amount from one holder to another.
	Transfer(from, to common.Address, amount *big.Int) error

	// TransferFrom moves amount on behalf of a third party. Approval
	// accounting is out of scope for this engine; implementations may treat
	// it identically to Transfer.
	TransferFrom(from, to common.Address, amount *big.Int) error
}

// Snapshotter is an optional capability for tokens whose balance state can be
// checkpointed and rolled back. Revisions nest: reverting to an earlier
// revision discards every change made after it.
type Snapshotter interface {
	Snapshot() int
	RevertToSnapshot(rev int)
}

// Resolver maps an asset address to its Token implementation.
type Resolver interface {
	Token(asset common.Address) (Token, error)
}

// Info is a safe, structured representation of a token's metadata.
type Info struct {
	Address  common.Address `json:"address"`
	Name     string         `json:"name"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}
