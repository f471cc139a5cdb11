package token

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// TransferHookFunc is invoked after a transfer has been applied to the ledger.
// It runs on the caller's goroutine, so a hook may call back into the engine;
// this is how tests exercise re-entrant asset implementations.
type TransferHookFunc func(from, to common.Address, amount *big.Int)

// journalEntry records a holder's balance before a mutation so it can be
// restored on revert.
type journalEntry struct {
	holder common.Address
	prev   *big.Int
}

// Ledger is an in-memory, journaled Token implementation. All balance
// mutations are appended to a journal, which supports StateDB-style
// Snapshot/RevertToSnapshot for atomic rollback of a failed operation.
type Ledger struct {
	mu       sync.Mutex
	info     Info
	balances map[common.Address]*big.Int
	journal  []journalEntry
	hook     TransferHookFunc
}

// NewLedger creates an empty ledger for the asset at the given address.
func NewLedger(address common.Address, name, symbol string, decimals uint8) *Ledger {
	return &Ledger{
		info: Info{
			Address:  address,
			Name:     name,
			Symbol:   symbol,
			Decimals: decimals,
		},
		balances: make(map[common.Address]*big.Int),
	}
}

// Info returns the token's metadata.
func (l *Ledger) Info() Info {
	return l.info
}

// SetTransferHook installs a callback fired after every applied transfer.
// Passing nil removes the hook.
func (l *Ledger) SetTransferHook(hook TransferHookFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hook = hook
}

// BalanceOf returns a copy of the holder's balance, zero if the holder is unknown.
func (l *Ledger) BalanceOf(holder common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.balances[holder]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Mint credits amount to the holder. Journaled like any other mutation.
func (l *Ledger) Mint(to common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(to, amount)
	return nil
}

// Transfer moves amount between holders. The transfer hook, if any, fires
// after balances have been updated, mirroring callback-bearing asset
// implementations.
func (l *Ledger) Transfer(from, to common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}

	l.mu.Lock()
	balance, ok := l.balances[from]
	if !ok || balance.Cmp(amount) < 0 {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), balanceString(balance), amount.String())
	}
	l.debit(from, amount)
	l.credit(to, amount)
	hook := l.hook
	l.mu.Unlock()

	if hook != nil {
		hook(from, to, new(big.Int).Set(amount))
	}
	return nil
}

// TransferFrom is identical to Transfer in this in-memory model; approval
// accounting belongs to the surrounding ledger, not this engine.
func (l *Ledger) TransferFrom(from, to common.Address, amount *big.Int) error {
	return l.Transfer(from, to, amount)
}

// Snapshot returns a revision identifier for the current ledger state.
func (l *Ledger) Snapshot() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.journal)
}

// RevertToSnapshot undoes every balance change recorded after rev. Reverting
// to an unknown (future) revision is a no-op.
func (l *Ledger) RevertToSnapshot(rev int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := len(l.journal) - 1; i >= rev; i-- {
		entry := l.journal[i]
		if entry.prev == nil {
			delete(l.balances, entry.holder)
		} else {
			l.balances[entry.holder] = entry.prev
		}
	}
	if rev < len(l.journal) {
		l.journal = l.journal[:rev]
	}
}

// credit adds amount to a holder's balance. Caller must hold l.mu.
func (l *Ledger) credit(to common.Address, amount *big.Int) {
	l.recordJournal(to)
	current, ok := l.balances[to]
	if !ok {
		current = new(big.Int)
	}
	l.balances[to] = new(big.Int).Add(current, amount)
}

// debit subtracts amount from a holder's balance. Caller must hold l.mu and
// have verified sufficiency.
func (l *Ledger) debit(from common.Address, amount *big.Int) {
	l.recordJournal(from)
	l.balances[from] = new(big.Int).Sub(l.balances[from], amount)
}

// recordJournal saves the holder's pre-mutation balance. Caller must hold l.mu.
func (l *Ledger) recordJournal(holder common.Address) {
	prev, ok := l.balances[holder]
	if !ok {
		l.journal = append(l.journal, journalEntry{holder: holder})
		return
	}
	l.journal = append(l.journal, journalEntry{holder: holder, prev: new(big.Int).Set(prev)})
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func balanceString(b *big.Int) string {
	if b == nil {
		return "0"
	}
	return b.String()
}
