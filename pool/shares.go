package pool

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TotalShares returns a copy of the outstanding share supply.
func (p *Pool) TotalShares() *big.Int {
	return new(big.Int).Set(p.totalShares)
}

// SharesOf returns a copy of the holder's share balance.
func (p *Pool) SharesOf(holder common.Address) *big.Int {
	return new(big.Int).Set(p.sharesOf(holder))
}

// TransferShares moves shares between holders. The router uses this to move a
// withdrawer's shares into the pool's own custody before calling Withdraw.
func (p *Pool) TransferShares(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	balance := p.sharesOf(from)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientShares, from.Hex(), balance.String(), amount.String())
	}
	p.shares[from] = new(big.Int).Sub(balance, amount)
	p.shares[to] = new(big.Int).Add(p.sharesOf(to), amount)
	return nil
}

// sharesOf returns the holder's internal share balance, zero if absent.
// The returned value must not be mutated.
func (p *Pool) sharesOf(holder common.Address) *big.Int {
	if b, ok := p.shares[holder]; ok {
		return b
	}
	return new(big.Int)
}

// mintShares credits newly created shares and grows the total supply.
func (p *Pool) mintShares(to common.Address, amount *big.Int) {
	p.shares[to] = new(big.Int).Add(p.sharesOf(to), amount)
	p.totalShares.Add(p.totalShares, amount)
}

// burnShares destroys shares held by the given holder and shrinks the total supply.
func (p *Pool) burnShares(from common.Address, amount *big.Int) {
	p.shares[from] = new(big.Int).Sub(p.sharesOf(from), amount)
	p.totalShares.Sub(p.totalShares, amount)
}
