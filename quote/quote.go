package quote

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// feeScale is the fee precision denominator; amounts are scaled by 1000.
	feeScale = big.NewInt(1000)
	// feeAfter is the per-trade retention numerator: 998/1000, a 0.2% fee.
	feeAfter = big.NewInt(998)

	one = big.NewInt(1)

	// ErrIdenticalAssets is returned when a pair is formed from a single asset.
	ErrIdenticalAssets = errors.New("identical assets")
	// ErrZeroAsset is returned when the zero address is used as an asset.
	ErrZeroAsset = errors.New("zero address asset")
	// ErrNilAmount is returned when a nil pointer is passed for an amount.
	ErrNilAmount = errors.New("nil pointer passed as amount")
	// ErrInvalidAmount is returned when an amount is negative.
	ErrInvalidAmount = errors.New("amount must be non-negative")
	// ErrInsufficientLiquidity is returned when reserves cannot support the quote.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity for quote")
	// ErrInvalidPath is returned when a trade path has fewer than two assets.
	ErrInvalidPath = errors.New("path must contain at least two assets")
)

// Canonicalize orders an unordered asset pair by byte comparison, smaller
// address first. The result is independent of argument order.
func Canonicalize(x, y common.Address) (low, high common.Address, err error) {
	if x == y {
		return common.Address{}, common.Address{}, fmt.Errorf("%w: %s", ErrIdenticalAssets, x.Hex())
	}
	if bytes.Compare(x.Bytes(), y.Bytes()) < 0 {
		low, high = x, y
	} else {
		low, high = y, x
	}
	if low == (common.Address{}) {
		return common.Address{}, common.Address{}, ErrZeroAsset
	}
	return low, high, nil
}

// calculator holds reusable big.Int objects to avoid allocations during
// quoting. Instances are NOT safe for concurrent use by themselves; they are
// managed by the sync.Pool below.
type calculator struct {
	effectiveIn *big.Int
	numerator   *big.Int
	denominator *big.Int
}

var calculatorPool = sync.Pool{
	New: func() any {
		return &calculator{
			effectiveIn: new(big.Int),
			numerator:   new(big.Int),
			denominator: new(big.Int),
		}
	},
}

// Out quotes the output amount for an exact input against the given reserves,
// after the 0.2% trading fee, rounded down.
func Out(amountIn, reserveIn, reserveOut *big.Int) (*big.Int, error) {
	calc := calculatorPool.Get().(*calculator)
	defer calculatorPool.Put(calc)
	return calc.out(amountIn, reserveIn, reserveOut)
}

// In quotes the input amount required for an exact output against the given
// reserves, after the 0.2% trading fee, rounded up so the caller never
// receives less than requested.
func In(amountOut, reserveIn, reserveOut *big.Int) (*big.Int, error) {
	calc := calculatorPool.Get().(*calculator)
	defer calculatorPool.Put(calc)
	return calc.in(amountOut, reserveIn, reserveOut)
}

func (c *calculator) out(amountIn, reserveIn, reserveOut *big.Int) (*big.Int, error) {
	if amountIn == nil {
		return nil, ErrNilAmount
	}
	if amountIn.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, fmt.Errorf("%w: empty reserves", ErrInsufficientLiquidity)
	}

	// out = (in*998 * reserveOut) / (reserveIn*1000 + in*998)
	c.effectiveIn.Mul(amountIn, feeAfter)
	c.numerator.Mul(c.effectiveIn, reserveOut)
	c.denominator.Mul(reserveIn, feeScale)
	c.denominator.Add(c.denominator, c.effectiveIn)

	return new(big.Int).Div(c.numerator, c.denominator), nil
}

func (c *calculator) in(amountOut, reserveIn, reserveOut *big.Int) (*big.Int, error) {
	if amountOut == nil {
		return nil, ErrNilAmount
	}
	if amountOut.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, fmt.Errorf("%w: empty reserves", ErrInsufficientLiquidity)
	}
	if amountOut.Cmp(reserveOut) >= 0 {
		return nil, fmt.Errorf("%w: requested amountOut (%s) is >= reserveOut (%s)", ErrInsufficientLiquidity, amountOut.String(), reserveOut.String())
	}

	// in = (reserveIn * amountOut * 1000) / ((reserveOut - amountOut) * 998) + 1
	c.numerator.Mul(reserveIn, amountOut)
	c.numerator.Mul(c.numerator, feeScale)
	c.denominator.Sub(reserveOut, amountOut)
	c.denominator.Mul(c.denominator, feeAfter)

	amountIn := new(big.Int).Div(c.numerator, c.denominator)
	return amountIn.Add(amountIn, one), nil
}

// Proportional returns the amount of asset B matching amountA at the current
// reserve ratio, rounded down. Used for balanced-deposit calculation.
func Proportional(amountA, reserveA, reserveB *big.Int) (*big.Int, error) {
	if amountA == nil {
		return nil, ErrNilAmount
	}
	if amountA.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if reserveA == nil || reserveB == nil || reserveA.Sign() <= 0 || reserveB.Sign() <= 0 {
		return nil, fmt.Errorf("%w: empty reserves", ErrInsufficientLiquidity)
	}

	amountB := new(big.Int).Mul(amountA, reserveB)
	return amountB.Div(amountB, reserveA), nil
}
