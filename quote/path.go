package quote

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ReservesFunc reads the reserves backing a directed hop. Implementations
// report zero reserves for a pool that was never created, which surfaces here
// as ErrInsufficientLiquidity rather than a lookup failure.
type ReservesFunc func(assetIn, assetOut common.Address) (reserveIn, reserveOut *big.Int, err error)

// AmountsOut applies Out hop by hop along the path for an exact input and
// returns the full amount sequence, input included, so amounts[i] is the
// amount entering path[i].
func AmountsOut(getReserves ReservesFunc, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	if len(path) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidPath, len(path))
	}
	if amountIn == nil {
		return nil, ErrNilAmount
	}

	amounts := make([]*big.Int, len(path))
	amounts[0] = new(big.Int).Set(amountIn)
	for i := 0; i < len(path)-1; i++ {
		reserveIn, reserveOut, err := getReserves(path[i], path[i+1])
		if err != nil {
			return nil, fmt.Errorf("hop %s -> %s: %w", path[i].Hex(), path[i+1].Hex(), err)
		}
		amounts[i+1], err = Out(amounts[i], reserveIn, reserveOut)
		if err != nil {
			return nil, fmt.Errorf("hop %s -> %s: %w", path[i].Hex(), path[i+1].Hex(), err)
		}
	}
	return amounts, nil
}

// AmountsIn walks the path in reverse applying In for an exact output and
// returns the full amount sequence, output included.
func AmountsIn(getReserves ReservesFunc, amountOut *big.Int, path []common.Address) ([]*big.Int, error) {
	if len(path) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidPath, len(path))
	}
	if amountOut == nil {
		return nil, ErrNilAmount
	}

	amounts := make([]*big.Int, len(path))
	amounts[len(path)-1] = new(big.Int).Set(amountOut)
	for i := len(path) - 1; i > 0; i-- {
		reserveIn, reserveOut, err := getReserves(path[i-1], path[i])
		if err != nil {
			return nil, fmt.Errorf("hop %s -> %s: %w", path[i-1].Hex(), path[i].Hex(), err)
		}
		amounts[i-1], err = In(amounts[i], reserveIn, reserveOut)
		if err != nil {
			return nil, fmt.Errorf("hop %s -> %s: %w", path[i-1].Hex(), path[i].Hex(), err)
		}
	}
	return amounts, nil
}
