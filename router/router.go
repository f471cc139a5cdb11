package router

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/defistate/amm-engine-go/pool"
	"github.com/defistate/amm-engine-go/quote"
	"github.com/defistate/amm-engine-go/registry"
	"github.com/defistate/amm-engine-go/token"
)

var (
	// ErrDeadlineExpired is returned when an operation is submitted past its deadline.
	ErrDeadlineExpired = errors.New("operation deadline expired")
	// ErrInsufficientAmount is returned when a chosen liquidity amount falls below its minimum.
	ErrInsufficientAmount = errors.New("amount below caller minimum")
	// ErrInsufficientOutputAmount is returned when a computed swap output falls below the caller's minimum.
	ErrInsufficientOutputAmount = errors.New("output amount below caller minimum")
	// ErrExcessiveInputAmount is returned when a computed swap input exceeds the caller's maximum.
	ErrExcessiveInputAmount = errors.New("input amount above caller maximum")
)

// Logger defines a standard interface for structured, leveled logging,
// compatible with the standard library's slog.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds the dependencies for the Router.
type Config struct {
	// Registry locates and creates pools.
	Registry *registry.Registry
	// Tokens resolves asset addresses to their Token implementations.
	Tokens token.Resolver
	// PrometheusReg receives the router metrics. Optional.
	PrometheusReg prometheus.Registerer
	// Logger for structured logging. Optional.
	Logger Logger
	// Now is the clock used for deadline checks. Optional, defaults to time.Now.
	Now func() time.Time
}

func (c *Config) validate() error {
	if c.Registry == nil {
		return errors.New("registry is required")
	}
	if c.Tokens == nil {
		return errors.New("token resolver is required")
	}
	return nil
}

// Router plans and executes single- and multi-hop operations against the
// registry's pools. It is stateless: it holds only references and never
// mutates pool state except through Deposit, Withdraw and Exchange.
type Router struct {
	registry *registry.Registry
	tokens   token.Resolver
	logger   Logger
	metrics  *Metrics
	now      func() time.Time
}

// New constructs a router from the given configuration.
func New(cfg *Config) (*Router, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid router configuration: %w", err)
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

	return &Router{
		registry: cfg.Registry,
		tokens:   cfg.Tokens,
		logger:   logger,
		metrics:  NewMetrics(reg),
		now:      now,
	}, nil
}

// Tokens returns the resolver the router trades through.
func (r *Router) Tokens() token.Resolver {
	return r.tokens
}

// GetReserves returns the reserves for the unordered pair in the caller's
// requested order, together with the deterministically derived pool address.
// A pool that was never created reports zero reserves rather than failing.
func (r *Router) GetReserves(assetX, assetY common.Address) (reserveX, reserveY *big.Int, poolAddr common.Address, err error) {
	token0, _, err := quote.Canonicalize(assetX, assetY)
	if err != nil {
		return nil, nil, common.Address{}, err
	}

	poolAddr, err = quote.PairAddress(r.registry.Address(), assetX, assetY)
	if err != nil {
		return nil, nil, common.Address{}, err
	}

	p, ok := r.registry.PoolAt(poolAddr)
	if !ok {
		return new(big.Int), new(big.Int), poolAddr, nil
	}

	reserve0, reserve1, _ := p.GetReserves()
	if assetX == token0 {
		return reserve0, reserve1, poolAddr, nil
	}
	return reserve1, reserve0, poolAddr, nil
}

// reservesFunc adapts GetReserves to the quote library's reader contract.
func (r *Router) reservesFunc() quote.ReservesFunc {
	return func(assetIn, assetOut common.Address) (*big.Int, *big.Int, error) {
		reserveIn, reserveOut, _, err := r.GetReserves(assetIn, assetOut)
		return reserveIn, reserveOut, err
	}
}

// AddLiquidity deposits a balanced amount of both assets into the pair's
// pool, creating the pool first if it does not exist, and mints shares to
// recipient. The amounts actually used are chosen to preserve the current
// reserve ratio; minA/minB bound the acceptable slippage.
func (r *Router) AddLiquidity(
	from common.Address,
	assetA, assetB common.Address,
	desiredA, desiredB, minA, minB *big.Int,
	recipient common.Address,
	deadline int64,
) (usedA, usedB, shares *big.Int, err error) {
	timer := prometheus.NewTimer(r.metrics.OpDuration.WithLabelValues("add_liquidity"))
	defer timer.ObserveDuration()
	defer func() { r.observeOp("add_liquidity", err) }()

	if err = r.checkDeadline(deadline); err != nil {
		return nil, nil, nil, err
	}

	p, ok := r.registry.Pair(assetA, assetB)
	if !ok {
		poolAddr, createErr := r.registry.CreatePair(assetA, assetB)
		if createErr != nil {
			return nil, nil, nil, createErr
		}
		p, _ = r.registry.PoolAt(poolAddr)
	}

	reserveA, reserveB, _, err := r.GetReserves(assetA, assetB)
	if err != nil {
		return nil, nil, nil, err
	}

	usedA, usedB, err = chooseLiquidityAmounts(desiredA, desiredB, minA, minB, reserveA, reserveB)
	if err != nil {
		return nil, nil, nil, err
	}

	tokenA, err := r.tokens.Token(assetA)
	if err != nil {
		return nil, nil, nil, err
	}
	tokenB, err := r.tokens.Token(assetB)
	if err != nil {
		return nil, nil, nil, err
	}

	revert := snapshotAll(tokenA, tokenB)
	if err = tokenA.TransferFrom(from, p.Address(), usedA); err != nil {
		revert()
		return nil, nil, nil, fmt.Errorf("addLiquidity transfer of %s failed: %w", assetA.Hex(), err)
	}
	if err = tokenB.TransferFrom(from, p.Address(), usedB); err != nil {
		revert()
		return nil, nil, nil, fmt.Errorf("addLiquidity transfer of %s failed: %w", assetB.Hex(), err)
	}

	shares, err = p.Deposit(from, recipient)
	if err != nil {
		revert()
		return nil, nil, nil, err
	}
	return usedA, usedB, shares, nil
}

// chooseLiquidityAmounts picks the deposit amounts that preserve the current
// ratio: desiredA with its proportional B if that fits under desiredB,
// otherwise desiredB with its proportional A.
func chooseLiquidityAmounts(desiredA, desiredB, minA, minB, reserveA, reserveB *big.Int) (*big.Int, *big.Int, error) {
	if desiredA == nil || desiredB == nil {
		return nil, nil, quote.ErrNilAmount
	}

	var usedA, usedB *big.Int
	if reserveA.Sign() == 0 && reserveB.Sign() == 0 {
		// Fresh pool: the deposit sets the initial ratio.
		usedA = new(big.Int).Set(desiredA)
		usedB = new(big.Int).Set(desiredB)
	} else {
		optimalB, err := quote.Proportional(desiredA, reserveA, reserveB)
		if err != nil {
			return nil, nil, err
		}
		if optimalB.Cmp(desiredB) <= 0 {
			usedA = new(big.Int).Set(desiredA)
			usedB = optimalB
		} else {
			optimalA, err := quote.Proportional(desiredB, reserveB, reserveA)
			if err != nil {
				return nil, nil, err
			}
			usedA = optimalA
			usedB = new(big.Int).Set(desiredB)
		}
	}

	if minA != nil && usedA.Cmp(minA) < 0 {
		return nil, nil, fmt.Errorf("%w: asset A amount %s below minimum %s", ErrInsufficientAmount, usedA, minA)
	}
	if minB != nil && usedB.Cmp(minB) < 0 {
		return nil, nil, fmt.Errorf("%w: asset B amount %s below minimum %s", ErrInsufficientAmount, usedB, minB)
	}
	return usedA, usedB, nil
}

// RemoveLiquidity burns liquidity shares and returns the withdrawn amounts in
// the caller's (assetA, assetB) order. minA/minB bound the acceptable payout.
func (r *Router) RemoveLiquidity(
	from common.Address,
	assetA, assetB common.Address,
	liquidity, minA, minB *big.Int,
	recipient common.Address,
	deadline int64,
) (amountA, amountB *big.Int, err error) {
	timer := prometheus.NewTimer(r.metrics.OpDuration.WithLabelValues("remove_liquidity"))
	defer timer.ObserveDuration()
	defer func() { r.observeOp("remove_liquidity", err) }()

	if err = r.checkDeadline(deadline); err != nil {
		return nil, nil, err
	}

	p, ok := r.registry.Pair(assetA, assetB)
	if !ok {
		return nil, nil, fmt.Errorf("%w: (%s, %s)", registry.ErrPairNotFound, assetA.Hex(), assetB.Hex())
	}

	// Pre-compute the payout with the same proportional-to-actual-balance
	// formula Withdraw uses, so a bound violation aborts before any state
	// changes. Transferring shares in does not move token balances, so the
	// figures match Withdraw's exactly.
	expectedA, expectedB, err := r.expectedWithdrawal(p, assetA, liquidity)
	if err != nil {
		return nil, nil, err
	}
	if minA != nil && expectedA.Cmp(minA) < 0 {
		return nil, nil, fmt.Errorf("%w: asset A amount %s below minimum %s", ErrInsufficientAmount, expectedA, minA)
	}
	if minB != nil && expectedB.Cmp(minB) < 0 {
		return nil, nil, fmt.Errorf("%w: asset B amount %s below minimum %s", ErrInsufficientAmount, expectedB, minB)
	}

	if err = p.TransferShares(from, p.Address(), liquidity); err != nil {
		return nil, nil, err
	}
	amount0, amount1, err := p.Withdraw(from, recipient)
	if err != nil {
		// Withdraw reverts its own effects; hand the shares back.
		if restoreErr := p.TransferShares(p.Address(), from, liquidity); restoreErr != nil {
			r.logger.Error("failed to restore shares after withdraw failure",
				"pool", p.Address().Hex(), "holder", from.Hex(), "error", restoreErr)
		}
		return nil, nil, err
	}

	if assetA == p.Token0() {
		return amount0, amount1, nil
	}
	return amount1, amount0, nil
}

// expectedWithdrawal computes the payout Withdraw would produce for burning
// liquidity shares right now, in (assetA, other) order.
func (r *Router) expectedWithdrawal(p *pool.Pool, assetA common.Address, liquidity *big.Int) (*big.Int, *big.Int, error) {
	if liquidity == nil || liquidity.Sign() < 0 {
		return nil, nil, pool.ErrInvalidAmount
	}
	total := p.TotalShares()
	if total.Sign() == 0 {
		return nil, nil, pool.ErrInsufficientLiquidityBurned
	}

	t0, err := r.tokens.Token(p.Token0())
	if err != nil {
		return nil, nil, err
	}
	t1, err := r.tokens.Token(p.Token1())
	if err != nil {
		return nil, nil, err
	}

	amount0 := new(big.Int).Mul(liquidity, t0.BalanceOf(p.Address()))
	amount0.Div(amount0, total)
	amount1 := new(big.Int).Mul(liquidity, t1.BalanceOf(p.Address()))
	amount1.Div(amount1, total)

	if assetA == p.Token0() {
		return amount0, amount1, nil
	}
	return amount1, amount0, nil
}

// SwapExactTokensForTokens trades an exact input along path, requiring the
// final output to meet amountOutMin. Returns the full per-hop amount sequence.
func (r *Router) SwapExactTokensForTokens(
	from common.Address,
	amountIn, amountOutMin *big.Int,
	path []common.Address,
	recipient common.Address,
	deadline int64,
) (amounts []*big.Int, err error) {
	timer := prometheus.NewTimer(r.metrics.OpDuration.WithLabelValues("swap_exact_in"))
	defer timer.ObserveDuration()
	defer func() { r.observeOp("swap_exact_in", err) }()

	if err = r.checkDeadline(deadline); err != nil {
		return nil, err
	}

	amounts, err = quote.AmountsOut(r.reservesFunc(), amountIn, path)
	if err != nil {
		return nil, err
	}
	if amountOutMin != nil && amounts[len(amounts)-1].Cmp(amountOutMin) < 0 {
		return nil, fmt.Errorf("%w: output %s below minimum %s",
			ErrInsufficientOutputAmount, amounts[len(amounts)-1], amountOutMin)
	}

	if err = r.executeSwapPath(from, amounts, path, recipient); err != nil {
		return nil, err
	}
	return amounts, nil
}

// SwapTokensForExactTokens trades along path for an exact output, requiring
// the computed input to stay within amountInMax. Returns the full per-hop
// amount sequence.
func (r *Router) SwapTokensForExactTokens(
	from common.Address,
	amountOut, amountInMax *big.Int,
	path []common.Address,
	recipient common.Address,
	deadline int64,
) (amounts []*big.Int, err error) {
	timer := prometheus.NewTimer(r.metrics.OpDuration.WithLabelValues("swap_exact_out"))
	defer timer.ObserveDuration()
	defer func() { r.observeOp("swap_exact_out", err) }()

	if err = r.checkDeadline(deadline); err != nil {
		return nil, err
	}

	amounts, err = quote.AmountsIn(r.reservesFunc(), amountOut, path)
	if err != nil {
		return nil, err
	}
	if amountInMax != nil && amounts[0].Cmp(amountInMax) > 0 {
		return nil, fmt.Errorf("%w: input %s above maximum %s",
			ErrExcessiveInputAmount, amounts[0], amountInMax)
	}

	if err = r.executeSwapPath(from, amounts, path, recipient); err != nil {
		return nil, err
	}
	return amounts, nil
}

// executeSwapPath seeds the first hop's pool with the input and then chains
// Exchange hop by hop, directing each intermediate output straight into the
// next hop's pool and the final output to recipient. All touched ledgers are
// snapshotted so a failed hop leaves no partial transfers.
func (r *Router) executeSwapPath(from common.Address, amounts []*big.Int, path []common.Address, recipient common.Address) error {
	first, ok := r.registry.Pair(path[0], path[1])
	if !ok {
		return fmt.Errorf("%w: (%s, %s)", registry.ErrPairNotFound, path[0].Hex(), path[1].Hex())
	}

	ledgers := make([]token.Token, 0, len(path))
	for _, asset := range path {
		t, err := r.tokens.Token(asset)
		if err != nil {
			return err
		}
		ledgers = append(ledgers, t)
	}

	revert := snapshotAll(ledgers...)
	if err := ledgers[0].TransferFrom(from, first.Address(), amounts[0]); err != nil {
		revert()
		return fmt.Errorf("swap transfer of %s failed: %w", path[0].Hex(), err)
	}

	for i := 0; i < len(path)-1; i++ {
		input, output := path[i], path[i+1]
		p, ok := r.registry.Pair(input, output)
		if !ok {
			revert()
			return fmt.Errorf("%w: (%s, %s)", registry.ErrPairNotFound, input.Hex(), output.Hex())
		}

		var amount0Out, amount1Out *big.Int
		if input == p.Token0() {
			amount0Out, amount1Out = new(big.Int), amounts[i+1]
		} else {
			amount0Out, amount1Out = amounts[i+1], new(big.Int)
		}

		to := recipient
		if i < len(path)-2 {
			next, ok := r.registry.Pair(output, path[i+2])
			if !ok {
				revert()
				return fmt.Errorf("%w: (%s, %s)", registry.ErrPairNotFound, output.Hex(), path[i+2].Hex())
			}
			to = next.Address()
		}

		if err := p.Exchange(from, amount0Out, amount1Out, to); err != nil {
			revert()
			return err
		}
	}
	return nil
}

// checkDeadline fails when the current time is strictly past the unix-seconds
// deadline. A point-in-time comparison, not a suspend/resume mechanism.
func (r *Router) checkDeadline(deadline int64) error {
	if now := r.now().Unix(); now > deadline {
		return fmt.Errorf("%w: now %d, deadline %d", ErrDeadlineExpired, now, deadline)
	}
	return nil
}

// observeOp records the operation outcome counter.
func (r *Router) observeOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.metrics.OpsTotal.WithLabelValues(op, result).Inc()
}

// snapshotAll checkpoints every distinct snapshot-capable ledger and returns
// a function reverting all of them in reverse order.
func snapshotAll(tokens ...token.Token) func() {
	type pending struct {
		s   token.Snapshotter
		rev int
	}
	seen := make(map[token.Snapshotter]struct{}, len(tokens))
	var snaps []pending
	for _, t := range tokens {
		s, ok := t.(token.Snapshotter)
		if !ok {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		snaps = append(snaps, pending{s, s.Snapshot()})
	}
	return func() {
		for i := len(snaps) - 1; i >= 0; i-- {
			snaps[i].s.RevertToSnapshot(snaps[i].rev)
		}
	}
}
