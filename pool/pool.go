package pool

import (
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/defistate/amm-engine-go/events"
	"github.com/defistate/amm-engine-go/token"
)

// MinimumLiquidity is the share amount permanently locked at the sink on the
// first deposit. Locking it prevents a near-zero total supply from causing
// catastrophic rounding in later share math.
var MinimumLiquidity = big.NewInt(1000)

// sink is the inaccessible holder of the permanently locked shares.
var sink = common.Address{}

var (
	// ErrNotAuthorized is returned when anyone but the pool's creator attempts initialization.
	ErrNotAuthorized = errors.New("caller not authorized to initialize pool")
	// ErrAlreadyInitialized is returned on a second initialization attempt.
	ErrAlreadyInitialized = errors.New("pool already initialized")
	// ErrNotInitialized is returned when an operation runs before initialization.
	ErrNotInitialized = errors.New("pool not initialized")
	// ErrReentrantCall is returned when an operation re-enters a guarded operation.
	ErrReentrantCall = errors.New("reentrant call into pool")
	// ErrInvalidOutput is returned when an exchange requests no output at all.
	ErrInvalidOutput = errors.New("exchange requires a non-zero output amount")
	// ErrInvalidRecipient is returned when an exchange recipient is one of the pool's assets.
	ErrInvalidRecipient = errors.New("recipient must not be a pool asset")
	// ErrInsufficientReserve is returned when a requested output meets or exceeds its reserve.
	ErrInsufficientReserve = errors.New("requested output exceeds reserve")
	// ErrInsufficientInput is returned when no input was provided for an exchange.
	ErrInsufficientInput = errors.New("insufficient input amount")
	// ErrInsufficientLiquidity is returned when the fee-adjusted product invariant would be violated.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity: product invariant violated")
	// ErrInsufficientLiquidityMinted is returned when a deposit would mint zero shares.
	ErrInsufficientLiquidityMinted = errors.New("insufficient liquidity minted")
	// ErrInsufficientLiquidityBurned is returned when a withdrawal would pay out zero of either asset.
	ErrInsufficientLiquidityBurned = errors.New("insufficient liquidity burned")
	// ErrInsufficientShares is returned when a share transfer exceeds the holder's balance.
	ErrInsufficientShares = errors.New("insufficient share balance")
	// ErrInvalidAmount is returned when an amount is nil or negative.
	ErrInvalidAmount = errors.New("amount must be non-nil and non-negative")
)

// Pool owns the reserve accounting, share ledger and state transitions for a
// single canonical asset pair.
//
// Operations are NOT safe for wall-clock-concurrent use; the surrounding
// ledger serializes transactions (one operation at a time), and the pool only
// defends against re-entrant calls made from within an asset transfer
// callback. Deposit and Exchange carry that guard; Withdraw deliberately does
// not, matching the reference behavior.
type Pool struct {
	address common.Address
	creator common.Address
	emitter events.Emitter
	now     func() time.Time

	locked atomic.Bool

	initialized bool
	token0Addr  common.Address
	token1Addr  common.Address
	token0      token.Token
	token1      token.Token

	reserve0     *big.Int
	reserve1     *big.Int
	lastSyncTime int64

	totalShares *big.Int
	shares      map[common.Address]*big.Int
}

// New creates an uninitialized pool at the given address. Only creator may
// initialize it. A nil emitter discards events; a nil clock uses time.Now.
func New(address, creator common.Address, emitter events.Emitter, now func() time.Time) *Pool {
	if emitter == nil {
		emitter = events.Discard
	}
	if now == nil {
		now = time.Now
	}
	return &Pool{
		address:     address,
		creator:     creator,
		emitter:     emitter,
		now:         now,
		reserve0:    new(big.Int),
		reserve1:    new(big.Int),
		totalShares: new(big.Int),
		shares:      make(map[common.Address]*big.Int),
	}
}

// Initialize performs the one-time Uninitialized -> Initialized transition,
// binding the pool to its canonical asset pair. Only the creator may call it,
// and only once.
func (p *Pool) Initialize(caller, token0Addr, token1Addr common.Address, token0, token1 token.Token) error {
	if caller != p.creator {
		return fmt.Errorf("%w: %s", ErrNotAuthorized, caller.Hex())
	}
	if p.initialized {
		return ErrAlreadyInitialized
	}
	p.token0Addr = token0Addr
	p.token1Addr = token1Addr
	p.token0 = token0
	p.token1 = token1
	p.initialized = true
	return nil
}

// Address returns the pool's identity.
func (p *Pool) Address() common.Address { return p.address }

// Token0 returns the canonical lower asset address.
func (p *Pool) Token0() common.Address { return p.token0Addr }

// Token1 returns the canonical higher asset address.
func (p *Pool) Token1() common.Address { return p.token1Addr }

// Initialized reports whether the pool has been bound to its pair.
func (p *Pool) Initialized() bool { return p.initialized }

// GetReserves returns copies of the last-synchronized reserves and the time
// of the last synchronization. Read-only.
func (p *Pool) GetReserves() (reserve0, reserve1 *big.Int, lastSyncTime int64) {
	return new(big.Int).Set(p.reserve0), new(big.Int).Set(p.reserve1), p.lastSyncTime
}

// Deposit mints shares to recipient against the asset amounts the caller has
// already transferred into the pool's custody (optimistic-transfer pattern:
// deposited amounts are the deltas between actual balances and cached
// reserves). Reentrancy-guarded.
func (p *Pool) Deposit(caller, recipient common.Address) (*big.Int, error) {
	if err := p.lock(); err != nil {
		return nil, err
	}
	defer p.unlock()

	if !p.initialized {
		return nil, ErrNotInitialized
	}

	balance0 := p.token0.BalanceOf(p.address)
	balance1 := p.token1.BalanceOf(p.address)
	amount0 := new(big.Int).Sub(balance0, p.reserve0)
	amount1 := new(big.Int).Sub(balance1, p.reserve1)

	var shares *big.Int
	if p.totalShares.Sign() == 0 {
		// First deposit: lock MinimumLiquidity forever at the sink.
		shares = new(big.Int).Mul(amount0, amount1)
		shares.Sqrt(shares)
		shares.Sub(shares, MinimumLiquidity)
		if shares.Sign() <= 0 {
			return nil, fmt.Errorf("%w: first deposit below minimum liquidity", ErrInsufficientLiquidityMinted)
		}
		p.mintShares(sink, MinimumLiquidity)
	} else {
		// The imbalanced side is penalized: an unbalanced deposit never
		// mints more than the limiting asset justifies.
		byAmount0 := new(big.Int).Mul(amount0, p.totalShares)
		byAmount0.Div(byAmount0, p.reserve0)
		byAmount1 := new(big.Int).Mul(amount1, p.totalShares)
		byAmount1.Div(byAmount1, p.reserve1)
		shares = byAmount0
		if byAmount1.Cmp(byAmount0) < 0 {
			shares = byAmount1
		}
		if shares.Sign() <= 0 {
			return nil, ErrInsufficientLiquidityMinted
		}
	}

	p.mintShares(recipient, shares)
	p.sync(balance0, balance1)
	p.emitter.Emit(events.Deposited{
		Pool:    p.address,
		Caller:  caller,
		Amount0: new(big.Int).Set(amount0),
		Amount1: new(big.Int).Set(amount1),
	})
	return new(big.Int).Set(shares), nil
}

// Withdraw burns the shares currently held by the pool itself (the caller
// must have transferred them in beforehand) and pays out both assets to
// recipient in proportion to ACTUAL held balances, so externally donated
// balance is distributed pro rata. Not reentrancy-guarded, matching the
// reference behavior.
func (p *Pool) Withdraw(caller, recipient common.Address) (*big.Int, *big.Int, error) {
	if !p.initialized {
		return nil, nil, ErrNotInitialized
	}

	if p.totalShares.Sign() == 0 {
		return nil, nil, ErrInsufficientLiquidityBurned
	}

	balance0 := p.token0.BalanceOf(p.address)
	balance1 := p.token1.BalanceOf(p.address)
	liquidity := p.sharesOf(p.address)

	amount0 := new(big.Int).Mul(liquidity, balance0)
	amount0.Div(amount0, p.totalShares)
	amount1 := new(big.Int).Mul(liquidity, balance1)
	amount1.Div(amount1, p.totalShares)
	if amount0.Sign() == 0 || amount1.Sign() == 0 {
		return nil, nil, ErrInsufficientLiquidityBurned
	}

	revert := p.snapshotTokens()
	p.burnShares(p.address, liquidity)

	if err := p.token0.Transfer(p.address, recipient, amount0); err != nil {
		p.mintShares(p.address, liquidity)
		revert()
		return nil, nil, fmt.Errorf("withdraw transfer of %s failed: %w", p.token0Addr.Hex(), err)
	}
	if err := p.token1.Transfer(p.address, recipient, amount1); err != nil {
		p.mintShares(p.address, liquidity)
		revert()
		return nil, nil, fmt.Errorf("withdraw transfer of %s failed: %w", p.token1Addr.Hex(), err)
	}

	p.sync(p.token0.BalanceOf(p.address), p.token1.BalanceOf(p.address))
	p.emitter.Emit(events.Withdrawn{
		Pool:    p.address,
		Caller:  caller,
		Amount0: new(big.Int).Set(amount0),
		Amount1: new(big.Int).Set(amount1),
		To:      recipient,
	})
	return amount0, amount1, nil
}

// Exchange optimistically transfers the requested outputs to recipient, then
// derives the realized inputs from the balance deltas and verifies the
// fee-adjusted product invariant. The transfer-then-verify ordering lets a
// caller receive the output, use it, and repay within the same operation;
// the reentrancy guard exists because the invariant check necessarily runs
// after external transfers.
func (p *Pool) Exchange(caller common.Address, amount0Out, amount1Out *big.Int, recipient common.Address) error {
	if err := p.lock(); err != nil {
		return err
	}
	defer p.unlock()

	if !p.initialized {
		return ErrNotInitialized
	}
	if amount0Out == nil {
		amount0Out = new(big.Int)
	}
	if amount1Out == nil {
		amount1Out = new(big.Int)
	}
	if amount0Out.Sign() < 0 || amount1Out.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount0Out.Sign() == 0 && amount1Out.Sign() == 0 {
		return ErrInvalidOutput
	}
	if amount0Out.Cmp(p.reserve0) >= 0 || amount1Out.Cmp(p.reserve1) >= 0 {
		return fmt.Errorf("%w: requested (%s, %s) against reserves (%s, %s)",
			ErrInsufficientReserve, amount0Out, amount1Out, p.reserve0, p.reserve1)
	}
	if recipient == p.token0Addr || recipient == p.token1Addr {
		return fmt.Errorf("%w: %s", ErrInvalidRecipient, recipient.Hex())
	}

	revert := p.snapshotTokens()

	if amount0Out.Sign() > 0 {
		if err := p.token0.Transfer(p.address, recipient, amount0Out); err != nil {
			revert()
			return fmt.Errorf("exchange transfer of %s failed: %w", p.token0Addr.Hex(), err)
		}
	}
	if amount1Out.Sign() > 0 {
		if err := p.token1.Transfer(p.address, recipient, amount1Out); err != nil {
			revert()
			return fmt.Errorf("exchange transfer of %s failed: %w", p.token1Addr.Hex(), err)
		}
	}

	balance0 := p.token0.BalanceOf(p.address)
	balance1 := p.token1.BalanceOf(p.address)
	amount0In := realizedInput(balance0, p.reserve0, amount0Out)
	amount1In := realizedInput(balance1, p.reserve1, amount1Out)
	if amount0In.Sign() == 0 && amount1In.Sign() == 0 {
		revert()
		return ErrInsufficientInput
	}

	// (balance0*1000 - in0*2) * (balance1*1000 - in1*2) >= reserve0 * reserve1 * 1000^2
	if !invariantHolds(balance0, balance1, amount0In, amount1In, p.reserve0, p.reserve1) {
		revert()
		return ErrInsufficientLiquidity
	}

	p.sync(balance0, balance1)
	p.emitter.Emit(events.Exchanged{
		Pool:       p.address,
		Caller:     caller,
		Amount0In:  amount0In,
		Amount1In:  amount1In,
		Amount0Out: new(big.Int).Set(amount0Out),
		Amount1Out: new(big.Int).Set(amount1Out),
		To:         recipient,
	})
	return nil
}

// realizedInput computes max(balance - (reserve - out), 0).
func realizedInput(balance, reserve, out *big.Int) *big.Int {
	in := new(big.Int).Sub(reserve, out)
	in.Sub(balance, in)
	if in.Sign() < 0 {
		return new(big.Int)
	}
	return in
}

var (
	invariantScale   = big.NewInt(1000)
	invariantScaleSq = big.NewInt(1000 * 1000)
	two              = big.NewInt(2)
)

// invariantHolds checks the fee-adjusted constant product: the post-trade
// product, with 0.2% of each realized input treated as fee, must not fall
// below the pre-trade product at the same precision.
func invariantHolds(balance0, balance1, in0, in1, reserve0, reserve1 *big.Int) bool {
	adjusted0 := new(big.Int).Mul(balance0, invariantScale)
	adjusted0.Sub(adjusted0, new(big.Int).Mul(in0, two))
	adjusted1 := new(big.Int).Mul(balance1, invariantScale)
	adjusted1.Sub(adjusted1, new(big.Int).Mul(in1, two))

	left := adjusted0.Mul(adjusted0, adjusted1)
	right := new(big.Int).Mul(reserve0, reserve1)
	right.Mul(right, invariantScaleSq)
	return left.Cmp(right) >= 0
}

// sync commits the actual balances as the new reserves and notifies observers.
func (p *Pool) sync(balance0, balance1 *big.Int) {
	p.reserve0.Set(balance0)
	p.reserve1.Set(balance1)
	p.lastSyncTime = p.now().Unix()
	p.emitter.Emit(events.Sync{
		Pool:     p.address,
		Reserve0: new(big.Int).Set(p.reserve0),
		Reserve1: new(big.Int).Set(p.reserve1),
	})
}

// snapshotTokens checkpoints both asset ledgers when they support it and
// returns a function reverting to the checkpoint.
func (p *Pool) snapshotTokens() func() {
	type pending struct {
		s   token.Snapshotter
		rev int
	}
	var snaps []pending
	if s, ok := p.token0.(token.Snapshotter); ok {
		snaps = append(snaps, pending{s, s.Snapshot()})
	}
	if s, ok := p.token1.(token.Snapshotter); ok {
		snaps = append(snaps, pending{s, s.Snapshot()})
	}
	return func() {
		// Revert in reverse acquisition order.
		for i := len(snaps) - 1; i >= 0; i-- {
			snaps[i].s.RevertToSnapshot(snaps[i].rev)
		}
	}
}

// lock acquires the non-reentrancy guard; a call made while the guard is held
// fails immediately instead of corrupting reserve state.
func (p *Pool) lock() error {
	if !p.locked.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	return nil
}

func (p *Pool) unlock() {
	p.locked.Store(false)
}
