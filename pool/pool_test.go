package pool

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defistate/amm-engine-go/events"
	"github.com/defistate/amm-engine-go/quote"
	"github.com/defistate/amm-engine-go/token"
)

var (
	asset0Addr = common.HexToAddress("0x1000000000000000000000000000000000000001")
	asset1Addr = common.HexToAddress("0x2000000000000000000000000000000000000002")
	poolAddr   = common.HexToAddress("0x00000000000000000000000000000000000000AA")
	creator    = common.HexToAddress("0x00000000000000000000000000000000000000CC")
	lp         = common.HexToAddress("0x00000000000000000000000000000000000000DD")
	trader     = common.HexToAddress("0x00000000000000000000000000000000000000EE")
)

func e18(n int64) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return scale.Mul(scale, big.NewInt(n))
}

type fixture struct {
	pool     *Pool
	asset0   *token.Ledger
	asset1   *token.Ledger
	recorder *events.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	asset0 := token.NewLedger(asset0Addr, "Asset Zero", "A0", 18)
	asset1 := token.NewLedger(asset1Addr, "Asset One", "A1", 18)
	require.NoError(t, asset0.Mint(lp, e18(1_000)))
	require.NoError(t, asset1.Mint(lp, e18(1_000)))
	require.NoError(t, asset0.Mint(trader, e18(1_000)))
	require.NoError(t, asset1.Mint(trader, e18(1_000)))

	recorder := events.NewRecorder()
	clock := func() time.Time { return time.Unix(1_700_000_000, 0) }

	p := New(poolAddr, creator, recorder, clock)
	require.NoError(t, p.Initialize(creator, asset0Addr, asset1Addr, asset0, asset1))

	return &fixture{pool: p, asset0: asset0, asset1: asset1, recorder: recorder}
}

// deposit transfers the amounts into the pool's custody and mints shares to lp.
func (f *fixture) deposit(t *testing.T, amount0, amount1 *big.Int) *big.Int {
	t.Helper()
	require.NoError(t, f.asset0.Transfer(lp, poolAddr, amount0))
	require.NoError(t, f.asset1.Transfer(lp, poolAddr, amount1))
	shares, err := f.pool.Deposit(lp, lp)
	require.NoError(t, err)
	return shares
}

func TestInitialize(t *testing.T) {
	t.Run("Only Creator May Initialize", func(t *testing.T) {
		p := New(poolAddr, creator, nil, nil)
		err := p.Initialize(trader, asset0Addr, asset1Addr, nil, nil)
		assert.ErrorIs(t, err, ErrNotAuthorized)
		assert.False(t, p.Initialized())
	})

	t.Run("Initialize Is One Shot", func(t *testing.T) {
		p := New(poolAddr, creator, nil, nil)
		require.NoError(t, p.Initialize(creator, asset0Addr, asset1Addr, nil, nil))
		err := p.Initialize(creator, asset0Addr, asset1Addr, nil, nil)
		assert.ErrorIs(t, err, ErrAlreadyInitialized)
	})

	t.Run("Operations Before Initialize Fail", func(t *testing.T) {
		p := New(poolAddr, creator, nil, nil)
		_, err := p.Deposit(lp, lp)
		assert.ErrorIs(t, err, ErrNotInitialized)
		_, _, err = p.Withdraw(lp, lp)
		assert.ErrorIs(t, err, ErrNotInitialized)
		err = p.Exchange(trader, big.NewInt(1), nil, trader)
		assert.ErrorIs(t, err, ErrNotInitialized)
	})
}

func TestDeposit(t *testing.T) {
	t.Run("First Deposit Locks Minimum Liquidity", func(t *testing.T) {
		f := newFixture(t)
		shares := f.deposit(t, e18(1), e18(4))

		// sqrt(1e18 * 4e18) = 2e18 total, minus the 1000 locked at the sink.
		want := new(big.Int).Sub(e18(2), MinimumLiquidity)
		assert.Equal(t, want, shares)
		assert.Equal(t, MinimumLiquidity, f.pool.SharesOf(common.Address{}))
		assert.Equal(t, e18(2), f.pool.TotalShares())

		reserve0, reserve1, lastSync := f.pool.GetReserves()
		assert.Equal(t, e18(1), reserve0)
		assert.Equal(t, e18(4), reserve1)
		assert.Equal(t, int64(1_700_000_000), lastSync)
	})

	t.Run("First Deposit Below Minimum Liquidity", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.asset0.Transfer(lp, poolAddr, big.NewInt(1000)))
		require.NoError(t, f.asset1.Transfer(lp, poolAddr, big.NewInt(1000)))
		// sqrt(1e6) = 1000, exactly the locked amount; nothing left to mint.
		_, err := f.pool.Deposit(lp, lp)
		assert.ErrorIs(t, err, ErrInsufficientLiquidityMinted)
	})

	t.Run("Subsequent Deposit Mints Proportionally", func(t *testing.T) {
		f := newFixture(t)
		f.deposit(t, e18(10), e18(40))

		before := f.pool.SharesOf(lp)
		total := f.pool.TotalShares()
		minted := f.deposit(t, e18(1), e18(4))

		// min(1e18*T/10e18, 4e18*T/40e18) = T/10
		want := new(big.Int).Div(total, big.NewInt(10))
		assert.Equal(t, want, minted)
		assert.Equal(t, new(big.Int).Add(before, want), f.pool.SharesOf(lp))
	})

	t.Run("Imbalanced Deposit Is Penalized", func(t *testing.T) {
		f := newFixture(t)
		f.deposit(t, e18(10), e18(10))
		total := f.pool.TotalShares()

		// Ten times more of asset1 than the ratio justifies; asset0 limits.
		minted := f.deposit(t, e18(1), e18(10))
		want := new(big.Int).Div(total, big.NewInt(10))
		assert.Equal(t, want, minted)
	})

	t.Run("Deposit With No New Balance Mints Nothing", func(t *testing.T) {
		f := newFixture(t)
		f.deposit(t, e18(10), e18(10))
		_, err := f.pool.Deposit(lp, lp)
		assert.ErrorIs(t, err, ErrInsufficientLiquidityMinted)
	})

	t.Run("Emits Sync Before Deposited", func(t *testing.T) {
		f := newFixture(t)
		f.deposit(t, e18(2), e18(2))

		evts := f.recorder.Events()
		require.Len(t, evts, 2)
		sync, ok := evts[0].(events.Sync)
		require.True(t, ok)
		assert.Equal(t, e18(2), sync.Reserve0)

		deposited, ok := evts[1].(events.Deposited)
		require.True(t, ok)
		assert.Equal(t, lp, deposited.Caller)
		assert.Equal(t, e18(2), deposited.Amount0)
		assert.Equal(t, e18(2), deposited.Amount1)
	})
}

func TestWithdraw(t *testing.T) {
	t.Run("Full Withdrawal Leaves The Locked Residue", func(t *testing.T) {
		f := newFixture(t)
		shares := f.deposit(t, e18(2), e18(2))

		require.NoError(t, f.pool.TransferShares(lp, poolAddr, shares))
		amount0, amount1, err := f.pool.Withdraw(lp, lp)
		require.NoError(t, err)

		// (2e18-1000) * 2e18 / 2e18 of each asset comes back.
		want := new(big.Int).Sub(e18(2), MinimumLiquidity)
		assert.Equal(t, want, amount0)
		assert.Equal(t, want, amount1)

		// 1000 units of each asset stay behind, backing the locked shares.
		reserve0, reserve1, _ := f.pool.GetReserves()
		assert.Equal(t, MinimumLiquidity, reserve0)
		assert.Equal(t, MinimumLiquidity, reserve1)
		assert.Equal(t, MinimumLiquidity, f.pool.TotalShares())
	})

	t.Run("Donated Balance Is Distributed Pro Rata", func(t *testing.T) {
		f := newFixture(t)
		shares := f.deposit(t, e18(10), e18(10))

		// A third party donates asset0 directly to the pool.
		require.NoError(t, f.asset0.Mint(poolAddr, e18(10)))

		half := new(big.Int).Div(shares, big.NewInt(2))
		require.NoError(t, f.pool.TransferShares(lp, poolAddr, half))
		total := f.pool.TotalShares()
		amount0, amount1, err := f.pool.Withdraw(lp, lp)
		require.NoError(t, err)

		want0 := new(big.Int).Mul(half, e18(20))
		want0.Div(want0, total)
		want1 := new(big.Int).Mul(half, e18(10))
		want1.Div(want1, total)
		assert.Equal(t, want0, amount0)
		assert.Equal(t, want1, amount1)
	})

	t.Run("Empty Pool Has Nothing To Burn", func(t *testing.T) {
		// A pool fresh out of creation: initialized, zero shares outstanding.
		f := newFixture(t)
		_, _, err := f.pool.Withdraw(lp, lp)
		assert.ErrorIs(t, err, ErrInsufficientLiquidityBurned)
	})

	t.Run("Zero Payout Is Rejected", func(t *testing.T) {
		f := newFixture(t)
		f.deposit(t, e18(2), e18(2))
		// No shares were moved into the pool's custody, so both payouts are 0.
		_, _, err := f.pool.Withdraw(lp, lp)
		assert.ErrorIs(t, err, ErrInsufficientLiquidityBurned)
	})

	t.Run("Failed Payout Restores Shares And Balances", func(t *testing.T) {
		f := newFixture(t)
		shares := f.deposit(t, e18(2), e18(2))
		require.NoError(t, f.pool.TransferShares(lp, poolAddr, shares))

		// Fail the second transfer mid-withdrawal by draining asset1 after
		// asset0 has already been paid out.
		f.asset0.SetTransferHook(func(from, to common.Address, amount *big.Int) {
			if from == poolAddr {
				require.NoError(t, f.asset1.Transfer(poolAddr, trader, e18(2)))
			}
		})

		_, _, err := f.pool.Withdraw(lp, lp)
		require.ErrorIs(t, err, token.ErrInsufficientBalance)

		// Everything rolled back: shares restored, balances restored.
		f.asset0.SetTransferHook(nil)
		assert.Equal(t, shares, f.pool.SharesOf(poolAddr))
		assert.Equal(t, e18(2), f.asset0.BalanceOf(poolAddr))
		assert.Equal(t, e18(2), f.asset1.BalanceOf(poolAddr))
	})

	t.Run("Emits Sync Before Withdrawn", func(t *testing.T) {
		f := newFixture(t)
		shares := f.deposit(t, e18(2), e18(2))
		f.recorder.Reset()

		require.NoError(t, f.pool.TransferShares(lp, poolAddr, shares))
		_, _, err := f.pool.Withdraw(lp, lp)
		require.NoError(t, err)

		evts := f.recorder.Events()
		require.Len(t, evts, 2)
		assert.Equal(t, "sync", evts[0].Kind())
		withdrawn, ok := evts[1].(events.Withdrawn)
		require.True(t, ok)
		assert.Equal(t, lp, withdrawn.To)
	})
}

func TestExchange(t *testing.T) {
	t.Run("Quoted Output Satisfies The Invariant Exactly", func(t *testing.T) {
		f := newFixture(t)
		f.deposit(t, e18(5), e18(10))

		// floor((1e18*998)*10e18 / (5e18*1000 + 1e18*998))
		out, err := quote.Out(e18(1), e18(5), e18(10))
		require.NoError(t, err)

		// Optimistic input first, then the exchange.
		require.NoError(t, f.asset0.Transfer(trader, poolAddr, e18(1)))
		require.NoError(t, f.pool.Exchange(trader, nil, out, trader))

		reserve0, reserve1, _ := f.pool.GetReserves()
		assert.Equal(t, e18(6), reserve0)
		assert.Equal(t, new(big.Int).Sub(e18(10), out), reserve1)
		assert.Equal(t, new(big.Int).Add(e18(1_000), out), f.asset1.BalanceOf(trader))
	})

	t.Run("One Unit Beyond The Quote Violates The Invariant", func(t *testing.T) {
		f := newFixture(t)
		f.deposit(t, e18(5), e18(10))

		out, err := quote.Out(e18(1), e18(5), e18(10))
		require.NoError(t, err)
		tooMuch := new(big.Int).Add(out, big.NewInt(1))

		require.NoError(t, f.asset0.Transfer(trader, poolAddr, e18(1)))
		err = f.pool.Exchange(trader, nil, tooMuch, trader)
		require.ErrorIs(t, err, ErrInsufficientLiquidity)

		// The optimistic payout was rolled back; the input remains in custody
		// until a successful exchange syncs it.
		assert.Equal(t, e18(1_000), f.asset1.BalanceOf(trader))
		assert.Equal(t, e18(10), f.asset1.BalanceOf(poolAddr))
		reserve0, reserve1, _ := f.pool.GetReserves()
		assert.Equal(t, e18(5), reserve0)
		assert.Equal(t, e18(10), reserve1)
	})

	t.Run("Requires A Non-Zero Output", func(t *testing.T) {
		f := newFixture(t)
		f.deposit(t, e18(100), e18(100))
		err := f.pool.Exchange(trader, nil, nil, trader)
		assert.ErrorIs(t, err, ErrInvalidOutput)
		err = f.pool.Exchange(trader, big.NewInt(0), big.NewInt(0), trader)
		assert.ErrorIs(t, err, ErrInvalidOutput)
	})

	t.Run("Rejects Negative Outputs", func(t *testing.T) {
		f := newFixture(t)
		f.deposit(t, e18(100), e18(100))
		err := f.pool.Exchange(trader, big.NewInt(-1), nil, trader)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("Output Must Stay Below The Reserve", func(t *testing.T) {
		f := newFixture(t)
		f.deposit(t, e18(100), e18(100))
		err := f.pool.Exchange(trader, e18(100), nil, trader)
		assert.ErrorIs(t, err, ErrInsufficientReserve)
	})

	t.Run("Recipient Must Not Be A Pool Asset", func(t *testing.T) {
		f := newFixture(t)
		f.deposit(t, e18(100), e18(100))
		err := f.pool.Exchange(trader, big.NewInt(1), nil, asset1Addr)
		assert.ErrorIs(t, err, ErrInvalidRecipient)
	})

	t.Run("No Input Means No Trade", func(t *testing.T) {
		f := newFixture(t)
		f.deposit(t, e18(100), e18(100))
		err := f.pool.Exchange(trader, big.NewInt(1), nil, trader)
		require.ErrorIs(t, err, ErrInsufficientInput)

		// The optimistic payout was rolled back.
		assert.Equal(t, e18(100), f.asset0.BalanceOf(poolAddr))
	})

	t.Run("Emits Sync Before Exchanged", func(t *testing.T) {
		f := newFixture(t)
		f.deposit(t, e18(100), e18(100))
		f.recorder.Reset()

		out, err := quote.Out(e18(1), e18(100), e18(100))
		require.NoError(t, err)
		require.NoError(t, f.asset0.Transfer(trader, poolAddr, e18(1)))
		require.NoError(t, f.pool.Exchange(trader, nil, out, trader))

		evts := f.recorder.Events()
		require.Len(t, evts, 2)
		assert.Equal(t, "sync", evts[0].Kind())
		exchanged, ok := evts[1].(events.Exchanged)
		require.True(t, ok)
		assert.Equal(t, e18(1), exchanged.Amount0In)
		assert.Equal(t, big.NewInt(0), exchanged.Amount1In)
		assert.Equal(t, out, exchanged.Amount1Out)
		assert.Equal(t, trader, exchanged.To)
	})
}

func TestReentrancyGuard(t *testing.T) {
	t.Run("Exchange Callback Cannot Re-Enter", func(t *testing.T) {
		f := newFixture(t)
		f.deposit(t, e18(100), e18(100))

		var reentrantErr error
		f.asset1.SetTransferHook(func(from, to common.Address, amount *big.Int) {
			if from != poolAddr {
				return
			}
			f.asset1.SetTransferHook(nil)
			reentrantErr = f.pool.Exchange(trader, big.NewInt(1), nil, trader)
		})

		out, err := quote.Out(e18(1), e18(100), e18(100))
		require.NoError(t, err)
		require.NoError(t, f.asset0.Transfer(trader, poolAddr, e18(1)))
		require.NoError(t, f.pool.Exchange(trader, nil, out, trader))

		assert.ErrorIs(t, reentrantErr, ErrReentrantCall)
	})

	t.Run("Exchange Callback Cannot Re-Enter Deposit", func(t *testing.T) {
		f := newFixture(t)
		f.deposit(t, e18(100), e18(100))

		var reentrantErr error
		f.asset1.SetTransferHook(func(from, to common.Address, amount *big.Int) {
			if from != poolAddr {
				return
			}
			f.asset1.SetTransferHook(nil)
			_, reentrantErr = f.pool.Deposit(trader, trader)
		})

		out, err := quote.Out(e18(1), e18(100), e18(100))
		require.NoError(t, err)
		require.NoError(t, f.asset0.Transfer(trader, poolAddr, e18(1)))
		require.NoError(t, f.pool.Exchange(trader, nil, out, trader))

		assert.ErrorIs(t, reentrantErr, ErrReentrantCall)
	})

	t.Run("Guard Releases After The Operation", func(t *testing.T) {
		f := newFixture(t)
		f.deposit(t, e18(100), e18(100))

		out, err := quote.Out(e18(1), e18(100), e18(100))
		require.NoError(t, err)
		require.NoError(t, f.asset0.Transfer(trader, poolAddr, e18(1)))
		require.NoError(t, f.pool.Exchange(trader, nil, out, trader))

		// A second, independent exchange succeeds.
		reserve0, reserve1, _ := f.pool.GetReserves()
		out2, err := quote.Out(e18(1), reserve0, reserve1)
		require.NoError(t, err)
		require.NoError(t, f.asset0.Transfer(trader, poolAddr, e18(1)))
		assert.NoError(t, f.pool.Exchange(trader, nil, out2, trader))
	})
}

func TestTransferShares(t *testing.T) {
	f := newFixture(t)
	shares := f.deposit(t, e18(2), e18(2))

	t.Run("Moves Between Holders", func(t *testing.T) {
		require.NoError(t, f.pool.TransferShares(lp, trader, big.NewInt(500)))
		assert.Equal(t, big.NewInt(500), f.pool.SharesOf(trader))
		assert.Equal(t, new(big.Int).Sub(shares, big.NewInt(500)), f.pool.SharesOf(lp))
		// Supply is conserved.
		assert.Equal(t, e18(2), f.pool.TotalShares())
	})

	t.Run("Rejects Overdraw", func(t *testing.T) {
		err := f.pool.TransferShares(trader, lp, big.NewInt(501))
		assert.ErrorIs(t, err, ErrInsufficientShares)
	})

	t.Run("Rejects Invalid Amounts", func(t *testing.T) {
		assert.ErrorIs(t, f.pool.TransferShares(lp, trader, nil), ErrInvalidAmount)
		assert.ErrorIs(t, f.pool.TransferShares(lp, trader, big.NewInt(-1)), ErrInvalidAmount)
	})
}
