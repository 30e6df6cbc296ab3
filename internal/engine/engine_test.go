package engine

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewire/settled/internal/admin"
	"github.com/tradewire/settled/internal/crypto"
	"github.com/tradewire/settled/internal/domain"
	"github.com/tradewire/settled/internal/token"
)

var (
	engineAddr = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	feeToken   = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	tokenA     = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenB     = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	ownerAddr  = common.HexToAddress("0x0000000000000000000000000000000000000011")
	feesAddr   = common.HexToAddress("0x0000000000000000000000000000000000000022")

	makerKeyHex = "4f3edf983ac636a65a842ce7c78d9aa706d3b113bce9c46f30d7d21715b23b1d"
	takerKeyHex = "6cbed15c793ce57650b9877cf6fa156fbef513c4e6134f022a85b1ffdd59b2a1"
)

type fixture struct {
	engine *Engine
	bank   *token.Bank
	clock  *ManualClock
	maker  *crypto.Signer
	taker  *crypto.Signer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	maker, err := crypto.NewSigner(makerKeyHex)
	require.NoError(t, err)
	taker, err := crypto.NewSigner(takerKeyHex)
	require.NoError(t, err)

	bank := token.NewBank(engineAddr)
	registry := admin.NewRegistry(ownerAddr, feesAddr, nil)
	clock := NewManualClock(100)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	eng := New(Config{
		Address:  engineAddr,
		FeeToken: feeToken,
	}, bank, registry, clock, logger)

	return &fixture{engine: eng, bank: bank, clock: clock, maker: maker, taker: taker}
}

// fund mints a balance and approves the engine for the same amount.
func (f *fixture) fund(t *testing.T, tok, owner common.Address, amount int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.bank.Mint(ctx, tok, owner, big.NewInt(amount)))
	cur, err := f.bank.Allowance(ctx, tok, owner, engineAddr)
	require.NoError(t, err)
	require.NoError(t, f.bank.Approve(ctx, tok, owner, new(big.Int).Add(cur, big.NewInt(amount))))
}

// order is a maker offer to sell amountSell of tokenA for amountBuy of
// tokenB, expiring at block 200.
func (f *fixture) order(amountBuy, amountSell, feeMake, feeTake int64) domain.Order {
	return domain.Order{
		TokenBuy:   tokenB,
		AmountBuy:  big.NewInt(amountBuy),
		TokenSell:  tokenA,
		AmountSell: big.NewInt(amountSell),
		Expires:    200,
		Nonce:      1,
		Maker:      f.maker.Address(),
		FeeMake:    big.NewInt(feeMake),
		FeeTake:    big.NewInt(feeTake),
	}
}

// submit signs order and trade and assembles the submission.
func (f *fixture) submit(t *testing.T, o domain.Order, amount int64, tradeNonce uint64) domain.Submission {
	t.Helper()
	trade := domain.Trade{
		OrderHash:  crypto.OrderHash(engineAddr, o),
		Amount:     big.NewInt(amount),
		TradeNonce: tradeNonce,
		Taker:      f.taker.Address(),
	}
	makerSig, err := f.maker.SignOrder(engineAddr, o)
	require.NoError(t, err)
	takerSig, err := f.taker.SignTrade(trade)
	require.NoError(t, err)
	return domain.Submission{Order: o, Trade: trade, MakerSig: makerSig, TakerSig: takerSig}
}

func (f *fixture) balance(t *testing.T, tok, owner common.Address) int64 {
	t.Helper()
	bal, err := f.bank.BalanceOf(context.Background(), tok, owner)
	require.NoError(t, err)
	return bal.Int64()
}

func TestExecuteTradeExactFill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := f.order(1000, 1000, 100000000000000000, 100000000000000000)
	f.fund(t, tokenA, f.maker.Address(), 1000)
	f.fund(t, feeToken, f.maker.Address(), 100000000000000000)
	f.fund(t, tokenB, f.taker.Address(), 1000)
	f.fund(t, feeToken, f.taker.Address(), 100000000000000000)

	sub := f.submit(t, o, 1000, 1)
	res := f.engine.ExecuteTrade(ctx, sub)
	require.True(t, res.OK, "reason: %s", res.Reason)

	assert.Equal(t, int64(1000), f.balance(t, tokenA, f.taker.Address()))
	assert.Equal(t, int64(1000), f.balance(t, tokenB, f.maker.Address()))
	assert.Equal(t, int64(0), f.balance(t, tokenA, f.maker.Address()))
	assert.Equal(t, int64(0), f.balance(t, tokenB, f.taker.Address()))
	assert.Equal(t, int64(200000000000000000), f.balance(t, feeToken, feesAddr))

	assert.Equal(t, int64(1000), f.engine.Filled(sub.Trade.OrderHash).Int64())
	assert.True(t, f.engine.Traded(crypto.TradeHash(sub.Trade)))
}

func TestExecuteTradePartialFillsRespectCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := f.order(1000, 1000, 0, 0)
	f.fund(t, tokenA, f.maker.Address(), 1000)
	f.fund(t, tokenB, f.taker.Address(), 1100)

	res := f.engine.ExecuteTrade(ctx, f.submit(t, o, 500, 1))
	require.True(t, res.OK, "reason: %s", res.Reason)
	assert.Equal(t, int64(500), f.engine.Filled(crypto.OrderHash(engineAddr, o)).Int64())

	// 600 exceeds the remaining 500: rejected outright, never clipped.
	res = f.engine.ExecuteTrade(ctx, f.submit(t, o, 600, 2))
	assert.False(t, res.OK)
	assert.Equal(t, domain.ReasonOverfill, res.Reason)
	assert.Equal(t, int64(500), f.engine.Filled(crypto.OrderHash(engineAddr, o)).Int64())

	res = f.engine.ExecuteTrade(ctx, f.submit(t, o, 500, 3))
	require.True(t, res.OK, "reason: %s", res.Reason)
	assert.Equal(t, int64(1000), f.engine.Filled(crypto.OrderHash(engineAddr, o)).Int64())

	res = f.engine.ExecuteTrade(ctx, f.submit(t, o, 1, 4))
	assert.Equal(t, domain.ReasonOverfill, res.Reason)
}

func TestExecuteTradeRoundingRejected(t *testing.T) {
	f := newFixture(t)

	// 100 * 1000 / 3000 truncates with remainder 1000; relative error is 1%,
	// above the default tolerance of zero.
	o := f.order(3000, 1000, 0, 0)
	f.fund(t, tokenA, f.maker.Address(), 1000)
	f.fund(t, tokenB, f.taker.Address(), 3000)

	res := f.engine.ExecuteTrade(context.Background(), f.submit(t, o, 100, 1))
	assert.False(t, res.OK)
	assert.Equal(t, domain.ReasonRounding, res.Reason)
	assert.Equal(t, int64(0), f.engine.Filled(crypto.OrderHash(engineAddr, o)).Int64())
}

func TestExecuteTradeRoundingWithinTolerance(t *testing.T) {
	f := newFixture(t)
	f.engine.cfg.ErrorTolerancePercent = 1

	o := f.order(3000, 1000, 0, 0)
	f.fund(t, tokenA, f.maker.Address(), 1000)
	f.fund(t, tokenB, f.taker.Address(), 3000)

	res := f.engine.ExecuteTrade(context.Background(), f.submit(t, o, 100, 1))
	require.True(t, res.OK, "reason: %s", res.Reason)
	// Sell amount truncates to 33.
	assert.Equal(t, int64(33), f.balance(t, tokenA, f.taker.Address()))
}

func TestExecuteTradeSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := f.order(1000, 1000, 0, 0)
	f.fund(t, tokenA, f.maker.Address(), 1000)
	f.fund(t, tokenB, f.taker.Address(), 1000)

	sub := f.submit(t, o, 100, 1)
	require.True(t, f.engine.ExecuteTrade(ctx, sub).OK)

	res := f.engine.ExecuteTrade(ctx, sub)
	assert.False(t, res.OK)
	assert.Equal(t, domain.ReasonTradeSpent, res.Reason)
	assert.Equal(t, int64(100), f.engine.Filled(sub.Trade.OrderHash).Int64())
}

func TestExecuteTradeExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := f.order(1000, 1000, 0, 0)
	f.fund(t, tokenA, f.maker.Address(), 1000)
	f.fund(t, tokenB, f.taker.Address(), 1000)

	// The expiry block itself is still valid.
	f.clock.Set(o.Expires)
	res := f.engine.ExecuteTrade(ctx, f.submit(t, o, 100, 1))
	require.True(t, res.OK, "reason: %s", res.Reason)

	f.clock.Set(o.Expires + 1)
	res = f.engine.ExecuteTrade(ctx, f.submit(t, o, 100, 2))
	assert.False(t, res.OK)
	assert.Equal(t, domain.ReasonExpired, res.Reason)
}

func TestExecuteTradeSignatureChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := f.order(1000, 1000, 0, 0)
	f.fund(t, tokenA, f.maker.Address(), 1000)
	f.fund(t, tokenB, f.taker.Address(), 1000)

	t.Run("maker signature from wrong key", func(t *testing.T) {
		sub := f.submit(t, o, 100, 1)
		badSig, err := f.taker.SignOrder(engineAddr, o)
		require.NoError(t, err)
		sub.MakerSig = badSig
		res := f.engine.ExecuteTrade(ctx, sub)
		assert.Equal(t, domain.ReasonMakerSignature, res.Reason)
	})

	t.Run("taker signature from wrong key", func(t *testing.T) {
		sub := f.submit(t, o, 100, 2)
		badSig, err := f.maker.SignTrade(sub.Trade)
		require.NoError(t, err)
		sub.TakerSig = badSig
		res := f.engine.ExecuteTrade(ctx, sub)
		assert.Equal(t, domain.ReasonTakerSignature, res.Reason)
	})

	t.Run("truncated maker signature", func(t *testing.T) {
		sub := f.submit(t, o, 100, 3)
		sub.MakerSig = sub.MakerSig[:64]
		res := f.engine.ExecuteTrade(ctx, sub)
		assert.Equal(t, domain.ReasonMakerSignature, res.Reason)
	})

	t.Run("order hash mismatch in trade", func(t *testing.T) {
		sub := f.submit(t, o, 100, 4)
		sub.Trade.OrderHash[0] ^= 0xff
		takerSig, err := f.taker.SignTrade(sub.Trade)
		require.NoError(t, err)
		sub.TakerSig = takerSig
		res := f.engine.ExecuteTrade(ctx, sub)
		assert.Equal(t, domain.ReasonMalformed, res.Reason)
	})

	assert.Equal(t, int64(0), f.engine.Filled(crypto.OrderHash(engineAddr, o)).Int64())
}

func TestExecuteTradeInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := f.order(1000, 1000, 0, 0)
	// Maker holds less than the sell amount.
	f.fund(t, tokenA, f.maker.Address(), 400)
	f.fund(t, tokenB, f.taker.Address(), 1000)

	res := f.engine.ExecuteTrade(ctx, f.submit(t, o, 500, 1))
	assert.False(t, res.OK)
	assert.Equal(t, domain.ReasonFunds, res.Reason)

	// Nothing moved, nothing recorded.
	assert.Equal(t, int64(400), f.balance(t, tokenA, f.maker.Address()))
	assert.Equal(t, int64(1000), f.balance(t, tokenB, f.taker.Address()))
	assert.Equal(t, int64(0), f.engine.Filled(crypto.OrderHash(engineAddr, o)).Int64())
}

func TestExecuteTradeAggregatesOverlappingDebits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The maker sells the fee token itself, so the sell leg and the fee leg
	// debit the same (token, owner) pair. 105 covers either leg alone but
	// not the 110 total.
	o := domain.Order{
		TokenBuy:   tokenB,
		AmountBuy:  big.NewInt(100),
		TokenSell:  feeToken,
		AmountSell: big.NewInt(100),
		Expires:    200,
		Nonce:      1,
		Maker:      f.maker.Address(),
		FeeMake:    big.NewInt(10),
		FeeTake:    big.NewInt(0),
	}
	f.fund(t, feeToken, f.maker.Address(), 105)
	f.fund(t, tokenB, f.taker.Address(), 100)

	res := f.engine.ExecuteTrade(ctx, f.submit(t, o, 100, 1))
	assert.False(t, res.OK)
	assert.Equal(t, domain.ReasonFunds, res.Reason)
	assert.Equal(t, int64(105), f.balance(t, feeToken, f.maker.Address()))
}

// revokingLedger lowers an allowance at the moment the transfer batch runs,
// the way a concurrent approval through the admin surface would after the
// engine's funds check has already passed.
type revokingLedger struct {
	*token.Bank
	token common.Address
	owner common.Address
}

func (r *revokingLedger) TransferBatch(ctx context.Context, transfers []domain.Transfer) error {
	if err := r.Approve(ctx, r.token, r.owner, big.NewInt(0)); err != nil {
		return err
	}
	return r.Bank.TransferBatch(ctx, transfers)
}

func TestExecuteTradeMidCallRevocationMovesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := f.order(1000, 1000, 0, 0)
	f.fund(t, tokenA, f.maker.Address(), 1000)
	f.fund(t, tokenB, f.taker.Address(), 1000)

	rl := &revokingLedger{Bank: f.bank, token: tokenB, owner: f.taker.Address()}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := New(Config{Address: engineAddr, FeeToken: feeToken},
		rl, admin.NewRegistry(ownerAddr, feesAddr, nil), f.clock, logger)

	sub := f.submit(t, o, 400, 1)
	res := eng.ExecuteTrade(ctx, sub)
	assert.False(t, res.OK)
	assert.Equal(t, domain.ReasonFunds, res.Reason)

	// The rejection left every balance and the ledger untouched: no leg of
	// the four-transfer group was applied on its own.
	assert.Equal(t, int64(1000), f.balance(t, tokenA, f.maker.Address()))
	assert.Equal(t, int64(0), f.balance(t, tokenA, f.taker.Address()))
	assert.Equal(t, int64(1000), f.balance(t, tokenB, f.taker.Address()))
	assert.Equal(t, int64(0), eng.Filled(sub.Trade.OrderHash).Int64())
	assert.False(t, eng.Traded(crypto.TradeHash(sub.Trade)))
}

func TestExecuteTradeMalformed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := f.order(1000, 1000, 0, 0)

	t.Run("nil trade amount", func(t *testing.T) {
		sub := f.submit(t, o, 1, 1)
		sub.Trade.Amount = nil
		res := f.engine.ExecuteTrade(ctx, sub)
		assert.Equal(t, domain.ReasonMalformed, res.Reason)
	})

	t.Run("zero order capacity", func(t *testing.T) {
		bad := o
		bad.AmountBuy = big.NewInt(0)
		sub := f.submit(t, bad, 1, 2)
		res := f.engine.ExecuteTrade(ctx, sub)
		assert.Equal(t, domain.ReasonMalformed, res.Reason)
	})

	t.Run("negative fee", func(t *testing.T) {
		bad := o
		bad.FeeMake = big.NewInt(-1)
		sub := f.submit(t, bad, 1, 3)
		res := f.engine.ExecuteTrade(ctx, sub)
		assert.Equal(t, domain.ReasonMalformed, res.Reason)
	})
}

func TestProbeDoesNotMutate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := f.order(1000, 1000, 0, 0)
	f.fund(t, tokenA, f.maker.Address(), 1000)
	f.fund(t, tokenB, f.taker.Address(), 1000)

	sub := f.submit(t, o, 500, 1)
	res := f.engine.Probe(ctx, sub)
	require.True(t, res.OK, "reason: %s", res.Reason)

	assert.Equal(t, int64(0), f.engine.Filled(sub.Trade.OrderHash).Int64())
	assert.False(t, f.engine.Traded(crypto.TradeHash(sub.Trade)))
	assert.Equal(t, int64(1000), f.balance(t, tokenA, f.maker.Address()))

	// The probed submission still settles.
	require.True(t, f.engine.ExecuteTrade(ctx, sub).OK)
}

func TestCancelOrderByMaker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := f.order(1000, 1000, 0, 0)
	f.fund(t, tokenA, f.maker.Address(), 1000)
	f.fund(t, tokenB, f.taker.Address(), 1000)
	orderHash := crypto.OrderHash(engineAddr, o)

	require.True(t, f.engine.ExecuteTrade(ctx, f.submit(t, o, 300, 1)).OK)

	sig, err := f.maker.SignOrder(engineAddr, o)
	require.NoError(t, err)
	res := f.engine.CancelOrder(ctx, o, sig, f.maker.Address())
	require.True(t, res.OK, "reason: %s", res.Reason)

	// Cancellation saturates the fill; the remaining 700 is gone for good.
	assert.Equal(t, int64(1000), f.engine.Filled(orderHash).Int64())
	res = f.engine.ExecuteTrade(ctx, f.submit(t, o, 1, 2))
	assert.Equal(t, domain.ReasonOverfill, res.Reason)
}

func TestCancelOrderUnauthorized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := f.order(1000, 1000, 0, 0)
	orderHash := crypto.OrderHash(engineAddr, o)

	// A taker-signed cancellation of someone else's order is refused.
	sig, err := f.taker.SignOrder(engineAddr, o)
	require.NoError(t, err)
	res := f.engine.CancelOrder(ctx, o, sig, f.taker.Address())
	assert.False(t, res.OK)
	assert.Equal(t, domain.ReasonUnauthorized, res.Reason)
	assert.Equal(t, int64(0), f.engine.Filled(orderHash).Int64())
}

func TestCancelOrderByAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := f.order(1000, 1000, 0, 0)

	// Administrators need no signature.
	res := f.engine.CancelOrder(ctx, o, nil, ownerAddr)
	require.True(t, res.OK, "reason: %s", res.Reason)
	assert.Equal(t, int64(1000), f.engine.Filled(crypto.OrderHash(engineAddr, o)).Int64())
}

func TestCancelTradeByTaker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := f.order(1000, 1000, 0, 0)
	f.fund(t, tokenA, f.maker.Address(), 1000)
	f.fund(t, tokenB, f.taker.Address(), 1000)

	sub := f.submit(t, o, 500, 1)
	tradeHash := crypto.TradeHash(sub.Trade)

	sig, err := f.taker.SignTrade(sub.Trade)
	require.NoError(t, err)
	res := f.engine.CancelTrade(ctx, sub.Trade.OrderHash, sub.Trade.Amount, sub.Trade.TradeNonce, f.taker.Address(), sig, f.taker.Address())
	require.True(t, res.OK, "reason: %s", res.Reason)
	assert.True(t, f.engine.Traded(tradeHash))

	res = f.engine.ExecuteTrade(ctx, sub)
	assert.Equal(t, domain.ReasonTradeSpent, res.Reason)

	// Cancelling the same trade again is idempotent.
	res = f.engine.CancelTrade(ctx, sub.Trade.OrderHash, sub.Trade.Amount, sub.Trade.TradeNonce, f.taker.Address(), sig, f.taker.Address())
	assert.True(t, res.OK)
}

func TestCancelTradeUnauthorized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := f.order(1000, 1000, 0, 0)
	sub := f.submit(t, o, 500, 1)

	sig, err := f.maker.SignTrade(sub.Trade)
	require.NoError(t, err)
	res := f.engine.CancelTrade(ctx, sub.Trade.OrderHash, sub.Trade.Amount, sub.Trade.TradeNonce, f.taker.Address(), sig, f.maker.Address())
	assert.Equal(t, domain.ReasonUnauthorized, res.Reason)
	assert.False(t, f.engine.Traded(crypto.TradeHash(sub.Trade)))
}

// memoryLedgerStore is a trivial domain.LedgerStore for write-through and
// hydration tests.
type memoryLedgerStore struct {
	mu    sync.Mutex
	state domain.LedgerState
}

func newMemoryLedgerStore() *memoryLedgerStore {
	return &memoryLedgerStore{state: domain.LedgerState{
		Fills: make(map[common.Hash]*big.Int),
		Spent: make(map[common.Hash]bool),
	}}
}

func (m *memoryLedgerStore) SaveFill(_ context.Context, orderHash common.Hash, filled *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Fills[orderHash] = new(big.Int).Set(filled)
	return nil
}

func (m *memoryLedgerStore) MarkSpent(_ context.Context, tradeHash common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Spent[tradeHash] = true
	return nil
}

func (m *memoryLedgerStore) Load(context.Context) (domain.LedgerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := domain.LedgerState{
		Fills: make(map[common.Hash]*big.Int, len(m.state.Fills)),
		Spent: make(map[common.Hash]bool, len(m.state.Spent)),
	}
	for h, v := range m.state.Fills {
		out.Fills[h] = new(big.Int).Set(v)
	}
	for h, v := range m.state.Spent {
		out.Spent[h] = v
	}
	return out, nil
}

// memLedgerCache is a trivial domain.LedgerCache for write-through tests.
type memLedgerCache struct {
	mu     sync.Mutex
	filled map[common.Hash]*big.Int
	spent  map[common.Hash]bool
}

func newMemLedgerCache() *memLedgerCache {
	return &memLedgerCache{
		filled: make(map[common.Hash]*big.Int),
		spent:  make(map[common.Hash]bool),
	}
}

func (m *memLedgerCache) SetFilled(_ context.Context, orderHash common.Hash, filled *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filled[orderHash] = new(big.Int).Set(filled)
	return nil
}

func (m *memLedgerCache) GetFilled(_ context.Context, orderHash common.Hash) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.filled[orderHash]; ok {
		return new(big.Int).Set(v), nil
	}
	return nil, domain.ErrNotFound
}

func (m *memLedgerCache) SetSpent(_ context.Context, tradeHash common.Hash, spent bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spent[tradeHash] = spent
	return nil
}

func (m *memLedgerCache) GetSpent(_ context.Context, tradeHash common.Hash) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.spent[tradeHash]; ok {
		return v, nil
	}
	return false, domain.ErrNotFound
}

func TestCacheWriteThroughOnEveryMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cache := newMemLedgerCache()
	f.engine.AttachCache(cache)

	o := f.order(1000, 1000, 0, 0)
	f.fund(t, tokenA, f.maker.Address(), 1000)
	f.fund(t, tokenB, f.taker.Address(), 1000)

	// Settlement refreshes both the fill total and the spent flag.
	sub := f.submit(t, o, 400, 1)
	require.True(t, f.engine.ExecuteTrade(ctx, sub).OK)

	filled, err := cache.GetFilled(ctx, sub.Trade.OrderHash)
	require.NoError(t, err)
	assert.Equal(t, int64(400), filled.Int64())
	spent, err := cache.GetSpent(ctx, crypto.TradeHash(sub.Trade))
	require.NoError(t, err)
	assert.True(t, spent)

	// Order cancellation refreshes the saturated fill.
	sig, err := f.maker.SignOrder(engineAddr, o)
	require.NoError(t, err)
	require.True(t, f.engine.CancelOrder(ctx, o, sig, f.maker.Address()).OK)

	filled, err = cache.GetFilled(ctx, sub.Trade.OrderHash)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), filled.Int64())

	// Trade cancellation refreshes the spent flag.
	other := f.submit(t, o, 100, 2)
	tradeSig, err := f.taker.SignTrade(other.Trade)
	require.NoError(t, err)
	res := f.engine.CancelTrade(ctx, other.Trade.OrderHash, other.Trade.Amount, other.Trade.TradeNonce, f.taker.Address(), tradeSig, f.taker.Address())
	require.True(t, res.OK)

	spent, err = cache.GetSpent(ctx, crypto.TradeHash(other.Trade))
	require.NoError(t, err)
	assert.True(t, spent)
}

func TestWriteThroughAndHydrate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	store := newMemoryLedgerStore()
	f.engine.AttachPersistence(store, nil)

	o := f.order(1000, 1000, 0, 0)
	f.fund(t, tokenA, f.maker.Address(), 1000)
	f.fund(t, tokenB, f.taker.Address(), 1000)

	sub := f.submit(t, o, 400, 1)
	require.True(t, f.engine.ExecuteTrade(ctx, sub).OK)

	// A fresh engine over the same store sees the persisted state.
	g := newFixture(t)
	g.engine.AttachPersistence(store, nil)
	require.NoError(t, g.engine.Hydrate(ctx))

	assert.Equal(t, int64(400), g.engine.Filled(sub.Trade.OrderHash).Int64())
	assert.True(t, g.engine.Traded(crypto.TradeHash(sub.Trade)))
}
