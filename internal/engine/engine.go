package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/tradewire/settled/internal/crypto"
	"github.com/tradewire/settled/internal/domain"
)

// EventStream is the durable stream that mirrors every published ledger
// event, for consumers that need replayable ordered delivery.
const EventStream = "stream:events"

// Config holds the engine instance parameters.
type Config struct {
	// Address is the engine's own identity, mixed into every order hash so
	// signatures cannot be replayed against a different deployment. It is
	// also the spender the counterparties must have authorized on the token
	// collaborator.
	Address common.Address

	// FeeToken is the wrapped-native-asset token in which both protocol
	// fees are denominated.
	FeeToken common.Address

	// ErrorTolerancePercent bounds the relative truncation error of the
	// integer sell-amount computation. 0 means any fill whose implied error
	// reaches 1% is rejected.
	ErrorTolerancePercent int64
}

// Engine validates and settles signed order/trade pairs against the fill
// ledger. Every entry point is serialized: a call either completes fully
// (mutating ledger and balances, returning OK) or completes with no
// mutation. There is no retry inside the engine; a rejected call is
// terminal and the caller may resubmit against current state.
type Engine struct {
	cfg    Config
	tokens domain.TokenLedger
	auth   domain.Authorizer
	clock  domain.BlockClock
	logger *slog.Logger

	store   domain.LedgerStore
	journal domain.JournalStore
	cache   domain.LedgerCache
	bus     domain.SignalBus

	mu     sync.RWMutex
	ledger *fillLedger
}

// New creates an Engine over the given collaborators. Persistence and event
// publication are optional; attach them before first use.
func New(cfg Config, tokens domain.TokenLedger, auth domain.Authorizer, clock domain.BlockClock, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		tokens: tokens,
		auth:   auth,
		clock:  clock,
		logger: logger.With(slog.String("component", "engine")),
		ledger: newFillLedger(),
	}
}

// AttachPersistence enables write-through of ledger mutations and journal
// entries. Store failures are logged; they never change engine semantics.
func (e *Engine) AttachPersistence(store domain.LedgerStore, journal domain.JournalStore) {
	e.store = store
	e.journal = journal
}

// AttachCache enables write-through of ledger mutations to the read cache,
// so every settlement path (single, batch, cancellation) refreshes it.
// Cache failures only cost read performance; they are logged and swallowed.
func (e *Engine) AttachCache(cache domain.LedgerCache) {
	e.cache = cache
}

// AttachBus enables ledger event publication on the signal bus.
func (e *Engine) AttachBus(bus domain.SignalBus) {
	e.bus = bus
}

// Address returns the engine instance address.
func (e *Engine) Address() common.Address {
	return e.cfg.Address
}

// Hydrate loads the persisted ledger snapshot into memory. Call once at
// startup, before serving traffic.
func (e *Engine) Hydrate(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	state, err := e.store.Load(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.ledger.hydrate(state)
	e.mu.Unlock()
	e.logger.Info("ledger hydrated",
		slog.Int("orders", len(state.Fills)),
		slog.Int("trades", len(state.Spent)),
	)
	return nil
}

// settlementPlan is the outcome of a fully validated submission, ready to
// apply.
type settlementPlan struct {
	orderHash  common.Hash
	tradeHash  common.Hash
	fill       *big.Int
	sellAmount *big.Int
	transfers  []domain.Transfer
}

// ExecuteTrade validates the submission and, when every precondition holds,
// performs the four transfers in fixed order (maker→taker sell amount,
// taker→maker fill amount, maker→fee account maker fee, taker→fee account
// taker fee), records the fill, and marks the trade hash spent. Any failed
// precondition short-circuits to a rejected Result with no mutation.
func (e *Engine) ExecuteTrade(ctx context.Context, sub domain.Submission) domain.Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	plan, res := e.evaluate(ctx, sub)
	if !res.OK {
		e.logger.Debug("settlement rejected",
			slog.String("reason", string(res.Reason)),
			slog.String("maker", sub.Order.Maker.Hex()),
			slog.String("taker", sub.Trade.Taker.Hex()),
		)
		return res
	}

	// All four legs are applied as one indivisible collaborator step. The
	// funds check in evaluate covers every leg against the state seen under
	// the engine mutex, but the collaborator's own state can move mid-call
	// (an allowance lowered through the admin surface, for example); the
	// batch then rejects as a whole and nothing has moved.
	if err := e.tokens.TransferBatch(ctx, plan.transfers); err != nil {
		e.logger.Error("transfer batch failed after funds check",
			slog.String("order_hash", plan.orderHash.Hex()),
			slog.String("trade_hash", plan.tradeHash.Hex()),
			slog.String("error", err.Error()),
		)
		return domain.Rejected(domain.ReasonFunds)
	}

	filled := e.ledger.addFill(plan.orderHash, plan.fill)
	e.ledger.markSpent(plan.tradeHash)
	e.persistFill(ctx, plan.orderHash, filled)
	e.persistSpent(ctx, plan.tradeHash)
	e.cacheFill(ctx, plan.orderHash, filled)
	e.cacheSpent(ctx, plan.tradeHash)

	entry := domain.JournalEntry{
		Kind:        domain.JournalSettlement,
		OrderHash:   plan.orderHash,
		TradeHash:   plan.tradeHash,
		Maker:       sub.Order.Maker,
		Taker:       sub.Trade.Taker,
		Amount:      plan.fill,
		SellAmount:  plan.sellAmount,
		FeeMake:     sub.Order.FeeMake,
		FeeTake:     sub.Order.FeeTake,
		BlockHeight: e.clock.Height(),
	}
	e.record(ctx, entry)
	e.publish(ctx, domain.ChannelSettlements, eventFromEntry(domain.EventSettled, entry))

	e.logger.Info("trade settled",
		slog.String("order_hash", plan.orderHash.Hex()),
		slog.String("trade_hash", plan.tradeHash.Hex()),
		slog.String("amount", plan.fill.String()),
		slog.String("sell_amount", plan.sellAmount.String()),
	)
	return domain.Ok()
}

// Probe evaluates the submission against current state without mutating
// anything: a dry-run answering "would ExecuteTrade succeed right now".
func (e *Engine) Probe(ctx context.Context, sub domain.Submission) domain.Result {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, res := e.evaluate(ctx, sub)
	return res
}

// evaluate runs the precondition pipeline. The caller must hold the engine
// mutex (read suffices). It returns the plan only when the result is OK.
func (e *Engine) evaluate(ctx context.Context, sub domain.Submission) (settlementPlan, domain.Result) {
	o, t := sub.Order, sub.Trade

	if !o.WellFormed() || !t.WellFormed() {
		return settlementPlan{}, domain.Rejected(domain.ReasonMalformed)
	}

	// 1. Expiry, inclusive of the boundary block.
	if o.Expires < e.clock.Height() {
		return settlementPlan{}, domain.Rejected(domain.ReasonExpired)
	}

	// 2. Maker signature over the canonical order hash.
	orderHash := crypto.OrderHash(e.cfg.Address, o)
	if t.OrderHash != orderHash {
		return settlementPlan{}, domain.Rejected(domain.ReasonMalformed)
	}
	if signer, ok := crypto.RecoverSigner(orderHash, sub.MakerSig); !ok || signer != o.Maker {
		return settlementPlan{}, domain.Rejected(domain.ReasonMakerSignature)
	}

	// 3. Taker signature over the trade hash.
	tradeHash := crypto.TradeHash(t)
	if signer, ok := crypto.RecoverSigner(tradeHash, sub.TakerSig); !ok || signer != t.Taker {
		return settlementPlan{}, domain.Rejected(domain.ReasonTakerSignature)
	}

	// 4. Single-use trade hash.
	if e.ledger.isSpent(tradeHash) {
		return settlementPlan{}, domain.Rejected(domain.ReasonTradeSpent)
	}

	// 5. Remaining capacity. Oversize trades are rejected, never clipped.
	remaining := new(big.Int).Sub(o.AmountBuy, e.ledger.filled(orderHash))
	if t.Amount.Cmp(remaining) > 0 {
		return settlementPlan{}, domain.Rejected(domain.ReasonOverfill)
	}
	fill := new(big.Int).Set(t.Amount)

	// 6. Rounding bound on the implied sell amount.
	sellNumer := new(big.Int).Mul(fill, o.AmountSell)
	sellAmount, rem := new(big.Int).QuoRem(sellNumer, o.AmountBuy, new(big.Int))
	if rem.Sign() > 0 {
		errPct := new(big.Int).Div(new(big.Int).Mul(rem, big.NewInt(100)), sellNumer)
		if errPct.Cmp(big.NewInt(e.cfg.ErrorTolerancePercent)) > 0 {
			return settlementPlan{}, domain.Rejected(domain.ReasonRounding)
		}
	}

	feeAccount := e.auth.FeeAccount()
	transfers := []domain.Transfer{
		{Token: o.TokenSell, From: o.Maker, To: t.Taker, Amount: sellAmount},
		{Token: o.TokenBuy, From: t.Taker, To: o.Maker, Amount: fill},
		{Token: e.cfg.FeeToken, From: o.Maker, To: feeAccount, Amount: o.FeeMake},
		{Token: e.cfg.FeeToken, From: t.Taker, To: feeAccount, Amount: o.FeeTake},
	}

	// 7. Balances and allowances for all four legs, aggregated per owner
	// and token so overlapping legs (e.g. selling the fee token) cannot
	// pass individually and still fail as a group.
	if res := e.checkFunds(ctx, transfers); !res.OK {
		return settlementPlan{}, res
	}

	return settlementPlan{
		orderHash:  orderHash,
		tradeHash:  tradeHash,
		fill:       fill,
		sellAmount: sellAmount,
		transfers:  transfers,
	}, domain.Ok()
}

// checkFunds verifies that every debited party holds and has authorized the
// total it will be debited across all transfer legs.
func (e *Engine) checkFunds(ctx context.Context, transfers []domain.Transfer) domain.Result {
	type debit struct {
		token common.Address
		owner common.Address
	}
	required := make(map[debit]*big.Int)
	for _, tr := range transfers {
		if tr.Amount.Sign() == 0 {
			continue
		}
		key := debit{token: tr.Token, owner: tr.From}
		if cur, ok := required[key]; ok {
			required[key] = new(big.Int).Add(cur, tr.Amount)
		} else {
			required[key] = new(big.Int).Set(tr.Amount)
		}
	}

	for key, amount := range required {
		bal, err := e.tokens.BalanceOf(ctx, key.token, key.owner)
		if err != nil {
			e.logger.Error("balance query failed",
				slog.String("token", key.token.Hex()),
				slog.String("owner", key.owner.Hex()),
				slog.String("error", err.Error()),
			)
			return domain.Rejected(domain.ReasonFunds)
		}
		if bal.Cmp(amount) < 0 {
			return domain.Rejected(domain.ReasonFunds)
		}

		allow, err := e.tokens.Allowance(ctx, key.token, key.owner, e.cfg.Address)
		if err != nil {
			e.logger.Error("allowance query failed",
				slog.String("token", key.token.Hex()),
				slog.String("owner", key.owner.Hex()),
				slog.String("error", err.Error()),
			)
			return domain.Rejected(domain.ReasonFunds)
		}
		if allow.Cmp(amount) < 0 {
			return domain.Rejected(domain.ReasonFunds)
		}
	}
	return domain.Ok()
}

// CancelOrder saturates the order's fill to its full capacity, permanently
// zeroing the remaining capacity seen by later settlements. Authorized
// callers are an administrator (no signature required) or the maker,
// authenticated by signature over the order hash.
func (e *Engine) CancelOrder(ctx context.Context, order domain.Order, sig domain.Signature, caller common.Address) domain.Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !order.WellFormed() {
		return domain.Rejected(domain.ReasonMalformed)
	}

	orderHash := crypto.OrderHash(e.cfg.Address, order)
	if !e.isAdmin(caller) {
		signer, ok := crypto.RecoverSigner(orderHash, sig)
		if !ok || signer != order.Maker {
			return domain.Rejected(domain.ReasonUnauthorized)
		}
	}

	filled := e.ledger.saturate(orderHash, order.AmountBuy)
	e.persistFill(ctx, orderHash, filled)
	e.cacheFill(ctx, orderHash, filled)

	entry := domain.JournalEntry{
		Kind:        domain.JournalOrderCancel,
		OrderHash:   orderHash,
		Maker:       order.Maker,
		BlockHeight: e.clock.Height(),
	}
	e.record(ctx, entry)
	e.publish(ctx, domain.ChannelCancels, eventFromEntry(domain.EventOrderCancelled, entry))

	e.logger.Info("order cancelled",
		slog.String("order_hash", orderHash.Hex()),
		slog.String("maker", order.Maker.Hex()),
	)
	return domain.Ok()
}

// CancelTrade recomputes the trade hash from its components and marks it
// spent, unconditionally and idempotently. Authorized callers are an
// administrator or the taker, authenticated by signature over the trade
// hash.
func (e *Engine) CancelTrade(ctx context.Context, orderHash common.Hash, amount *big.Int, tradeNonce uint64, taker common.Address, sig domain.Signature, caller common.Address) domain.Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	if amount == nil || amount.Sign() < 0 {
		return domain.Rejected(domain.ReasonMalformed)
	}

	trade := domain.Trade{
		OrderHash:  orderHash,
		Amount:     amount,
		TradeNonce: tradeNonce,
		Taker:      taker,
	}
	tradeHash := crypto.TradeHash(trade)

	if !e.isAdmin(caller) {
		signer, ok := crypto.RecoverSigner(tradeHash, sig)
		if !ok || signer != taker {
			return domain.Rejected(domain.ReasonUnauthorized)
		}
	}

	e.ledger.markSpent(tradeHash)
	e.persistSpent(ctx, tradeHash)
	e.cacheSpent(ctx, tradeHash)

	entry := domain.JournalEntry{
		Kind:        domain.JournalTradeCancel,
		OrderHash:   orderHash,
		TradeHash:   tradeHash,
		Taker:       taker,
		BlockHeight: e.clock.Height(),
	}
	e.record(ctx, entry)
	e.publish(ctx, domain.ChannelCancels, eventFromEntry(domain.EventTradeCancelled, entry))

	e.logger.Info("trade cancelled",
		slog.String("trade_hash", tradeHash.Hex()),
		slog.String("taker", taker.Hex()),
	)
	return domain.Ok()
}

// Filled returns the cumulative filled amount for an order hash.
func (e *Engine) Filled(orderHash common.Hash) *big.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.filled(orderHash)
}

// Traded reports whether a trade hash has been settled or cancelled.
func (e *Engine) Traded(tradeHash common.Hash) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.isSpent(tradeHash)
}

func (e *Engine) isAdmin(caller common.Address) bool {
	return e.auth.IsOwner(caller) || e.auth.IsOperator(caller)
}

func (e *Engine) persistFill(ctx context.Context, orderHash common.Hash, filled *big.Int) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveFill(ctx, orderHash, filled); err != nil {
		e.logger.Error("ledger store: save fill failed",
			slog.String("order_hash", orderHash.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) persistSpent(ctx context.Context, tradeHash common.Hash) {
	if e.store == nil {
		return
	}
	if err := e.store.MarkSpent(ctx, tradeHash); err != nil {
		e.logger.Error("ledger store: mark spent failed",
			slog.String("trade_hash", tradeHash.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) cacheFill(ctx context.Context, orderHash common.Hash, filled *big.Int) {
	if e.cache == nil {
		return
	}
	if err := e.cache.SetFilled(ctx, orderHash, filled); err != nil {
		e.logger.Warn("ledger cache: set filled failed",
			slog.String("order_hash", orderHash.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) cacheSpent(ctx context.Context, tradeHash common.Hash) {
	if e.cache == nil {
		return
	}
	if err := e.cache.SetSpent(ctx, tradeHash, true); err != nil {
		e.logger.Warn("ledger cache: set spent failed",
			slog.String("trade_hash", tradeHash.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) record(ctx context.Context, entry domain.JournalEntry) {
	if e.journal == nil {
		return
	}
	entry.ID = uuid.New().String()
	entry.CreatedAt = time.Now().UTC()
	if err := e.journal.Append(ctx, entry); err != nil {
		e.logger.Error("journal append failed",
			slog.String("kind", string(entry.Kind)),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) publish(ctx context.Context, channel string, ev domain.Event) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, channel, payload); err != nil {
		e.logger.Warn("event publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
	if err := e.bus.StreamAppend(ctx, EventStream, payload); err != nil {
		e.logger.Warn("event stream append failed",
			slog.String("error", err.Error()),
		)
	}
}

// eventFromEntry builds the broadcast payload for a journal entry.
func eventFromEntry(typ domain.EventType, entry domain.JournalEntry) domain.Event {
	ev := domain.Event{
		Type:        typ,
		OrderHash:   entry.OrderHash.Hex(),
		BlockHeight: entry.BlockHeight,
		Timestamp:   time.Now().UTC(),
	}
	if entry.TradeHash != (common.Hash{}) {
		ev.TradeHash = entry.TradeHash.Hex()
	}
	if entry.Maker != (common.Address{}) {
		ev.Maker = entry.Maker.Hex()
	}
	if entry.Taker != (common.Address{}) {
		ev.Taker = entry.Taker.Hex()
	}
	if entry.Amount != nil {
		ev.Amount = entry.Amount.String()
	}
	if entry.SellAmount != nil {
		ev.SellAmount = entry.SellAmount.String()
	}
	if entry.FeeMake != nil {
		ev.FeeMake = entry.FeeMake.String()
	}
	if entry.FeeTake != nil {
		ev.FeeTake = entry.FeeTake.String()
	}
	return ev
}
