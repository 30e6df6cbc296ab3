package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	s3blob "github.com/tradewire/settled/internal/blob/s3"
	"github.com/tradewire/settled/internal/crypto"
	"github.com/tradewire/settled/internal/domain"
	"github.com/tradewire/settled/internal/engine"
	"github.com/tradewire/settled/internal/relayer"
	"github.com/tradewire/settled/internal/server"
	"github.com/tradewire/settled/internal/server/handler"
	"github.com/tradewire/settled/internal/server/ws"
	"github.com/tradewire/settled/internal/token"
)

// ServerMode runs the settlement engine behind the HTTP and WebSocket API.
// Persistence, caching, and event publication are attached when the
// corresponding backends are enabled in configuration.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	clock := engine.NewTickingClock(a.cfg.Clock.StartHeight, a.cfg.Clock.BlockInterval.Duration, a.logger)
	eng, err := a.buildEngine(ctx, deps, clock)
	if err != nil {
		return fmt.Errorf("server mode: %w", err)
	}

	g.Go(func() error {
		return clock.Run(ctx)
	})

	rl := relayer.New(eng, nil, a.logger)
	g.Go(func() error {
		return rl.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startAPIServer(ctx, g, deps, eng, rl, clock)
	}

	return g.Wait()
}

// FullMode runs everything server mode runs plus journal archival, guarded by
// a distributed leader lock so only one instance mutates the fill ledger.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	if deps.LedgerStore == nil || deps.JournalStore == nil {
		return fmt.Errorf("full mode: postgres must be enabled")
	}
	if deps.LockManager == nil {
		return fmt.Errorf("full mode: redis must be enabled")
	}

	// Single-writer guard. Held without a TTL for the process lifetime so a
	// second instance cannot take over mid-run; released on shutdown.
	unlock, err := deps.LockManager.Acquire(ctx, "settlement-leader", 0)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return fmt.Errorf("full mode: another instance holds the settlement lock")
		}
		return fmt.Errorf("full mode: acquire settlement lock: %w", err)
	}
	a.closers = append(a.closers, unlock)

	g, ctx := errgroup.WithContext(ctx)

	clock := engine.NewTickingClock(a.cfg.Clock.StartHeight, a.cfg.Clock.BlockInterval.Duration, a.logger)
	eng, err := a.buildEngine(ctx, deps, clock)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	g.Go(func() error {
		return clock.Run(ctx)
	})

	rl := relayer.New(eng, nil, a.logger)
	g.Go(func() error {
		return rl.Run(ctx)
	})

	if a.cfg.Archive.Enabled && deps.BlobWriter != nil {
		arch := s3blob.NewJournalArchiver(
			deps.BlobWriter,
			deps.JournalStore,
			time.Duration(a.cfg.Archive.RetentionDays)*24*time.Hour,
			a.cfg.Archive.Interval.Duration,
			a.logger,
		)
		g.Go(func() error {
			return arch.Run(ctx)
		})
	}

	if a.cfg.Server.Enabled {
		a.startAPIServer(ctx, g, deps, eng, rl, clock)
	}

	return g.Wait()
}

// ReplayMode walks the persisted journal from the beginning, rebuilds the
// fill totals and spent set it implies, and checks the persisted ledger
// snapshot against them. Order cancellations saturate fills without recording
// the saturation amount, so the snapshot is required to dominate the replayed
// totals rather than equal them.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting replay mode")

	if deps.JournalStore == nil || deps.LedgerStore == nil {
		return fmt.Errorf("replay mode: postgres must be enabled")
	}

	entries, err := deps.JournalStore.ListBefore(ctx, time.Now().UTC(), 0)
	if err != nil {
		return fmt.Errorf("replay: list journal: %w", err)
	}

	fills := make(map[common.Hash]*big.Int)
	spent := make(map[common.Hash]bool)
	for _, e := range entries {
		switch e.Kind {
		case domain.JournalSettlement:
			cur := fills[e.OrderHash]
			if cur == nil {
				cur = new(big.Int)
			}
			fills[e.OrderHash] = new(big.Int).Add(cur, e.Amount)
			spent[e.TradeHash] = true
		case domain.JournalTradeCancel:
			spent[e.TradeHash] = true
		}
	}

	state, err := deps.LedgerStore.Load(ctx)
	if err != nil {
		return fmt.Errorf("replay: load snapshot: %w", err)
	}

	var mismatches int
	for h, want := range fills {
		got := state.Fills[h]
		if got == nil || got.Cmp(want) < 0 {
			mismatches++
			gotStr := "<missing>"
			if got != nil {
				gotStr = got.String()
			}
			a.logger.ErrorContext(ctx, "replay: snapshot fill below journaled total",
				slog.String("order_hash", h.Hex()),
				slog.String("journaled", want.String()),
				slog.String("snapshot", gotStr),
			)
		}
	}
	for h := range spent {
		if !state.Spent[h] {
			mismatches++
			a.logger.ErrorContext(ctx, "replay: journaled trade not spent in snapshot",
				slog.String("trade_hash", h.Hex()),
			)
		}
	}

	a.logger.InfoContext(ctx, "replay complete",
		slog.Int("entries", len(entries)),
		slog.Int("orders", len(fills)),
		slog.Int("trades", len(spent)),
		slog.Int("mismatches", mismatches),
	)
	if mismatches > 0 {
		return fmt.Errorf("replay: %d mismatches between journal and snapshot", mismatches)
	}
	return nil
}

// ProbeMode loads the configured signing key, builds a throwaway in-memory
// engine, and dry-runs a self-trade through it. It exercises the whole
// hash/sign/recover path end to end without touching any backend, which makes
// it a safe smoke test for key material and engine configuration.
func (a *App) ProbeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting probe mode")

	keyHex, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return fmt.Errorf("probe: load key: %w", err)
	}
	signer, err := crypto.NewSigner(keyHex)
	if err != nil {
		return fmt.Errorf("probe: create signer: %w", err)
	}
	me := signer.Address()

	clock := engine.NewManualClock(a.cfg.Clock.StartHeight)
	bank := token.NewBank(a.cfg.EngineAddress())
	eng := engine.New(engine.Config{
		Address:               a.cfg.EngineAddress(),
		FeeToken:              a.cfg.FeeTokenAddress(),
		ErrorTolerancePercent: a.cfg.Engine.ErrorTolerancePercent,
	}, bank, deps.Registry, clock, a.logger)

	// Seed a zero-fee self-trade against scratch tokens.
	var (
		tokenSell = common.HexToAddress("0x00000000000000000000000000000000000000a1")
		tokenBuy  = common.HexToAddress("0x00000000000000000000000000000000000000a2")
		amount    = big.NewInt(1_000)
	)
	for _, t := range []common.Address{tokenSell, tokenBuy} {
		if err := bank.Mint(ctx, t, me, amount); err != nil {
			return fmt.Errorf("probe: mint: %w", err)
		}
		if err := bank.Approve(ctx, t, me, amount); err != nil {
			return fmt.Errorf("probe: approve: %w", err)
		}
	}

	order := domain.Order{
		TokenBuy:   tokenBuy,
		AmountBuy:  amount,
		TokenSell:  tokenSell,
		AmountSell: amount,
		Expires:    clock.Height() + 100,
		Nonce:      uint64(time.Now().UnixNano()),
		Maker:      me,
		FeeMake:    big.NewInt(0),
		FeeTake:    big.NewInt(0),
	}
	makerSig, err := signer.SignOrder(a.cfg.EngineAddress(), order)
	if err != nil {
		return fmt.Errorf("probe: sign order: %w", err)
	}

	trade := domain.Trade{
		OrderHash:  crypto.OrderHash(a.cfg.EngineAddress(), order),
		Amount:     amount,
		TradeNonce: 1,
		Taker:      me,
	}
	takerSig, err := signer.SignTrade(trade)
	if err != nil {
		return fmt.Errorf("probe: sign trade: %w", err)
	}

	res := eng.Probe(ctx, domain.Submission{
		Order:    order,
		Trade:    trade,
		MakerSig: makerSig,
		TakerSig: takerSig,
	})
	if !res.OK {
		return fmt.Errorf("probe: dry run rejected: %s", res.Reason)
	}

	a.logger.InfoContext(ctx, "probe succeeded",
		slog.String("address", me.Hex()),
		slog.String("order_hash", trade.OrderHash.Hex()),
	)
	return nil
}

// buildEngine constructs the engine over the wired collaborators and loads
// the persisted ledger when a store is available.
func (a *App) buildEngine(ctx context.Context, deps *Dependencies, clock domain.BlockClock) (*engine.Engine, error) {
	eng := engine.New(engine.Config{
		Address:               a.cfg.EngineAddress(),
		FeeToken:              a.cfg.FeeTokenAddress(),
		ErrorTolerancePercent: a.cfg.Engine.ErrorTolerancePercent,
	}, deps.Bank, deps.Registry, clock, a.logger)

	if deps.LedgerStore != nil && deps.JournalStore != nil {
		eng.AttachPersistence(deps.LedgerStore, deps.JournalStore)
		if err := eng.Hydrate(ctx); err != nil {
			return nil, fmt.Errorf("hydrate ledger: %w", err)
		}
	}
	if deps.LedgerCache != nil {
		eng.AttachCache(deps.LedgerCache)
	}
	if deps.SignalBus != nil {
		eng.AttachBus(deps.SignalBus)
	}
	return eng, nil
}

// startAPIServer adds the HTTP server (and the WebSocket hub when Redis is
// wired) to the given errgroup. The server is shut down gracefully when the
// context is cancelled.
func (a *App) startAPIServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	eng *engine.Engine,
	rl *relayer.Relayer,
	clock domain.BlockClock,
) {
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:      a.cfg.Mode,
			StartedAt: time.Now().UTC(),
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.logger),
		Settle: handler.NewSettleHandler(eng, a.logger),
		Cancel: handler.NewCancelHandler(eng, a.logger),
		Query:  handler.NewQueryHandler(eng, deps.LedgerCache, deps.JournalStore, a.logger),
		Batch:  handler.NewBatchHandler(rl, a.logger),
		Admin:  handler.NewAdminHandler(deps.Bank, deps.Registry, a.logger),
		Status: handler.NewStatusHandler(eng, deps.Registry, clock, a.cfg.Mode),
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
