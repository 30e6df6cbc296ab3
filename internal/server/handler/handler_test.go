package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewire/settled/internal/admin"
	"github.com/tradewire/settled/internal/crypto"
	"github.com/tradewire/settled/internal/domain"
	"github.com/tradewire/settled/internal/engine"
	"github.com/tradewire/settled/internal/relayer"
	"github.com/tradewire/settled/internal/token"
)

const (
	makerKeyHex = "4f3edf983ac636a65a842ce7c78d9aa706d3b113bce9c46f30d7d21715b23b1d"
	takerKeyHex = "6cbed15c793ce57650b9877cf6fa156fbef513c4e6134f022a85b1ffdd59b2a1"
)

var (
	engineAddr = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	feeToken   = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	owner      = common.HexToAddress("0x0000000000000000000000000000000000000011")
	feeAccount = common.HexToAddress("0x0000000000000000000000000000000000000012")
	tokenA     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	tokenB     = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

// memLedgerCache is a trivial domain.LedgerCache standing in for Redis.
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

type apiFixture struct {
	mux   *http.ServeMux
	eng   *engine.Engine
	bank  *token.Bank
	cache *memLedgerCache
	clock *engine.ManualClock
	maker *crypto.Signer
	taker *crypto.Signer
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	maker, err := crypto.NewSigner(makerKeyHex)
	require.NoError(t, err)
	taker, err := crypto.NewSigner(takerKeyHex)
	require.NoError(t, err)

	bank := token.NewBank(engineAddr)
	registry := admin.NewRegistry(owner, feeAccount, nil)
	clock := engine.NewManualClock(100)

	eng := engine.New(engine.Config{
		Address:  engineAddr,
		FeeToken: feeToken,
	}, bank, registry, clock, logger)

	cache := newMemLedgerCache()
	eng.AttachCache(cache)

	f := &apiFixture{
		mux:   http.NewServeMux(),
		eng:   eng,
		bank:  bank,
		cache: cache,
		clock: clock,
		maker: maker,
		taker: taker,
	}

	settle := NewSettleHandler(eng, logger)
	cancel := NewCancelHandler(eng, logger)
	query := NewQueryHandler(eng, cache, nil, logger)
	batch := NewBatchHandler(relayer.New(eng, nil, logger), logger)
	f.mux.HandleFunc("POST /v1/trades/execute", settle.Execute)
	f.mux.HandleFunc("POST /v1/trades/probe", settle.Probe)
	f.mux.HandleFunc("POST /v1/batch", batch.Execute)
	f.mux.HandleFunc("POST /v1/orders/cancel", cancel.CancelOrder)
	f.mux.HandleFunc("GET /v1/orders/{hash}/filled", query.GetFilled)
	f.mux.HandleFunc("GET /v1/trades/{hash}", query.GetTraded)

	ctx := t.Context()
	fund := func(tok, addr common.Address) {
		amt := big.NewInt(1_000_000)
		require.NoError(t, bank.Mint(ctx, tok, addr, amt))
		require.NoError(t, bank.Approve(ctx, tok, addr, amt))
	}
	fund(tokenA, maker.Address())
	fund(tokenB, taker.Address())

	return f
}

// newOrder builds a signed 1000-for-1000 order selling tokenA for tokenB.
func (f *apiFixture) newOrder(t *testing.T) (domain.Order, orderPayload, domain.Signature) {
	t.Helper()

	order := domain.Order{
		TokenBuy:   tokenB,
		AmountBuy:  big.NewInt(1000),
		TokenSell:  tokenA,
		AmountSell: big.NewInt(1000),
		Expires:    200,
		Nonce:      1,
		Maker:      f.maker.Address(),
		FeeMake:    big.NewInt(0),
		FeeTake:    big.NewInt(0),
	}
	sig, err := f.maker.SignOrder(engineAddr, order)
	require.NoError(t, err)

	payload := orderPayload{
		TokenBuy:   order.TokenBuy.Hex(),
		AmountBuy:  order.AmountBuy.String(),
		TokenSell:  order.TokenSell.Hex(),
		AmountSell: order.AmountSell.String(),
		Expires:    order.Expires,
		Nonce:      order.Nonce,
		Maker:      order.Maker.Hex(),
		FeeMake:    order.FeeMake.String(),
		FeeTake:    order.FeeTake.String(),
	}
	return order, payload, sig
}

func (f *apiFixture) newSubmission(t *testing.T, amount int64) submissionPayload {
	t.Helper()
	return f.newSubmissionNonce(t, amount, 1)
}

func (f *apiFixture) newSubmissionNonce(t *testing.T, amount int64, tradeNonce uint64) submissionPayload {
	t.Helper()

	order, orderP, makerSig := f.newOrder(t)
	trade := domain.Trade{
		OrderHash:  crypto.OrderHash(engineAddr, order),
		Amount:     big.NewInt(amount),
		TradeNonce: tradeNonce,
		Taker:      f.taker.Address(),
	}
	takerSig, err := f.taker.SignTrade(trade)
	require.NoError(t, err)

	return submissionPayload{
		Order: orderP,
		Trade: tradePayload{
			OrderHash:  trade.OrderHash.Hex(),
			Amount:     trade.Amount.String(),
			TradeNonce: trade.TradeNonce,
			Taker:      trade.Taker.Hex(),
		},
		MakerSig: hexutil.Encode(makerSig),
		TakerSig: hexutil.Encode(takerSig),
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) resultResponse {
	t.Helper()
	var out resultResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestExecuteSettlesAndExposesFill(t *testing.T) {
	f := newAPIFixture(t)
	sub := f.newSubmission(t, 400)

	rec := f.do(t, http.MethodPost, "/v1/trades/execute", sub)
	require.Equal(t, http.StatusOK, rec.Code)

	res := decodeResult(t, rec)
	assert.True(t, res.OK)
	assert.Empty(t, res.Reason)
	assert.Equal(t, "400", res.Filled)
	require.NotEmpty(t, res.OrderHash)

	// Fill total is visible through the query endpoint.
	rec = f.do(t, http.MethodGet, "/v1/orders/"+res.OrderHash+"/filled", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var filled map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &filled))
	assert.Equal(t, "400", filled["filled"])

	// The trade hash is spent.
	rec = f.do(t, http.MethodGet, "/v1/trades/"+res.TradeHash, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var traded map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &traded))
	assert.Equal(t, true, traded["traded"])
}

func TestExecuteRejectionIsProtocolOutcome(t *testing.T) {
	f := newAPIFixture(t)
	sub := f.newSubmission(t, 400)
	// Taker signature over a different trade.
	sub.TakerSig = sub.MakerSig

	rec := f.do(t, http.MethodPost, "/v1/trades/execute", sub)
	require.Equal(t, http.StatusOK, rec.Code)

	res := decodeResult(t, rec)
	assert.False(t, res.OK)
	assert.Equal(t, string(domain.ReasonTakerSignature), res.Reason)
}

func TestExecuteMalformedRequests(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/trades/execute", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	sub := f.newSubmission(t, 400)
	sub.Order.Maker = "not-an-address"
	rec2 := f.do(t, http.MethodPost, "/v1/trades/execute", sub)
	assert.Equal(t, http.StatusBadRequest, rec2.Code)

	sub = f.newSubmission(t, 400)
	sub.Trade.Amount = "12.5"
	rec3 := f.do(t, http.MethodPost, "/v1/trades/execute", sub)
	assert.Equal(t, http.StatusBadRequest, rec3.Code)
}

func TestProbeDoesNotMutateLedger(t *testing.T) {
	f := newAPIFixture(t)
	sub := f.newSubmission(t, 400)

	rec := f.do(t, http.MethodPost, "/v1/trades/probe", sub)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeResult(t, rec)
	assert.True(t, res.OK)

	rec = f.do(t, http.MethodGet, "/v1/orders/"+res.OrderHash+"/filled", nil)
	var filled map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &filled))
	assert.Equal(t, "0", filled["filled"])
}

func TestGetFilledUnknownHashIsZero(t *testing.T) {
	f := newAPIFixture(t)

	hash := common.HexToHash("0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef")
	rec := f.do(t, http.MethodGet, "/v1/orders/"+hash.Hex()+"/filled", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var filled map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &filled))
	assert.Equal(t, "0", filled["filled"])
}

func TestBatchSettlementRefreshesCache(t *testing.T) {
	f := newAPIFixture(t)
	ctx := t.Context()

	// A single-trade settlement primes the cache.
	rec := f.do(t, http.MethodPost, "/v1/trades/execute", f.newSubmission(t, 400))
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeResult(t, rec)
	require.True(t, res.OK)
	orderHash := common.HexToHash(res.OrderHash)

	cached, err := f.cache.GetFilled(ctx, orderHash)
	require.NoError(t, err)
	require.Equal(t, int64(400), cached.Int64())

	// A later batch settlement against the same order must move the cached
	// fill total along with the ledger, or reads of the cache go stale.
	rec = f.do(t, http.MethodPost, "/v1/batch", []submissionPayload{
		f.newSubmissionNonce(t, 300, 2),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var batchOut struct {
		Settled int `json:"settled"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batchOut))
	require.Equal(t, 1, batchOut.Settled)

	cached, err = f.cache.GetFilled(ctx, orderHash)
	require.NoError(t, err)
	assert.Equal(t, int64(700), cached.Int64())

	// The query endpoint, which reads through the cache, agrees.
	rec = f.do(t, http.MethodGet, "/v1/orders/"+res.OrderHash+"/filled", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var filled map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &filled))
	assert.Equal(t, "700", filled["filled"])
}

func TestCancelOrderZeroesRemainingCapacity(t *testing.T) {
	f := newAPIFixture(t)
	_, orderP, sig := f.newOrder(t)

	rec := f.do(t, http.MethodPost, "/v1/orders/cancel", cancelOrderRequest{
		Order:  orderP,
		Sig:    hexutil.Encode(sig),
		Caller: f.maker.Address().Hex(),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeResult(t, rec)
	assert.True(t, res.OK)

	// A settlement against the cancelled order overfills.
	sub := f.newSubmission(t, 400)
	rec = f.do(t, http.MethodPost, "/v1/trades/execute", sub)
	require.Equal(t, http.StatusOK, rec.Code)
	res = decodeResult(t, rec)
	assert.False(t, res.OK)
	assert.Equal(t, string(domain.ReasonOverfill), res.Reason)
}

func TestCancelOrderRejectsStranger(t *testing.T) {
	f := newAPIFixture(t)
	_, orderP, _ := f.newOrder(t)

	// Taker signs the maker's order; recovery will not match the maker.
	order, _, _ := f.newOrder(t)
	sig, err := f.taker.SignDigest(crypto.OrderHash(engineAddr, order))
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/v1/orders/cancel", cancelOrderRequest{
		Order:  orderP,
		Sig:    hexutil.Encode(sig),
		Caller: f.taker.Address().Hex(),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeResult(t, rec)
	assert.False(t, res.OK)
	assert.Equal(t, string(domain.ReasonUnauthorized), res.Reason)
}
