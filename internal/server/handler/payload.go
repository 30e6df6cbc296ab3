package handler

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tradewire/settled/internal/domain"
)

// orderPayload is the wire form of an order. Amounts are decimal strings so
// 256-bit values survive JSON.
type orderPayload struct {
	TokenBuy   string `json:"token_buy"`
	AmountBuy  string `json:"amount_buy"`
	TokenSell  string `json:"token_sell"`
	AmountSell string `json:"amount_sell"`
	Expires    uint64 `json:"expires"`
	Nonce      uint64 `json:"nonce"`
	Maker      string `json:"maker"`
	FeeMake    string `json:"fee_make"`
	FeeTake    string `json:"fee_take"`
}

func (p orderPayload) toDomain() (domain.Order, error) {
	var o domain.Order
	var err error

	if o.TokenBuy, err = parseAddress("token_buy", p.TokenBuy); err != nil {
		return domain.Order{}, err
	}
	if o.TokenSell, err = parseAddress("token_sell", p.TokenSell); err != nil {
		return domain.Order{}, err
	}
	if o.Maker, err = parseAddress("maker", p.Maker); err != nil {
		return domain.Order{}, err
	}
	if o.AmountBuy, err = parseAmount("amount_buy", p.AmountBuy); err != nil {
		return domain.Order{}, err
	}
	if o.AmountSell, err = parseAmount("amount_sell", p.AmountSell); err != nil {
		return domain.Order{}, err
	}
	if o.FeeMake, err = parseAmount("fee_make", p.FeeMake); err != nil {
		return domain.Order{}, err
	}
	if o.FeeTake, err = parseAmount("fee_take", p.FeeTake); err != nil {
		return domain.Order{}, err
	}
	o.Expires = p.Expires
	o.Nonce = p.Nonce
	return o, nil
}

// tradePayload is the wire form of a trade.
type tradePayload struct {
	OrderHash  string `json:"order_hash"`
	Amount     string `json:"amount"`
	TradeNonce uint64 `json:"trade_nonce"`
	Taker      string `json:"taker"`
}

func (p tradePayload) toDomain() (domain.Trade, error) {
	var t domain.Trade
	var err error

	if t.OrderHash, err = parseHash("order_hash", p.OrderHash); err != nil {
		return domain.Trade{}, err
	}
	if t.Taker, err = parseAddress("taker", p.Taker); err != nil {
		return domain.Trade{}, err
	}
	if t.Amount, err = parseAmount("amount", p.Amount); err != nil {
		return domain.Trade{}, err
	}
	t.TradeNonce = p.TradeNonce
	return t, nil
}

// submissionPayload pairs an order and trade with both signatures.
type submissionPayload struct {
	Order    orderPayload `json:"order"`
	Trade    tradePayload `json:"trade"`
	MakerSig string       `json:"maker_sig"`
	TakerSig string       `json:"taker_sig"`
}

func (p submissionPayload) toDomain() (domain.Submission, error) {
	var sub domain.Submission
	var err error

	if sub.Order, err = p.Order.toDomain(); err != nil {
		return domain.Submission{}, fmt.Errorf("order: %w", err)
	}
	if sub.Trade, err = p.Trade.toDomain(); err != nil {
		return domain.Submission{}, fmt.Errorf("trade: %w", err)
	}
	if sub.MakerSig, err = parseSignature("maker_sig", p.MakerSig); err != nil {
		return domain.Submission{}, err
	}
	if sub.TakerSig, err = parseSignature("taker_sig", p.TakerSig); err != nil {
		return domain.Submission{}, err
	}
	return sub, nil
}

// resultResponse is the JSON rendering of a settlement result, optionally
// enriched with the computed hashes and post-state.
type resultResponse struct {
	OK        bool   `json:"ok"`
	Reason    string `json:"reason,omitempty"`
	OrderHash string `json:"order_hash,omitempty"`
	TradeHash string `json:"trade_hash,omitempty"`
	Filled    string `json:"filled,omitempty"`
}

func newResultResponse(res domain.Result, orderHash, tradeHash common.Hash, filled *big.Int) resultResponse {
	out := resultResponse{OK: res.OK}
	if !res.OK {
		out.Reason = string(res.Reason)
	}
	if orderHash != (common.Hash{}) {
		out.OrderHash = orderHash.Hex()
	}
	if tradeHash != (common.Hash{}) {
		out.TradeHash = tradeHash.Hex()
	}
	if filled != nil {
		out.Filled = filled.String()
	}
	return out
}
