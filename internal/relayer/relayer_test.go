package relayer

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewire/settled/internal/crypto"
	"github.com/tradewire/settled/internal/domain"
)

// fakeSettler records every submission and answers from a canned result map
// keyed by trade hash.
type fakeSettler struct {
	mu       sync.Mutex
	calls    []domain.Submission
	rejected map[common.Hash]domain.RejectReason
}

func (f *fakeSettler) ExecuteTrade(_ context.Context, sub domain.Submission) domain.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sub)
	if reason, ok := f.rejected[crypto.TradeHash(sub.Trade)]; ok {
		return domain.Rejected(reason)
	}
	return domain.Ok()
}

func (f *fakeSettler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSettler) clear(h common.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rejected, h)
}

func testSubmission(tradeNonce uint64) domain.Submission {
	return domain.Submission{
		Trade: domain.Trade{
			OrderHash:  common.HexToHash("0x01"),
			Amount:     big.NewInt(100),
			TradeNonce: tradeNonce,
			Taker:      common.HexToAddress("0x02"),
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExecuteBatchContinuesPastRejections(t *testing.T) {
	bad := testSubmission(2)
	settler := &fakeSettler{rejected: map[common.Hash]domain.RejectReason{
		crypto.TradeHash(bad.Trade): domain.ReasonFunds,
	}}
	r := New(settler, nil, discardLogger())

	results := r.ExecuteBatch(context.Background(), []domain.Submission{
		testSubmission(1), bad, testSubmission(3),
	})

	require.Len(t, results, 3)
	assert.True(t, results[0].Result.OK)
	assert.Equal(t, domain.ReasonFunds, results[1].Result.Reason)
	assert.True(t, results[2].Result.OK)
	assert.Equal(t, 3, settler.callCount())
}

func TestExecuteBatchDeduplicates(t *testing.T) {
	settler := &fakeSettler{}
	r := New(settler, nil, discardLogger())

	sub := testSubmission(1)
	results := r.ExecuteBatch(context.Background(), []domain.Submission{sub, sub})

	require.Len(t, results, 2)
	assert.True(t, results[0].Result.OK)
	assert.True(t, results[1].Duplicate)
	assert.Equal(t, domain.ReasonTradeSpent, results[1].Result.Reason)
	// The duplicate never reached the settler.
	assert.Equal(t, 1, settler.callCount())
}

func TestExecuteBatchRetriesRejected(t *testing.T) {
	sub := testSubmission(1)
	hash := crypto.TradeHash(sub.Trade)
	settler := &fakeSettler{rejected: map[common.Hash]domain.RejectReason{
		hash: domain.ReasonFunds,
	}}
	r := New(settler, nil, discardLogger())

	results := r.ExecuteBatch(context.Background(), []domain.Submission{sub})
	require.Len(t, results, 1)
	assert.Equal(t, domain.ReasonFunds, results[0].Result.Reason)

	// Once the rejection cause clears (funding topped up, say), the retry
	// goes back to the settler for a fresh evaluation instead of being
	// dropped as a duplicate of the failed attempt.
	settler.clear(hash)
	results = r.ExecuteBatch(context.Background(), []domain.Submission{sub})
	require.Len(t, results, 1)
	assert.False(t, results[0].Duplicate)
	assert.True(t, results[0].Result.OK)
	assert.Equal(t, 2, settler.callCount())

	// A hash that actually settled is deduplicated.
	results = r.ExecuteBatch(context.Background(), []domain.Submission{sub})
	assert.True(t, results[0].Duplicate)
	assert.Equal(t, 2, settler.callCount())
}

func TestDedupExpiry(t *testing.T) {
	d := NewDedup(10 * time.Millisecond)
	h := common.HexToHash("0xaa")

	assert.False(t, d.Seen(h))
	d.Record(h)
	assert.True(t, d.Seen(h))

	time.Sleep(15 * time.Millisecond)
	assert.False(t, d.Seen(h))

	d.Cleanup()
	d.Record(h)
	assert.True(t, d.Seen(h))
}

func TestRunConsumesChannel(t *testing.T) {
	settler := &fakeSettler{}
	ch := make(chan domain.Submission, 4)
	r := New(settler, ch, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	ch <- testSubmission(1)
	ch <- testSubmission(2)

	require.Eventually(t, func() bool {
		return settler.callCount() == 2
	}, time.Second, 10*time.Millisecond)

	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
}
