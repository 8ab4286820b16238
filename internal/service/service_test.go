package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"auctionsystem/internal/model"
	"auctionsystem/internal/queue"
	"auctionsystem/internal/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testCurrency = "STAR"

type testEnv struct {
	db         *gorm.DB
	clock      *testutil.Clock
	queue      *queue.Queue
	wallet     *WalletService
	rounds     *RoundService
	bids       *BidService
	closer     *RoundCloser
	delivery   *DeliveryService
	settlement *SettlementService
	auctions   *AuctionService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.NewTestDB(t)
	logger := testutil.NewLogger()
	clock := testutil.NewClock(time.Now().Truncate(time.Second))

	q := queue.NewQueue(db, testutil.QueueConfig()).WithClock(clock.Now)
	wallet := NewWalletService(db, logger)
	rounds := NewRoundService(db, q, logger).WithClock(clock.Now)
	delivery := NewDeliveryService(db, logger)

	return &testEnv{
		db:         db,
		clock:      clock,
		queue:      q,
		wallet:     wallet,
		rounds:     rounds,
		bids:       NewBidService(db, wallet, rounds, logger).WithClock(clock.Now),
		closer:     NewRoundCloser(db, rounds, q, logger).WithClock(clock.Now),
		delivery:   delivery,
		settlement: NewSettlementService(db, wallet, delivery, logger).WithClock(clock.Now),
		auctions:   NewAuctionService(db, rounds, logger),
	}
}

type auctionOpts struct {
	winners   int
	maxRounds int
	duration  int64
	supply    *int64
	antiSnipe model.AntiSnipeConfig
}

func supplyOf(n int64) *int64 { return &n }

func (e *testEnv) createAuction(t *testing.T, opts auctionOpts) *AuctionDetail {
	t.Helper()
	if opts.winners == 0 {
		opts.winners = 1
	}
	if opts.maxRounds == 0 {
		opts.maxRounds = 1
	}
	if opts.duration == 0 {
		opts.duration = 60
	}

	detail, err := e.auctions.CreateAuction(context.Background(), &CreateAuctionRequest{
		Currency: testCurrency,
		RoundConfig: model.RoundConfig{
			DurationSec:     opts.duration,
			WinnersPerRound: opts.winners,
			MaxRounds:       opts.maxRounds,
			AntiSnipe:       opts.antiSnipe,
		},
		Item: model.Item{Kind: "GIFT", Name: "Star Badge", Collection: "launch", TotalSupply: opts.supply},
	})
	require.NoError(t, err)
	return detail
}

func (e *testEnv) credit(t *testing.T, userID, amount int64) {
	t.Helper()
	_, err := e.wallet.Credit(context.Background(), &LedgerMove{
		EntryKey: fmt.Sprintf("credit:%d:%d:%d", userID, amount, time.Now().UnixNano()),
		UserID:   userID,
		Currency: testCurrency,
		Amount:   amount,
	})
	require.NoError(t, err)
}

func (e *testEnv) walletOf(t *testing.T, userID int64) *model.Wallet {
	t.Helper()
	w, err := e.wallet.GetWallet(context.Background(), userID, testCurrency)
	require.NoError(t, err)
	return w
}

func (e *testEnv) placeBid(detail *AuctionDetail, roundID, userID, amount int64, key string) (*PlaceBidResult, error) {
	return e.bids.PlaceBid(context.Background(), &PlaceBidRequest{
		AuctionID:      detail.Auction.ID,
		RoundID:        roundID,
		UserID:         userID,
		Currency:       testCurrency,
		Amount:         amount,
		IdempotencyKey: key,
		AntiSnipe:      detail.Auction.RoundConfig.AntiSnipe,
	})
}

func (e *testEnv) round(t *testing.T, roundID int64) *model.Round {
	t.Helper()
	r, err := e.rounds.GetRound(context.Background(), roundID)
	require.NoError(t, err)
	return r
}

func (e *testEnv) count(t *testing.T, m interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(m).Where(query, args...).Count(&n).Error)
	return n
}

// closeRound 把时钟拨到轮次结束后再关轮
func (e *testEnv) closeRound(t *testing.T, roundID int64) *CloseResult {
	t.Helper()
	r := e.round(t, roundID)
	if e.clock.Now().Before(r.EndAt) {
		e.clock.Set(r.EndAt)
	}
	res, err := e.closer.CloseRound(context.Background(), roundID)
	require.NoError(t, err)
	return res
}

func (e *testEnv) allocationOf(t *testing.T, roundID, userID int64) *model.Allocation {
	t.Helper()
	var a model.Allocation
	require.NoError(t, e.db.Where("round_id = ? AND user_id = ?", roundID, userID).First(&a).Error)
	return &a
}
