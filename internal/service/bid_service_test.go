package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"auctionsystem/internal/model"
	"auctionsystem/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestBidService_IncreaseReservesDelta(t *testing.T) {
	env := newTestEnv(t)
	detail := env.createAuction(t, auctionOpts{})
	roundID := detail.ActiveRound.ID
	env.credit(t, 1, 1000)

	res, err := env.placeBid(detail, roundID, 1, 100, "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.PrevAmount)
	assert.Equal(t, int64(100), res.Delta)
	assert.False(t, res.Replayed)

	w := env.walletOf(t, 1)
	assert.Equal(t, int64(900), w.Available)
	assert.Equal(t, int64(100), w.Reserved)

	env.clock.Advance(time.Second)
	res2, err := env.placeBid(detail, roundID, 1, 150, "b2")
	require.NoError(t, err)
	assert.Equal(t, res.BidID, res2.BidID)
	assert.Equal(t, int64(100), res2.PrevAmount)
	assert.Equal(t, int64(150), res2.NewAmount)
	assert.Equal(t, int64(50), res2.Delta)

	w = env.walletOf(t, 1)
	assert.Equal(t, int64(850), w.Available)
	assert.Equal(t, int64(150), w.Reserved)

	var bid model.Bid
	require.NoError(t, env.db.Where("auction_id = ? AND user_id = ?", detail.Auction.ID, 1).First(&bid).Error)
	assert.Equal(t, int64(150), bid.Amount)
	assert.Equal(t, int64(1), bid.Version)
	assert.Equal(t, int64(2), env.count(t, &model.OutboxMessage{}, "event_type = ?", model.EventBidPlaced))
}

func TestBidService_RejectsInvalidBid(t *testing.T) {
	env := newTestEnv(t)
	detail := env.createAuction(t, auctionOpts{})
	roundID := detail.ActiveRound.ID
	env.credit(t, 1, 1000)

	_, err := env.placeBid(detail, roundID, 1, 200, "first")
	require.NoError(t, err)

	tests := []struct {
		name   string
		amount int64
		key    string
	}{
		{name: "相等", amount: 200, key: "eq"},
		{name: "更低", amount: 150, key: "lower"},
		{name: "零", amount: 0, key: "zero"},
		{name: "负数", amount: -10, key: "neg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.placeBid(detail, roundID, 1, tt.amount, tt.key)
			assert.ErrorIs(t, err, ErrInvalidBid)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	// 钱包、出价、流水都没变
	w := env.walletOf(t, 1)
	assert.Equal(t, int64(800), w.Available)
	assert.Equal(t, int64(200), w.Reserved)
	assert.Equal(t, int64(1), env.count(t, &model.BidEvent{}, "user_id = ?", 1))
	assert.Equal(t, int64(1), env.count(t, &model.LedgerEntry{}, "type = ?", model.LedgerTypeReserve))

	_, err = env.placeBid(detail, roundID, 1, 300, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestBidService_IdempotentReplay(t *testing.T) {
	env := newTestEnv(t)
	detail := env.createAuction(t, auctionOpts{})
	roundID := detail.ActiveRound.ID
	env.credit(t, 1, 1000)

	first, err := env.placeBid(detail, roundID, 1, 100, "same")
	require.NoError(t, err)

	// 重放即使金额不同也返回第一次的结果
	again, err := env.placeBid(detail, roundID, 1, 999, "same")
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.BidEventID, again.BidEventID)
	assert.Equal(t, first.Delta, again.Delta)
	assert.Equal(t, first.NewAmount, again.NewAmount)

	assert.Equal(t, int64(100), env.walletOf(t, 1).Reserved)
}

func TestBidService_ConcurrentSameKey(t *testing.T) {
	env := newTestEnv(t)
	detail := env.createAuction(t, auctionOpts{})
	roundID := detail.ActiveRound.ID
	env.credit(t, 1, 1000)

	const callers = 8
	results := make([]*PlaceBidResult, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.placeBid(detail, roundID, 1, 250, "race")
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, int64(250), results[i].Delta)
		assert.Equal(t, results[0].BidEventID, results[i].BidEventID)
	}
	assert.Equal(t, int64(1), env.count(t, &model.BidEvent{}, "idempotency_key = ?", "race"))
	assert.Equal(t, int64(250), env.walletOf(t, 1).Reserved)
}

func TestBidService_RoundNotOpen(t *testing.T) {
	env := newTestEnv(t)
	detail := env.createAuction(t, auctionOpts{duration: 30})
	roundID := detail.ActiveRound.ID
	env.credit(t, 1, 1000)

	env.clock.Advance(30 * time.Second)
	_, err := env.placeBid(detail, roundID, 1, 100, "late")
	require.ErrorIs(t, err, ErrRoundNotOpen)

	assert.Equal(t, int64(0), env.count(t, &model.BidEvent{}, "1 = 1"))
	assert.Equal(t, int64(1000), env.walletOf(t, 1).Available)

	_, err = env.placeBid(detail, 12345, 1, 100, "missing")
	assert.ErrorIs(t, err, ErrRoundNotFound)
}

func TestBidService_InsufficientBalanceRollsBack(t *testing.T) {
	env := newTestEnv(t)
	detail := env.createAuction(t, auctionOpts{})
	roundID := detail.ActiveRound.ID
	env.credit(t, 1, 80)

	_, err := env.placeBid(detail, roundID, 1, 100, "poor")
	require.ErrorIs(t, err, ErrInsufficientBalance)

	assert.Equal(t, int64(0), env.count(t, &model.BidEvent{}, "1 = 1"))
	assert.Equal(t, int64(0), env.count(t, &model.Bid{}, "1 = 1"))
	assert.Equal(t, int64(0), env.count(t, &model.LedgerEntry{}, "type = ?", model.LedgerTypeReserve))
	assert.Equal(t, int64(0), env.count(t, &model.OutboxMessage{}, "event_type = ?", model.EventBidPlaced))

	// 同一个幂等键在充值后可以重新提交
	env.credit(t, 1, 20)
	res, err := env.placeBid(detail, roundID, 1, 100, "poor")
	require.NoError(t, err)
	assert.False(t, res.Replayed)
}

func TestBidService_AntiSnipeExtension(t *testing.T) {
	env := newTestEnv(t)
	detail := env.createAuction(t, auctionOpts{
		duration:  60,
		antiSnipe: model.AntiSnipeConfig{WindowSec: 10, ExtendSec: 15, MaxTotalExtendSec: 30},
	})
	round := detail.ActiveRound
	start := round.EndAt.Add(-60 * time.Second)
	env.credit(t, 1, 1000)
	env.credit(t, 2, 1000)

	// 窗口外不延时
	env.clock.Set(start.Add(10 * time.Second))
	res, err := env.placeBid(detail, round.ID, 1, 100, "a")
	require.NoError(t, err)
	assert.False(t, res.RoundExtended)

	env.clock.Set(start.Add(55 * time.Second))
	res, err = env.placeBid(detail, round.ID, 2, 110, "b")
	require.NoError(t, err)
	require.True(t, res.RoundExtended)
	assert.True(t, res.NewRoundEndAt.Equal(start.Add(75*time.Second)))

	env.clock.Set(start.Add(70 * time.Second))
	res, err = env.placeBid(detail, round.ID, 1, 120, "c")
	require.NoError(t, err)
	require.True(t, res.RoundExtended)
	assert.True(t, res.NewRoundEndAt.Equal(start.Add(90*time.Second)))

	// 已经延时 30 秒，达到上限
	env.clock.Set(start.Add(85 * time.Second))
	res, err = env.placeBid(detail, round.ID, 2, 130, "d")
	require.NoError(t, err)
	assert.False(t, res.RoundExtended)

	r := env.round(t, round.ID)
	assert.Equal(t, int64(30), r.TotalExtendedSec)
	assert.True(t, r.EndAt.Equal(start.Add(90*time.Second)))
}

func TestBidService_RebaseOntoNextRound(t *testing.T) {
	env := newTestEnv(t)
	detail := env.createAuction(t, auctionOpts{winners: 1, maxRounds: 2})
	env.credit(t, 1, 1000)
	env.credit(t, 2, 1000)

	round1 := detail.ActiveRound.ID
	_, err := env.placeBid(detail, round1, 1, 300, "r1-u1")
	require.NoError(t, err)
	_, err = env.placeBid(detail, round1, 2, 100, "r1-u2")
	require.NoError(t, err)

	closed := env.closeRound(t, round1)
	require.True(t, closed.Closed)
	require.NotZero(t, closed.NextRoundID)

	// 第二轮重新出价，之前的出价不再作为基准
	res, err := env.placeBid(detail, closed.NextRoundID, 2, 50, "r2-u2")
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.PrevAmount)
	assert.Equal(t, int64(50), res.Delta)

	var bid model.Bid
	require.NoError(t, env.db.Where("auction_id = ? AND user_id = ?", detail.Auction.ID, 2).First(&bid).Error)
	assert.Equal(t, closed.NextRoundID, bid.RoundID)
	assert.Equal(t, int64(50), bid.Amount)

	// 上一轮的 100 还没结算，两笔冻结同时存在
	assert.Equal(t, int64(150), env.walletOf(t, 2).Reserved)

	carry := env.allocationOf(t, round1, 2)
	_, err = env.settlement.Settle(context.Background(), carry.ID)
	require.NoError(t, err)
	w := env.walletOf(t, 2)
	assert.Equal(t, int64(50), w.Reserved)
	assert.Equal(t, int64(950), w.Available)
}

func TestBidService_RejectsForeignCurrency(t *testing.T) {
	env := newTestEnv(t)
	detail := env.createAuction(t, auctionOpts{})
	roundID := detail.ActiveRound.ID
	env.credit(t, 1, 1000)

	bidIn := func(currency string, amount int64, key string) error {
		_, err := env.bids.PlaceBid(context.Background(), &PlaceBidRequest{
			AuctionID:      detail.Auction.ID,
			RoundID:        roundID,
			UserID:         1,
			Currency:       currency,
			Amount:         amount,
			IdempotencyKey: key,
			AntiSnipe:      detail.Auction.RoundConfig.AntiSnipe,
		})
		return err
	}

	// 首次出价就用了别的币种
	require.ErrorIs(t, bidIn("GEM", 100, "gem-first"), ErrInvalidInput)
	assert.Equal(t, int64(0), env.count(t, &model.Bid{}, "1 = 1"))

	require.NoError(t, bidIn(testCurrency, 100, "star"))

	// 已有 STAR 出价，换币种加价
	require.ErrorIs(t, bidIn("GEM", 150, "gem-raise"), ErrInvalidInput)

	var bid model.Bid
	require.NoError(t, env.db.Where("auction_id = ? AND user_id = ?", detail.Auction.ID, 1).First(&bid).Error)
	assert.Equal(t, testCurrency, bid.Currency)
	assert.Equal(t, int64(100), bid.Amount)
	assert.Equal(t, int64(0), bid.Version)

	w := env.walletOf(t, 1)
	assert.Equal(t, int64(900), w.Available)
	assert.Equal(t, int64(100), w.Reserved)
	assert.Equal(t, int64(1), env.count(t, &model.BidEvent{}, "1 = 1"))
	assert.Equal(t, int64(0), env.count(t, &model.BidEvent{}, "currency = ?", "GEM"))
	assert.Equal(t, int64(0), env.count(t, &model.LedgerEntry{}, "currency = ?", "GEM"))
	assert.Equal(t, int64(0), env.count(t, &model.Wallet{}, "currency = ?", "GEM"))
}

func TestBidRoundLock(t *testing.T) {
	end := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cfg := model.AntiSnipeConfig{WindowSec: 10, ExtendSec: 15, MaxTotalExtendSec: 30}

	tests := []struct {
		name     string
		extended int64
		cfg      model.AntiSnipeConfig
		now      time.Time
		want     string
	}{
		{name: "窗口外", cfg: cfg, now: end.Add(-11 * time.Second), want: repository.LockShare},
		{name: "窗口起点", cfg: cfg, now: end.Add(-10 * time.Second), want: repository.LockUpdate},
		{name: "窗口内", cfg: cfg, now: end.Add(-1 * time.Second), want: repository.LockUpdate},
		{name: "还能再延一次", extended: 15, cfg: cfg, now: end.Add(-5 * time.Second), want: repository.LockUpdate},
		{name: "延时已达上限", extended: 30, cfg: cfg, now: end.Add(-5 * time.Second), want: repository.LockShare},
		{name: "未开启防狙击", cfg: model.AntiSnipeConfig{}, now: end.Add(-1 * time.Second), want: repository.LockShare},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			round := &model.Round{EndAt: end, TotalExtendedSec: tt.extended}
			assert.Equal(t, tt.want, bidRoundLock(round, tt.cfg, tt.now))
		})
	}
}

func TestBidService_ExtendingBidsTakeExclusiveLock(t *testing.T) {
	env := newTestEnv(t)
	detail := env.createAuction(t, auctionOpts{
		duration:  60,
		antiSnipe: model.AntiSnipeConfig{WindowSec: 10, ExtendSec: 15, MaxTotalExtendSec: 30},
	})
	roundID := detail.ActiveRound.ID
	end := detail.ActiveRound.EndAt
	req := &PlaceBidRequest{RoundID: roundID, AntiSnipe: detail.Auction.RoundConfig.AntiSnipe}

	lockAt := func(now time.Time) string {
		var lock string
		require.NoError(t, env.db.Transaction(func(tx *gorm.DB) error {
			round, l, err := env.bids.lockRound(context.Background(), tx, req, now)
			require.NoError(t, err)
			assert.Equal(t, roundID, round.ID)
			lock = l
			return nil
		}))
		return lock
	}

	assert.Equal(t, repository.LockShare, lockAt(end.Add(-30*time.Second)))
	assert.Equal(t, repository.LockUpdate, lockAt(end.Add(-3*time.Second)))

	require.NoError(t, env.db.Transaction(func(tx *gorm.DB) error {
		_, _, err := env.bids.lockRound(context.Background(), tx, &PlaceBidRequest{RoundID: 98765}, end)
		assert.ErrorIs(t, err, ErrRoundNotFound)
		return nil
	}))
}

func TestBidService_SaveBidConflicts(t *testing.T) {
	env := newTestEnv(t)
	detail := env.createAuction(t, auctionOpts{})
	roundID := detail.ActiveRound.ID
	env.credit(t, 1, 1000)
	ctx := context.Background()

	_, err := env.placeBid(detail, roundID, 1, 100, "first")
	require.NoError(t, err)

	var stale model.Bid
	require.NoError(t, env.db.Where("auction_id = ? AND user_id = ?", detail.Auction.ID, 1).First(&stale).Error)

	// 另一个请求先把出价抬到 150，version 已经变了
	_, err = env.placeBid(detail, roundID, 1, 150, "second")
	require.NoError(t, err)

	tests := []struct {
		name   string
		active *model.Bid
		bid    *model.Bid
	}{
		{
			name:   "加价时 version 已过期",
			active: &stale,
			bid:    &model.Bid{RoundID: roundID, Amount: 200, LastBidAt: env.clock.Now()},
		},
		{
			name:   "首次出价时记录已被并发插入",
			active: nil,
			bid: &model.Bid{
				ID: 900001, AuctionID: detail.Auction.ID, UserID: 1, RoundID: roundID,
				Currency: testCurrency, Amount: 200, LastBidAt: env.clock.Now(),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.db.Transaction(func(tx *gorm.DB) error {
				return env.bids.saveBid(ctx, tx, tt.active, tt.bid)
			})
			assert.ErrorIs(t, err, ErrConcurrentUpdate)
		})
	}

	var bid model.Bid
	require.NoError(t, env.db.Where("auction_id = ? AND user_id = ?", detail.Auction.ID, 1).First(&bid).Error)
	assert.Equal(t, int64(150), bid.Amount)
	assert.Equal(t, int64(1), env.count(t, &model.Bid{}, "1 = 1"))
}

func TestBidService_IdempotencyArbiter(t *testing.T) {
	env := newTestEnv(t)
	detail := env.createAuction(t, auctionOpts{})
	roundID := detail.ActiveRound.ID
	env.credit(t, 1, 1000)
	ctx := context.Background()

	first, err := env.placeBid(detail, roundID, 1, 100, "dup")
	require.NoError(t, err)

	// 同一幂等键的第二个事件被唯一索引挡住
	err = env.db.Transaction(func(tx *gorm.DB) error {
		return env.bids.recordEvent(ctx, tx, &model.BidEvent{
			ID: 900002, AuctionID: detail.Auction.ID, UserID: 1, IdempotencyKey: "dup",
			RoundID: roundID, BidID: first.BidID, Currency: testCurrency,
			PrevAmount: 0, NewAmount: 300, Delta: 300,
		})
	})
	require.ErrorIs(t, err, errBidEventExists)
	assert.Equal(t, int64(1), env.count(t, &model.BidEvent{}, "idempotency_key = ?", "dup"))

	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{name: "输家读到赢家的结果", key: "dup"},
		{name: "赢家事务已回滚", key: "gone", wantErr: ErrConcurrentUpdate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := env.bids.readWinner(ctx, &PlaceBidRequest{
				AuctionID: detail.Auction.ID, RoundID: roundID, UserID: 1,
				Currency: testCurrency, Amount: 300, IdempotencyKey: tt.key,
			})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, res.Replayed)
			assert.Equal(t, first.BidEventID, res.BidEventID)
			assert.Equal(t, int64(100), res.Delta)
			assert.Equal(t, int64(100), res.NewAmount)
		})
	}

	assert.Equal(t, int64(100), env.walletOf(t, 1).Reserved)
}
