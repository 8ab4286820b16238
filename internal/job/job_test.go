package job

import (
	"context"
	"fmt"
	"testing"
	"time"

	"auctionsystem/internal/config"
	"auctionsystem/internal/model"
	"auctionsystem/internal/queue"
	"auctionsystem/internal/service"
	"auctionsystem/internal/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testCurrency = "STAR"

type jobEnv struct {
	db         *gorm.DB
	cfg        *config.Config
	clock      *testutil.Clock
	queue      *queue.Queue
	worker     *queue.Worker
	wallet     *service.WalletService
	bids       *service.BidService
	auctions   *service.AuctionService
	settlement *service.SettlementService
}

func testConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{Topic: config.KafkaTopicConfig{AuctionEvents: "auction.events"}},
		Queue: testutil.QueueConfig(),
		Business: config.BusinessConfig{
			MaxRetryCount:     5,
			MaintenanceCron:   "@every 1s",
			RetentionCron:     "@every 1m",
			SettleStaleAfterS: 300,
		},
	}
}

// newJobEnv 完整的服务和已注册处理函数的 worker
func newJobEnv(t *testing.T) *jobEnv {
	t.Helper()

	db := testutil.NewTestDB(t)
	logger := testutil.NewLogger()
	cfg := testConfig()
	clock := testutil.NewClock(time.Now().Truncate(time.Second))

	q := queue.NewQueue(db, cfg.Queue).WithClock(clock.Now)
	wallet := service.NewWalletService(db, logger)
	rounds := service.NewRoundService(db, q, logger).WithClock(clock.Now)
	delivery := service.NewDeliveryService(db, logger)
	closer := service.NewRoundCloser(db, rounds, q, logger).WithClock(clock.Now)
	settlement := service.NewSettlementService(db, wallet, delivery, logger).WithClock(clock.Now)

	worker := queue.NewWorker(db, cfg.Queue, logger).WithClock(clock.Now)
	worker.Register(queue.JobCloseRound, NewRoundCloseHandler(closer, logger))
	worker.Register(queue.JobSettleAllocation, NewSettlementHandler(settlement, logger))

	return &jobEnv{
		db:         db,
		cfg:        cfg,
		clock:      clock,
		queue:      q,
		worker:     worker,
		wallet:     wallet,
		bids:       service.NewBidService(db, wallet, rounds, logger).WithClock(clock.Now),
		auctions:   service.NewAuctionService(db, rounds, logger),
		settlement: settlement,
	}
}

func (e *jobEnv) createAuction(t *testing.T, winners, maxRounds int, antiSnipe model.AntiSnipeConfig, supply *int64) *service.AuctionDetail {
	t.Helper()
	detail, err := e.auctions.CreateAuction(context.Background(), &service.CreateAuctionRequest{
		Currency: testCurrency,
		RoundConfig: model.RoundConfig{
			DurationSec:     60,
			WinnersPerRound: winners,
			MaxRounds:       maxRounds,
			AntiSnipe:       antiSnipe,
		},
		Item: model.Item{Kind: "GIFT", Name: "Star Badge", TotalSupply: supply},
	})
	require.NoError(t, err)
	return detail
}

func (e *jobEnv) credit(t *testing.T, userID, amount int64) {
	t.Helper()
	_, err := e.wallet.Credit(context.Background(), &service.LedgerMove{
		EntryKey: fmt.Sprintf("credit:%d:%d", userID, amount),
		UserID:   userID,
		Currency: testCurrency,
		Amount:   amount,
	})
	require.NoError(t, err)
}

func (e *jobEnv) bid(t *testing.T, detail *service.AuctionDetail, userID, amount int64, key string) *service.PlaceBidResult {
	t.Helper()
	res, err := e.bids.PlaceBid(context.Background(), &service.PlaceBidRequest{
		AuctionID:      detail.Auction.ID,
		RoundID:        detail.ActiveRound.ID,
		UserID:         userID,
		Currency:       testCurrency,
		Amount:         amount,
		IdempotencyKey: key,
		AntiSnipe:      detail.Auction.RoundConfig.AntiSnipe,
	})
	require.NoError(t, err)
	return res
}

func (e *jobEnv) walletOf(t *testing.T, userID int64) *model.Wallet {
	t.Helper()
	w, err := e.wallet.GetWallet(context.Background(), userID, testCurrency)
	require.NoError(t, err)
	return w
}

func (e *jobEnv) jobByID(t *testing.T, jobID string) *model.Job {
	t.Helper()
	var jobs []model.Job
	require.NoError(t, e.db.Where("job_id = ?", jobID).Find(&jobs).Error)
	if len(jobs) == 0 {
		return nil
	}
	return &jobs[0]
}

func (e *jobEnv) count(t *testing.T, m interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(m).Where(query, args...).Count(&n).Error)
	return n
}

func (e *jobEnv) round(t *testing.T, roundID int64) *model.Round {
	t.Helper()
	var r model.Round
	require.NoError(t, e.db.First(&r, roundID).Error)
	return &r
}
