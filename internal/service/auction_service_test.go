package service

import (
	"context"
	"testing"
	"time"

	"auctionsystem/internal/model"
	"auctionsystem/internal/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuctionService_CreateOpensFirstRound(t *testing.T) {
	env := newTestEnv(t)
	detail := env.createAuction(t, auctionOpts{duration: 90, winners: 3, maxRounds: 2})

	assert.Equal(t, model.AuctionStatusLive, detail.Auction.Status)
	require.NotNil(t, detail.ActiveRound)
	assert.Equal(t, 1, detail.ActiveRound.No)
	assert.True(t, detail.ActiveRound.EndAt.Equal(env.clock.Now().Add(90*time.Second)))

	var job model.Job
	require.NoError(t, env.db.Where("job_id = ?", queue.CloseRoundJobID(detail.ActiveRound.ID)).First(&job).Error)
	assert.Equal(t, queue.JobCloseRound, job.Name)
	assert.Equal(t, model.JobStatusPending, job.Status)

	got, err := env.auctions.GetAuction(context.Background(), detail.Auction.ID)
	require.NoError(t, err)
	assert.Equal(t, detail.ActiveRound.ID, got.ActiveRound.ID)
	assert.Equal(t, 3, got.Auction.RoundConfig.WinnersPerRound)
	assert.Nil(t, got.Auction.Item.TotalSupply)
}

func TestAuctionService_Validate(t *testing.T) {
	env := newTestEnv(t)
	valid := func() *CreateAuctionRequest {
		return &CreateAuctionRequest{
			Currency:    testCurrency,
			RoundConfig: model.RoundConfig{DurationSec: 60, WinnersPerRound: 1, MaxRounds: 1},
			Item:        model.Item{Kind: "GIFT", Name: "Badge"},
		}
	}

	tests := []struct {
		name   string
		mutate func(r *CreateAuctionRequest)
	}{
		{name: "缺少币种", mutate: func(r *CreateAuctionRequest) { r.Currency = "" }},
		{name: "时长为 0", mutate: func(r *CreateAuctionRequest) { r.RoundConfig.DurationSec = 0 }},
		{name: "中标人数为 0", mutate: func(r *CreateAuctionRequest) { r.RoundConfig.WinnersPerRound = 0 }},
		{name: "轮数为 0", mutate: func(r *CreateAuctionRequest) { r.RoundConfig.MaxRounds = 0 }},
		{name: "防狙击为负", mutate: func(r *CreateAuctionRequest) { r.RoundConfig.AntiSnipe.ExtendSec = -1 }},
		{name: "缺少拍品名称", mutate: func(r *CreateAuctionRequest) { r.Item.Name = "" }},
		{name: "库存为负", mutate: func(r *CreateAuctionRequest) { r.Item.TotalSupply = supplyOf(-1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(req)
			_, err := env.auctions.CreateAuction(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	_, err := env.auctions.GetAuction(context.Background(), 1)
	assert.ErrorIs(t, err, ErrAuctionNotFound)
}
