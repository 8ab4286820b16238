package service

import (
	"context"
	"errors"
	"fmt"

	"auctionsystem/internal/model"
	"auctionsystem/internal/repository"
	"auctionsystem/pkg/idgen"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type CreateAuctionRequest struct {
	Currency    string            `json:"currency" binding:"required"`
	RoundConfig model.RoundConfig `json:"round_config"`
	Item        model.Item        `json:"item"`
}

type AuctionDetail struct {
	Auction     *model.Auction `json:"auction"`
	ActiveRound *model.Round   `json:"active_round,omitempty"`
}

// AuctionService 拍卖本身只做最少的部分：创建拍卖并开启第一轮，查询详情
type AuctionService struct {
	db          *gorm.DB
	auctionRepo *repository.AuctionRepository
	roundRepo   *repository.RoundRepository
	rounds      *RoundService
	logger      *logrus.Logger
}

func NewAuctionService(db *gorm.DB, rounds *RoundService, logger *logrus.Logger) *AuctionService {
	return &AuctionService{
		db:          db,
		auctionRepo: repository.NewAuctionRepository(db),
		roundRepo:   repository.NewRoundRepository(db),
		rounds:      rounds,
		logger:      logger,
	}
}

func validateAuction(req *CreateAuctionRequest) error {
	rc := req.RoundConfig
	switch {
	case req.Currency == "":
		return fmt.Errorf("%w: currency 不能为空", ErrInvalidInput)
	case rc.DurationSec <= 0:
		return fmt.Errorf("%w: 轮次时长必须大于 0", ErrInvalidInput)
	case rc.WinnersPerRound <= 0:
		return fmt.Errorf("%w: 每轮中标人数必须大于 0", ErrInvalidInput)
	case rc.MaxRounds <= 0:
		return fmt.Errorf("%w: 轮数必须大于 0", ErrInvalidInput)
	case rc.AntiSnipe.WindowSec < 0 || rc.AntiSnipe.ExtendSec < 0 || rc.AntiSnipe.MaxTotalExtendSec < 0:
		return fmt.Errorf("%w: 防狙击参数不能为负", ErrInvalidInput)
	case req.Item.Kind == "" || req.Item.Name == "":
		return fmt.Errorf("%w: 拍品类型和名称不能为空", ErrInvalidInput)
	case req.Item.TotalSupply != nil && *req.Item.TotalSupply < 0:
		return fmt.Errorf("%w: 库存不能为负", ErrInvalidInput)
	}
	return nil
}

// CreateAuction 创建拍卖并开启第一轮
func (s *AuctionService) CreateAuction(ctx context.Context, req *CreateAuctionRequest) (*AuctionDetail, error) {
	if err := validateAuction(req); err != nil {
		return nil, err
	}

	auction := &model.Auction{
		ID:          idgen.NextID(),
		Currency:    req.Currency,
		Status:      model.AuctionStatusLive,
		RoundConfig: req.RoundConfig,
		Item:        req.Item,
	}

	var round *model.Round
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.auctionRepo.Create(ctx, tx, auction); err != nil {
			return fmt.Errorf("创建拍卖失败: %w", err)
		}
		var err error
		round, err = s.rounds.OpenRound(ctx, tx, auction, 1)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"auction_id": auction.ID,
		"round_id":   round.ID,
		"max_rounds": auction.RoundConfig.MaxRounds,
	}).Info("拍卖已创建")
	return &AuctionDetail{Auction: auction, ActiveRound: round}, nil
}

func (s *AuctionService) GetAuction(ctx context.Context, auctionID int64) (*AuctionDetail, error) {
	auction, err := s.auctionRepo.GetByID(ctx, nil, auctionID)
	if err != nil {
		if errors.Is(err, repository.ErrAuctionNotFound) {
			return nil, ErrAuctionNotFound
		}
		return nil, fmt.Errorf("查询拍卖失败: %w", err)
	}

	detail := &AuctionDetail{Auction: auction}
	if auction.ActiveRoundID > 0 {
		round, err := s.roundRepo.GetByID(ctx, nil, auction.ActiveRoundID)
		if err != nil {
			return nil, fmt.Errorf("查询当前轮次失败: %w", err)
		}
		detail.ActiveRound = round
	}
	return detail, nil
}
