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

// ============================================================================
// 钱包账本
// ============================================================================
//
// 每一次余额变动 = 一条流水 + 一次条件更新，放在同一个事务里：
//
//   1. INSERT ledger_entries ... ON CONFLICT(entry_key) DO NOTHING
//      没插进去说明这笔已经执行过，直接返回，不再动余额（幂等）
//   2. UPDATE wallets SET ... WHERE available >= x / reserved >= x
//      条件不满足返回余额不足，整个事务回滚，刚插入的流水一起消失
//
// 资金守恒：available + reserved + 已扣款(CAPTURE) + 已提现(DEBIT) = 已充值(CREDIT)
//
// ============================================================================

// LedgerMove 一次资金变动请求，EntryKey 由调用方给出并保证全局唯一
type LedgerMove struct {
	EntryKey     string
	UserID       int64
	Currency     string
	Amount       int64
	AuctionID    int64
	RoundID      int64
	BidEventID   int64
	AllocationID int64
	Remark       string
}

type moveSpec struct {
	from, to     string
	ensureWallet bool
	balance      func(amount int64) repository.BalanceMove
}

var moveSpecs = map[string]moveSpec{
	model.LedgerTypeCredit: {
		from: model.BucketExternal, to: model.BucketAvailable, ensureWallet: true,
		balance: func(a int64) repository.BalanceMove {
			return repository.BalanceMove{Available: a}
		},
	},
	model.LedgerTypeReserve: {
		from: model.BucketAvailable, to: model.BucketReserved, ensureWallet: true,
		balance: func(a int64) repository.BalanceMove {
			return repository.BalanceMove{Available: -a, Reserved: a, RequireAvailable: a}
		},
	},
	model.LedgerTypeRelease: {
		from: model.BucketReserved, to: model.BucketAvailable,
		balance: func(a int64) repository.BalanceMove {
			return repository.BalanceMove{Available: a, Reserved: -a, RequireReserved: a}
		},
	},
	model.LedgerTypeCapture: {
		from: model.BucketReserved, to: model.BucketSink,
		balance: func(a int64) repository.BalanceMove {
			return repository.BalanceMove{Reserved: -a, RequireReserved: a}
		},
	},
	model.LedgerTypeDebit: {
		from: model.BucketAvailable, to: model.BucketExternal,
		balance: func(a int64) repository.BalanceMove {
			return repository.BalanceMove{Available: -a, RequireAvailable: a}
		},
	},
}

func ReserveEntryKey(auctionID, userID, bidEventID int64) string {
	return fmt.Sprintf("reserve:%d:%d:%d", auctionID, userID, bidEventID)
}

func SettleEntryKey(allocationID int64, ledgerType string) string {
	return fmt.Sprintf("settle:%d:%s", allocationID, ledgerType)
}

type WalletService struct {
	db         *gorm.DB
	walletRepo *repository.WalletRepository
	ledgerRepo *repository.LedgerRepository
	logger     *logrus.Logger
}

func NewWalletService(db *gorm.DB, logger *logrus.Logger) *WalletService {
	return &WalletService{
		db:         db,
		walletRepo: repository.NewWalletRepository(db),
		ledgerRepo: repository.NewLedgerRepository(db),
		logger:     logger,
	}
}

// Credit 充值 EXTERNAL -> AVAILABLE，返回 false 表示 entryKey 已执行过
func (s *WalletService) Credit(ctx context.Context, m *LedgerMove) (bool, error) {
	return s.run(ctx, model.LedgerTypeCredit, m)
}

// Reserve 冻结 AVAILABLE -> RESERVED
func (s *WalletService) Reserve(ctx context.Context, m *LedgerMove) (bool, error) {
	return s.run(ctx, model.LedgerTypeReserve, m)
}

// Release 解冻 RESERVED -> AVAILABLE
func (s *WalletService) Release(ctx context.Context, m *LedgerMove) (bool, error) {
	return s.run(ctx, model.LedgerTypeRelease, m)
}

// Capture 扣款 RESERVED -> SINK
func (s *WalletService) Capture(ctx context.Context, m *LedgerMove) (bool, error) {
	return s.run(ctx, model.LedgerTypeCapture, m)
}

// Debit 提现 AVAILABLE -> EXTERNAL
func (s *WalletService) Debit(ctx context.Context, m *LedgerMove) (bool, error) {
	return s.run(ctx, model.LedgerTypeDebit, m)
}

func (s *WalletService) ReserveTx(ctx context.Context, tx *gorm.DB, m *LedgerMove) (bool, error) {
	return s.apply(ctx, tx, model.LedgerTypeReserve, m)
}

// MoveTx 按流水类型执行，结算时 CAPTURE / RELEASE 由分配结果决定
func (s *WalletService) MoveTx(ctx context.Context, tx *gorm.DB, ledgerType string, m *LedgerMove) (bool, error) {
	return s.apply(ctx, tx, ledgerType, m)
}

func (s *WalletService) run(ctx context.Context, ledgerType string, m *LedgerMove) (bool, error) {
	var applied bool
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		applied, err = s.apply(ctx, tx, ledgerType, m)
		return err
	})
	if err != nil {
		return false, err
	}

	s.logger.WithFields(logrus.Fields{
		"type":      ledgerType,
		"entry_key": m.EntryKey,
		"user_id":   m.UserID,
		"currency":  m.Currency,
		"amount":    m.Amount,
		"applied":   applied,
	}).Info("资金变动")
	return applied, nil
}

func (s *WalletService) apply(ctx context.Context, tx *gorm.DB, ledgerType string, m *LedgerMove) (bool, error) {
	spec, ok := moveSpecs[ledgerType]
	if !ok {
		return false, fmt.Errorf("%w: 未知流水类型 %s", ErrInvalidInput, ledgerType)
	}
	if err := validateMove(m); err != nil {
		return false, err
	}

	if spec.ensureWallet {
		if err := s.walletRepo.Ensure(ctx, tx, m.UserID, m.Currency); err != nil {
			return false, fmt.Errorf("创建钱包失败: %w", err)
		}
	}

	entry := &model.LedgerEntry{
		ID:           idgen.NextID(),
		EntryKey:     m.EntryKey,
		UserID:       m.UserID,
		Currency:     m.Currency,
		Type:         ledgerType,
		FromBucket:   spec.from,
		ToBucket:     spec.to,
		Amount:       m.Amount,
		AuctionID:    m.AuctionID,
		RoundID:      m.RoundID,
		BidEventID:   m.BidEventID,
		AllocationID: m.AllocationID,
		Remark:       m.Remark,
	}
	inserted, err := s.ledgerRepo.Insert(ctx, tx, entry)
	if err != nil {
		return false, fmt.Errorf("记录流水失败: %w", err)
	}
	if !inserted {
		return false, nil
	}

	if err := s.walletRepo.Move(ctx, tx, m.UserID, m.Currency, spec.balance(m.Amount)); err != nil {
		if errors.Is(err, repository.ErrBalanceNotEnough) {
			return false, fmt.Errorf("%w: user=%d, currency=%s, %s %d",
				ErrInsufficientBalance, m.UserID, m.Currency, ledgerType, m.Amount)
		}
		return false, fmt.Errorf("更新余额失败: %w", err)
	}
	return true, nil
}

func validateMove(m *LedgerMove) error {
	switch {
	case m == nil:
		return fmt.Errorf("%w: 资金变动为空", ErrInvalidInput)
	case m.EntryKey == "":
		return fmt.Errorf("%w: entry_key 不能为空", ErrInvalidInput)
	case m.Currency == "":
		return fmt.Errorf("%w: currency 不能为空", ErrInvalidInput)
	case m.Amount <= 0:
		return fmt.Errorf("%w: 金额必须大于 0", ErrInvalidInput)
	}
	return nil
}

func (s *WalletService) GetWallet(ctx context.Context, userID int64, currency string) (*model.Wallet, error) {
	wallet, err := s.walletRepo.Get(ctx, nil, userID, currency)
	if err != nil {
		if errors.Is(err, repository.ErrWalletNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("查询钱包失败: %w", err)
	}
	return wallet, nil
}

func (s *WalletService) ListEntries(ctx context.Context, userID int64, currency string, page, pageSize int) ([]*model.LedgerEntry, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.ledgerRepo.ListByUser(ctx, userID, currency, page, pageSize)
}

// ReconcileReport 钱包余额与流水汇总的对账结果
type ReconcileReport struct {
	UserID            int64  `json:"user_id"`
	Currency          string `json:"currency"`
	Available         int64  `json:"available"`
	Reserved          int64  `json:"reserved"`
	ExpectedAvailable int64  `json:"expected_available"`
	ExpectedReserved  int64  `json:"expected_reserved"`
	Captured          int64  `json:"captured"`
	Credited          int64  `json:"credited"`
	Debited           int64  `json:"debited"`
	Consistent        bool   `json:"consistent"`
}

// Reconcile 用流水重新计算余额并和钱包对比，不一致说明有绕过账本的余额修改
func (s *WalletService) Reconcile(ctx context.Context, userID int64, currency string) (*ReconcileReport, error) {
	wallet, err := s.GetWallet(ctx, userID, currency)
	if err != nil {
		return nil, err
	}
	sums, err := s.ledgerRepo.SumByType(ctx, userID, currency)
	if err != nil {
		return nil, fmt.Errorf("汇总流水失败: %w", err)
	}

	report := &ReconcileReport{
		UserID:    userID,
		Currency:  currency,
		Available: wallet.Available,
		Reserved:  wallet.Reserved,
		Captured:  sums[model.LedgerTypeCapture],
		Credited:  sums[model.LedgerTypeCredit],
		Debited:   sums[model.LedgerTypeDebit],
		ExpectedAvailable: sums[model.LedgerTypeCredit] - sums[model.LedgerTypeReserve] +
			sums[model.LedgerTypeRelease] - sums[model.LedgerTypeDebit],
		ExpectedReserved: sums[model.LedgerTypeReserve] - sums[model.LedgerTypeRelease] -
			sums[model.LedgerTypeCapture],
	}
	report.Consistent = report.ExpectedAvailable == wallet.Available && report.ExpectedReserved == wallet.Reserved

	if !report.Consistent {
		s.logger.WithFields(logrus.Fields{
			"user_id":            userID,
			"currency":           currency,
			"available":          wallet.Available,
			"reserved":           wallet.Reserved,
			"expected_available": report.ExpectedAvailable,
			"expected_reserved":  report.ExpectedReserved,
			"alert":              true,
		}).Error("钱包对账不一致")
	}
	return report, nil
}
