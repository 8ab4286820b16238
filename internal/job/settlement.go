package job

import (
	"context"
	"errors"

	"auctionsystem/internal/model"
	"auctionsystem/internal/queue"
	"auctionsystem/internal/service"

	"github.com/sirupsen/logrus"
)

// NewSettlementHandler 结算任务，库存发完不再重试，等人工处理
func NewSettlementHandler(settlement *service.SettlementService, logger *logrus.Logger) queue.Handler {
	return func(ctx context.Context, job *model.Job) error {
		var payload queue.SettleAllocationPayload
		if err := queue.Decode(job, &payload); err != nil {
			return err
		}

		result, err := settlement.Settle(ctx, payload.AllocationID)
		if err != nil {
			if errors.Is(err, service.ErrSupplyExhausted) {
				logger.WithFields(logrus.Fields{
					"allocation_id": payload.AllocationID,
					"round_id":      payload.RoundID,
					"user_id":       payload.UserID,
					"alert":         true,
				}).Error("[Settlement] 奖品超发被拦截，需要人工处理")
				return queue.Permanent(err)
			}
			return err
		}

		if result.Skipped {
			logger.WithField("allocation_id", payload.AllocationID).Debug("[Settlement] 已结算或正在结算，跳过")
		}
		return nil
	}
}
