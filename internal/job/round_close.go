package job

import (
	"context"
	"errors"

	"auctionsystem/internal/model"
	"auctionsystem/internal/queue"
	"auctionsystem/internal/service"

	"github.com/sirupsen/logrus"
)

// NewRoundCloseHandler 关轮任务
//
// 轮次被延时过时任务会早到，推迟到新的 end_at 再执行；
// 轮次已关闭（任务重投）直接成功。
func NewRoundCloseHandler(closer *service.RoundCloser, logger *logrus.Logger) queue.Handler {
	return func(ctx context.Context, job *model.Job) error {
		var payload queue.CloseRoundPayload
		if err := queue.Decode(job, &payload); err != nil {
			return err
		}

		result, err := closer.CloseRound(ctx, payload.RoundID)
		var notEnded *service.RoundNotEndedError
		switch {
		case err == nil:
		case errors.As(err, &notEnded):
			return queue.RetryAt(notEnded.EndAt)
		case errors.Is(err, service.ErrRoundNotFound), errors.Is(err, service.ErrAuctionNotFound):
			return queue.Permanent(err)
		default:
			return err
		}

		if !result.Closed {
			logger.WithField("round_id", payload.RoundID).Debug("[RoundClose] 轮次已关闭，跳过")
		}
		return nil
	}
}
