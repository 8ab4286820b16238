package queue

import (
	"encoding/json"
	"fmt"

	"auctionsystem/internal/model"
)

const (
	JobCloseRound       = "close-round"
	JobSettleAllocation = "settle-allocation"
)

type CloseRoundPayload struct {
	RoundID int64 `json:"roundId"`
}

type SettleAllocationPayload struct {
	AllocationID int64 `json:"allocationId"`
	RoundID      int64 `json:"roundId"`
	UserID       int64 `json:"userId"`
}

// CloseRoundJobID 同一轮次重复调度关轮是空操作
func CloseRoundJobID(roundID int64) string {
	return fmt.Sprintf("round-close__%d", roundID)
}

func SettleAllocationJobID(roundID, userID int64) string {
	return fmt.Sprintf("settlement__%d_%d", roundID, userID)
}

// Decode 解析任务负载，负载格式错误重试也没用，直接作为永久失败
func Decode(job *model.Job, v interface{}) error {
	if err := json.Unmarshal([]byte(job.Payload), v); err != nil {
		return Permanent(fmt.Errorf("解析任务负载失败: job=%s, err=%w", job.JobID, err))
	}
	return nil
}
