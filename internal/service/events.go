package service

import (
	"context"
	"encoding/json"
	"fmt"

	"auctionsystem/internal/model"
	"auctionsystem/internal/repository"

	"gorm.io/gorm"
)

// eventWriter 领域事件写入本地消息表，和业务数据同一个事务
type eventWriter struct {
	repo *repository.OutboxRepository
}

func (w eventWriter) write(ctx context.Context, tx *gorm.DB, eventType, key string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	msg := &model.OutboxMessage{
		MessageKey: key,
		EventType:  eventType,
		Payload:    string(body),
		Status:     model.OutboxStatusPending,
	}
	if err := w.repo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}
	return nil
}
