package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// Redis 分布式锁
// ============================================================================
//
// 资金正确性不依赖这把锁（全部靠数据库条件更新和唯一索引），
// 它只用来保证维护类的定时任务在集群里同一时刻只有一个实例在跑。
//
// 加锁：SET key owner NX PX ttl
// 释放：Lua 脚本比较 owner 后再 DEL，过期后被别人拿到的锁不会被误删
//
// ============================================================================

var ErrLockFailed = errors.New("获取分布式锁失败")

const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

type DistributedLock struct {
	client     redis.UniversalClient
	key        string
	value      string // 持有者标识
	expiration time.Duration
}

func NewDistributedLock(client redis.UniversalClient, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 非阻塞加锁
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock 阻塞加锁，最多重试 maxRetries 次
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 只释放自己持有的锁，返回是否真的删除了
func (l *DistributedLock) Unlock(ctx context.Context) (bool, error) {
	n, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// NewMaintenanceLock 按任务名加锁，不同维护任务互不阻塞
func NewMaintenanceLock(client redis.UniversalClient, task, owner string, ttl time.Duration) *DistributedLock {
	key := fmt.Sprintf("auction:lock:maintenance:%s", task)
	return NewDistributedLock(client, key, owner, ttl)
}
