package service

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"auctionsystem/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func move(key string, userID, amount int64) *LedgerMove {
	return &LedgerMove{EntryKey: key, UserID: userID, Currency: testCurrency, Amount: amount}
}

func TestWalletService_CreditIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	applied, err := env.wallet.Credit(ctx, move("credit:1", 1, 100))
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = env.wallet.Credit(ctx, move("credit:1", 1, 100))
	require.NoError(t, err)
	assert.False(t, applied)

	w := env.walletOf(t, 1)
	assert.Equal(t, int64(100), w.Available)
	assert.Equal(t, int64(0), w.Reserved)
	assert.Equal(t, int64(1), env.count(t, &model.LedgerEntry{}, "user_id = ?", 1))
}

func TestWalletService_ValidateMove(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		m    *LedgerMove
	}{
		{name: "金额为 0", m: move("k1", 1, 0)},
		{name: "金额为负", m: move("k2", 1, -5)},
		{name: "缺少 entry_key", m: move("", 1, 10)},
		{name: "缺少币种", m: &LedgerMove{EntryKey: "k3", UserID: 1, Amount: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.wallet.Credit(ctx, tt.m)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
	assert.Equal(t, int64(0), env.count(t, &model.LedgerEntry{}, "1 = 1"))
}

func TestWalletService_ReserveInsufficientLeavesNoTrace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.credit(t, 1, 50)

	_, err := env.wallet.Reserve(ctx, move("reserve:x", 1, 100))
	require.ErrorIs(t, err, ErrInsufficientBalance)

	w := env.walletOf(t, 1)
	assert.Equal(t, int64(50), w.Available)
	assert.Equal(t, int64(0), w.Reserved)
	assert.Equal(t, int64(0), env.count(t, &model.LedgerEntry{}, "entry_key = ?", "reserve:x"))

	// 同一个 key 余额够了之后可以重新执行
	env.credit(t, 1, 50)
	applied, err := env.wallet.Reserve(ctx, move("reserve:x", 1, 100))
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestWalletService_ReserveReleaseCapture(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.credit(t, 1, 1000)

	_, err := env.wallet.Reserve(ctx, move("r1", 1, 400))
	require.NoError(t, err)
	_, err = env.wallet.Release(ctx, move("rl1", 1, 100))
	require.NoError(t, err)
	_, err = env.wallet.Capture(ctx, move("c1", 1, 300))
	require.NoError(t, err)

	w := env.walletOf(t, 1)
	assert.Equal(t, int64(700), w.Available)
	assert.Equal(t, int64(0), w.Reserved)

	// reserved 已经是 0，再扣款/解冻都要失败
	_, err = env.wallet.Capture(ctx, move("c2", 1, 1))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	_, err = env.wallet.Release(ctx, move("rl2", 1, 1))
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// 重放不会重复扣款
	applied, err := env.wallet.Capture(ctx, move("c1", 1, 300))
	require.NoError(t, err)
	assert.False(t, applied)

	var entry model.LedgerEntry
	require.NoError(t, env.db.Where("entry_key = ?", "c1").First(&entry).Error)
	assert.Equal(t, model.BucketReserved, entry.FromBucket)
	assert.Equal(t, model.BucketSink, entry.ToBucket)
}

func TestWalletService_ReleaseWithoutWallet(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.wallet.Release(context.Background(), move("rl", 42, 10))
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	_, err = env.wallet.GetWallet(context.Background(), 42, testCurrency)
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func TestWalletService_Debit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.credit(t, 1, 100)

	_, err := env.wallet.Debit(ctx, move("d1", 1, 150))
	require.ErrorIs(t, err, ErrInsufficientBalance)

	applied, err := env.wallet.Debit(ctx, move("d2", 1, 60))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(40), env.walletOf(t, 1).Available)
}

// 任意顺序的资金操作之后：余额非负，且 available + reserved + captured + debited = credited
func TestWalletService_Conservation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	ops := []string{
		model.LedgerTypeCredit,
		model.LedgerTypeReserve,
		model.LedgerTypeRelease,
		model.LedgerTypeCapture,
		model.LedgerTypeDebit,
	}
	for i := 0; i < 300; i++ {
		op := ops[rng.Intn(len(ops))]
		amount := int64(rng.Intn(200) + 1)
		m := move(fmt.Sprintf("op:%d", i), 1, amount)

		var err error
		switch op {
		case model.LedgerTypeCredit:
			_, err = env.wallet.Credit(ctx, m)
		case model.LedgerTypeReserve:
			_, err = env.wallet.Reserve(ctx, m)
		case model.LedgerTypeRelease:
			_, err = env.wallet.Release(ctx, m)
		case model.LedgerTypeCapture:
			_, err = env.wallet.Capture(ctx, m)
		case model.LedgerTypeDebit:
			_, err = env.wallet.Debit(ctx, m)
		}
		if err != nil {
			require.ErrorIs(t, err, ErrInsufficientBalance)
		}

		w := env.walletOf(t, 1)
		require.GreaterOrEqual(t, w.Available, int64(0))
		require.GreaterOrEqual(t, w.Reserved, int64(0))
	}

	report, err := env.wallet.Reconcile(ctx, 1, testCurrency)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, report.Credited, report.Available+report.Reserved+report.Captured+report.Debited)
}

func TestWalletService_ReconcileDetectsDrift(t *testing.T) {
	env := newTestEnv(t)
	env.credit(t, 1, 100)

	// 绕过账本直接改余额
	require.NoError(t, env.db.Model(&model.Wallet{}).Where("user_id = ?", 1).Update("available", 90).Error)

	report, err := env.wallet.Reconcile(context.Background(), 1, testCurrency)
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	assert.Equal(t, int64(100), report.ExpectedAvailable)
}

func TestWalletService_ListEntries(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		env.credit(t, 1, int64(10+i))
	}

	entries, total, err := env.wallet.ListEntries(context.Background(), 1, testCurrency, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, entries, 2)
}
