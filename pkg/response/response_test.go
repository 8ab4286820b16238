package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"auctionsystem/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"参数错误", service.ErrInvalidInput, CodeParamError},
		{"出价无效归为参数错误", fmt.Errorf("校验失败: %w", service.ErrInvalidBid), CodeParamError},
		{"余额不足", fmt.Errorf("冻结失败: %w", service.ErrInsufficientBalance), CodeInsufficientBalance},
		{"轮次未开放", service.ErrRoundNotOpen, CodeRoundNotOpen},
		{"并发冲突", service.ErrConcurrentUpdate, CodeConcurrentUpdate},
		{"库存不足", service.ErrSupplyExhausted, CodeSupplyExhausted},
		{"轮次未结束", &service.RoundNotEndedError{RoundID: 1, EndAt: time.Now()}, CodeRoundNotEnded},
		{"拍卖不存在", service.ErrAuctionNotFound, CodeAuctionNotFound},
		{"钱包不存在", service.ErrWalletNotFound, CodeWalletNotFound},
		{"发放记录不存在", fmt.Errorf("查询奖品失败: %w", service.ErrDeliveryNotFound), CodeDeliveryNotFound},
		{"未知错误", errors.New("connection reset"), CodeServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestFromError_HidesInternalErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	FromError(c, errors.New("dial tcp 10.0.0.1:3306: i/o timeout"))

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, CodeServerError, resp.Code)
	assert.NotContains(t, resp.Message, "10.0.0.1")

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	FromError(c, service.ErrInsufficientBalance)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, CodeInsufficientBalance, resp.Code)
	assert.Equal(t, service.ErrInsufficientBalance.Error(), resp.Message)
}
