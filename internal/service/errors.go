package service

import (
	"errors"
	"fmt"
)

// 业务错误，调用方用 errors.Is 判断
var (
	ErrInvalidInput        = errors.New("参数错误")
	ErrInvalidBid          = fmt.Errorf("%w: 出价无效", ErrInvalidInput)
	ErrInsufficientBalance = errors.New("余额不足")
	ErrRoundNotOpen        = errors.New("轮次未开放或已结束")
	ErrConcurrentUpdate    = errors.New("并发修改冲突，请刷新后重试")
	ErrSupplyExhausted     = errors.New("奖品库存已发完")
	ErrAuctionNotFound     = errors.New("拍卖不存在")
	ErrRoundNotFound       = errors.New("轮次不存在")
	ErrAllocationNotFound  = errors.New("分配结果不存在")
	ErrWalletNotFound      = errors.New("钱包不存在")
	ErrDeliveryNotFound    = errors.New("发放记录不存在")
)
