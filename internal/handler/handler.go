package handler

import (
	"context"
	"fmt"
	"strconv"

	"auctionsystem/internal/service"
	"auctionsystem/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Services 处理器依赖的业务服务
type Services struct {
	Wallet     *service.WalletService
	Auctions   *service.AuctionService
	Rounds     *service.RoundService
	Bids       *service.BidService
	Closer     *service.RoundCloser
	Settlement *service.SettlementService
	Delivery   *service.DeliveryService
	Jobs       JobStats
}

// JobStats 健康检查读取的队列统计
type JobStats interface {
	FailedJobs(ctx context.Context) (int64, error)
}

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	svc    *Services
	logger *logrus.Logger
}

func NewHandler(svc *Services, logger *logrus.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func queryInt64(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Query(name), 10, 64)
	if err != nil || v <= 0 {
		response.ParamError(c, fmt.Sprintf("%s 参数错误", name))
		return 0, false
	}
	return v, true
}

func queryIntDefault(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.DefaultQuery(name, strconv.Itoa(def)))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// ============================================================
// 钱包相关接口
// ============================================================

// MoveRequest 充值/提现请求，request_id 用作幂等键
type MoveRequest struct {
	RequestID string `json:"request_id" binding:"required"`
	UserID    int64  `json:"user_id" binding:"required"`
	Currency  string `json:"currency" binding:"required"`
	Amount    int64  `json:"amount" binding:"required,gt=0"`
}

// Credit 充值
// POST /api/v1/wallet/credit
func (h *Handler) Credit(c *gin.Context) {
	h.move(c, "credit", h.svc.Wallet.Credit)
}

// Debit 提现
// POST /api/v1/wallet/debit
func (h *Handler) Debit(c *gin.Context) {
	h.move(c, "debit", h.svc.Wallet.Debit)
}

func (h *Handler) move(c *gin.Context, prefix string, apply func(ctx context.Context, m *service.LedgerMove) (bool, error)) {
	var req MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	applied, err := apply(ctx, &service.LedgerMove{
		EntryKey: fmt.Sprintf("%s:%d:%s", prefix, req.UserID, req.RequestID),
		UserID:   req.UserID,
		Currency: req.Currency,
		Amount:   req.Amount,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	wallet, err := h.svc.Wallet.GetWallet(ctx, req.UserID, req.Currency)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, gin.H{
		"applied":   applied,
		"available": wallet.Available,
		"reserved":  wallet.Reserved,
	})
}

// GetBalance 查询钱包余额
// GET /api/v1/wallet/balance?user_id=xxx&currency=STAR
func (h *Handler) GetBalance(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}
	currency := c.Query("currency")
	if currency == "" {
		response.ParamError(c, "currency 参数不能为空")
		return
	}

	wallet, err := h.svc.Wallet.GetWallet(c.Request.Context(), userID, currency)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id":   wallet.UserID,
		"currency":  wallet.Currency,
		"available": wallet.Available,
		"reserved":  wallet.Reserved,
	})
}

// ListLedger 查询资金流水
// GET /api/v1/wallet/ledger?user_id=xxx&currency=STAR&page=1&page_size=20
func (h *Handler) ListLedger(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}
	page := queryIntDefault(c, "page", 1)
	pageSize := queryIntDefault(c, "page_size", 20)
	if pageSize > 100 {
		pageSize = 100
	}

	entries, total, err := h.svc.Wallet.ListEntries(c.Request.Context(), userID, c.Query("currency"), page, pageSize)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      entries,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// Reconcile 用流水核对钱包余额
// GET /api/v1/wallet/reconcile?user_id=xxx&currency=STAR
func (h *Handler) Reconcile(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}
	report, err := h.svc.Wallet.Reconcile(c.Request.Context(), userID, c.Query("currency"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, report)
}

// ============================================================
// 拍卖与出价
// ============================================================

// CreateAuction 创建拍卖并开启第一轮
// POST /api/v1/auction/create
func (h *Handler) CreateAuction(c *gin.Context) {
	var req service.CreateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	detail, err := h.svc.Auctions.CreateAuction(c.Request.Context(), &req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, detail)
}

// GetAuction 查询拍卖详情和当前轮次
// GET /api/v1/auction/detail?auction_id=xxx
func (h *Handler) GetAuction(c *gin.Context) {
	auctionID, ok := queryInt64(c, "auction_id")
	if !ok {
		return
	}
	detail, err := h.svc.Auctions.GetAuction(c.Request.Context(), auctionID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, detail)
}

// PlaceBidRequest 出价请求，round_id 为空时出价到当前轮次
type PlaceBidRequest struct {
	IdempotencyKey string `json:"idempotency_key" binding:"required"`
	AuctionID      int64  `json:"auction_id" binding:"required"`
	RoundID        int64  `json:"round_id"`
	UserID         int64  `json:"user_id" binding:"required"`
	Amount         int64  `json:"amount" binding:"required,gt=0"`
}

// PlaceBid 出价（加价），同一个 idempotency_key 重复提交返回第一次的结果
// POST /api/v1/bid/place
func (h *Handler) PlaceBid(c *gin.Context) {
	var req PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	detail, err := h.svc.Auctions.GetAuction(ctx, req.AuctionID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	roundID := req.RoundID
	if roundID == 0 {
		if detail.ActiveRound == nil {
			response.FromError(c, service.ErrRoundNotOpen)
			return
		}
		roundID = detail.ActiveRound.ID
	}

	result, err := h.svc.Bids.PlaceBid(ctx, &service.PlaceBidRequest{
		AuctionID:      req.AuctionID,
		RoundID:        roundID,
		UserID:         req.UserID,
		Currency:       detail.Auction.Currency,
		Amount:         req.Amount,
		IdempotencyKey: req.IdempotencyKey,
		AntiSnipe:      detail.Auction.RoundConfig.AntiSnipe,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// ============================================================
// 轮次、结算与发放
// ============================================================

// GetRound 查询轮次
// GET /api/v1/round/detail?round_id=xxx
func (h *Handler) GetRound(c *gin.Context) {
	roundID, ok := queryInt64(c, "round_id")
	if !ok {
		return
	}
	round, err := h.svc.Rounds.GetRound(c.Request.Context(), roundID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, round)
}

type RoundRequest struct {
	RoundID int64 `json:"round_id" binding:"required"`
}

// CloseRound 立即关轮（运维补偿用），轮次未到结束时间会被拒绝
// POST /api/v1/round/close
func (h *Handler) CloseRound(c *gin.Context) {
	var req RoundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.svc.Closer.CloseRound(c.Request.Context(), req.RoundID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// ListAllocations 查询轮次的分配结果
// GET /api/v1/round/allocations?round_id=xxx
func (h *Handler) ListAllocations(c *gin.Context) {
	roundID, ok := queryInt64(c, "round_id")
	if !ok {
		return
	}
	allocations, err := h.svc.Settlement.ListByRound(c.Request.Context(), roundID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"list": allocations})
}

type SettleRequest struct {
	AllocationID int64 `json:"allocation_id" binding:"required"`
}

// Settle 手动重新结算一个分配结果
// POST /api/v1/allocation/settle
func (h *Handler) Settle(c *gin.Context) {
	var req SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.svc.Settlement.Settle(c.Request.Context(), req.AllocationID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// ListInventory 查询用户获得的奖品
// GET /api/v1/inventory?user_id=xxx&auction_id=xxx&limit=50
func (h *Handler) ListInventory(c *gin.Context) {
	userID, ok := queryInt64(c, "user_id")
	if !ok {
		return
	}
	auctionID, _ := strconv.ParseInt(c.Query("auction_id"), 10, 64)
	limit := queryIntDefault(c, "limit", 50)

	deliveries, err := h.svc.Delivery.ListInventory(c.Request.Context(), userID, auctionID, limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"list": deliveries})
}

// GetDelivery 查询分配结果对应的发放记录
// GET /api/v1/inventory/delivery?allocation_id=xxx
func (h *Handler) GetDelivery(c *gin.Context) {
	allocationID, ok := queryInt64(c, "allocation_id")
	if !ok {
		return
	}

	delivery, err := h.svc.Delivery.GetByAllocation(c.Request.Context(), allocationID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, delivery)
}

// ============================================================
// 健康检查
// ============================================================

// Health 返回失败任务数和库存不足未发放的数量，数据库不可用时报错
// GET /health
func (h *Handler) Health(c *gin.Context) {
	ctx := c.Request.Context()

	failedJobs, err := h.svc.Jobs.FailedJobs(ctx)
	if err != nil {
		h.logger.WithError(err).Error("查询失败任务数失败")
		response.ServerError(c, "健康检查失败")
		return
	}
	failedSupply, err := h.svc.Delivery.CountSupplyFailures(ctx)
	if err != nil {
		h.logger.WithError(err).Error("查询发放失败数失败")
		response.ServerError(c, "健康检查失败")
		return
	}

	response.Success(c, gin.H{
		"status":        "ok",
		"failed_jobs":   failedJobs,
		"failed_supply": failedSupply,
	})
}
