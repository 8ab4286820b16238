package handler

import (
	"auctionsystem/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler, cfg *config.Config, logger *logrus.Logger) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	r := gin.New()

	r.Use(RecoveryMiddleware(logger))
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	{
		wallet := api.Group("/wallet")
		{
			wallet.POST("/credit", h.Credit)
			wallet.POST("/debit", h.Debit)
			wallet.GET("/balance", h.GetBalance)
			wallet.GET("/ledger", h.ListLedger)
			wallet.GET("/reconcile", h.Reconcile)
		}

		auction := api.Group("/auction")
		{
			auction.POST("/create", h.CreateAuction)
			auction.GET("/detail", h.GetAuction)
		}

		bid := api.Group("/bid")
		bid.Use(RateLimitMiddleware(cfg.Server.BidRPS, cfg.Server.BidBurst))
		{
			bid.POST("/place", h.PlaceBid)
		}

		round := api.Group("/round")
		{
			round.GET("/detail", h.GetRound)
			round.GET("/allocations", h.ListAllocations)
			round.POST("/close", h.CloseRound)
		}

		api.POST("/allocation/settle", h.Settle)
		api.GET("/inventory", h.ListInventory)
		api.GET("/inventory/delivery", h.GetDelivery)
	}

	r.GET("/health", h.Health)

	return r
}
