package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"auctionsystem/internal/config"
	"auctionsystem/internal/handler"
	"auctionsystem/internal/infrastructure/cache"
	"auctionsystem/internal/infrastructure/database"
	"auctionsystem/internal/infrastructure/mq"
	"auctionsystem/internal/job"
	"auctionsystem/internal/queue"
	"auctionsystem/internal/service"
	"auctionsystem/pkg/idgen"
	"auctionsystem/pkg/logger"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("加载配置失败")
	}

	log := logger.New(cfg.Log)

	// 初始化 ID 生成器
	if err := idgen.Init(cfg.Server.WorkerID); err != nil {
		log.WithError(err).Fatal("初始化 ID 生成器失败")
	}

	db, err := database.Init(&cfg.Database, log)
	if err != nil {
		log.WithError(err).Fatal("初始化数据库失败")
	}

	redisClient, err := cache.InitRedis(&cfg.Redis, log)
	if err != nil {
		log.WithError(err).Fatal("初始化 Redis 失败")
	}
	defer redisClient.Close()

	producer, err := mq.InitKafka(&cfg.Kafka, log)
	if err != nil {
		log.WithError(err).Fatal("初始化 Kafka 失败")
	}
	defer producer.Close()

	// 业务服务
	q := queue.NewQueue(db, cfg.Queue)
	wallet := service.NewWalletService(db, log)
	rounds := service.NewRoundService(db, q, log)
	delivery := service.NewDeliveryService(db, log)
	closer := service.NewRoundCloser(db, rounds, q, log)
	settlement := service.NewSettlementService(db, wallet, delivery, log)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	worker := queue.NewWorker(db, cfg.Queue, log)
	worker.Register(queue.JobCloseRound, job.NewRoundCloseHandler(closer, log))
	worker.Register(queue.JobSettleAllocation, job.NewSettlementHandler(settlement, log))
	outboxSender := job.NewOutboxSender(db, producer, cfg, log)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		outboxSender.Start(ctx)
	}()

	maintenance := job.NewMaintenance(db, q, redisClient, cfg, log)
	if err := maintenance.Start(ctx); err != nil {
		log.WithError(err).Fatal("启动定时维护任务失败")
	}

	// 设置路由
	h := handler.NewHandler(&handler.Services{
		Wallet:     wallet,
		Auctions:   service.NewAuctionService(db, rounds, log),
		Rounds:     rounds,
		Bids:       service.NewBidService(db, wallet, rounds, log),
		Closer:     closer,
		Settlement: settlement,
		Delivery:   delivery,
		Jobs:       maintenance,
	}, log)
	router := handler.SetupRouter(h, cfg, log)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("服务启动")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("服务启动失败")
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭服务...")

	// 先停止接收请求，再停止后台任务
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("服务关闭异常")
	}

	maintenance.Stop()
	cancel()
	// 等 worker 处理完手上的任务、outbox 发完当前批次，再关 Kafka 和 Redis
	wg.Wait()

	log.Info("服务已关闭")
}
