package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-train-seat-reservation/internal/api"
	"github.com/sanosuguru/go-train-seat-reservation/internal/api/handler"
	custommw "github.com/sanosuguru/go-train-seat-reservation/internal/api/middleware"
	"github.com/sanosuguru/go-train-seat-reservation/internal/application"
	"github.com/sanosuguru/go-train-seat-reservation/internal/config"
	"github.com/sanosuguru/go-train-seat-reservation/internal/infrastructure/postgres"
	"github.com/sanosuguru/go-train-seat-reservation/internal/infrastructure/queue"
	redisinfra "github.com/sanosuguru/go-train-seat-reservation/internal/infrastructure/redis"
	"github.com/sanosuguru/go-train-seat-reservation/internal/pkg/logger"
	"github.com/sanosuguru/go-train-seat-reservation/internal/pkg/metrics"
	"github.com/sanosuguru/go-train-seat-reservation/internal/worker"
)

func main() {
	// .env があれば読み込む（本番は環境変数のみ）
	_ = godotenv.Load()

	cfg := config.Load()
	defer logger.Sync()

	// PostgreSQL
	db, err := postgres.NewConnection(&cfg.Database)
	if err != nil {
		logger.Fatal("データベース接続に失敗", zap.Error(err))
	}
	defer db.Close()

	migrationsPath := os.Getenv("MIGRATIONS_PATH")
	if migrationsPath == "" {
		migrationsPath = "migrations"
	}
	if err := postgres.RunMigrations(db.DB, migrationsPath); err != nil {
		logger.Fatal("マイグレーション実行に失敗", zap.Error(err))
	}

	// Redis
	redisClient := redisinfra.NewClient(&cfg.Redis)
	defer redisClient.Close()
	{
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := redisinfra.Ping(ctx, redisClient); err != nil {
			logger.Fatal("Redis接続に失敗", zap.Error(err))
		}
	}

	// RabbitMQ（返金要求イベント）
	refundPublisher, err := queue.NewRefundPublisher(&cfg.Queue)
	if err != nil {
		logger.Fatal("メッセージキュー接続に失敗", zap.Error(err))
	}
	defer refundPublisher.Close()

	// メトリクス
	m := metrics.Init()

	// リポジトリ
	txManager := postgres.NewTxManager(db)
	seatLockRepo := postgres.NewSeatLockRepository(db)
	inventoryRepo := postgres.NewInventoryRepository(db)
	journeyRepo := postgres.NewJourneyRepository(db)
	paymentRepo := postgres.NewPaymentRepository(db)
	catalogRepo := postgres.NewCatalogRepository(db)
	idempotencyRepo := postgres.NewIdempotencyRepository(db)

	lockManager := redisinfra.NewLockManager(redisClient)
	availabilityCache := redisinfra.NewAvailabilityCache(redisClient)

	// アプリケーションサービス
	lockService := application.NewLockService(txManager, seatLockRepo, inventoryRepo, catalogRepo, lockManager)
	bookingService := application.NewBookingService(
		txManager, journeyRepo, paymentRepo, catalogRepo, seatLockRepo, inventoryRepo,
		lockService, availabilityCache, refundPublisher, &cfg.Booking,
	)
	availabilityService := application.NewAvailabilityService(catalogRepo, inventoryRepo, availabilityCache)
	idempotencyRunner := application.NewIdempotencyRunner(idempotencyRepo, cfg.Booking.IdempotencyProcessingTimeout)

	// 期限切れスイーパー
	sweeper := worker.NewExpirySweeper(
		lockService, bookingService, idempotencyRepo,
		cfg.Booking.SweepInterval, cfg.Booking.SweepBatchSize,
	)
	sweeperCtx, sweeperCancel := context.WithCancel(context.Background())
	defer sweeperCancel()
	go sweeper.Start(sweeperCtx)

	// Echo
	e := echo.New()
	e.HideBanner = true
	e.Validator = api.NewValidator()
	e.HTTPErrorHandler = api.CustomHTTPErrorHandler
	custommw.SetupMiddleware(e)
	e.Use(custommw.PrometheusMiddleware(m))

	// ハンドラー
	lockHandler := handler.NewLockHandler(lockService, idempotencyRunner, cfg.Booking.DefaultLockTTL, cfg.Booking.MaxHoldTTL)
	bookingHandler := handler.NewBookingHandler(bookingService, idempotencyRunner)
	trainHandler := handler.NewTrainHandler(availabilityService)
	healthHandler := handler.NewHealthHandler()

	// ルーティング
	v1 := e.Group("/api/v1")
	v1.GET("/health", healthHandler.Check)

	v1.PUT("/seats/lock", lockHandler.Acquire)
	v1.DELETE("/seats/lock/:lockId", lockHandler.Release)
	v1.PUT("/seats/lock/:lockId/extend", lockHandler.Extend)
	v1.POST("/seats/block", bookingHandler.Block)
	v1.POST("/seats/release", bookingHandler.Release)

	v1.POST("/bookings/payment", bookingHandler.InitiatePayment)
	v1.POST("/bookings/confirm", bookingHandler.Confirm)
	v1.POST("/bookings/:bookingId/cancel", bookingHandler.Cancel)
	v1.GET("/bookings/:bookingId", bookingHandler.GetByID)

	v1.GET("/trains/:trainNumber", trainHandler.GetByNumber)
	v1.GET("/trains/:trainNumber/availability", trainHandler.Availability)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()), custommw.MetricsBasicAuth())

	// サーバー起動
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Server.Port)
		logger.Info("サーバー起動", zap.String("addr", addr))
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("サーバー起動エラー", zap.Error(err))
		}
	}()

	// シグナル待機
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("サーバーをシャットダウンしています...")

	// スイーパーを先に止めてからHTTPを閉じる
	sweeperCancel()
	sweeper.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal("サーバーシャットダウンエラー", zap.Error(err))
	}

	logger.Info("サーバーが正常にシャットダウンしました")
}
