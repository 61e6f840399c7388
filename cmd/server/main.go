package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailtriage/backend/internal/auth"
	jwtpkg "mailtriage/backend/internal/auth/jwt"
	"mailtriage/backend/internal/classify"
	"mailtriage/backend/internal/config"
	"mailtriage/backend/internal/domain"
	"mailtriage/backend/internal/health"
	"mailtriage/backend/internal/logger"
	"mailtriage/backend/internal/monitoring"
	"mailtriage/backend/internal/pool"
	"mailtriage/backend/internal/service"
	"mailtriage/backend/internal/storage"
	"mailtriage/backend/internal/storage/memory"
	"mailtriage/backend/internal/storage/postgres"
	sqlstore "mailtriage/backend/internal/storage/sql"
	redisstore "mailtriage/backend/internal/storage/redis"
	httptransport "mailtriage/backend/internal/transport/http"
	"mailtriage/backend/internal/websocket"
)

// pendingBacklogThreshold 触发积压告警的全局可行动决策数
const pendingBacklogThreshold = 1000

// main 启动决策分类 HTTP 服务及其后台任务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     "",
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting mailtriage server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化存储层
	store, err := initializeStorage(ctx, cfg, log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize storage: %v", err))
	}
	defer store.Close()

	// 初始化 Redis（可选）
	var redisClient *redisstore.Client
	var redisCache *redisstore.Cache
	if cfg.Redis.Enabled {
		redisClient, err = redisstore.New(&cfg.Redis, log)
		if err != nil {
			panic(fmt.Sprintf("failed to connect to redis: %v", err))
		}
		defer redisClient.Close()
		redisCache = redisstore.NewCache(redisClient)
		log.Info("redis cache enabled", zap.String("address", cfg.Redis.Address))
	} else {
		log.Info("redis disabled, using in-process caches")
	}

	// 初始化监控与健康检查
	metrics := monitoring.NewMetrics()
	healthChecker := health.NewHealthChecker(store, redisClient, log)

	// 初始化告警系统
	alertManager := monitoring.NewAlertManager(log)
	alertManager.AddReceiver(monitoring.NewLogAlertReceiver(log))
	alertManager.AddRule(monitoring.StoreConnectionRule(store.Health))
	if redisClient != nil {
		alertManager.AddRule(monitoring.RedisConnectionRule(redisClient.Health))
	}
	alertManager.AddRule(monitoring.PendingBacklogRule(func() int {
		countCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		count, err := store.CountActionableDecisions(countCtx, time.Now().UTC())
		if err != nil {
			return 0
		}
		return count
	}, pendingBacklogThreshold))

	// 批量分类工作池
	workerPool := pool.NewWorkerPool(cfg.Triage.BatchWorkers, cfg.Triage.BatchWorkers*8)
	workerPool.Start(ctx)
	defer workerPool.Stop()

	// AI 分类器（base_url 留空表示禁用，门控放行后直接降级）
	var classifier classify.Classifier
	if cfg.Classifier.BaseURL != "" {
		classifier = classify.NewHTTPClassifier(classify.HTTPClassifierOptions{
			BaseURL:       cfg.Classifier.BaseURL,
			APIKey:        cfg.Classifier.APIKey,
			Timeout:       cfg.Classifier.Timeout,
			RatePerSecond: cfg.Classifier.RatePerSecond,
		}, log)
		log.Info("ai classifier configured", zap.String("base_url", cfg.Classifier.BaseURL))
	} else {
		log.Warn("ai classifier not configured, gate hits will use fallback results")
	}

	// JWT 与认证服务
	jwtManager := jwtpkg.NewManager(
		cfg.JWT.Secret,
		cfg.JWT.Issuer,
		cfg.JWT.AccessExpiry,
		cfg.JWT.RefreshExpiry,
	)
	authService := auth.NewService(store, jwtManager)

	// WebSocket Hub
	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, jwtManager, log)

	// 业务服务
	extractor := classify.NewExtractorWithOptions(
		cfg.Triage.ActionKeywords,
		cfg.Triage.ReplyCountThreshold,
		cfg.Triage.StaleUnreadDays,
	)
	gate := classify.NewGate(cfg.Triage.StaleUnreadDays)

	historyService := service.NewHistoryService(store, redisCache, log)
	decisionService := service.NewDecisionService(service.DecisionServiceOptions{
		Store:         store,
		Extractor:     extractor,
		Gate:          gate,
		Classifier:    classifier,
		Cache:         redisCache,
		Notifier:      wsHub,
		Pool:          workerPool,
		Metrics:       metrics,
		Logger:        log,
		SnoozeDefault: cfg.Triage.SnoozeDefault,
	})

	// HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:          cfg,
		DecisionService: decisionService,
		HistoryService:  historyService,
		AuthService:     authService,
		JWTManager:      jwtManager,
		WebSocketHub:    wsHub,
		HealthChecker:   healthChecker,
		Metrics:         metrics,
		Cache:           redisCache,
		Store:           store,
		Logger:          log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// WebSocket Hub goroutine
	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	// 决策事件转发 goroutine。
	// 服务层把事件发布到 Redis，这里订阅全部用户频道并投递给本实例的 Hub，
	// 多实例部署时每个实例都能推送到自己持有的连接。
	if redisCache != nil {
		group.Go(func() error {
			pubsub := redisCache.SubscribeAllDecisionEvents(groupCtx)
			defer pubsub.Close()

			log.Info("starting decision event forwarder")

			ch := pubsub.Channel()
			for {
				select {
				case <-groupCtx.Done():
					log.Info("decision event forwarder stopped")
					return nil
				case msg, ok := <-ch:
					if !ok {
						return nil
					}
					userID := strings.TrimPrefix(msg.Channel, "decision_events:")
					var decision domain.Decision
					if err := json.Unmarshal([]byte(msg.Payload), &decision); err != nil {
						log.Warn("invalid decision event payload", zap.Error(err))
						continue
					}
					wsHub.NotifyDecisionDetected(userID, &decision)
				}
			}
		})
	}

	// 待办数指标刷新 goroutine。
	// 延后到期不写库，到期状态在读取时计算，这个循环让指标跟上到期进度。
	group.Go(func() error {
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		log.Info("starting pending gauge refresh task", zap.Duration("interval", 1*time.Minute))

		for {
			select {
			case <-groupCtx.Done():
				log.Info("pending gauge refresh task stopped")
				return nil
			case <-ticker.C:
				if err := decisionService.RefreshPendingGauge(groupCtx); err != nil {
					log.Error("failed to refresh pending gauge", zap.Error(err))
				}
			}
		}
	})

	// 告警监控 goroutine
	group.Go(func() error {
		log.Info("starting alert monitoring")
		alertManager.StartMonitoring(groupCtx, 1*time.Minute)
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// initializeStorage 根据配置选择存储实现。
//
// 类型为空时使用内存存储（开发环境）；"pgx" 走 pgxpool 原生实现，
// "mysql" / "postgres" 走 database/sql + GORM 迁移的通用实现。
func initializeStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	if cfg.Database.Type == "" || cfg.Database.DSN == "" {
		log.Info("using memory storage (development mode)")
		return memory.NewStore(), nil
	}

	log.Info("initializing database storage", zap.String("type", cfg.Database.Type))

	switch cfg.Database.Type {
	case "pgx":
		return postgres.NewStore(ctx, postgres.Options{
			DSN:             cfg.Database.DSN,
			MaxConns:        int32(cfg.Database.MaxOpenConns),
			MinConns:        int32(cfg.Database.MaxIdleConns),
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		}, log)
	case "mysql", "postgres":
		return sqlstore.NewStore(
			cfg.Database.Type,
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
		)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Database.Type)
	}
}
