package httptransport

import (
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"mailtriage/backend/internal/auth"
	jwtpkg "mailtriage/backend/internal/auth/jwt"
	"mailtriage/backend/internal/config"
	"mailtriage/backend/internal/health"
	"mailtriage/backend/internal/middleware"
	"mailtriage/backend/internal/monitoring"
	"mailtriage/backend/internal/service"
	"mailtriage/backend/internal/storage"
	redisstore "mailtriage/backend/internal/storage/redis"
	"mailtriage/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config          *config.Config
	DecisionService *service.DecisionService
	HistoryService  *service.HistoryService
	AuthService     *auth.Service
	JWTManager      *jwtpkg.Manager
	WebSocketHub    *websocket.Hub       // 可为 nil，不挂载 /api/ws
	HealthChecker   *health.HealthChecker // 可为 nil，不挂载 /healthz
	Metrics         *monitoring.Metrics   // 可为 nil，不挂载 /metrics
	Cache           *redisstore.Cache     // 可为 nil，禁用令牌黑名单与分布式限流
	Store           storage.Store
	Logger          *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()

	// 使用自定义中间件替代默认中间件
	router.Use(middleware.RecoveryHandler(log))
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.SecurityHeaders())

	// 按路由前缀区分请求体大小限制：批量分类允许更大的请求体
	router.Use(middleware.DynamicBodySizeLimit(map[string]int64{
		"/api/decisions/classify/batch": middleware.BatchBodyLimit,
	}, middleware.DefaultBodyLimit))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	// 监控中间件
	if deps.Metrics != nil {
		mm := middleware.NewMonitoringMiddleware(deps.Metrics, log)
		router.Use(mm.HTTPMetrics())
		router.Use(mm.BusinessMetrics())
	}

	// 创建处理器
	authHandler := NewAuthHandler(deps.AuthService, log)
	decisionHandler := NewDecisionHandler(deps.DecisionService, deps.HistoryService, deps.Store, log)

	jwtAuth := middleware.NewJWTAuth(deps.JWTManager, log)

	// Redis 可用时启用令牌吊销与分类接口限流
	var classifyRateLimit gin.HandlerFunc
	if deps.Cache != nil {
		jwtAuth = jwtAuth.WithBlacklist(deps.Cache)
		authHandler = authHandler.WithRevoker(deps.Cache)
		classifyRateLimit = middleware.RateLimitByUser(
			deps.Cache, middleware.ClassifyRateLimit, middleware.ClassifyRateWindow, log)
	}

	// Swagger 文档
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 健康检查与指标
	if deps.HealthChecker != nil {
		router.GET("/healthz", gin.WrapH(deps.HealthChecker.Handler()))
		router.GET("/healthz/ready", gin.WrapH(deps.HealthChecker.Handler()))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	api := router.Group("/api")
	{
		// ========== Auth Routes ==========
		authRoutes := api.Group("/auth")
		{
			authRoutes.POST("/register", authHandler.Register)
			authRoutes.POST("/login", authHandler.Login)
			authRoutes.POST("/refresh", authHandler.Refresh)
			authRoutes.GET("/me", jwtAuth.RequireAuth(), authHandler.Me)
			authRoutes.POST("/logout", jwtAuth.RequireAuth(), authHandler.Logout)
		}

		// ========== Decision Routes ==========
		decisionRoutes := api.Group("/decisions")
		decisionRoutes.Use(jwtAuth.RequireAuth())
		{
			if classifyRateLimit != nil {
				decisionRoutes.POST("/classify", classifyRateLimit, decisionHandler.Classify)
				decisionRoutes.POST("/classify/batch", classifyRateLimit, decisionHandler.ClassifyBatch)
			} else {
				decisionRoutes.POST("/classify", decisionHandler.Classify)
				decisionRoutes.POST("/classify/batch", decisionHandler.ClassifyBatch)
			}
			decisionRoutes.GET("/pending", decisionHandler.ListPending)
			decisionRoutes.GET("/stats", decisionHandler.Stats)

			// 生命周期操作
			decisionRoutes.POST("/:emailId/complete", decisionHandler.Complete)
			decisionRoutes.POST("/:emailId/dismiss", decisionHandler.Dismiss)
			decisionRoutes.POST("/:emailId/snooze", decisionHandler.Snooze)
			decisionRoutes.POST("/:emailId/not-decision", decisionHandler.MarkNotDecision)
		}

		// ========== WebSocket Routes ==========
		if deps.WebSocketHub != nil {
			api.GET("/ws", jwtAuth.RequireAuth(), websocket.HandleWebSocket(deps.WebSocketHub))
		}
	}

	return router
}
