package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/holee9/plm-system-web-sub001/internal/config"
	"github.com/holee9/plm-system-web-sub001/internal/middleware"
	"github.com/holee9/plm-system-web-sub001/internal/plm/handler"
	"github.com/holee9/plm-system-web-sub001/internal/plm/repository"
	"github.com/holee9/plm-system-web-sub001/internal/plm/service"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	zapLogger, err := initLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting plm-core service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
	)

	// 初始化数据库
	db, err := initDatabase(cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}

	// 初始化Redis
	rdb := initRedis(cfg.Redis)

	// 初始化依赖
	repos := repository.NewRepositories(db)
	services := service.NewServices(repos, rdb)
	handlers := handler.NewHandlers(services)

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(zapLogger))
	router.Use(middleware.CORS())
	router.Use(middleware.RequestID())
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	// 注册路由
	registerRoutes(router, handlers, cfg)

	// 创建HTTP服务器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 启动服务器
	go func() {
		zapLogger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}

	zapLogger.Info("Server exited")
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	return zapCfg.Build()
}

func initDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return db, nil
}

func initRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func registerRoutes(r *gin.Engine, h *handler.Handlers, cfg *config.Config) {
	// 健康检查
	r.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/health/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// 版本信息
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
		})
	})

	// API v1
	v1 := r.Group("/api/v1")
	{
		authorized := v1.Group("")
		authorized.Use(middleware.JWTAuth(cfg.JWT.Secret))
		{
			// 零件与修订
			parts := authorized.Group("/parts")
			{
				parts.GET("", h.Part.List)
				parts.POST("", h.Part.Create)
				parts.GET("/search", h.Part.Search)
				parts.GET("/:id", h.Part.Get)
				parts.PUT("/:id", h.Part.Update)
				parts.GET("/:id/revisions", h.Part.GetRevisions)

				// BOM（零件维度）
				parts.GET("/:id/bom", h.BOM.GetTree)
				parts.GET("/:id/where-used", h.BOM.GetWhereUsed)
				parts.GET("/:id/rollup", h.BOM.RollUp)
				parts.GET("/:id/bom/validate", h.BOM.Validate)
				parts.GET("/:id/bom/export", h.BOM.Export)
			}

			// BOM行
			bomItems := authorized.Group("/bom-items")
			{
				bomItems.POST("", h.BOM.AddItem)
				bomItems.PUT("/:id", h.BOM.UpdateItem)
				bomItems.DELETE("/:id", h.BOM.RemoveItem)
			}

			// 变更单
			orders := authorized.Group("/change-orders")
			{
				orders.GET("", h.ChangeOrder.List)
				orders.POST("", h.ChangeOrder.Create)
				orders.GET("/statistics", middleware.RequireRole("plm_manager"), h.ChangeOrder.GetStatistics)
				orders.GET("/:id", h.ChangeOrder.Get)
				orders.PUT("/:id", h.ChangeOrder.Update)
				orders.DELETE("/:id", h.ChangeOrder.Delete)
				orders.POST("/:id/submit", h.ChangeOrder.Submit)
				orders.POST("/:id/accept", middleware.RequirePermission("change_orders:review"), h.ChangeOrder.AcceptForReview)
				orders.POST("/:id/review", h.ChangeOrder.Review)
				orders.POST("/:id/implement", middleware.RequirePermission("change_orders:implement"), h.ChangeOrder.Implement)
				orders.POST("/:id/approvers", h.ChangeOrder.AddApprover)
				orders.DELETE("/:id/approvers/:approver_id", h.ChangeOrder.RemoveApprover)
				orders.GET("/:id/audit", h.ChangeOrder.GetAuditTrail)
				orders.GET("/:id/impact", h.ChangeOrder.GetImpactAnalysis)
			}
		}
	}
}
