package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"produse/internal/api/auth"
	"produse/internal/api/middleware"
	"produse/internal/api/scheduler"
	"produse/internal/config"
	"produse/internal/model"
	"produse/internal/pkg/dedup"
	"produse/internal/pkg/notify"
	"produse/internal/pkg/ratelimit"
	"produse/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有数据库连接、可选的 Redis 客户端、提醒派发器以及 Gin 路由引擎。
type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	db         *gorm.DB
	rdb        *redis.Client
	router     *gin.Engine
	auth       *auth.Handler
	users      *store.UserStore
	tasks      TaskStore
	reminders  ReminderStore
	dispatcher *scheduler.Dispatcher
	limiter    *ratelimit.RateLimiter
}

// TaskStore 是任务接口依赖的存储。
type TaskStore interface {
	List(ctx context.Context, userID uint) ([]model.Task, error)
	Get(ctx context.Context, userID, id uint) (*model.Task, error)
	Create(ctx context.Context, task *model.Task) error
	Update(ctx context.Context, userID, id uint, upd store.TaskUpdate) (*model.Task, error)
	UpdateStatus(ctx context.Context, userID, id uint, status string) (*model.Task, error)
	Delete(ctx context.Context, userID, id uint) error
}

// ReminderStore 是提醒接口依赖的存储。
type ReminderStore interface {
	ListByUser(ctx context.Context, userID uint) ([]model.Reminder, error)
	Get(ctx context.Context, userID, id uint) (*model.Reminder, error)
	Create(ctx context.Context, r *model.Reminder) error
	Update(ctx context.Context, userID, id uint, sch store.Schedule) (*model.Reminder, error)
	Cancel(ctx context.Context, userID, id uint) (*model.Reminder, error)
	Delete(ctx context.Context, userID, id uint) error
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 打开数据库、执行自动迁移并规范化历史渠道值
// 2. 连接 Redis（未配置地址时跳过）
// 3. 组装投递渠道与提醒派发器
// 4. 初始化 Gin 路由引擎
//
// 参数:
//
//	ctx: 上下文
//	cfg: 配置对象
//	logger: 日志记录器
//
// 返回值:
//
//	*Server: 初始化完成的服务器实例
//	error: 初始化失败返回错误
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(db); err != nil {
		return nil, err
	}

	mode := model.Channel(cfg.Dispatch.DeliveryMode)
	reminders := store.NewReminderStore(db)
	if n, err := reminders.NormalizeLegacyChannels(ctx, mode); err != nil {
		return nil, fmt.Errorf("normalize reminder channels: %w", err)
	} else if n > 0 {
		logger.Info("normalized legacy reminder channels", slog.Int64("rows", n))
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       0,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
	} else {
		logger.Warn("redis disabled: no delivery receipts or auth rate limiting")
	}

	channels := notify.NewSet(mode,
		notify.NewLocalNotifier(cfg.Notify.LocalCommand, logger),
		notify.NewChatRelay(cfg.Notify.ChatRelayURL, cfg.Notify.ChatRelayTimeout, cfg.Notify.ChatRelayRate, logger),
		notify.BrowserPoll{},
	)
	var receipts scheduler.ReceiptClaimer
	if rdb != nil {
		receipts = dedup.NewReceipts(rdb, cfg.Dispatch.ReceiptTTL)
	}
	dispatcher := scheduler.NewDispatcher(reminders, channels, receipts, logger, scheduler.Options{
		Interval:       cfg.Dispatch.Interval,
		BatchSize:      cfg.Dispatch.BatchSize,
		ChannelTimeout: cfg.Dispatch.ChannelTimeout,
	})

	users := store.NewUserStore(db)
	emailNotifier := notify.NewEmailNotifier(&cfg.Email, logger)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:    cfg,
		logger: logger,
		db:     db,
		rdb:    rdb,
		router: r,
		auth: auth.NewHandler(users, emailNotifier, auth.Options{
			JWTSecret:    cfg.Security.JWTSecret,
			TokenTTL:     cfg.Security.TokenTTL,
			CookieName:   cfg.Security.CookieName,
			CookieSecure: cfg.Security.CookieSecure,
			BcryptCost:   cfg.Security.BcryptCost,
			BaseURL:      cfg.App.BaseURL,
		}, logger),
		users:      users,
		tasks:      store.NewTaskStore(db),
		reminders:  reminders,
		dispatcher: dispatcher,
		limiter:    ratelimit.NewRedisRateLimiter(rdb, "produse:ratelimit", cfg.App.RateLimit, cfg.App.RateBurst),
	}
	s.registerRoutes()
	return s, nil
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// StartDispatcher 启动提醒派发器。
func (s *Server) StartDispatcher(ctx context.Context) error {
	return s.dispatcher.Start(ctx)
}

// StopDispatcher 停止派发器并等待正在处理的提醒完成。
func (s *Server) StopDispatcher(ctx context.Context) error {
	return s.dispatcher.Stop(ctx)
}

// Close 关闭数据库与缓存连接。
func (s *Server) Close() error {
	var firstErr error
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else {
			if closeErr := sqlDB.Close(); closeErr != nil {
				if firstErr == nil {
					firstErr = closeErr
				}
			}
		}
	}
	return firstErr
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/healthz", s.handleHealthz)

	limited := middleware.RateLimit(s.limiter, s.logger)
	public := s.router.Group("/api/auth")
	public.POST("/register", limited, s.auth.Register)
	public.GET("/verify-email", s.auth.VerifyEmail)
	public.POST("/login", limited, s.auth.Login)
	public.POST("/logout", s.auth.Logout)
	public.POST("/resend-verify", limited, s.auth.ResendVerify)

	gate := middleware.AuthMiddleware(s.cfg.Security.JWTSecret, s.cfg.Security.CookieName, s.users, s.logger)

	me := s.router.Group("/api/auth/me", gate)
	me.GET("", s.auth.Me)
	me.PUT("", s.auth.UpdateMe)
	me.DELETE("", s.auth.DeleteAccount)

	authed := s.router.Group("/api", gate)
	authed.GET("/tasks", s.handleListTasks)
	authed.POST("/tasks", s.handleCreateTask)
	authed.GET("/tasks/:id", s.handleGetTask)
	authed.PUT("/tasks/:id", s.handleUpdateTask)
	authed.PATCH("/tasks/:id/status", s.handleUpdateTaskStatus)
	authed.DELETE("/tasks/:id", s.handleDeleteTask)

	authed.GET("/reminders", s.handleListReminders)
	authed.POST("/reminders", s.handleCreateReminder)
	authed.GET("/reminders/:id", s.handleGetReminder)
	authed.PUT("/reminders/:id", s.handleUpdateReminder)
	authed.POST("/reminders/:id/cancel", s.handleCancelReminder)
	authed.DELETE("/reminders/:id", s.handleDeleteReminder)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	var one int
	if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "db": "error"})
		return
	}
	redisStatus := "disabled"
	if s.rdb != nil {
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "db": "ok", "redis": "error"})
			return
		}
		redisStatus = "ok"
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "db": "ok", "redis": redisStatus})
}

// respondStoreError 将存储层错误映射为 HTTP 响应。
func (s *Server) respondStoreError(c *gin.Context, err error, notFound string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound})
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict"})
	default:
		s.logger.Error("request failed",
			slog.String("path", c.FullPath()),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server error"})
	}
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}

func getUserID(c *gin.Context) uint {
	return uint(c.GetInt("userID"))
}
