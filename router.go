package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/parley-chat/parley/pkg/config"
	"github.com/parley-chat/parley/pkg/db"
	"github.com/parley-chat/parley/pkg/event"
	"github.com/parley-chat/parley/pkg/handler"
	"github.com/parley-chat/parley/pkg/llm"
	"github.com/parley-chat/parley/pkg/models"
	"github.com/parley-chat/parley/pkg/relay"
	"github.com/parley-chat/parley/pkg/service"
	"github.com/parley-chat/parley/pkg/utils"
)

type Server struct {
	cfg       *config.AppConfig
	ginEngine *gin.Engine
	db        *gorm.DB
	logger    *slog.Logger
	port      int

	emitter    *event.Emitter
	registry   *event.Registry
	dispatcher *event.Dispatcher
	detach     func()

	generator     llm.Generator
	auth          *service.AuthService
	chat          *service.ChatService
	notifications *service.NotificationService
	maintenance   *service.Maintenance

	relay *relay.Relay
	redis *relay.RedisPubSub

	// baseCtx outlives requests; it is cancelled by Close.
	baseCtx   context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Option customizes a Server.
type Option func(*Server)

// WithGenerator replaces the configured model provider.
func WithGenerator(g llm.Generator) Option {
	return func(s *Server) { s.generator = g }
}

// WithDB uses an already opened database instead of cfg's path.
func WithDB(gdb *gorm.DB) Option {
	return func(s *Server) { s.db = gdb }
}

func NewServer(cfg *config.AppConfig, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = &config.AppConfig{}
	}
	s := &Server{
		cfg:    cfg,
		logger: utils.GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.baseCtx, s.cancel = context.WithCancel(context.Background())

	if s.db == nil {
		gdb, err := db.Open(cfg.DatabasePath())
		if err != nil {
			return nil, err
		}
		s.db = gdb
	}

	auth, err := service.NewAuthService(s.db, cfg.Auth)
	if err != nil {
		return nil, err
	}
	s.auth = auth

	s.emitter = event.NewEmitter()
	s.registry = event.NewRegistry()
	s.dispatcher = event.NewDispatcher(s.registry)
	s.detach = s.dispatcher.Attach(s.emitter)

	if s.generator == nil {
		gen, err := llm.New(s.baseCtx, cfg.LLM)
		if err != nil {
			// Prompts will be answered with an alert until a model is configured.
			s.logger.Warn("Model provider unavailable", "provider", cfg.LLM.ProviderName(), "error", err)
		} else {
			s.generator = gen
		}
	}

	s.notifications = service.NewNotificationService(s.db, s.emitter)
	s.chat = service.NewChatService(s.db, s.generator, s.notifications, s.emitter,
		service.WithGenerationWorkers(cfg.Limits.Generations()))
	s.maintenance = service.NewMaintenance(s.notifications, cfg.Notifications.RetentionPeriod())
	if err := s.maintenance.SchedulePurge(cfg.Notifications.Schedule()); err != nil {
		return nil, err
	}

	if cfg.Redis.Enabled() {
		s.redis = relay.NewRedisPubSub(cfg.Redis)
		s.relay = relay.New(s.redis, cfg.Redis.ChannelName(), s.dispatcher)
		s.dispatcher.SetFallback(s.relay)
	}

	s.ginEngine = gin.New()
	s.ginEngine.Use(gin.Recovery())
	s.ginEngine.Use(handler.CORS(cfg.Server.AllowedOrigins))
	s.SetupRoutes()

	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.ginEngine }

func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host(), fmt.Sprint(s.cfg.Port()))
	srv := &http.Server{Addr: addr, Handler: s.ginEngine}

	// Attempt to listen on port first; if occupied return error immediately
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}

	// Record the actual port (useful with port 0).
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	} else {
		s.port = s.cfg.Port()
	}

	s.maintenance.Start(s.baseCtx)
	if s.relay != nil {
		if err := s.redis.Ping(ctx); err != nil {
			s.logger.Warn("Redis unreachable, relay will keep retrying", "addr", s.cfg.Redis.Addr, "error", err)
		}
		go func() {
			if err := s.relay.Run(s.baseCtx); err != nil {
				s.logger.Error("Relay stopped", "error", err)
			}
		}()
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(ln)
	}()

	// Listen for context cancellation for graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.Close()
	}()

	s.logger.Info("Server listening", "addr", ln.Addr().String())

	// Non-blocking: if startup fails immediately return error; otherwise return nil to let main continue
	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	default:
	}
	return nil
}

// Port is the bound port once Start has returned.
func (s *Server) Port() int { return s.port }

// Close stops background work: generation, maintenance and the relay.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.chat.Close()
		s.maintenance.Stop()
		s.detach()
		if s.redis != nil {
			_ = s.redis.Close()
		}
		if sqlDB, err := s.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
}

func (s *Server) SetupRoutes() {
	authHandler := handler.NewAuthHandler(s.auth)
	chatHandler := handler.NewChatHandler(s.chat)
	notificationHandler := handler.NewNotificationHandler(s.notifications)
	wsHandler := event.NewWSHandler(s.auth, s.registry)
	limiter := handler.NewPromptLimiter(s.baseCtx, s.cfg.Limits.PerMinute(), s.cfg.Limits.Burst())

	s.ginEngine.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "API is running...")
	})

	// API group
	// /api
	apiGroup := s.ginEngine.Group("/api")

	// Runtime info (for clients to discover correct base URLs)
	apiGroup.GET("/runtime", func(c *gin.Context) {
		host := s.cfg.Host()
		port := s.port
		if port == 0 {
			port = s.cfg.Port()
		}
		c.JSON(http.StatusOK, models.RuntimeInfo{
			HTTPBaseURL: fmt.Sprintf("http://%s", net.JoinHostPort(host, fmt.Sprint(port))),
			WSBaseURL:   fmt.Sprintf("ws://%s", net.JoinHostPort(host, fmt.Sprint(port))),
			EventsPath:  "/api/events/ws",
			Port:        port,
		})
	})

	// /api/auth
	authHandler.RegisterRoutes(apiGroup)

	// Event channel; authenticates itself so it can refuse before upgrading.
	// /api/events/ws
	apiGroup.GET("/events/ws", wsHandler.Handle)

	protected := apiGroup.Group("", handler.AuthRequired(s.auth))

	// /api/conversations
	chatHandler.RegisterRoutes(protected, limiter.Middleware())

	// /api/notifications
	notificationHandler.RegisterRoutes(protected)
}
