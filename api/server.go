package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/Aidin1998/barterex/internal/bookkeeper"
	"github.com/Aidin1998/barterex/internal/config"
	"github.com/Aidin1998/barterex/internal/orderbook"
	"github.com/Aidin1998/barterex/internal/trading"
	"github.com/Aidin1998/barterex/pkg/models"
	"github.com/Aidin1998/barterex/pkg/validation"
)

// RequestIDHeader carries the request id in and out.
const RequestIDHeader = "X-Request-ID"

const requestIDKey = "request_id"

// Exchange is the part of the matching engine the API serves.
type Exchange interface {
	SubmitOrder(ctx context.Context, req trading.OrderRequest) (*trading.Result, error)
	Order(ctx context.Context, id uint64) (*models.Order, []*models.Fill, error)
	OrdersForItem(ctx context.Context, world, account, item string) (asks, bids []orderbook.Entry, err error)
}

// Server represents the API server
type Server struct {
	router       *gin.Engine
	logger       *zap.Logger
	bank         bookkeeper.BookkeeperService
	exchange     Exchange
	defaultWorld string
	timeout      time.Duration
}

// NewServer creates a new API server over the bank and the exchange.
func NewServer(logger *zap.Logger, bank bookkeeper.BookkeeperService, exchange Exchange, cfg *config.Config) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &Server{
		logger:       logger,
		bank:         bank,
		exchange:     exchange,
		defaultWorld: cfg.Exchange.DefaultWorld,
		timeout:      cfg.Exchange.TxTimeout,
	}

	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		if err := validation.Register(v); err != nil {
			logger.Error("Failed to register name validation", zap.Error(err))
		}
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(otelgin.Middleware("barterex-api"))

	origins := cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", RequestIDHeader},
		ExposeHeaders: []string{"Content-Length", RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}))
	router.Use(requestID(), server.deadline())

	server.router = router
	server.registerRoutes()
	return server
}

// Router returns the internal Gin engine
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	bank := s.router.Group("/bank")
	{
		bank.POST("/deposit", s.deposit)
		bank.POST("/withdraw", s.withdraw)
		bank.GET("/balance", s.balance)
	}

	public := s.router.Group("/api/v1")
	{
		public.GET("/metrics", gin.WrapH(promhttp.Handler()))
		public.GET("/health", s.healthCheck)

		public.POST("/trades", s.submitTrade)
		public.GET("/orders", s.listOrders)
		public.GET("/orders/:id", s.getOrder)
	}
}

// requestID echoes the caller's X-Request-ID or assigns a new one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// deadline bounds every unit of work a request starts.
func (s *Server) deadline() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.timeout <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) world(w string) string {
	if w == "" {
		return s.defaultWorld
	}
	return w
}
