package httpserver

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"pkagent/internal/handler"
	"pkagent/pkg/metrics"
	"pkagent/pkg/otel"
	"pkagent/pkg/trace"
)

// Pinger 是存储层的就绪检查
type Pinger interface {
	Ping(ctx context.Context) error
}

// Connection 由 mq.Consumer 和 mq.Publisher 实现
type Connection interface {
	IsConnected() bool
}

type Deps struct {
	Goals  *handler.GoalHandler
	Admin  *handler.AdminHandler // nil 时不注册 /admin 路由（内存模式）
	Store  Pinger
	MQ     []Connection
	Logger *zap.Logger
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(traceMiddleware())
	r.Use(otel.GinMiddleware())
	r.Use(requestLog(d.Logger))

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(200)
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		if err := d.Store.Ping(ctx); err != nil {
			c.JSON(500, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}
		for _, conn := range d.MQ {
			if conn != nil && !conn.IsConnected() {
				c.JSON(500, gin.H{"status": "mq_not_ready"})
				return
			}
		}
		c.JSON(200, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/goals", d.Goals.CreateGoal)
	r.GET("/goals/:id", d.Goals.GetGoal)
	r.POST("/goals/:id/subtasks/:subtask_id/toggle", d.Goals.ToggleCompletion)
	r.GET("/subtasks", d.Goals.ListActiveSubtasks)
	r.POST("/subtasks/:id/check-ins", d.Goals.SubmitCheckIn)
	r.PATCH("/subtasks/:id/deadline", d.Goals.UpdateDeadline)

	if d.Admin != nil {
		admin := r.Group("/admin")
		admin.POST("/outbox/replay", d.Admin.ReplayOutboxEvent)
		admin.POST("/outbox/replay-failed", d.Admin.ReplayFailedEvents)
	}
	return r
}

// traceMiddleware 复用上游的 X-Trace-ID，没有则生成，并回写到响应头
func traceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if id := c.GetHeader(trace.HeaderName()); id != "" {
			ctx = trace.WithContext(ctx, id)
		}
		ctx = trace.Ensure(ctx)
		c.Request = c.Request.WithContext(ctx)
		c.Header(trace.HeaderName(), trace.FromContext(ctx))
		c.Next()
	}
}

func requestLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequestDuration(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), latency)
		if route == "/healthz" || route == "/metrics" {
			return
		}
		logger.Info("HTTP Request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
			zap.String("trace_id", trace.FromContext(c.Request.Context())),
		)
	}
}
