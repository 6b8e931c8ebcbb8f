package router

import (
	"context"
	"time"

	"competence-bank/internal/api/handler"
	"competence-bank/internal/logger"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/cloudwego/hertz/pkg/route"
	"github.com/google/uuid"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
)

// HeaderRequestID 请求ID头，客户端传入时沿用
const HeaderRequestID = "X-Request-ID"

// Handlers 需要注册的全部接口
type Handlers struct {
	Competence *handler.CompetenceHandler
	CV         *handler.CVHandler
	Optimize   *handler.OptimizeHandler
	// Health 为空时健康检查总是返回ok
	Health func(ctx context.Context) error
}

// NewServer 创建带链路追踪的 hertz 服务并注册路由
func NewServer(addr string, maxBodyBytes int, hs Handlers) *server.Hertz {
	tracer, tracingCfg := hertztracing.NewServerTracer()
	h := server.New(
		server.WithHostPorts(addr),
		server.WithHandleMethodNotAllowed(true),
		server.WithMaxRequestBodySize(maxBodyBytes),
		server.WithExitWaitTime(5*time.Second),
		tracer,
	)
	h.Use(hertztracing.ServerMiddleware(tracingCfg))
	RegisterRoutes(h.Engine, hs)
	return h
}

// RegisterRoutes 注册中间件与 API 路由
func RegisterRoutes(r *route.Engine, hs Handlers) {
	r.Use(RequestID(), AccessLog())

	r.GET("/health", func(ctx context.Context, c *app.RequestContext) {
		if hs.Health != nil {
			if err := hs.Health(ctx); err != nil {
				c.JSON(consts.StatusServiceUnavailable, utils.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})

	api := r.Group("/api/v1")

	if ch := hs.Competence; ch != nil {
		g := api.Group("/competence")
		g.POST("/merge/:cv_id", ch.MergeCV)
		g.POST("/merge-all", ch.MergeAll)
		g.POST("/rebuild", ch.Rebuild)
		g.DELETE("", ch.Clear)
		g.GET("/stats", ch.Stats)

		g.GET("/skills", ch.ListSkills)
		g.POST("/skills", ch.AddSkill)
		g.DELETE("/skills/:id", ch.DeleteSkill)

		g.GET("/experiences", ch.ListExperiences)
		g.POST("/experiences/merge", ch.MergeExperiences)
		g.DELETE("/experiences/:id", ch.DeleteExperience)
		g.GET("/experiences/:id/evidence", ch.Evidence)
		g.POST("/experiences/:id/achievements", ch.AddAchievement)
		g.PUT("/experiences/:id/achievements/:index", ch.UpdateAchievement)
		g.DELETE("/experiences/:id/achievements/:index", ch.DeleteAchievement)
		g.POST("/experiences/:id/related-skills", ch.AddRelatedSkill)
		g.DELETE("/experiences/:id/related-skills/:index", ch.RemoveRelatedSkill)
	}

	if cv := hs.CV; cv != nil {
		g := api.Group("/cv")
		g.POST("/upload", cv.Upload)
		g.GET("", cv.List)
		g.GET("/:id", cv.Get)
		g.PATCH("/:id", cv.UpdateTitle)
		g.DELETE("/:id", cv.Delete)
		if hs.Optimize != nil {
			g.GET("/:id/optimized", hs.Optimize.ListForCV)
		}
	}

	if opt := hs.Optimize; opt != nil {
		api.POST("/optimize/:cv_id", opt.Optimize)
		api.GET("/optimize/:id", opt.Get)
	}
}

// RequestID 给每个请求分配ID并放进日志上下文
func RequestID() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		id := string(c.GetHeader(HeaderRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Response.Header.Set(HeaderRequestID, id)
		c.Next(logger.WithRequestID(ctx, id))
	}
}

// AccessLog 请求结束后记录一行访问日志
func AccessLog() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		start := time.Now()
		c.Next(ctx)
		hlog.CtxInfof(ctx, "%s %s -> %d (%s)", c.Method(), c.Path(), c.Response.StatusCode(), time.Since(start))
	}
}
