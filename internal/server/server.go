package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/creditmeter/internal/authorization"
	"github.com/smallbiznis/creditmeter/internal/clock"
	"github.com/smallbiznis/creditmeter/internal/config"
	"github.com/smallbiznis/creditmeter/internal/customer"
	"github.com/smallbiznis/creditmeter/internal/metering"
	"github.com/smallbiznis/creditmeter/internal/observability"
	obsmiddleware "github.com/smallbiznis/creditmeter/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/creditmeter/internal/observability/metrics"
	obstracing "github.com/smallbiznis/creditmeter/internal/observability/tracing"
	"github.com/smallbiznis/creditmeter/internal/payment"
	paymentdomain "github.com/smallbiznis/creditmeter/internal/payment/domain"
	"github.com/smallbiznis/creditmeter/internal/quota"
	"github.com/smallbiznis/creditmeter/internal/ratelimit"
	"github.com/smallbiznis/creditmeter/internal/subscription"
	subscriptiondomain "github.com/smallbiznis/creditmeter/internal/subscription/domain"
	"github.com/smallbiznis/creditmeter/internal/usage"
	usagedomain "github.com/smallbiznis/creditmeter/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	authorization.Module,
	ratelimit.Module,
	customer.Module,
	subscription.Module,
	usage.Module,
	quota.Module,
	metering.Module,
	payment.Module,
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type ServerParams struct {
	fx.In

	Engine        *gin.Engine
	Log           *zap.Logger
	Authz         authorization.Service
	Clock         clock.Clock
	Subscriptions subscriptiondomain.Service
	Usage         usagedomain.Service
	Metering      *metering.Engine
	Checkout      paymentdomain.CheckoutService
	Webhooks      paymentdomain.Service
}

type Server struct {
	engine        *gin.Engine
	log           *zap.Logger
	authz         authorization.Service
	clock         clock.Clock
	subscriptions subscriptiondomain.Service
	usage         usagedomain.Service
	metering      *metering.Engine
	checkout      paymentdomain.CheckoutService
	webhooks      paymentdomain.Service
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:        p.Engine,
		log:           p.Log.Named("http.server"),
		authz:         p.Authz,
		clock:         p.Clock,
		subscriptions: p.Subscriptions,
		usage:         p.Usage,
		metering:      p.Metering,
		checkout:      p.Checkout,
		webhooks:      p.Webhooks,
	}
}

func (s *Server) RegisterRoutes() {
	v1 := s.engine.Group("/v1")

	billing := v1.Group("/billing")
	billing.GET("/tiers", s.ListTiers)

	user := billing.Group("", s.RequireUser())
	user.GET("/subscription", s.GetSubscription)
	user.POST("/subscription", s.Subscribe)
	user.DELETE("/subscription", s.CancelSubscription)
	user.POST("/setup-intent", s.CreateSetupIntent)
	user.GET("/payment-methods", s.ListPaymentMethods)
	user.POST("/authorize", s.Authorize)
	user.POST("/usage", s.RecordUsage)
	user.GET("/usage/current", s.GetCurrentUsage)
	user.GET("/usage/:year/:month", s.GetMonthlyUsage)

	admin := v1.Group("/admin", s.RequireUser())
	admin.GET("/usage/summary", s.RequireRole(authorization.ObjectUsageSummary), s.GetUsageSummary)
	admin.GET("/users/:user_id/usage", s.RequireRole(authorization.ObjectUserUsage), s.GetUserUsage)

	s.engine.POST("/webhooks/:provider", s.HandlePaymentWebhook)
}
