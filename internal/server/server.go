package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/tokenmeter/internal/apikey"
	apikeydomain "github.com/smallbiznis/tokenmeter/internal/apikey/domain"
	"github.com/smallbiznis/tokenmeter/internal/authorization"
	"github.com/smallbiznis/tokenmeter/internal/config"
	"github.com/smallbiznis/tokenmeter/internal/deposit"
	depositdomain "github.com/smallbiznis/tokenmeter/internal/deposit/domain"
	"github.com/smallbiznis/tokenmeter/internal/gateway"
	"github.com/smallbiznis/tokenmeter/internal/gatewayconfig"
	"github.com/smallbiznis/tokenmeter/internal/ledger"
	ledgerdomain "github.com/smallbiznis/tokenmeter/internal/ledger/domain"
	"github.com/smallbiznis/tokenmeter/internal/lock"
	"github.com/smallbiznis/tokenmeter/internal/observability"
	obslogger "github.com/smallbiznis/tokenmeter/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/tokenmeter/internal/observability/metrics"
	obstracing "github.com/smallbiznis/tokenmeter/internal/observability/tracing"
	"github.com/smallbiznis/tokenmeter/internal/proxy"
	proxydomain "github.com/smallbiznis/tokenmeter/internal/proxy/domain"
	"github.com/smallbiznis/tokenmeter/internal/usage"
	usagedomain "github.com/smallbiznis/tokenmeter/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	apikey.Module,
	ledger.Module,
	usage.Module,
	gatewayconfig.Module,
	gateway.Module,
	proxy.Module,
	lock.Module,
	deposit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
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

type Server struct {
	engine     *gin.Engine
	log        *zap.Logger
	genID      *snowflake.Node
	metering   *config.MeteringConfigHolder
	apiKeySvc  apikeydomain.Service
	authzSvc   authorization.Service
	ledgerSvc  ledgerdomain.Service
	usageSvc   usagedomain.Service
	proxySvc   proxydomain.Service
	depositSvc depositdomain.Service
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Log        *zap.Logger
	GenID      *snowflake.Node
	Metering   *config.MeteringConfigHolder
	APIKeySvc  apikeydomain.Service
	AuthzSvc   authorization.Service
	LedgerSvc  ledgerdomain.Service
	UsageSvc   usagedomain.Service
	ProxySvc   proxydomain.Service
	DepositSvc depositdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		log:        p.Log.Named("http.server"),
		genID:      p.GenID,
		metering:   p.Metering,
		apiKeySvc:  p.APIKeySvc,
		authzSvc:   p.AuthzSvc,
		ledgerSvc:  p.LedgerSvc,
		usageSvc:   p.UsageSvc,
		proxySvc:   p.ProxySvc,
		depositSvc: p.DepositSvc,
	}

	svc.registerProxyRoutes()
	svc.registerTokenRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerProxyRoutes() {
	call := s.engine.Group("", s.APIKeyRequired(), s.RequirePermission(authorization.ObjectProxy, authorization.ActionProxyCall))

	call.POST("/hooks/wake", s.Forward(proxydomain.OperationWake))
	call.POST("/hooks/agent", s.Forward(proxydomain.OperationAgent))
	call.POST("/hooks/:name", s.Forward(proxydomain.OperationHook))
	call.POST("/v1/responses", s.Forward(proxydomain.OperationResponses))
	call.POST("/tools/invoke", s.Forward(proxydomain.OperationToolsInvoke))
	call.POST("/v1/chat/completions", s.Forward(proxydomain.OperationChatCompletions))
}

func (s *Server) registerTokenRoutes() {
	tokens := s.engine.Group("/v1/tokens", s.APIKeyRequired())

	tokens.GET("/balance", s.RequirePermission(authorization.ObjectTokens, authorization.ActionTokensView), s.GetBalance)
	tokens.GET("/transactions", s.RequirePermission(authorization.ObjectTokens, authorization.ActionTokensView), s.ListTransactions)
	tokens.GET("/usage", s.RequirePermission(authorization.ObjectTokens, authorization.ActionTokensView), s.ListUsage)
	tokens.POST("/usage", s.RequirePermission(authorization.ObjectTokens, authorization.ActionTokensReport), s.ReportUsage)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", s.APIKeyRequired())

	admin.POST("/accounts", s.RequirePermission(authorization.ObjectAccount, authorization.ActionAccountsOpen), s.OpenAccount)
	admin.GET("/accounts/:id/balance", s.RequirePermission(authorization.ObjectAccount, authorization.ActionAccountsOpen), s.GetAccountBalance)
	admin.POST("/accounts/:id/adjustments", s.RequirePermission(authorization.ObjectLedger, authorization.ActionLedgerAdjust), s.AdjustBalance)
	admin.POST("/deposits/confirm", s.RequirePermission(authorization.ObjectDeposit, authorization.ActionDepositConfirm), s.ConfirmDeposit)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
