package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/lanes/internal/audit"
	auditdomain "github.com/smallbiznis/lanes/internal/audit/domain"
	"github.com/smallbiznis/lanes/internal/catalog"
	catalogdomain "github.com/smallbiznis/lanes/internal/catalog/domain"
	"github.com/smallbiznis/lanes/internal/config"
	"github.com/smallbiznis/lanes/internal/ledger"
	ledgerdomain "github.com/smallbiznis/lanes/internal/ledger/domain"
	"github.com/smallbiznis/lanes/internal/notification"
	"github.com/smallbiznis/lanes/internal/observability"
	obsmiddleware "github.com/smallbiznis/lanes/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/lanes/internal/observability/metrics"
	obstracing "github.com/smallbiznis/lanes/internal/observability/tracing"
	"github.com/smallbiznis/lanes/internal/payment"
	paymentdomain "github.com/smallbiznis/lanes/internal/payment/domain"
	"github.com/smallbiznis/lanes/internal/ratelimit"
	"github.com/smallbiznis/lanes/internal/registration"
	registrationdomain "github.com/smallbiznis/lanes/internal/registration/domain"
	"github.com/smallbiznis/lanes/internal/tournament"
	tournamentdomain "github.com/smallbiznis/lanes/internal/tournament/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	audit.Module,
	tournament.Module,
	catalog.Module,
	ledger.Module,
	registration.Module,
	notification.Module,
	payment.Module,
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Provide(NewServer),
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

func registerGin(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
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
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	tournamentSvc   tournamentdomain.Service
	catalogSvc      catalogdomain.Service
	ledgerSvc       ledgerdomain.Service
	registrationSvc registrationdomain.Service
	paymentSvc      paymentdomain.Service
	webhookSvc      paymentdomain.WebhookService
	auditSvc        auditdomain.Service
	limiter         *ratelimit.PublicLimiter
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	TournamentSvc   tournamentdomain.Service
	CatalogSvc      catalogdomain.Service
	LedgerSvc       ledgerdomain.Service
	RegistrationSvc registrationdomain.Service
	PaymentSvc      paymentdomain.Service
	WebhookSvc      paymentdomain.WebhookService
	AuditSvc        auditdomain.Service
	Limiter         *ratelimit.PublicLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		tournamentSvc:   p.TournamentSvc,
		catalogSvc:      p.CatalogSvc,
		ledgerSvc:       p.LedgerSvc,
		registrationSvc: p.RegistrationSvc,
		paymentSvc:      p.PaymentSvc,
		webhookSvc:      p.WebhookSvc,
		auditSvc:        p.AuditSvc,
		limiter:         p.Limiter,
	}

	svc.registerWebhookRoutes()
	svc.registerDirectorRoutes()
	svc.registerPublicRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	hooks := s.engine.Group("/webhooks", ActorContext(auditdomain.ActorTypeProvider))
	hooks.POST("/:provider", s.HandlePaymentWebhook)
}

func (s *Server) registerDirectorRoutes() {
	api := s.engine.Group("/api", ActorContext(auditdomain.ActorTypeDirector))

	// -------- Tournaments --------
	api.POST("/tournaments", s.CreateTournament)
	api.POST("/tournaments/:tournament/transitions", s.TransitionTournament)
	api.PUT("/tournaments/:tournament/config", s.SetTournamentConfig)
	api.GET("/tournaments/:tournament/audit_logs", s.ListAuditLogs)

	// -------- Purchasable items --------
	api.POST("/tournaments/:tournament/items", s.CreateItem)
	api.PATCH("/items/:item", s.UpdateItemValue)

	// -------- Roster --------
	api.POST("/bowlers/:bowler/reassign", s.ReassignBowler)
	api.DELETE("/bowlers/:bowler", s.DestroyBowler)

	// -------- Free entries --------
	api.POST("/tournaments/:tournament/free_entries", s.CreateFreeEntry)
	api.POST("/free_entries/:code/link", s.LinkFreeEntry)
	api.POST("/free_entries/:code/confirm", s.ConfirmFreeEntry)
}

func (s *Server) registerPublicRoutes() {
	public := s.engine.Group("/public", ActorContext(auditdomain.ActorTypeBowler))

	public.GET("/tournaments/:tournament", s.GetTournament)
	public.GET("/tournaments/:tournament/items", s.ListItems)
	public.POST("/tournaments/:tournament/bowlers", s.PublicRateLimit("register"), s.RegisterBowler)
	public.POST("/tournaments/:tournament/teams", s.PublicRateLimit("register"), s.RegisterTeam)
	public.POST("/tournaments/:tournament/pairs", s.PublicRateLimit("register"), s.RegisterPair)

	public.GET("/bowlers/:bowler", s.GetBowler)
	public.GET("/teams/:team", s.GetTeam)
	public.POST("/bowlers/:bowler/checkout", s.PublicRateLimit("checkout"), s.StartCheckout)
}
