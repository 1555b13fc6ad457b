package api

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/qs3c/credit_go_server/config"
	"github.com/qs3c/credit_go_server/internal/api/handler"
	"github.com/qs3c/credit_go_server/internal/api/middleware"
)

type Router struct {
	creditHandler       *handler.CreditHandler
	subscriptionHandler *handler.SubscriptionHandler
	webhookHandler      *handler.WebhookHandler
	pricingHandler      *handler.PricingHandler
	websocketHandler    *handler.WebSocketHandler
	dailyCredit         middleware.DailyCreditIssuer
	cfg                 *config.Config
	log                 zerolog.Logger
}

func NewRouter(
	creditHandler *handler.CreditHandler,
	subscriptionHandler *handler.SubscriptionHandler,
	webhookHandler *handler.WebhookHandler,
	pricingHandler *handler.PricingHandler,
	websocketHandler *handler.WebSocketHandler,
	dailyCredit middleware.DailyCreditIssuer,
	cfg *config.Config,
	log zerolog.Logger,
) *Router {
	return &Router{
		creditHandler:       creditHandler,
		subscriptionHandler: subscriptionHandler,
		webhookHandler:      webhookHandler,
		pricingHandler:      pricingHandler,
		websocketHandler:    websocketHandler,
		dailyCredit:         dailyCredit,
		cfg:                 cfg,
		log:                 log,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.Logger(r.log))
	engine.Use(middleware.CORS(r.cfg.CORS))

	api := engine.Group("/api/v1")
	{
		// WebSocket
		api.GET("/ws", r.websocketHandler.Handle)

		// 公开接口
		api.GET("/pricing", r.pricingHandler.List)

		// 支付回调，靠签名校验
		webhooks := api.Group("/webhooks")
		{
			webhooks.POST("/creem", r.webhookHandler.Creem)
		}

		// 需要认证的接口
		authenticated := api.Group("")
		authenticated.Use(middleware.Auth(r.cfg.JWT.Secret, r.log))
		{
			credits := authenticated.Group("/credits")
			credits.Use(middleware.DailyCredit(r.dailyCredit, r.log))
			{
				credits.GET("/balance", r.creditHandler.GetBalance)
				credits.POST("/consume", r.creditHandler.Consume)
				credits.POST("/refund", r.creditHandler.Refund)
				credits.GET("/grants", r.creditHandler.ListGrants)
				credits.GET("/transactions", r.creditHandler.ListTransactions)
				credits.GET("/transactions/:id", r.creditHandler.GetTransaction)
				credits.GET("/stats", r.creditHandler.GetStats)
			}

			authenticated.GET("/subscription", r.subscriptionHandler.GetOverview)
		}
	}

	return engine
}
