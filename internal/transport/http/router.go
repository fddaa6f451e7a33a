package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/richardliu001/prediction-tournament/internal/config"
	"github.com/richardliu001/prediction-tournament/internal/service"
	"go.uber.org/zap"
)

// Services are the application services exposed over HTTP.
type Services struct {
	Wallet     *service.WalletService
	Funding    *service.FundingService
	Tournament *service.TournamentService
}

func NewRouter(svc Services, rl config.RateLimitConfig, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware(log))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.Use(RateLimitMiddleware(rl.RPS, rl.Burst))
	h := &handler{svc: svc, log: log}
	h.registerUser(v1.Group("", requireHeader(headerUserID, ctxUserID)))
	h.registerAdmin(v1.Group("/admin", requireHeader(headerAdminID, ctxAdminID)))
	return r
}
