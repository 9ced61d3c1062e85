package http

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/freshplate/wallet-service/internal/config"
	"github.com/freshplate/wallet-service/internal/service"
)

// NewRouter wires middleware and wallet handlers.
func NewRouter(svc *service.WalletService, cfg *config.Config, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware(log))
	r.Use(RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	RegisterHandlers(r, svc, cfg.Auth.JWTSecret, log)
	return r
}
