package api

import (
	"github.com/gin-gonic/gin"

	"github.com/ashkan-ph/pulse/internal/audit"
	"github.com/ashkan-ph/pulse/internal/auth"
	"github.com/ashkan-ph/pulse/internal/hub"
)

// Config wires the router's collaborators.
type Config struct {
	Handler   *Handler
	Hub       *hub.Hub
	Validator auth.Validator
}

// Auditor is the slice of the audit stream the API surface writes to.
type Auditor interface {
	Publish(e audit.Event)
}

// AuditedValidator wraps a token validator and records every failure
// on the audit stream before it propagates to the connection handler.
type AuditedValidator struct {
	Inner auth.Validator
	Audit Auditor
}

func (v AuditedValidator) Validate(token string) (auth.Identity, error) {
	identity, err := v.Inner.Validate(token)
	if err != nil {
		v.Audit.Publish(audit.Event{
			Type:   audit.EventAuthFailure,
			Detail: map[string]any{"reason": err.Error()},
		})
	}
	return identity, err
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(cfg *Config) *gin.Engine {
	router := gin.Default()

	router.GET("/healthz", cfg.Handler.Health)

	api := router.Group("/api/v1")
	{
		api.GET("/tickers", cfg.Handler.Tickers)
		api.GET("/tickers/:symbol", cfg.Handler.Ticker)
		api.GET("/orderbook/:symbol", cfg.Handler.OrderBook)
		api.GET("/candles/:symbol", cfg.Handler.Candles)
		api.GET("/pumps", cfg.Handler.Pumps)
		api.GET("/stats", cfg.Handler.Stats)
		api.DELETE("/cache", cfg.Handler.PurgeCache)
	}

	router.GET("/ws", gin.WrapF(cfg.Hub.Handler(cfg.Validator)))

	return router
}
