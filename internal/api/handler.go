// Package api exposes the read surface over the market cache plus the
// WebSocket endpoint. Handlers validate input, translate the error
// taxonomy to JSON and never reach upstream except on a cache miss.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ashkan-ph/pulse/internal/audit"
	"github.com/ashkan-ph/pulse/internal/exchange"
	"github.com/ashkan-ph/pulse/internal/hub"
	"github.com/ashkan-ph/pulse/internal/model"
	"github.com/ashkan-ph/pulse/internal/store"
)

const (
	defaultDepth  = 20
	maxDepth      = 100
	defaultLimit  = 100
	maxLimit      = 1000
	pingTimeout   = 2 * time.Second
	maxSymbolSize = 20
)

var validIntervals = map[string]bool{
	"1m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "4h": true, "1d": true,
}

// PumpSource reports live pump events.
type PumpSource interface {
	Pumps() map[string]model.PumpEvent
}

// Runner reports distribution loop state.
type Runner interface {
	IsRunning() bool
	Cycles() uint64
	Skipped() uint64
}

// HandlerConfig carries the collaborators the handlers read from.
type HandlerConfig struct {
	Cache       *store.MarketCache
	Store       store.Store
	Exchanges   []exchange.Exchange
	Pumps       PumpSource
	Hub         *hub.Hub
	Distributor Runner
	Audit       *audit.Publisher
	Logger      *slog.Logger
}

// Handler serves the REST endpoints.
type Handler struct {
	cache       *store.MarketCache
	store       store.Store
	exchanges   map[string]exchange.Exchange
	primary     exchange.Exchange
	pumps       PumpSource
	hub         *hub.Hub
	distributor Runner
	audit       *audit.Publisher
	logger      *slog.Logger
	started     time.Time
}

func NewHandler(cfg HandlerConfig) *Handler {
	byName := make(map[string]exchange.Exchange, len(cfg.Exchanges))
	for _, ex := range cfg.Exchanges {
		byName[ex.Name()] = ex
	}

	h := &Handler{
		cache:       cfg.Cache,
		store:       cfg.Store,
		exchanges:   byName,
		pumps:       cfg.Pumps,
		hub:         cfg.Hub,
		distributor: cfg.Distributor,
		audit:       cfg.Audit,
		logger:      cfg.Logger.With("component", "api"),
		started:     time.Now(),
	}
	if len(cfg.Exchanges) > 0 {
		h.primary = cfg.Exchanges[0]
	}
	return h
}

// Health reports process and cache backend liveness.
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
	defer cancel()

	status := http.StatusOK
	state := "ok"
	cacheState := "up"
	if err := h.store.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		state = "degraded"
		cacheState = "down"
	}

	c.JSON(status, gin.H{
		"status":         state,
		"cache":          cacheState,
		"uptime_seconds": int(time.Since(h.started).Seconds()),
	})
}

// Tickers returns the full aggregated map from the cache.
func (h *Handler) Tickers(c *gin.Context) {
	tickers, err := h.cache.GetTickers(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(tickers), "tickers": tickers})
}

// Ticker returns one aggregated symbol; a miss is 404.
func (h *Handler) Ticker(c *gin.Context) {
	symbol, ok := h.symbolParam(c)
	if !ok {
		return
	}

	ticker, err := h.cache.GetTicker(c.Request.Context(), symbol)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ticker)
}

// OrderBook serves the cached book when fresh, otherwise fetches from
// the requested source and caches the result.
func (h *Handler) OrderBook(c *gin.Context) {
	symbol, ok := h.symbolParam(c)
	if !ok {
		return
	}
	depth, ok := h.boundedQuery(c, "depth", defaultDepth, maxDepth)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	book, err := h.cache.GetOrderBook(ctx, symbol, depth)
	if err == nil {
		c.JSON(http.StatusOK, book)
		return
	}
	if !errors.Is(err, store.ErrCacheMiss) {
		h.fail(c, err)
		return
	}

	ex, ok := h.source(c)
	if !ok {
		return
	}
	book, err = ex.GetOrderBook(ctx, symbol, depth)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.cache.SetOrderBook(ctx, book, depth); err != nil {
		h.logger.Error("Caching order book failed", "symbol", symbol, "error", err)
	}
	c.JSON(http.StatusOK, book)
}

// Candles serves cached candles, falling back to the source on a miss.
func (h *Handler) Candles(c *gin.Context) {
	symbol, ok := h.symbolParam(c)
	if !ok {
		return
	}
	interval := c.DefaultQuery("interval", "1h")
	if !validIntervals[interval] {
		errorResponse(c, http.StatusBadRequest, "INVALID_ARGUMENT", "unsupported interval")
		return
	}
	limit, ok := h.boundedQuery(c, "limit", defaultLimit, maxLimit)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	candles, err := h.cache.GetCandles(ctx, symbol, interval)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"symbol": symbol, "interval": interval, "candles": candles})
		return
	}
	if !errors.Is(err, store.ErrCacheMiss) {
		h.fail(c, err)
		return
	}

	ex, ok := h.source(c)
	if !ok {
		return
	}
	candles, err = ex.GetCandles(ctx, symbol, interval, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.cache.SetCandles(ctx, symbol, interval, candles); err != nil {
		h.logger.Error("Caching candles failed", "symbol", symbol, "error", err)
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "interval": interval, "candles": candles})
}

// Pumps returns live detector events plus the recently cached map.
func (h *Handler) Pumps(c *gin.Context) {
	recent, err := h.cache.GetPumps(c.Request.Context())
	if err != nil {
		h.logger.Error("Reading cached pumps failed", "error", err)
		recent = map[string]model.PumpEvent{}
	}
	c.JSON(http.StatusOK, gin.H{
		"live":   h.pumps.Pumps(),
		"recent": recent,
	})
}

// Stats reports hub and distribution loop counters.
func (h *Handler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connections": h.hub.ClientCount(),
		"channels":    h.hub.Stats(),
		"distributor": gin.H{
			"running": h.distributor.IsRunning(),
			"cycles":  h.distributor.Cycles(),
			"skipped": h.distributor.Skipped(),
		},
		"audit_dropped": h.audit.Dropped(),
	})
}

// PurgeCache drops every cached market key. Operational endpoint.
func (h *Handler) PurgeCache(c *gin.Context) {
	if err := h.cache.Purge(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Warn("Cache purged")
	c.JSON(http.StatusOK, gin.H{"status": "purged"})
}

func (h *Handler) symbolParam(c *gin.Context) (string, bool) {
	symbol := strings.ToUpper(c.Param("symbol"))
	if !validSymbol(symbol) {
		errorResponse(c, http.StatusBadRequest, "INVALID_ARGUMENT", "symbol must be 1-20 uppercase letters or digits")
		return "", false
	}
	return symbol, true
}

func (h *Handler) boundedQuery(c *gin.Context, name string, fallback, max int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 || value > max {
		errorResponse(c, http.StatusBadRequest, "INVALID_ARGUMENT", name+" must be between 1 and "+strconv.Itoa(max))
		return 0, false
	}
	return value, true
}

// source resolves the exchange for a cache-aside fetch: an explicit
// ?source= wins, otherwise the first registered adapter.
func (h *Handler) source(c *gin.Context) (exchange.Exchange, bool) {
	if name := c.Query("source"); name != "" {
		ex, ok := h.exchanges[name]
		if !ok {
			errorResponse(c, http.StatusBadRequest, "INVALID_ARGUMENT", "unknown source "+name)
			return nil, false
		}
		return ex, true
	}
	if h.primary == nil {
		errorResponse(c, http.StatusNotFound, "NOT_FOUND", "no cached data and no source configured")
		return nil, false
	}
	return h.primary, true
}

func validSymbol(symbol string) bool {
	if len(symbol) == 0 || len(symbol) > maxSymbolSize {
		return false
	}
	for _, r := range symbol {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func (h *Handler) fail(c *gin.Context, err error) {
	var upstream *exchange.UpstreamError
	switch {
	case errors.Is(err, exchange.ErrInvalidArgument):
		errorResponse(c, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
	case errors.Is(err, store.ErrCacheMiss):
		errorResponse(c, http.StatusNotFound, "NOT_FOUND", "no data for the requested key")
	case errors.Is(err, exchange.ErrUpstreamTimeout):
		errorResponse(c, http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT", err.Error())
	case errors.As(err, &upstream), errors.Is(err, exchange.ErrUpstreamProtocol):
		errorResponse(c, http.StatusBadGateway, "UPSTREAM_ERROR", err.Error())
	default:
		h.logger.Error("Request failed", "path", c.FullPath(), "error", err)
		errorResponse(c, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

func errorResponse(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}
