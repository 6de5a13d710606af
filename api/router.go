package api

import (
	"net/http"

	"market_sales/internal/deposits"
	"market_sales/internal/ledger"
	"market_sales/internal/sales"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Dependencies are the components the HTTP API is served from.
type Dependencies struct {
	Service  *sales.Service
	Funds    *ledger.Ledger
	Deposits *deposits.Ledger
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// InitRoutes registers the market endpoints on the given Gin engine.
func InitRoutes(e *gin.Engine, deps Dependencies) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	salesHandler := NewSalesHandler(deps.Service, deps.Funds, deps.Deposits, logger)

	e.POST("/approvals", salesHandler.handleApprove)

	e.GET("/sales", salesHandler.handleListSales)
	e.GET("/sales/:service/:asset", salesHandler.handleGetSale)
	e.PATCH("/sales/:service/:asset/price", salesHandler.handleUpdatePrice)
	e.POST("/sales/:service/:asset/bids", salesHandler.handlePlaceBid)
	e.POST("/sales/:service/:asset/buy", salesHandler.handleBuy)
	e.POST("/sales/:service/:asset/end", salesHandler.handleEndAuction)
	e.DELETE("/sales/:service/:asset", salesHandler.handleCancel)
	e.GET("/owners/:owner/sales", salesHandler.handleListSales)
	e.GET("/services/:service/sales", salesHandler.handleListSales)

	e.GET("/settlements/:token", salesHandler.handleGetSettlement)

	e.GET("/accounts/:account", salesHandler.handleGetAccount)
	e.POST("/accounts/:account/fund", salesHandler.handleFund)
	e.POST("/accounts/:account/storage-deposit", salesHandler.handleStorageDeposit)
	e.POST("/accounts/:account/storage-withdraw", salesHandler.handleStorageWithdraw)

	if deps.Gatherer != nil {
		e.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	e.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})
}
