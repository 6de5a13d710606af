package api

import (
	"errors"
	"net/http"
	"strconv"

	"market_sales/internal/deposits"
	"market_sales/internal/ledger"
	"market_sales/internal/sales"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	callerHeader = "X-Caller-ID"
	signerHeader = "X-Signer-ID"
)

// salesHandler holds the market service and implements HTTP handlers for it.
type salesHandler struct {
	salesService *sales.Service
	funds        *ledger.Ledger
	deposits     *deposits.Ledger
	logger       *zap.Logger
}

// NewSalesHandler creates a new sales handler.
func NewSalesHandler(salesService *sales.Service, funds *ledger.Ledger, deposits *deposits.Ledger, logger *zap.Logger) *salesHandler {
	return &salesHandler{
		salesService: salesService,
		funds:        funds,
		deposits:     deposits,
		logger:       logger,
	}
}

// SalesMetadata summarises a list of sales.
type SalesMetadata struct {
	Quantity   int          `json:"quantity"`
	Auctions   int          `json:"auctions"`
	FixedPrice int          `json:"fixed_price"`
	TotalPrice sales.Amount `json:"total_price"`
}

func summarize(list []*sales.Sale) SalesMetadata {
	var m SalesMetadata
	for _, sale := range list {
		m.Quantity++
		m.TotalPrice += sale.Price
		if sale.IsAuction() {
			m.Auctions++
		} else {
			m.FixedPrice++
		}
	}
	return m
}

// writeError maps market errors to HTTP statuses.
func (h *salesHandler) writeError(ctx *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, sales.ErrNotFound), errors.Is(err, sales.ErrUnknownSettlement):
		status = http.StatusNotFound
	case errors.Is(err, sales.ErrUnauthorized), errors.Is(err, sales.ErrUntrusted):
		status = http.StatusForbidden
	case errors.Is(err, sales.ErrInsufficientStorage), errors.Is(err, ledger.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	case errors.Is(err, sales.ErrAuctionNotOpen), errors.Is(err, sales.ErrTooEarly),
		errors.Is(err, sales.ErrAuctionOver), errors.Is(err, sales.ErrNotAuction),
		errors.Is(err, sales.ErrIsAuction):
		status = http.StatusConflict
	case errors.Is(err, sales.ErrInvalidAuctionWindow), errors.Is(err, sales.ErrSelfBid),
		errors.Is(err, sales.ErrBidTooLow), errors.Is(err, sales.ErrZeroDeposit),
		errors.Is(err, sales.ErrInsufficientDeposit), errors.Is(err, sales.ErrInvalidMessage),
		errors.Is(err, sales.ErrInvalidKey), errors.Is(err, ledger.ErrOverflow):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
		ctx.JSON(status, gin.H{"error": "internal error"})
		return
	}
	h.logger.Warn("request rejected", zap.String("path", ctx.FullPath()), zap.Error(err))
	ctx.JSON(status, gin.H{"error": err.Error()})
}

func (h *salesHandler) caller(ctx *gin.Context) (string, bool) {
	caller := ctx.GetHeader(callerHeader)
	if caller == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "missing " + callerHeader + " header"})
		return "", false
	}
	return caller, true
}

func (h *salesHandler) saleKey(ctx *gin.Context) (sales.Key, bool) {
	key, err := sales.NewKey(ctx.Param("service"), ctx.Param("asset"))
	if err != nil {
		h.writeError(ctx, err)
		return sales.Key{}, false
	}
	return key, true
}

func pageParams(ctx *gin.Context) (int, int, error) {
	from, limit := 0, 0
	var err error
	if v := ctx.Query("from_index"); v != "" {
		if from, err = strconv.Atoi(v); err != nil {
			return 0, 0, err
		}
	}
	if v := ctx.Query("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			return 0, 0, err
		}
	}
	return from, limit, nil
}

// handleApprove handles the POST /approvals endpoint, called by custody services.
func (h *salesHandler) handleApprove(ctx *gin.Context) {
	var req struct {
		AssetID            string `json:"asset_id"`
		Owner              string `json:"owner_id"`
		AuthorizationToken uint64 `json:"authorization_token"`
		Message            string `json:"msg"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("failed to bind JSON request", zap.Error(err))
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	caller, ok := h.caller(ctx)
	if !ok {
		return
	}

	sale, err := h.salesService.Approve(ctx.Request.Context(), sales.Approval{
		Caller:             caller,
		Signer:             ctx.GetHeader(signerHeader),
		AssetID:            req.AssetID,
		Owner:              req.Owner,
		AuthorizationToken: req.AuthorizationToken,
		Message:            req.Message,
	})
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, sale)
}

func (h *salesHandler) handleListSales(ctx *gin.Context) {
	from, limit, err := pageParams(ctx)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid pagination"})
		return
	}

	var list []*sales.Sale
	switch {
	case ctx.Param("owner") != "":
		list, err = h.salesService.SalesByOwner(ctx.Param("owner"), from, limit)
	case ctx.Param("service") != "":
		list, err = h.salesService.SalesByService(ctx.Param("service"), from, limit)
	default:
		list, err = h.salesService.Sales(from, limit)
	}
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"results": list, "metadata": summarize(list)})
}

func (h *salesHandler) handleGetSale(ctx *gin.Context) {
	key, ok := h.saleKey(ctx)
	if !ok {
		return
	}
	sale, err := h.salesService.Sale(key)
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, sale)
}

func (h *salesHandler) handleUpdatePrice(ctx *gin.Context) {
	var req struct {
		Price sales.Amount `json:"price"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	key, ok := h.saleKey(ctx)
	if !ok {
		return
	}
	caller, ok := h.caller(ctx)
	if !ok {
		return
	}

	sale, err := h.salesService.UpdatePrice(ctx.Request.Context(), key, caller, req.Price)
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, sale)
}

func (h *salesHandler) handlePlaceBid(ctx *gin.Context) {
	var req struct {
		Amount sales.Amount `json:"amount"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	key, ok := h.saleKey(ctx)
	if !ok {
		return
	}
	bidder, ok := h.caller(ctx)
	if !ok {
		return
	}

	sale, err := h.salesService.PlaceBid(ctx.Request.Context(), key, bidder, req.Amount)
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, sale)
}

func (h *salesHandler) handleBuy(ctx *gin.Context) {
	var req struct {
		Deposit sales.Amount `json:"deposit"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	key, ok := h.saleKey(ctx)
	if !ok {
		return
	}
	buyer, ok := h.caller(ctx)
	if !ok {
		return
	}

	res, err := h.salesService.Buy(ctx.Request.Context(), key, buyer, req.Deposit)
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusAccepted, res)
}

func (h *salesHandler) handleEndAuction(ctx *gin.Context) {
	key, ok := h.saleKey(ctx)
	if !ok {
		return
	}
	res, err := h.salesService.EndAuction(ctx.Request.Context(), key)
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	if res == nil {
		ctx.JSON(http.StatusOK, gin.H{"key": key, "status": "removed"})
		return
	}
	ctx.JSON(http.StatusAccepted, res)
}

func (h *salesHandler) handleCancel(ctx *gin.Context) {
	key, ok := h.saleKey(ctx)
	if !ok {
		return
	}
	caller, ok := h.caller(ctx)
	if !ok {
		return
	}
	sale, err := h.salesService.Cancel(ctx.Request.Context(), key, caller)
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, sale)
}

func (h *salesHandler) handleGetSettlement(ctx *gin.Context) {
	res, err := h.salesService.Settlement(ctx.Param("token"))
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, res)
}

func (h *salesHandler) handleFund(ctx *gin.Context) {
	var req struct {
		Amount sales.Amount `json:"amount"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	account := ctx.Param("account")
	balance, err := h.funds.Fund(account, req.Amount)
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"account": account, "balance": balance})
}

func (h *salesHandler) handleStorageDeposit(ctx *gin.Context) {
	var req struct {
		Amount sales.Amount `json:"amount"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	account := ctx.Param("account")
	total := h.deposits.Deposit(account, req.Amount)
	ctx.JSON(http.StatusOK, gin.H{"account": account, "storage_deposit": total})
}

func (h *salesHandler) handleStorageWithdraw(ctx *gin.Context) {
	account := ctx.Param("account")
	released := h.salesService.WithdrawStorage(account)
	ctx.JSON(http.StatusOK, gin.H{"account": account, "released": released})
}

func (h *salesHandler) handleGetAccount(ctx *gin.Context) {
	account := ctx.Param("account")
	ctx.JSON(http.StatusOK, gin.H{
		"account":         account,
		"balance":         h.funds.Balance(account),
		"storage_deposit": h.deposits.DepositedAmount(account),
		"listings":        h.deposits.ListingCount(account),
	})
}
