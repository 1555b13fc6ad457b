package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/qs3c/credit_go_server/internal/api/middleware"
	"github.com/qs3c/credit_go_server/internal/model/dto"
	"github.com/qs3c/credit_go_server/internal/pkg/response"
	"github.com/qs3c/credit_go_server/internal/service"
)

type CreditHandler struct {
	ledger *service.LedgerService
	log    zerolog.Logger
}

func NewCreditHandler(ledger *service.LedgerService, log zerolog.Logger) *CreditHandler {
	return &CreditHandler{
		ledger: ledger,
		log:    log,
	}
}

// GetBalance 获取可用积分余额
// GET /api/v1/credits/balance
func (h *CreditHandler) GetBalance(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	balance, err := h.ledger.AvailableBalance(c.Request.Context(), userID)
	if err != nil {
		h.serverError(c, err, "get balance failed")
		return
	}

	response.Success(c, dto.BalanceResponse{
		Balance:     balance,
		DailyIssued: middleware.DailyIssued(c),
	})
}

// Consume 消费积分
// POST /api/v1/credits/consume
func (h *CreditHandler) Consume(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.ConsumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	result, err := h.ledger.Consume(c.Request.Context(), userID, req.Amount, req.Note)
	if err != nil {
		h.ledgerError(c, err)
		return
	}

	response.Success(c, result)
}

// Refund 退还一笔消费
// POST /api/v1/credits/refund
func (h *CreditHandler) Refund(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	result, err := h.ledger.RefundForUser(c.Request.Context(), userID, req.TransactionID, req.Note)
	if err != nil {
		h.ledgerError(c, err)
		return
	}

	response.SuccessWithMessage(c, "退款成功", result)
}

// ListGrants 积分额度明细
// GET /api/v1/credits/grants
func (h *CreditHandler) ListGrants(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	grants, err := h.ledger.ListGrants(c.Request.Context(), userID)
	if err != nil {
		h.serverError(c, err, "list grants failed")
		return
	}

	response.Success(c, grants)
}

// ListTransactions 积分流水
// GET /api/v1/credits/transactions
func (h *CreditHandler) ListTransactions(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.TransactionListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	records, total, err := h.ledger.ListTransactions(c.Request.Context(), userID, &req)
	if err != nil {
		h.serverError(c, err, "list transactions failed")
		return
	}

	response.SuccessPage(c, total, req.Page, req.PageSize, records)
}

// GetStats 积分使用统计
// GET /api/v1/credits/stats
func (h *CreditHandler) GetStats(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	stats, err := h.ledger.UsageStats(c.Request.Context(), userID)
	if err != nil {
		h.serverError(c, err, "usage stats failed")
		return
	}

	response.Success(c, stats)
}

// GetTransaction 单条流水，仅限本人
// GET /api/v1/credits/transactions/:id
func (h *CreditHandler) GetTransaction(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, "无效的流水 ID")
		return
	}

	record, err := h.ledger.GetTransaction(c.Request.Context(), userID, id)
	if err != nil {
		h.ledgerError(c, err)
		return
	}

	response.Success(c, record)
}

func (h *CreditHandler) ledgerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrNotAConsumeTransaction),
		errors.Is(err, service.ErrInvalidRefundAmount):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrNoAvailableCredit),
		errors.Is(err, service.ErrInsufficientCredit):
		response.CreditError(c, err.Error())
	case errors.Is(err, service.ErrTransactionNotFound):
		response.NotFoundError(c, err.Error())
	case errors.Is(err, service.ErrAlreadyRefunded):
		response.DuplicateError(c, err.Error())
	case errors.Is(err, service.ErrConcurrentUpdate):
		response.ServerError(c, err.Error())
	default:
		h.serverError(c, err, "ledger operation failed")
	}
}

func (h *CreditHandler) serverError(c *gin.Context, err error, msg string) {
	h.log.Error().Err(err).Str("request_id", middleware.GetRequestID(c)).Msg(msg)
	response.ServerError(c, "")
}
