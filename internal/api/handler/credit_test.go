package handler

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/credit_go_server/config"
	"github.com/qs3c/credit_go_server/internal/api/middleware"
	"github.com/qs3c/credit_go_server/internal/pkg/logger"
	"github.com/qs3c/credit_go_server/internal/pkg/response"
	"github.com/qs3c/credit_go_server/internal/repository"
	"github.com/qs3c/credit_go_server/internal/service"
	"github.com/qs3c/credit_go_server/internal/testutil"
)

func setupCreditHandler(t *testing.T) (*CreditHandler, *service.DailyCreditService, *testContext, func()) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	creditRepo := repository.NewCreditRepository(db)
	ledger := service.NewLedgerService(db, creditRepo, repository.NewCreditTransactionRepository(db), logger.Nop())
	daily := service.NewDailyCreditService(
		creditRepo,
		repository.NewUserRepository(db),
		ledger,
		&config.Config{Credit: config.CreditConfig{DailyFreeAmount: 10}},
		logger.Nop(),
	)

	ctx := &testContext{DB: db}
	cleanup := func() {
		testutil.CleanupTestDB(t, db)
	}
	return NewCreditHandler(ledger, logger.Nop()), daily, ctx, cleanup
}

func newCreditRouter(h *CreditHandler, daily *service.DailyCreditService, userID int64) *gin.Engine {
	router := gin.New()
	group := router.Group("/credits")
	group.Use(mockAuth(userID), middleware.DailyCredit(daily, logger.Nop()))
	group.GET("/balance", h.GetBalance)
	group.POST("/consume", h.Consume)
	group.POST("/refund", h.Refund)
	group.GET("/grants", h.ListGrants)
	group.GET("/transactions", h.ListTransactions)
	group.GET("/transactions/:id", h.GetTransaction)
	group.GET("/stats", h.GetStats)
	return router
}

func dataMap(t *testing.T, resp response.Response) map[string]interface{} {
	t.Helper()
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "data should be an object")
	return data
}

func TestCreditHandler_GetBalance_IssuesDailyCredit(t *testing.T) {
	handler, daily, ctx, cleanup := setupCreditHandler(t)
	defer cleanup()

	user := testutil.TestUser(t, ctx.DB)
	router := newCreditRouter(handler, daily, user.ID)

	w := performJSON(router, "GET", "/credits/balance", nil)
	resp := parseResponse(t, w)
	assert.Equal(t, response.CodeSuccess, resp.Code)
	data := dataMap(t, resp)
	assert.Equal(t, float64(10), data["balance"])
	assert.Equal(t, true, data["daily_issued"])

	w = performJSON(router, "GET", "/credits/balance", nil)
	data = dataMap(t, parseResponse(t, w))
	assert.Equal(t, float64(10), data["balance"])
	assert.Equal(t, false, data["daily_issued"])
}

func TestCreditHandler_ConsumeAndRefund(t *testing.T) {
	handler, daily, ctx, cleanup := setupCreditHandler(t)
	defer cleanup()

	user := testutil.TestUser(t, ctx.DB, testutil.WithUserType("basic"))
	testutil.TestGrant(t, ctx.DB, user.ID, 100)
	router := newCreditRouter(handler, daily, user.ID)

	w := performJSON(router, "POST", "/credits/consume", map[string]interface{}{"amount": 30, "note": "render"})
	resp := parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)
	data := dataMap(t, resp)
	assert.Equal(t, float64(70), data["balance"])
	txID := int64(data["transaction_id"].(float64))

	w = performJSON(router, "GET", fmt.Sprintf("/credits/transactions/%d", txID), nil)
	detail := dataMap(t, parseResponse(t, w))
	assert.Equal(t, float64(-30), detail["amount"])

	w = performJSON(router, "POST", "/credits/refund", map[string]interface{}{"transaction_id": txID})
	resp = parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)
	assert.Equal(t, float64(100), dataMap(t, resp)["balance"])

	w = performJSON(router, "POST", "/credits/refund", map[string]interface{}{"transaction_id": txID})
	assert.Equal(t, response.CodeDuplicateAction, parseResponse(t, w).Code)
}

func TestCreditHandler_Consume_Errors(t *testing.T) {
	handler, daily, ctx, cleanup := setupCreditHandler(t)
	defer cleanup()

	user := testutil.TestUser(t, ctx.DB, testutil.WithUserType("pro"))
	router := newCreditRouter(handler, daily, user.ID)

	tests := []struct {
		name     string
		body     interface{}
		wantCode int
	}{
		{"missing amount", map[string]interface{}{}, response.CodeParamError},
		{"negative amount", map[string]interface{}{"amount": -1}, response.CodeParamError},
		{"no credit", map[string]interface{}{"amount": 5}, response.CodeCreditShortage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := performJSON(router, "POST", "/credits/consume", tt.body)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.wantCode, parseResponse(t, w).Code)
		})
	}

	testutil.TestGrant(t, ctx.DB, user.ID, 3)
	w := performJSON(router, "POST", "/credits/consume", map[string]interface{}{"amount": 5})
	assert.Equal(t, response.CodeCreditShortage, parseResponse(t, w).Code)
}

func TestCreditHandler_Refund_OtherUser(t *testing.T) {
	handler, daily, ctx, cleanup := setupCreditHandler(t)
	defer cleanup()

	owner := testutil.TestUser(t, ctx.DB, testutil.WithUserType("basic"))
	intruder := testutil.TestUser(t, ctx.DB, testutil.WithUserType("basic"))
	testutil.TestGrant(t, ctx.DB, owner.ID, 50)

	w := performJSON(newCreditRouter(handler, daily, owner.ID), "POST", "/credits/consume", map[string]interface{}{"amount": 10})
	txID := dataMap(t, parseResponse(t, w))["transaction_id"]

	w = performJSON(newCreditRouter(handler, daily, intruder.ID), "POST", "/credits/refund", map[string]interface{}{"transaction_id": txID})
	assert.Equal(t, response.CodeResourceNotFound, parseResponse(t, w).Code)
}

func TestCreditHandler_ListsAndStats(t *testing.T) {
	handler, daily, ctx, cleanup := setupCreditHandler(t)
	defer cleanup()

	user := testutil.TestUser(t, ctx.DB, testutil.WithUserType("basic"))
	testutil.TestGrant(t, ctx.DB, user.ID, 100)
	router := newCreditRouter(handler, daily, user.ID)

	for _, amount := range []int{10, 20, 30} {
		w := performJSON(router, "POST", "/credits/consume", map[string]interface{}{"amount": amount})
		require.Equal(t, response.CodeSuccess, parseResponse(t, w).Code)
	}

	w := performJSON(router, "GET", "/credits/transactions?page=1&page_size=2", nil)
	page := dataMap(t, parseResponse(t, w))
	assert.Equal(t, float64(3), page["total"])
	assert.Len(t, page["items"], 2)

	w = performJSON(router, "GET", "/credits/grants", nil)
	grants, ok := parseResponse(t, w).Data.([]interface{})
	require.True(t, ok)
	require.Len(t, grants, 1)
	assert.Equal(t, float64(40), grants[0].(map[string]interface{})["remaining"])

	w = performJSON(router, "GET", "/credits/stats", nil)
	stats := dataMap(t, parseResponse(t, w))
	assert.Equal(t, float64(60), stats["total_consumed"])
	assert.Equal(t, float64(3), stats["total_records"])
	assert.Equal(t, float64(20), stats["avg_per_record"])
}

func TestCreditHandler_Unauthorized(t *testing.T) {
	handler, _, _, cleanup := setupCreditHandler(t)
	defer cleanup()

	router := gin.New()
	router.GET("/balance", handler.GetBalance)

	w := performJSON(router, "GET", "/balance", nil)
	assert.Equal(t, response.CodeAuthFailed, parseResponse(t, w).Code)
}
