package handler

import (
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/credit_go_server/config"
	"github.com/qs3c/credit_go_server/internal/pkg/catalog"
	"github.com/qs3c/credit_go_server/internal/pkg/response"
)

func TestPricingHandler_List(t *testing.T) {
	products, err := catalog.New(config.CatalogConfig{
		Subscriptions: map[string]config.SubscriptionPlanConfig{
			"monthly_basic": {PlanType: "basic", BillingCycle: "monthly", Price: 1000, Credits: 1500, ProductIDs: []string{"prod_old", "prod_basic"}},
			"monthly_pro":   {PlanType: "pro", BillingCycle: "monthly", Price: 5000, Credits: 12000},
		},
		CreditPacks: []config.CreditPackConfig{
			{ID: "mini_30d", Name: "mini", Price: 1000, Credits: 800, ValidDays: 30, ProductIDs: []string{"prod_mini"}},
		},
	})
	require.NoError(t, err)

	router := gin.New()
	router.GET("/pricing", NewPricingHandler(products).List)

	resp := parseResponse(t, performJSON(router, "GET", "/pricing", nil))
	require.Equal(t, response.CodeSuccess, resp.Code)
	data := dataMap(t, resp)

	subs, ok := data["subscriptions"].([]interface{})
	require.True(t, ok)
	require.Len(t, subs, 2)
	basic := subs[0].(map[string]interface{})
	assert.Equal(t, "monthly_basic", basic["sku"])
	assert.Equal(t, "prod_basic", basic["product_id"])
	assert.Equal(t, true, basic["available"])
	pro := subs[1].(map[string]interface{})
	assert.Equal(t, false, pro["available"])

	packs, ok := data["credit_packs"].([]interface{})
	require.True(t, ok)
	require.Len(t, packs, 1)
	mini := packs[0].(map[string]interface{})
	assert.Equal(t, float64(800), mini["credits"])
	assert.Equal(t, "prod_mini", mini["product_id"])
}
