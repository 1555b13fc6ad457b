package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/credit_go_server/internal/pkg/catalog"
	"github.com/qs3c/credit_go_server/internal/pkg/response"
)

type PricingHandler struct {
	catalog *catalog.Catalog
}

func NewPricingHandler(catalog *catalog.Catalog) *PricingHandler {
	return &PricingHandler{catalog: catalog}
}

// List 订阅套餐与积分包，附带当前用于下单的产品 ID
// GET /api/v1/pricing
func (h *PricingHandler) List(c *gin.Context) {
	plans := h.catalog.Plans()
	subscriptions := make([]map[string]interface{}, len(plans))
	for i, p := range plans {
		productID := h.catalog.LatestProductID(p.SKU)
		subscriptions[i] = map[string]interface{}{
			"sku":           p.SKU,
			"plan_type":     p.PlanType,
			"billing_cycle": p.BillingCycle,
			"price":         p.Price,
			"credits":       p.Credits,
			"period_months": p.PeriodMonths,
			"product_id":    productID,
			"available":     productID != "",
		}
	}

	packs := h.catalog.CreditPacks()
	creditPacks := make([]map[string]interface{}, len(packs))
	for i, p := range packs {
		productID := h.catalog.LatestProductID(p.ID)
		creditPacks[i] = map[string]interface{}{
			"id":         p.ID,
			"name":       p.Name,
			"price":      p.Price,
			"credits":    p.Credits,
			"valid_days": p.ValidDays,
			"product_id": productID,
			"available":  productID != "",
		}
	}

	response.Success(c, gin.H{
		"subscriptions": subscriptions,
		"credit_packs":  creditPacks,
	})
}
