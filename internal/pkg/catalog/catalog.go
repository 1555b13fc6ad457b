package catalog

import (
	"fmt"
	"sort"

	"github.com/qs3c/credit_go_server/config"
)

// Plan 订阅 SKU
type Plan struct {
	SKU          string // monthly_basic
	PlanType     string // basic
	BillingCycle string
	Price        int64
	Credits      int64
	PeriodMonths int
}

// CreditPack 积分包
type CreditPack struct {
	ID        string
	Name      string
	Price     int64
	Credits   int64
	ValidDays int
}

// Catalog 支付平台产品 ID 到 SKU 的反查表
type Catalog struct {
	plans      map[string]*Plan
	planByPID  map[string]*Plan
	packs      map[string]*CreditPack
	packByPID  map[string]*CreditPack
	latestPlan map[string]string
	latestPack map[string]string
}

// New 从配置构建目录，同一个产品 ID 重复绑定时报错
func New(cfg config.CatalogConfig) (*Catalog, error) {
	c := &Catalog{
		plans:      make(map[string]*Plan),
		planByPID:  make(map[string]*Plan),
		packs:      make(map[string]*CreditPack),
		packByPID:  make(map[string]*CreditPack),
		latestPlan: make(map[string]string),
		latestPack: make(map[string]string),
	}
	seen := make(map[string]string)

	skus := make([]string, 0, len(cfg.Subscriptions))
	for sku := range cfg.Subscriptions {
		skus = append(skus, sku)
	}
	sort.Strings(skus)

	for _, sku := range skus {
		pc := cfg.Subscriptions[sku]
		if pc.PlanType == "" {
			return nil, fmt.Errorf("catalog: subscription %s has no plan_type", sku)
		}
		periodMonths := pc.PeriodMonths
		if periodMonths <= 0 {
			periodMonths = 1
		}
		plan := &Plan{
			SKU:          sku,
			PlanType:     pc.PlanType,
			BillingCycle: pc.BillingCycle,
			Price:        pc.Price,
			Credits:      pc.Credits,
			PeriodMonths: periodMonths,
		}
		c.plans[sku] = plan
		for _, pid := range pc.ProductIDs {
			if pid == "" {
				continue
			}
			if owner, ok := seen[pid]; ok {
				return nil, fmt.Errorf("catalog: product %s bound to both %s and %s", pid, owner, sku)
			}
			seen[pid] = sku
			c.planByPID[pid] = plan
			c.latestPlan[sku] = pid
		}
	}

	for i := range cfg.CreditPacks {
		pc := cfg.CreditPacks[i]
		if pc.ID == "" {
			return nil, fmt.Errorf("catalog: credit pack #%d has no id", i)
		}
		pack := &CreditPack{
			ID:        pc.ID,
			Name:      pc.Name,
			Price:     pc.Price,
			Credits:   pc.Credits,
			ValidDays: pc.ValidDays,
		}
		c.packs[pc.ID] = pack
		for _, pid := range pc.ProductIDs {
			if pid == "" {
				continue
			}
			if owner, ok := seen[pid]; ok {
				return nil, fmt.Errorf("catalog: product %s bound to both %s and %s", pid, owner, pc.ID)
			}
			seen[pid] = pc.ID
			c.packByPID[pid] = pack
			c.latestPack[pc.ID] = pid
		}
	}

	return c, nil
}

// PlanByProductID 按支付平台产品 ID 查找订阅 SKU
func (c *Catalog) PlanByProductID(productID string) (*Plan, bool) {
	p, ok := c.planByPID[productID]
	return p, ok
}

// CreditPackByProductID 按支付平台产品 ID 查找积分包
func (c *Catalog) CreditPackByProductID(productID string) (*CreditPack, bool) {
	p, ok := c.packByPID[productID]
	return p, ok
}

// Plans 按 SKU 排序的全部订阅
func (c *Catalog) Plans() []*Plan {
	plans := make([]*Plan, 0, len(c.plans))
	for _, p := range c.plans {
		plans = append(plans, p)
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].SKU < plans[j].SKU })
	return plans
}

// CreditPacks 按价格排序的全部积分包
func (c *Catalog) CreditPacks() []*CreditPack {
	packs := make([]*CreditPack, 0, len(c.packs))
	for _, p := range c.packs {
		packs = append(packs, p)
	}
	sort.Slice(packs, func(i, j int) bool {
		if packs[i].Price != packs[j].Price {
			return packs[i].Price < packs[j].Price
		}
		return packs[i].ID < packs[j].ID
	})
	return packs
}

// LatestProductID 返回 SKU 或积分包当前使用的产品 ID（配置中最后一个）
func (c *Catalog) LatestProductID(skuOrPackID string) string {
	if pid, ok := c.latestPlan[skuOrPackID]; ok {
		return pid
	}
	return c.latestPack[skuOrPackID]
}
