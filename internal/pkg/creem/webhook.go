package creem

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/qs3c/credit_go_server/internal/model/dto"
)

const (
	Provider        = "creem"
	SignatureHeader = "creem-signature"
	defaultCurrency = "USD"
)

var ErrInvalidPayload = errors.New("creem: invalid webhook payload")

// VerifySignature 校验 hex(HMAC-SHA256(body, secret))
func VerifySignature(payload []byte, signature, secret string) bool {
	sig := strings.TrimSpace(signature)
	secret = strings.TrimSpace(secret)
	if sig == "" || secret == "" {
		return false
	}

	expected, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expected)
}

// Sign 计算签名，测试和本地调试用
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

type envelope struct {
	ID        string          `json:"id"`
	EventType string          `json:"eventType"`
	CreatedAt int64           `json:"created_at"` // 毫秒
	Object    json.RawMessage `json:"object"`
}

type product struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Price       int64  `json:"price"`
	Currency    string `json:"currency"`
	BillingType string `json:"billing_type"`
}

type customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type order struct {
	ID          string `json:"id"`
	Transaction string `json:"transaction"`
	Amount      *int64 `json:"amount"`
	AmountPaid  *int64 `json:"amount_paid"`
	Currency    string `json:"currency"`
	Type        string `json:"type"`
}

type transaction struct {
	ID         string `json:"id"`
	Amount     *int64 `json:"amount"`
	AmountPaid *int64 `json:"amount_paid"`
	Currency   string `json:"currency"`
}

type item struct {
	ProductID string `json:"product_id"`
}

type object struct {
	ID                   string                 `json:"id"`
	Product              json.RawMessage        `json:"product"`
	Customer             json.RawMessage        `json:"customer"`
	Order                *order                 `json:"order"`
	Subscription         json.RawMessage        `json:"subscription"`
	Items                []item                 `json:"items"`
	LastTransactionID    string                 `json:"last_transaction_id"`
	LastTransaction      *transaction           `json:"last_transaction"`
	CurrentPeriodEndDate string                 `json:"current_period_end_date"`
	NextTransactionDate  string                 `json:"next_transaction_date"`
	Metadata             map[string]interface{} `json:"metadata"`
}

// ParseEvent 把 Creem 回调解析为统一的支付事件
func ParseEvent(payload []byte) (*dto.PaymentEvent, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if env.ID == "" || env.EventType == "" {
		return nil, fmt.Errorf("%w: missing id or eventType", ErrInvalidPayload)
	}

	var obj object
	if len(env.Object) > 0 && !bytes.Equal(env.Object, []byte("null")) {
		if err := json.Unmarshal(env.Object, &obj); err != nil {
			return nil, fmt.Errorf("%w: object: %v", ErrInvalidPayload, err)
		}
	}

	prod := decodeProduct(obj.Product)
	cust := decodeCustomer(obj.Customer)
	metadata := stringMetadata(obj.Metadata)

	event := &dto.PaymentEvent{
		EventID:       env.ID,
		Type:          env.EventType,
		CustomerID:    cust.ID,
		CustomerEmail: cust.Email,
		ProductID:     prod.ID,
		ProductPrice:  prod.Price,
		Currency:      firstNonEmpty(prod.Currency, defaultCurrency),
		Metadata:      metadata,
		UserID:        UserIDFromMetadata(metadata),
		PeriodEnd:     parseTime(obj.CurrentPeriodEndDate),
		NextBillingAt: parseTime(obj.NextTransactionDate),
	}
	if env.CreatedAt > 0 {
		event.CreatedAt = time.UnixMilli(env.CreatedAt).UTC()
	}

	if env.EventType == dto.EventCheckoutCompleted {
		fillCheckout(event, &obj, &prod)
	} else {
		fillSubscription(event, &obj)
	}

	return event, nil
}

func fillCheckout(event *dto.PaymentEvent, obj *object, prod *product) {
	var o order
	if obj.Order != nil {
		o = *obj.Order
	}

	event.BillingType = normalizeBillingType(firstNonEmpty(prod.BillingType, o.Type))
	event.TransactionID = firstNonEmpty(o.Transaction, o.ID, obj.ID)
	event.SubscriptionID = decodeID(obj.Subscription)

	switch {
	case o.AmountPaid != nil:
		event.AmountPaid = *o.AmountPaid
	case o.Amount != nil:
		event.AmountPaid = *o.Amount
	default:
		event.AmountPaid = prod.Price
	}
	event.PaidCurrency = firstNonEmpty(o.Currency, prod.Currency, defaultCurrency)
}

func fillSubscription(event *dto.PaymentEvent, obj *object) {
	event.SubscriptionID = obj.ID
	event.BillingType = dto.BillingTypeRecurring
	if event.ProductID == "" && len(obj.Items) > 0 {
		event.ProductID = obj.Items[0].ProductID
	}

	var tx transaction
	if obj.LastTransaction != nil {
		tx = *obj.LastTransaction
	}
	event.TransactionID = firstNonEmpty(obj.LastTransactionID, tx.ID)

	switch {
	case tx.AmountPaid != nil:
		event.AmountPaid = *tx.AmountPaid
	case tx.Amount != nil:
		event.AmountPaid = *tx.Amount
	}
	event.PaidCurrency = firstNonEmpty(tx.Currency, defaultCurrency)
}

// UserIDFromMetadata 依次读取 userId、referenceId、user_id，解析失败返回 0
func UserIDFromMetadata(metadata map[string]string) int64 {
	for _, key := range []string{"userId", "referenceId", "user_id"} {
		raw, ok := metadata[key]
		if !ok || raw == "" {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil || id <= 0 {
			return 0
		}
		return id
	}
	return 0
}

func normalizeBillingType(billingType string) string {
	switch billingType {
	case "onetime", "one-time", "one_time":
		return dto.BillingTypeOneTime
	case "recurring":
		return dto.BillingTypeRecurring
	}
	return billingType
}

// product/customer/subscription 可能是展开后的对象，也可能只是 ID 字符串
func decodeProduct(raw json.RawMessage) product {
	var p product
	if len(raw) == 0 {
		return p
	}
	if err := json.Unmarshal(raw, &p.ID); err == nil {
		return p
	}
	_ = json.Unmarshal(raw, &p)
	return p
}

func decodeCustomer(raw json.RawMessage) customer {
	var c customer
	if len(raw) == 0 {
		return c
	}
	if err := json.Unmarshal(raw, &c.ID); err == nil {
		return c
	}
	_ = json.Unmarshal(raw, &c)
	return c
}

func decodeID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var withID struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(raw, &withID)
	return withID.ID
}

func stringMetadata(raw map[string]interface{}) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		}
	}
	return out
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
