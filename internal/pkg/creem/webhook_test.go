package creem

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/credit_go_server/internal/model/dto"
)

const checkoutPayload = `{
  "id": "evt_checkout_1",
  "eventType": "checkout.completed",
  "created_at": 1760659200000,
  "object": {
    "id": "ch_1",
    "order": {"id": "ord_1", "transaction": "tran_1", "amount": 990, "amount_paid": 890, "currency": "EUR", "type": "onetime"},
    "product": {"id": "prod_pack", "price": 990, "currency": "EUR", "billing_type": "onetime"},
    "customer": {"id": "cust_1", "email": "a@example.com"},
    "metadata": {"userId": "42"}
  }
}`

const subscriptionPaidPayload = `{
  "id": "evt_paid_1",
  "eventType": "subscription.paid",
  "created_at": 1760659200000,
  "object": {
    "id": "sub_1",
    "product": {"id": "prod_basic", "price": 1990, "currency": "USD", "billing_type": "recurring"},
    "customer": "cust_1",
    "last_transaction_id": "tran_9",
    "last_transaction": {"id": "tran_9", "amount": 1990, "amount_paid": 1990, "currency": "USD"},
    "current_period_end_date": "2026-11-17T00:00:00.000Z",
    "next_transaction_date": "2026-11-17T00:00:00.000Z",
    "metadata": {"referenceId": "7"}
  }
}`

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"id":"evt_1"}`)
	secret := "whsec_test"
	sig := Sign(body, secret)

	assert.True(t, VerifySignature(body, sig, secret))
	assert.True(t, VerifySignature(body, " "+sig+" ", secret))
	assert.False(t, VerifySignature(body, sig, "other"))
	assert.False(t, VerifySignature([]byte(`{"id":"evt_2"}`), sig, secret))
	assert.False(t, VerifySignature(body, "", secret))
	assert.False(t, VerifySignature(body, sig, ""))
	assert.False(t, VerifySignature(body, "zz-not-hex", secret))
}

func TestParseEvent_CheckoutCompleted(t *testing.T) {
	event, err := ParseEvent([]byte(checkoutPayload))
	require.NoError(t, err)

	assert.Equal(t, "evt_checkout_1", event.EventID)
	assert.Equal(t, dto.EventCheckoutCompleted, event.Type)
	assert.Equal(t, "tran_1", event.TransactionID)
	assert.Equal(t, "prod_pack", event.ProductID)
	assert.Equal(t, dto.BillingTypeOneTime, event.BillingType)
	assert.True(t, event.IsOneTime())
	assert.Equal(t, int64(890), event.AmountPaid)
	assert.Equal(t, "EUR", event.PaidCurrency)
	assert.Equal(t, "cust_1", event.CustomerID)
	assert.Equal(t, "a@example.com", event.CustomerEmail)
	assert.Equal(t, int64(42), event.UserID)
	assert.Equal(t, time.UnixMilli(1760659200000).UTC(), event.CreatedAt)
}

func TestParseEvent_CheckoutFallbacks(t *testing.T) {
	payload := `{"id":"evt_2","eventType":"checkout.completed","object":{
		"id":"ch_2",
		"order":{"id":"ord_2","type":"one-time"},
		"product":{"id":"prod_pack","price":500},
		"metadata":{"user_id":"3"}}}`

	event, err := ParseEvent([]byte(payload))
	require.NoError(t, err)

	assert.Equal(t, "ord_2", event.TransactionID)
	assert.Equal(t, dto.BillingTypeOneTime, event.BillingType)
	assert.Equal(t, int64(500), event.AmountPaid)
	assert.Equal(t, "USD", event.PaidCurrency)
	assert.Equal(t, int64(3), event.UserID)
}

func TestParseEvent_SubscriptionPaid(t *testing.T) {
	event, err := ParseEvent([]byte(subscriptionPaidPayload))
	require.NoError(t, err)

	assert.Equal(t, dto.EventSubscriptionPaid, event.Type)
	assert.Equal(t, "sub_1", event.SubscriptionID)
	assert.Equal(t, "tran_9", event.TransactionID)
	assert.Equal(t, "prod_basic", event.ProductID)
	assert.Equal(t, int64(1990), event.ProductPrice)
	assert.Equal(t, int64(1990), event.AmountPaid)
	assert.Equal(t, "cust_1", event.CustomerID)
	assert.Equal(t, int64(7), event.UserID)
	require.NotNil(t, event.PeriodEnd)
	assert.Equal(t, time.Date(2026, 11, 17, 0, 0, 0, 0, time.UTC), *event.PeriodEnd)
	require.NotNil(t, event.NextBillingAt)
}

func TestParseEvent_SubscriptionProductFromItems(t *testing.T) {
	payload := `{"id":"evt_3","eventType":"subscription.active","object":{
		"id":"sub_2","product":"","items":[{"product_id":"prod_plus"}],"metadata":{"userId":"5"}}}`

	event, err := ParseEvent([]byte(payload))
	require.NoError(t, err)

	assert.Equal(t, "prod_plus", event.ProductID)
	assert.Empty(t, event.TransactionID)
	assert.Zero(t, event.AmountPaid)
}

func TestParseEvent_Invalid(t *testing.T) {
	_, err := ParseEvent([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = ParseEvent([]byte(`{"id":"","eventType":"checkout.completed"}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestUserIDFromMetadata(t *testing.T) {
	tests := []struct {
		name     string
		metadata map[string]string
		want     int64
	}{
		{"userId", map[string]string{"userId": "10"}, 10},
		{"referenceId", map[string]string{"referenceId": "11"}, 11},
		{"user_id", map[string]string{"user_id": "12"}, 12},
		{"userId wins", map[string]string{"userId": "1", "user_id": "2"}, 1},
		{"not numeric", map[string]string{"userId": "abc"}, 0},
		{"negative", map[string]string{"userId": "-4"}, 0},
		{"missing", map[string]string{"plan": "pro"}, 0},
		{"nil", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserIDFromMetadata(tt.metadata))
		})
	}
}
