package handler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/credit_go_server/config"
	"github.com/qs3c/credit_go_server/internal/model"
	"github.com/qs3c/credit_go_server/internal/pkg/catalog"
	"github.com/qs3c/credit_go_server/internal/pkg/creem"
	"github.com/qs3c/credit_go_server/internal/pkg/logger"
	"github.com/qs3c/credit_go_server/internal/pkg/response"
	"github.com/qs3c/credit_go_server/internal/repository"
	"github.com/qs3c/credit_go_server/internal/service"
	"github.com/qs3c/credit_go_server/internal/testutil"
)

const testWebhookSecret = "whsec_handler"

type stubReceiver struct {
	err error
}

func (s *stubReceiver) Receive(context.Context, []byte, string) error {
	return s.err
}

func postWebhook(router http.Handler, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/webhooks/creem", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(creem.SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestWebhookHandler_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   int
	}{
		{"ok", nil, http.StatusOK, response.CodeSuccess},
		{"bad signature", service.ErrInvalidSignature, http.StatusBadRequest, response.CodeBadSignature},
		{"bad payload", creem.ErrInvalidPayload, http.StatusBadRequest, response.CodeParamError},
		{"processing failed", errors.New("db down"), http.StatusInternalServerError, response.CodeServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.POST("/webhooks/creem", NewWebhookHandler(&stubReceiver{err: tt.err}, logger.Nop()).Creem)

			w := postWebhook(router, []byte(`{}`), "sig")
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, parseResponse(t, w).Code)
		})
	}
}

func TestWebhookHandler_CheckoutEndToEnd(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	cat, err := catalog.New(config.CatalogConfig{
		CreditPacks: []config.CreditPackConfig{
			{ID: "mini_30d", Credits: 800, ValidDays: 30, ProductIDs: []string{"prod_pack_mini"}},
		},
	})
	require.NoError(t, err)

	creditRepo := repository.NewCreditRepository(db)
	ledger := service.NewLedgerService(db, creditRepo, repository.NewCreditTransactionRepository(db), logger.Nop())
	webhookService := service.NewWebhookService(
		db,
		repository.NewSubscriptionRepository(db),
		repository.NewPaymentTransactionRepository(db),
		repository.NewUserRepository(db),
		ledger,
		cat,
		creem.Provider,
		logger.Nop(),
	)
	eventService := service.NewWebhookEventService(repository.NewWebhookEventRepository(db), webhookService, testWebhookSecret, logger.Nop())

	router := gin.New()
	router.POST("/webhooks/creem", NewWebhookHandler(eventService, logger.Nop()).Creem)

	user := testutil.TestUser(t, db)
	body := []byte(`{
		"id": "evt_checkout_1",
		"eventType": "checkout.completed",
		"created_at": 1735689600000,
		"object": {
			"id": "ch_1",
			"product": {"id": "prod_pack_mini", "price": 500, "currency": "USD", "billing_type": "onetime"},
			"customer": {"id": "cust_1", "email": "buyer@example.com"},
			"order": {"id": "ord_1", "transaction": "tran_pack_1", "amount": 500, "amount_paid": 500, "currency": "USD", "type": "onetime"},
			"metadata": {"userId": "` + strconv.FormatInt(user.ID, 10) + `"}
		}
	}`)

	w := postWebhook(router, body, creem.Sign(body, "wrong"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	sig := creem.Sign(body, testWebhookSecret)
	for i := 0; i < 2; i++ {
		w = postWebhook(router, body, sig)
		require.Equal(t, http.StatusOK, w.Code)
	}

	var grants []model.CreditGrant
	require.NoError(t, db.Where("user_id = ?", user.ID).Find(&grants).Error)
	require.Len(t, grants, 1)
	assert.Equal(t, int64(800), grants[0].Amount)

	var ev model.WebhookEvent
	require.NoError(t, db.Where("provider_event_id = ?", "evt_checkout_1").First(&ev).Error)
	assert.NotNil(t, ev.ProcessedAt)
}
