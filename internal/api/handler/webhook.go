package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/qs3c/credit_go_server/internal/api/middleware"
	"github.com/qs3c/credit_go_server/internal/pkg/creem"
	"github.com/qs3c/credit_go_server/internal/pkg/response"
	"github.com/qs3c/credit_go_server/internal/service"
)

const maxWebhookBodyBytes = 1 << 20

// WebhookReceiver 回调落库与处理
type WebhookReceiver interface {
	Receive(ctx context.Context, payload []byte, signature string) error
}

type WebhookHandler struct {
	receiver WebhookReceiver
	log      zerolog.Logger
}

func NewWebhookHandler(receiver WebhookReceiver, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		receiver: receiver,
		log:      log,
	}
}

// Creem 支付平台回调。非 2xx 时平台会重试
// POST /api/v1/webhooks/creem
func (h *WebhookHandler) Creem(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, response.CodeParamError, "读取请求体失败")
		return
	}

	err = h.receiver.Receive(c.Request.Context(), body, c.GetHeader(creem.SignatureHeader))
	switch {
	case err == nil:
		response.Success(c, gin.H{"received": true})
	case errors.Is(err, service.ErrInvalidSignature):
		response.ErrorWithStatus(c, http.StatusBadRequest, response.CodeBadSignature, "")
	case errors.Is(err, creem.ErrInvalidPayload):
		response.ErrorWithStatus(c, http.StatusBadRequest, response.CodeParamError, "回调报文无效")
	default:
		h.log.Error().Err(err).Str("request_id", middleware.GetRequestID(c)).Msg("webhook processing failed")
		response.ErrorWithStatus(c, http.StatusInternalServerError, response.CodeServerError, "")
	}
}
