package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/covercraft/internal/payment"
	"github.com/hitoshi/covercraft/internal/payment/paystack"
)

// maxWebhookBodySize はWebhookボディの上限（1MB）。
const maxWebhookBodySize = 1 << 20

// WebhookSettler はWebhookから決済を確定するインターフェース。
type WebhookSettler interface {
	SettleByReference(ctx context.Context, reference string) (*payment.Settlement, error)
}

// WebhookHandler はPaystack WebhookのHTTPハンドラー。
type WebhookHandler struct {
	settler   WebhookSettler
	secretKey string
	logger    *slog.Logger
}

// NewWebhookHandler はWebhookHandlerを生成する。
func NewWebhookHandler(settler WebhookSettler, secretKey string, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{settler: settler, secretKey: secretKey, logger: logger}
}

// Paystack はWebhookイベントを受信する。
// POST /api/webhooks/paystack
// 署名が不正な場合は401。charge.success以外のイベントは処理せず200を返す。
// 再試行で結果が変わり得る失敗のみ5xxを返し、Paystackに再送させる。
func (h *WebhookHandler) Paystack(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "invalid"})
		return
	}

	if !paystack.VerifySignature(h.secretKey, body, r.Header.Get(paystack.SignatureHeader)) {
		h.logger.Warn("webhook signature rejected")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"status": "unauthorized"})
		return
	}

	event, err := paystack.ParseEvent(body)
	if err != nil {
		h.logger.Warn("webhook payload rejected", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "invalid"})
		return
	}

	if event.Type != paystack.EventChargeSuccess || event.Reference == "" {
		h.logger.Debug("webhook event ignored", slog.String("event", event.Type))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	settlement, err := h.settler.SettleByReference(r.Context(), event.Reference)
	if err != nil {
		if payment.IsRetryable(err) {
			h.logger.Error("webhook settlement deferred",
				slog.String("reference", event.Reference),
				slog.String("error", err.Error()),
			)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "retry"})
			return
		}
		h.logger.Warn("webhook settlement rejected",
			slog.String("reference", event.Reference),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
		return
	}

	h.logger.Info("webhook settlement processed",
		slog.String("reference", event.Reference),
		slog.Bool("already_settled", settlement.AlreadySettled),
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
