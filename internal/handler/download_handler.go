package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/hitoshi/covercraft/internal/download"
	"github.com/hitoshi/covercraft/internal/model"
)

// DownloadFlowInterface はダウンロードハンドラーが必要とするインターフェース。
type DownloadFlowInterface interface {
	Request(ctx context.Context, userID, coverID string) (*download.Result, error)
}

// DownloadHandler はカバーダウンロードのHTTPハンドラー。
type DownloadHandler struct {
	flow        DownloadFlowInterface
	currentUser CurrentUser
}

// NewDownloadHandler はDownloadHandlerを生成する。
func NewDownloadHandler(flow DownloadFlowInterface, currentUser CurrentUser) *DownloadHandler {
	if currentUser == nil {
		currentUser = userFromSession
	}
	return &DownloadHandler{flow: flow, currentUser: currentUser}
}

// downloadCoverRequest はダウンロードリクエストのボディ。
type downloadCoverRequest struct {
	CoverID string `json:"cover_id"`
}

// downloadCoverResponse はダウンロード成功時のAPIレスポンス。
type downloadCoverResponse struct {
	ImageURL               string `json:"image_url"`
	RemainingFreeDownloads int    `json:"remaining_free_downloads"`
}

// paymentRequiredResponse はクレジット不足時の402レスポンス。
type paymentRequiredResponse struct {
	PaymentRequired        bool   `json:"payment_required"`
	Code                   string `json:"code"`
	Message                string `json:"message"`
	RemainingFreeDownloads int    `json:"remaining_free_downloads"`
}

// DownloadCover はダウンロード可否を判定し、可能ならクレジットを消費して画像URLを返す。
// POST /api/download-cover
func (h *DownloadHandler) DownloadCover(w http.ResponseWriter, r *http.Request) {
	userID, ok := resolveUser(w, r, h.currentUser)
	if !ok {
		return
	}

	var req downloadCoverRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.CoverID = strings.TrimSpace(req.CoverID)
	if req.CoverID == "" {
		handleServiceError(w, model.NewValidationError("cover_id", "カバーIDは必須です"))
		return
	}
	// 台帳に触れる前に形式不正なIDを拒否する
	if _, err := uuid.Parse(req.CoverID); err != nil {
		handleServiceError(w, model.NewValidationError("cover_id", "カバーIDの形式が不正です"))
		return
	}

	result, err := h.flow.Request(r.Context(), userID, req.CoverID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if result.PaymentRequired() {
		apiErr := model.NewPaymentRequiredError()
		writeJSON(w, http.StatusPaymentRequired, paymentRequiredResponse{
			PaymentRequired:        true,
			Code:                   apiErr.Code,
			Message:                apiErr.Message,
			RemainingFreeDownloads: result.Balance.Free,
		})
		return
	}

	writeJSON(w, http.StatusOK, downloadCoverResponse{
		ImageURL:               result.ImageURL,
		RemainingFreeDownloads: result.Balance.Free,
	})
}
