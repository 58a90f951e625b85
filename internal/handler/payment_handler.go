package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/covercraft/internal/payment"
)

// PaymentServiceInterface は決済ハンドラーが必要とするサービスインターフェース。
type PaymentServiceInterface interface {
	// Initialize は決済を初期化し、決済ページのURLを返す。
	Initialize(ctx context.Context, userID, email string, amount int64) (*payment.Initialization, error)
	// Verify はゲートウェイに問い合わせて決済を確定する。
	Verify(ctx context.Context, userID, reference string) (*payment.Settlement, error)
}

// PaymentHandler は決済のHTTPハンドラー。
type PaymentHandler struct {
	service     PaymentServiceInterface
	balances    BalanceServiceInterface
	currentUser CurrentUser
}

// NewPaymentHandler はPaymentHandlerを生成する。
func NewPaymentHandler(service PaymentServiceInterface, balances BalanceServiceInterface, currentUser CurrentUser) *PaymentHandler {
	if currentUser == nil {
		currentUser = userFromSession
	}
	return &PaymentHandler{service: service, balances: balances, currentUser: currentUser}
}

// initializePaymentRequest は決済初期化リクエストのボディ。
type initializePaymentRequest struct {
	Email  string `json:"email"`
	Amount int64  `json:"amount"`
}

// initializePaymentResponse は決済初期化のAPIレスポンス。
type initializePaymentResponse struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Credits          int    `json:"credits"`
}

// verifyPaymentRequest は決済検証リクエストのボディ。
type verifyPaymentRequest struct {
	Reference string `json:"reference"`
}

// verifyPaymentResponse は決済検証のAPIレスポンス。
// 確定済みの参照番号を再検証した場合、credits_addedは0になる。
type verifyPaymentResponse struct {
	CreditsAdded   int             `json:"credits_added"`
	AlreadySettled bool            `json:"already_settled"`
	User           balanceResponse `json:"user"`
}

// InitializePayment は決済を初期化する。
// POST /api/initialize-payment
func (h *PaymentHandler) InitializePayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := resolveUser(w, r, h.currentUser)
	if !ok {
		return
	}

	var req initializePaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	init, err := h.service.Initialize(r.Context(), userID, req.Email, req.Amount)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, initializePaymentResponse{
		Reference:        init.Reference,
		AuthorizationURL: init.AuthorizationURL,
		AccessCode:       init.AccessCode,
		Credits:          init.Credits,
	})
}

// VerifyPayment は決済を検証し、成功していればクレジットを付与する。
// POST /api/verify-payment
func (h *PaymentHandler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := resolveUser(w, r, h.currentUser)
	if !ok {
		return
	}

	var req verifyPaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	settlement, err := h.service.Verify(r.Context(), userID, req.Reference)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	balance, err := h.balances.GetBalance(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := verifyPaymentResponse{
		AlreadySettled: settlement.AlreadySettled,
		User:           toBalanceResponse(balance),
	}
	if !settlement.AlreadySettled {
		resp.CreditsAdded = settlement.Record.CreditsAdded
	}
	writeJSON(w, http.StatusOK, resp)
}
