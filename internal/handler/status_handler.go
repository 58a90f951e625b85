package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/covercraft/internal/model"
)

// BalanceServiceInterface は残高参照に必要なサービスインターフェース。
type BalanceServiceInterface interface {
	GetBalance(ctx context.Context, userID string) (model.Balance, error)
}

// HealthChecker はDB疎通確認のインターフェース。*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// StatusHandler はユーザー状態とヘルスチェックのHTTPハンドラー。
type StatusHandler struct {
	balances    BalanceServiceInterface
	health      HealthChecker
	currentUser CurrentUser
}

// NewStatusHandler はStatusHandlerを生成する。
func NewStatusHandler(balances BalanceServiceInterface, health HealthChecker, currentUser CurrentUser) *StatusHandler {
	if currentUser == nil {
		currentUser = userFromSession
	}
	return &StatusHandler{balances: balances, health: health, currentUser: currentUser}
}

// UserStatus は現在のユーザーのクレジット残高を返す。
// GET /api/user-status
func (h *StatusHandler) UserStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := resolveUser(w, r, h.currentUser)
	if !ok {
		return
	}

	balance, err := h.balances.GetBalance(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toBalanceResponse(balance))
}

// Health はDB疎通を確認する。
// GET /health
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.health.PingContext(ctx); err != nil {
			slog.Warn("health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
