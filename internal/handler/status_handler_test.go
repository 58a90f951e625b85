package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/covercraft/internal/model"
)

func TestStatusHandler_UserStatus(t *testing.T) {
	balances := &mockBalanceService{
		getBalanceFn: func(ctx context.Context, userID string) (model.Balance, error) {
			if userID != "user-1" {
				t.Errorf("userID = %q, want user-1", userID)
			}
			return model.Balance{Free: 3, Total: 2}, nil
		},
	}
	h := NewStatusHandler(balances, nil, fixedUser("user-1"))

	w := httptest.NewRecorder()
	h.UserStatus(w, httptest.NewRequest(http.MethodGet, "/api/user-status", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp balanceResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.FreeDownloads != 3 || resp.TotalDownloads != 2 {
		t.Errorf("resp = %+v, want {3 2}", resp)
	}
}

func TestStatusHandler_UserStatus_StorageFailure(t *testing.T) {
	balances := &mockBalanceService{
		getBalanceFn: func(ctx context.Context, userID string) (model.Balance, error) {
			return model.Balance{}, errors.New("db down")
		},
	}
	h := NewStatusHandler(balances, nil, fixedUser("user-1"))

	w := httptest.NewRecorder()
	h.UserStatus(w, httptest.NewRequest(http.MethodGet, "/api/user-status", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestStatusHandler_Health(t *testing.T) {
	tests := []struct {
		name       string
		health     HealthChecker
		wantStatus int
		wantBody   string
	}{
		{"no checker", nil, http.StatusOK, "ok"},
		{"db reachable", &mockHealthChecker{}, http.StatusOK, "ok"},
		{"db unreachable", &mockHealthChecker{err: errors.New("connection refused")}, http.StatusServiceUnavailable, "unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewStatusHandler(&mockBalanceService{}, tt.health, nil)

			w := httptest.NewRecorder()
			h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body map[string]string
			json.NewDecoder(w.Body).Decode(&body)
			if body["status"] != tt.wantBody {
				t.Errorf("status body = %q, want %q", body["status"], tt.wantBody)
			}
		})
	}
}
