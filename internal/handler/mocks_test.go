package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/covercraft/internal/cover"
	"github.com/hitoshi/covercraft/internal/download"
	"github.com/hitoshi/covercraft/internal/model"
	"github.com/hitoshi/covercraft/internal/payment"
)

// --- 各ハンドラーテストで共有する関数フィールド型のモック ---

type mockBalanceService struct {
	getBalanceFn func(ctx context.Context, userID string) (model.Balance, error)
}

func (m *mockBalanceService) GetBalance(ctx context.Context, userID string) (model.Balance, error) {
	if m.getBalanceFn != nil {
		return m.getBalanceFn(ctx, userID)
	}
	return model.Balance{Free: model.DefaultFreeDownloads}, nil
}

type mockCoverService struct {
	generateFn func(ctx context.Context, userID string, req model.CoverRequest) (*cover.Generated, error)
	listFn     func(ctx context.Context, userID string) ([]*model.Cover, error)
}

func (m *mockCoverService) Generate(ctx context.Context, userID string, req model.CoverRequest) (*cover.Generated, error) {
	return m.generateFn(ctx, userID, req)
}

func (m *mockCoverService) List(ctx context.Context, userID string) ([]*model.Cover, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return nil, nil
}

type mockDownloadFlow struct {
	requestFn func(ctx context.Context, userID, coverID string) (*download.Result, error)
}

func (m *mockDownloadFlow) Request(ctx context.Context, userID, coverID string) (*download.Result, error) {
	return m.requestFn(ctx, userID, coverID)
}

type mockPaymentService struct {
	initializeFn func(ctx context.Context, userID, email string, amount int64) (*payment.Initialization, error)
	verifyFn     func(ctx context.Context, userID, reference string) (*payment.Settlement, error)
}

func (m *mockPaymentService) Initialize(ctx context.Context, userID, email string, amount int64) (*payment.Initialization, error) {
	return m.initializeFn(ctx, userID, email, amount)
}

func (m *mockPaymentService) Verify(ctx context.Context, userID, reference string) (*payment.Settlement, error) {
	return m.verifyFn(ctx, userID, reference)
}

type mockWebhookSettler struct {
	settleFn func(ctx context.Context, reference string) (*payment.Settlement, error)
	calls    []string
}

func (m *mockWebhookSettler) SettleByReference(ctx context.Context, reference string) (*payment.Settlement, error) {
	m.calls = append(m.calls, reference)
	return m.settleFn(ctx, reference)
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	return m.err
}

// fixedUser は常に同じユーザーIDを返すCurrentUser。
func fixedUser(userID string) CurrentUser {
	return func(r *http.Request) (string, error) {
		return userID, nil
	}
}

// testCoverID はハンドラーテストで使う形式の正しいカバーID。
const testCoverID = "5d3c2a7e-8f1b-4e6a-9c0d-2b7a1e4f6c83"
