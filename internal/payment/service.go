// Package payment は決済の初期化と確定（クレジット付与）のフローを提供する。
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/covercraft/internal/metrics"
	"github.com/hitoshi/covercraft/internal/model"
	"github.com/hitoshi/covercraft/internal/payment/paystack"
	"github.com/hitoshi/covercraft/internal/repository"
)

const (
	// MinAmount は受け付ける最小決済額（最小通貨単位）。
	MinAmount = 100
	// DefaultPackPrice はクレジットパック1つの価格（最小通貨単位）。
	DefaultPackPrice = 100
	// DefaultPackCredits はクレジットパック1つあたりのクレジット数。
	DefaultPackCredits = 10
	// DefaultCurrency は決済通貨。
	DefaultCurrency = "USD"
)

// Gateway は決済ゲートウェイのインターフェース。paystack.Clientが実装する。
type Gateway interface {
	Initialize(ctx context.Context, req paystack.InitializeRequest) (*paystack.InitializeResult, error)
	Verify(ctx context.Context, reference string) (*paystack.VerifyResult, error)
}

// Config は料金設定。
type Config struct {
	PackPrice   int64
	PackCredits int
	Currency    string
	CallbackURL string
}

// Initialization は決済初期化の結果。
type Initialization struct {
	Reference        string
	AuthorizationURL string
	AccessCode       string
	Amount           int64
	Credits          int
}

// Settlement は決済確定の結果。
type Settlement struct {
	Record         *model.PaymentRecord
	AlreadySettled bool
	Balance        model.Balance // 今回付与した場合のみ設定
}

// Service は決済フローのサービス層。
type Service struct {
	repo    repository.PaymentRepository
	gateway Gateway
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.PaymentRepository,
	gateway Gateway,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if cfg.PackPrice <= 0 {
		cfg.PackPrice = DefaultPackPrice
	}
	if cfg.PackCredits <= 0 {
		cfg.PackCredits = DefaultPackCredits
	}
	if cfg.Currency == "" {
		cfg.Currency = DefaultCurrency
	}
	cfg.Currency = strings.ToUpper(cfg.Currency)
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		gateway: gateway,
		metrics: collector,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// CreditsFor は決済額に対応するクレジット数を返す。
func (s *Service) CreditsFor(amount int64) int {
	return int(amount/s.cfg.PackPrice) * s.cfg.PackCredits
}

// Initialize は決済を初期化し、決済意図を保存する。
func (s *Service) Initialize(ctx context.Context, userID, email string, amount int64) (*Initialization, error) {
	email = strings.TrimSpace(email)
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return nil, model.NewValidationError("email", "メールアドレスの形式が正しくありません")
	}
	if amount < MinAmount || amount < s.cfg.PackPrice {
		return nil, model.NewValidationError("amount", fmt.Sprintf("金額は%d以上である必要があります", max(MinAmount, s.cfg.PackPrice)))
	}
	if amount%s.cfg.PackPrice != 0 {
		return nil, model.NewValidationError("amount", fmt.Sprintf("金額は%dの倍数である必要があります", s.cfg.PackPrice))
	}

	credits := s.CreditsFor(amount)
	reference := newReference()

	res, err := s.gateway.Initialize(ctx, paystack.InitializeRequest{
		Email:       email,
		Amount:      amount,
		Currency:    s.cfg.Currency,
		Reference:   reference,
		CallbackURL: s.cfg.CallbackURL,
		Metadata: map[string]any{
			"user_id": userID,
			"credits": credits,
		},
	})
	if err != nil {
		s.logger.Error("payment initialization failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewGatewayUnavailableError()
	}
	if res.Reference != "" {
		reference = res.Reference
	}

	now := s.now()
	pending := &model.PendingPayment{
		Reference: reference,
		UserID:    userID,
		Email:     email,
		Amount:    amount,
		Currency:  s.cfg.Currency,
		Credits:   credits,
		Status:    model.PaymentStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreatePending(ctx, pending); err != nil {
		return nil, fmt.Errorf("決済意図の保存に失敗しました: %w", err)
	}

	s.metrics.RecordPaymentInitialized()
	s.logger.Info("payment initialized",
		slog.String("user_id", userID),
		slog.String("reference", reference),
		slog.Int64("amount", amount),
		slog.Int("credits", credits),
	)

	return &Initialization{
		Reference:        reference,
		AuthorizationURL: res.AuthorizationURL,
		AccessCode:       res.AccessCode,
		Amount:           amount,
		Credits:          credits,
	}, nil
}

// Verify はuserIDが開始した決済を検証し、成功していればクレジットを付与する。
// 同じ参照番号で何度呼び出してもクレジットは1回しか付与されない。
func (s *Service) Verify(ctx context.Context, userID, reference string) (*Settlement, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, model.NewValidationError("reference", "参照番号は必須です")
	}

	record, err := s.repo.FindRecord(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("決済記録の取得に失敗しました: %w", err)
	}
	if record != nil {
		if record.UserID != userID {
			return nil, model.NewPaymentNotFoundError(reference)
		}
		s.metrics.RecordSettlement(metrics.SettlementAlreadySettled)
		return &Settlement{Record: record, AlreadySettled: true}, nil
	}

	pending, err := s.repo.FindPending(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("決済意図の取得に失敗しました: %w", err)
	}
	if pending == nil || pending.UserID != userID {
		return nil, model.NewPaymentNotFoundError(reference)
	}

	return s.settle(ctx, pending)
}

// SettleByReference は利用者の照合を行わずに決済を確定する。
// Webhookと照合ワーカーから呼び出される。
func (s *Service) SettleByReference(ctx context.Context, reference string) (*Settlement, error) {
	record, err := s.repo.FindRecord(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("決済記録の取得に失敗しました: %w", err)
	}
	if record != nil {
		s.metrics.RecordSettlement(metrics.SettlementAlreadySettled)
		return &Settlement{Record: record, AlreadySettled: true}, nil
	}

	pending, err := s.repo.FindPending(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("決済意図の取得に失敗しました: %w", err)
	}
	if pending == nil {
		return nil, model.NewPaymentNotFoundError(reference)
	}

	return s.settle(ctx, pending)
}

// settle はゲートウェイに問い合わせ、成功かつ内容が一致する場合のみ確定する。
func (s *Service) settle(ctx context.Context, pending *model.PendingPayment) (*Settlement, error) {
	reference := pending.Reference
	log := s.logger.With(
		slog.String("reference", reference),
		slog.String("user_id", pending.UserID),
	)

	if pending.Status == model.PaymentStatusFailed {
		s.metrics.RecordSettlement(metrics.SettlementFailed)
		return nil, model.NewPaymentFailedError(reference)
	}

	remote, err := s.gateway.Verify(ctx, reference)
	if err != nil {
		s.metrics.RecordSettlement(metrics.SettlementGatewayError)
		log.Error("payment verification failed", slog.String("error", err.Error()))
		return nil, model.NewGatewayUnavailableError()
	}

	switch remote.Status {
	case model.GatewayStatusFailed:
		if err := s.repo.MarkPending(ctx, reference, model.PaymentStatusFailed); err != nil {
			return nil, fmt.Errorf("決済意図の更新に失敗しました: %w", err)
		}
		s.metrics.RecordSettlement(metrics.SettlementFailed)
		log.Info("payment reported failed by gateway", slog.String("gateway_status", remote.RawStatus))
		return nil, model.NewPaymentFailedError(reference)

	case model.GatewayStatusPending:
		s.metrics.RecordSettlement(metrics.SettlementPending)
		return nil, model.NewPaymentPendingError(reference)
	}

	if reason := mismatch(pending, remote); reason != "" {
		if err := s.repo.MarkPending(ctx, reference, model.PaymentStatusFailed); err != nil {
			return nil, fmt.Errorf("決済意図の更新に失敗しました: %w", err)
		}
		s.metrics.RecordSettlement(metrics.SettlementMismatch)
		log.Warn("payment does not match intent",
			slog.String("reason", reason),
			slog.Int64("expected_amount", pending.Amount),
			slog.Int64("reported_amount", remote.Amount),
			slog.String("expected_currency", pending.Currency),
			slog.String("reported_currency", remote.Currency),
		)
		return nil, model.NewPaymentMismatchError(reference)
	}

	result, err := s.repo.Settle(ctx, &model.PaymentRecord{
		Reference:    reference,
		UserID:       pending.UserID,
		Amount:       remote.Amount,
		Currency:     pending.Currency,
		Status:       model.PaymentStatusSuccess,
		CreditsAdded: pending.Credits,
	})
	if err != nil {
		return nil, fmt.Errorf("決済の確定に失敗しました: %w", err)
	}

	if !result.Granted {
		s.metrics.RecordSettlement(metrics.SettlementAlreadySettled)
		return &Settlement{Record: result.Record, AlreadySettled: true}, nil
	}

	s.metrics.RecordSettlement(metrics.SettlementSettled)
	s.metrics.RecordCreditsGranted(result.Record.CreditsAdded)
	log.Info("payment settled",
		slog.Int("credits_added", result.Record.CreditsAdded),
		slog.Int("free_downloads", result.Balance.Free),
	)
	return &Settlement{Record: result.Record, Balance: result.Balance}, nil
}

// mismatch はゲートウェイの報告内容と決済意図の不一致理由を返す。一致する場合は空文字列。
func mismatch(pending *model.PendingPayment, remote *paystack.VerifyResult) string {
	switch {
	case remote.Amount != pending.Amount:
		return "amount"
	case !strings.EqualFold(remote.Currency, pending.Currency):
		return "currency"
	case remote.Metadata.HasCredits && remote.Metadata.Credits != pending.Credits:
		return "credits"
	case remote.Metadata.UserID != "" && remote.Metadata.UserID != pending.UserID:
		return "user"
	}
	return ""
}

// IsRetryable は後で再試行すれば結果が変わり得るエラーかどうかを返す。
func IsRetryable(err error) bool {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == model.ErrCodePaymentPending || apiErr.Code == model.ErrCodeGatewayUnavailable
	}
	return err != nil
}

func newReference() string {
	return "cc_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
