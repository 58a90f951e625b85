// Package download はブックカバーのダウンロード可否判定と配信を制御する。
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/covercraft/internal/metrics"
	"github.com/hitoshi/covercraft/internal/model"
	"github.com/hitoshi/covercraft/internal/repository"
	"github.com/hitoshi/covercraft/internal/storage"
)

// State はダウンロード要求の処理状態を表す。
type State string

const (
	StateRequesting      State = "requesting"
	StateChecking        State = "checking"
	StateGranted         State = "granted" // クレジット消費済み・配信前
	StatePaymentRequired State = "payment_required"
	StateDelivered       State = "delivered"
)

// CreditConsumer はクレジット消費のインターフェース。credit.Serviceが実装する。
type CreditConsumer interface {
	ConsumeForCover(ctx context.Context, userID, coverID string) (model.Balance, error)
	GetBalance(ctx context.Context, userID string) (model.Balance, error)
}

// Result はダウンロード要求の結果。
type Result struct {
	State    State
	CoverID  string
	ImageURL string        // StateDeliveredの場合のみ設定
	Balance  model.Balance // 処理後の残高

	// Transitions は通過した状態を順に保持する。
	Transitions []State
}

func (r *Result) enter(state State) {
	r.State = state
	r.Transitions = append(r.Transitions, state)
}

// PaymentRequired は支払いが必要な結果かどうかを返す。
func (r *Result) PaymentRequired() bool {
	return r.State == StatePaymentRequired
}

// Options はFlowの動作設定。
type Options struct {
	// EnforceOwnership がtrueの場合、所有者付きのカバーは所有者のみダウンロードできる。
	EnforceOwnership bool
}

// Flow はダウンロード要求を処理する。
type Flow struct {
	coverRepo repository.CoverRepository
	credits   CreditConsumer
	store     storage.Store
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	opts      Options
}

// NewFlow はFlowを生成する。
func NewFlow(
	coverRepo repository.CoverRepository,
	credits CreditConsumer,
	store storage.Store,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	opts Options,
) *Flow {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Flow{
		coverRepo: coverRepo,
		credits:   credits,
		store:     store,
		metrics:   collector,
		logger:    logger,
		opts:      opts,
	}
}

// Request はuserIDによるcoverIDのダウンロード要求を処理する。
// 残高不足の場合はエラーではなくStatePaymentRequiredの結果を返し、何も変更しない。
func (f *Flow) Request(ctx context.Context, userID, coverID string) (*Result, error) {
	result := &Result{CoverID: coverID}
	result.enter(StateRequesting)

	cover, err := f.coverRepo.FindByID(ctx, coverID)
	if err != nil {
		return nil, fmt.Errorf("カバーの取得に失敗しました: %w", err)
	}
	if cover == nil || (f.opts.EnforceOwnership && cover.UserID != nil && !cover.OwnedBy(userID)) {
		f.metrics.RecordDownload(metrics.DownloadNotFound)
		return nil, model.NewCoverNotFoundError(coverID)
	}

	result.enter(StateChecking)

	// 配信URLはクレジット消費前に解決し、消費後に配信できない状態を避ける
	imageURL, err := f.store.URL(ctx, cover.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			f.logger.Error("cover image missing from store",
				slog.String("cover_id", coverID),
				slog.String("storage_key", cover.StorageKey),
			)
		}
		return nil, fmt.Errorf("配信URLの解決に失敗しました: %w", err)
	}

	balance, err := f.credits.ConsumeForCover(ctx, userID, coverID)
	if errors.Is(err, model.ErrInsufficientCredit) {
		result.enter(StatePaymentRequired)
		if current, berr := f.credits.GetBalance(ctx, userID); berr == nil {
			result.Balance = current
		}
		f.metrics.RecordDownload(metrics.DownloadPaymentRequired)
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	result.Balance = balance
	result.enter(StateGranted)
	f.logger.Debug("download credit consumed",
		slog.String("user_id", userID),
		slog.String("cover_id", coverID),
	)

	result.ImageURL = imageURL
	result.enter(StateDelivered)

	f.metrics.RecordDownload(metrics.DownloadGranted)
	f.logger.Info("cover downloaded",
		slog.String("user_id", userID),
		slog.String("cover_id", coverID),
		slog.Int("remaining_free_downloads", balance.Free),
	)
	return result, nil
}
