// Package reconcile は未確定の決済意図をバックグラウンドで照合するワーカーを提供する。
// Webhookを取りこぼした決済をゲートウェイに再問い合わせして確定し、
// 有効期限を過ぎた決済意図をexpiredにする。
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/covercraft/internal/model"
	"github.com/hitoshi/covercraft/internal/payment"
	"github.com/hitoshi/covercraft/internal/repository"
)

const (
	// DefaultMinAge は照合対象とする決済意図の最小経過時間。
	DefaultMinAge = time.Minute
	// DefaultPendingTTL は決済意図の有効期限。
	DefaultPendingTTL = 24 * time.Hour
	// DefaultMaxConcurrency はゲートウェイへの同時問い合わせ数。
	DefaultMaxConcurrency = 4
	// DefaultBatchSize は1回の一覧取得で読み込む件数。
	DefaultBatchSize = 100
)

// PendingStore は照合ワーカーが必要とする決済意図の永続化インターフェース。
// repository.PaymentRepositoryが実装する。
type PendingStore interface {
	ListStalePending(ctx context.Context, createdBefore time.Time, after repository.PendingCursor, limit int) ([]*model.PendingPayment, error)
	ExpirePending(ctx context.Context, createdBefore time.Time) (int64, error)
}

// Settler は参照番号で決済を確定するインターフェース。payment.Serviceが実装する。
type Settler interface {
	SettleByReference(ctx context.Context, reference string) (*payment.Settlement, error)
}

// Config は照合ワーカーの設定。0値の項目はデフォルト値を使用する。
type Config struct {
	MinAge         time.Duration
	PendingTTL     time.Duration
	MaxConcurrency int
	BatchSize      int
}

// Summary は1サイクルの照合結果。
type Summary struct {
	Checked        int
	Settled        int
	AlreadySettled int
	StillPending   int
	Rejected       int
	Errors         int
	Expired        int64
}

// Reconciler は未確定の決済意図を定期的に照合する。
// semaphoreパターンでゲートウェイへの同時問い合わせ数を制限する。
type Reconciler struct {
	store   PendingStore
	settler Settler
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time
}

// NewReconciler はReconcilerの新しいインスタンスを生成する。
func NewReconciler(store PendingStore, settler Settler, logger *slog.Logger, cfg Config) *Reconciler {
	if cfg.MinAge <= 0 {
		cfg.MinAge = DefaultMinAge
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = DefaultPendingTTL
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:   store,
		settler: settler,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Start はinterval間隔で照合サイクルを実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (r *Reconciler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("決済照合ワーカーを開始しました",
		slog.Duration("interval", interval),
		slog.Duration("min_age", r.cfg.MinAge),
		slog.Duration("pending_ttl", r.cfg.PendingTTL),
		slog.Int("max_concurrency", r.cfg.MaxConcurrency),
	)

	// 起動直後に1回実行
	if _, err := r.RunOnce(ctx); err != nil {
		r.logger.Error("決済照合サイクルの実行に失敗しました", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("決済照合ワーカーを停止しました")
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error("決済照合サイクルの実行に失敗しました", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce はMinAge以上経過したpendingの決済意図をBatchSize件ずつ古い順にすべて照合し、
// その後PendingTTLを過ぎても未確定のものをexpiredにする。
// pendingのまま残った意図は次ページ以降でカーソルにより読み飛ばす。
func (r *Reconciler) RunOnce(ctx context.Context) (Summary, error) {
	start := r.now()
	cutoff := start.Add(-r.cfg.MinAge)
	var (
		summary Summary
		cursor  repository.PendingCursor
	)

	for ctx.Err() == nil {
		page, err := r.store.ListStalePending(ctx, cutoff, cursor, r.cfg.BatchSize)
		if err != nil {
			return summary, err
		}
		if len(page) == 0 {
			break
		}

		summary.Checked += len(page)
		r.reconcileBatch(ctx, page, &summary)

		if len(page) < r.cfg.BatchSize {
			break
		}
		cursor = repository.CursorAfter(page[len(page)-1])
	}

	expired, err := r.store.ExpirePending(ctx, start.Add(-r.cfg.PendingTTL))
	if err != nil {
		return summary, err
	}
	summary.Expired = expired

	r.logger.Info("決済照合サイクルが完了しました",
		slog.Int("checked", summary.Checked),
		slog.Int("settled", summary.Settled),
		slog.Int("still_pending", summary.StillPending),
		slog.Int("rejected", summary.Rejected),
		slog.Int("errors", summary.Errors),
		slog.Int64("expired", summary.Expired),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return summary, nil
}

// reconcileBatch はsemaphoreパターンで並列数を制御しながらpageの決済意図を照合する。
func (r *Reconciler) reconcileBatch(ctx context.Context, page []*model.PendingPayment, summary *Summary) {
	sem := make(chan struct{}, r.cfg.MaxConcurrency)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for _, p := range page {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}

		go func(p *model.PendingPayment) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := r.reconcile(ctx, p)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeSettled:
				summary.Settled++
			case outcomeAlreadySettled:
				summary.AlreadySettled++
			case outcomePending:
				summary.StillPending++
			case outcomeRejected:
				summary.Rejected++
			default:
				summary.Errors++
			}
		}(p)
	}

	wg.Wait()
}

type outcome int

const (
	outcomeError outcome = iota
	outcomeSettled
	outcomeAlreadySettled
	outcomePending
	outcomeRejected
)

func (r *Reconciler) reconcile(ctx context.Context, p *model.PendingPayment) outcome {
	log := r.logger.With(
		slog.String("reference", p.Reference),
		slog.String("user_id", p.UserID),
	)

	settlement, err := r.settler.SettleByReference(ctx, p.Reference)
	if err == nil {
		if settlement.AlreadySettled {
			return outcomeAlreadySettled
		}
		log.Info("未確定の決済を確定しました", slog.Int("credits_added", settlement.Record.CreditsAdded))
		return outcomeSettled
	}

	var apiErr *model.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Code == model.ErrCodePaymentPending:
		return outcomePending
	case payment.IsRetryable(err):
		log.Error("決済の照合に失敗しました", slog.String("error", err.Error()))
		return outcomeError
	default:
		log.Warn("決済が拒否されました", slog.String("error", err.Error()))
		return outcomeRejected
	}
}
