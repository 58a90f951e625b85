// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/covercraft/internal/model"
)

// UserRepository はユーザーとクレジット残高の永続化インターフェース。
// 残高の増減はすべて条件付きUPDATEで表現し、読み取り→書き込みの2段階更新は行わない。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// GetOrCreate は指定IDのユーザーを取得する。存在しない場合はfreeDownloadsを初期残高として作成する。
	GetOrCreate(ctx context.Context, id string, freeDownloads int) (*model.User, error)

	// CreateWithSession はユーザーとセッションを同一トランザクションで作成する。
	CreateWithSession(ctx context.Context, user *model.User, session *model.Session) error

	// TryConsumeFreeDownload は残高が1以上の場合のみ残高を1減らし累計を1増やす。
	// 残高が0の場合はmodel.ErrInsufficientCreditを返し、何も変更しない。
	TryConsumeFreeDownload(ctx context.Context, id string) (model.Balance, error)

	// ConsumeForCover はTryConsumeFreeDownloadとカバーのdownloadedフラグ更新を
	// 同一トランザクションで実行する。
	ConsumeForCover(ctx context.Context, userID, coverID string) (model.Balance, error)

	// GrantCredits は残高をamountだけ増やし、更新後の残高を返す。
	GrantCredits(ctx context.Context, id string, amount int) (model.Balance, error)
}

// SessionRepository は匿名セッションの永続化インターフェース。
type SessionRepository interface {
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// Extend は有効なセッションの期限を延長する。延長した場合はtrueを返す。
	Extend(ctx context.Context, id string, expiresAt time.Time) (bool, error)
}

// CoverRepository は生成済みカバーの永続化インターフェース。
type CoverRepository interface {
	// Create はカバーを作成する。
	Create(ctx context.Context, cover *model.Cover) error

	// FindByID は指定IDのカバーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Cover, error)

	// ListByUserID はユーザーのカバー一覧を作成日時の降順で最大limit件返す。
	ListByUserID(ctx context.Context, userID string, limit int) ([]*model.Cover, error)
}

// SettleResult は決済確定処理の結果。
type SettleResult struct {
	Record  *model.PaymentRecord
	Granted bool // 今回の呼び出しでクレジットを付与した場合true。既に確定済みならfalse
	Balance model.Balance
}

// PendingCursor は決済意図一覧のページ位置。0値は先頭を表す。
type PendingCursor struct {
	CreatedAt time.Time
	Reference string
}

// CursorAfter はpの直後から一覧を続けるカーソルを返す。
func CursorAfter(p *model.PendingPayment) PendingCursor {
	return PendingCursor{CreatedAt: p.CreatedAt, Reference: p.Reference}
}

// PaymentRepository は決済意図と決済記録の永続化インターフェース。
type PaymentRepository interface {
	// CreatePending は決済意図を作成する。
	CreatePending(ctx context.Context, pending *model.PendingPayment) error

	// FindPending は参照番号で決済意図を取得する。見つからない場合はnilを返す。
	FindPending(ctx context.Context, reference string) (*model.PendingPayment, error)

	// FindRecord は参照番号で確定済み決済記録を取得する。見つからない場合はnilを返す。
	FindRecord(ctx context.Context, reference string) (*model.PaymentRecord, error)

	// MarkPending はstatus=pendingの決済意図の状態を更新する。
	// 既にpending以外に遷移している場合は何もしない。
	MarkPending(ctx context.Context, reference string, status model.PaymentStatus) error

	// Settle は決済記録の作成、クレジット付与、決済意図の確定を同一トランザクションで実行する。
	// 同じ参照番号の決済記録が既に存在する場合はクレジットを付与せず既存の記録を返す。
	Settle(ctx context.Context, record *model.PaymentRecord) (*SettleResult, error)

	// ListStalePending はcreatedBefore以前に作成されたpendingの決済意図のうち、
	// afterより後のものを(created_at, reference)の昇順で最大limit件返す。
	ListStalePending(ctx context.Context, createdBefore time.Time, after PendingCursor, limit int) ([]*model.PendingPayment, error)

	// ExpirePending はcreatedBefore以前に作成されたpendingの決済意図をexpiredに更新し、件数を返す。
	ExpirePending(ctx context.Context, createdBefore time.Time) (int64, error)
}
