package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/covercraft/internal/database"
	"github.com/hitoshi/covercraft/internal/model"
)

const pendingColumns = `reference, user_id, email, amount, currency, credits, status, created_at, updated_at`

// PostgresPaymentRepo はPostgreSQLを使用した決済リポジトリ。
type PostgresPaymentRepo struct {
	db *sql.DB
}

// NewPostgresPaymentRepo はPostgresPaymentRepoを生成する。
func NewPostgresPaymentRepo(db *sql.DB) *PostgresPaymentRepo {
	return &PostgresPaymentRepo{db: db}
}

// CreatePending は決済意図を作成する。
func (r *PostgresPaymentRepo) CreatePending(ctx context.Context, p *model.PendingPayment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO pending_payments (`+pendingColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.Reference, p.UserID, p.Email, p.Amount, p.Currency, p.Credits,
		string(p.Status), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create pending payment: %w", err)
	}
	return nil
}

// FindPending は参照番号で決済意図を取得する。見つからない場合はnilを返す。
func (r *PostgresPaymentRepo) FindPending(ctx context.Context, reference string) (*model.PendingPayment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+pendingColumns+` FROM pending_payments WHERE reference = $1`,
		reference,
	)
	p, err := scanPending(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pending payment: %w", err)
	}
	return p, nil
}

// FindRecord は参照番号で確定済み決済記録を取得する。見つからない場合はnilを返す。
func (r *PostgresPaymentRepo) FindRecord(ctx context.Context, reference string) (*model.PaymentRecord, error) {
	rec, err := findRecord(ctx, r.db, reference)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find payment record: %w", err)
	}
	return rec, nil
}

// MarkPending はstatus=pendingの決済意図の状態を更新する。
func (r *PostgresPaymentRepo) MarkPending(ctx context.Context, reference string, status model.PaymentStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE pending_payments SET status = $2, updated_at = now()
		 WHERE reference = $1 AND status = 'pending'`,
		reference, string(status),
	)
	if err != nil {
		return fmt.Errorf("failed to update pending payment: %w", err)
	}
	return nil
}

// Settle は決済記録の作成、クレジット付与、決済意図の確定を同一トランザクションで実行する。
// 参照番号の一意制約により、同時に複数回呼ばれてもクレジットは1回しか付与されない。
func (r *PostgresPaymentRepo) Settle(ctx context.Context, record *model.PaymentRecord) (*SettleResult, error) {
	var result *SettleResult
	err := database.WithTx(ctx, r.db, func(ctx context.Context, tx database.DBTX) error {
		var createdAt time.Time
		err := tx.QueryRowContext(ctx,
			`INSERT INTO payments (reference, user_id, amount, currency, status, credits_added, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, now())
			 ON CONFLICT (reference) DO NOTHING
			 RETURNING created_at`,
			record.Reference, record.UserID, record.Amount, record.Currency,
			string(record.Status), record.CreditsAdded,
		).Scan(&createdAt)

		if errors.Is(err, sql.ErrNoRows) {
			// 既に確定済み
			existing, err := findRecord(ctx, tx, record.Reference)
			if err != nil {
				return fmt.Errorf("failed to load settled payment: %w", err)
			}
			result = &SettleResult{Record: existing, Granted: false}
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to insert payment record: %w", err)
		}

		balance, err := grantCredits(ctx, tx, record.UserID, record.CreditsAdded)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE pending_payments SET status = 'success', updated_at = now()
			 WHERE reference = $1`,
			record.Reference,
		)
		if err != nil {
			return fmt.Errorf("failed to finalize pending payment: %w", err)
		}

		settled := *record
		settled.CreatedAt = createdAt
		result = &SettleResult{Record: &settled, Granted: true, Balance: balance}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListStalePending はcreatedBefore以前に作成されたpendingの決済意図をカーソル位置から古い順に返す。
// 同時刻の行はreferenceで順序を確定させる。
func (r *PostgresPaymentRepo) ListStalePending(ctx context.Context, createdBefore time.Time, after PendingCursor, limit int) ([]*model.PendingPayment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+pendingColumns+` FROM pending_payments
		 WHERE status = 'pending' AND created_at < $1
		   AND (created_at, reference) > ($2, $3)
		 ORDER BY created_at ASC, reference ASC
		 LIMIT $4`,
		createdBefore, after.CreatedAt, after.Reference, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale pending payments: %w", err)
	}
	defer rows.Close()

	var payments []*model.PendingPayment
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending payment: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending payments: %w", err)
	}
	return payments, nil
}

// ExpirePending はcreatedBefore以前に作成されたpendingの決済意図をexpiredに更新する。
func (r *PostgresPaymentRepo) ExpirePending(ctx context.Context, createdBefore time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE pending_payments SET status = 'expired', updated_at = now()
		 WHERE status = 'pending' AND created_at < $1`,
		createdBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire pending payments: %w", err)
	}
	return result.RowsAffected()
}

func findRecord(ctx context.Context, q database.DBTX, reference string) (*model.PaymentRecord, error) {
	rec := &model.PaymentRecord{}
	var status string
	err := q.QueryRowContext(ctx,
		`SELECT reference, user_id, amount, currency, status, credits_added, created_at
		 FROM payments WHERE reference = $1`,
		reference,
	).Scan(&rec.Reference, &rec.UserID, &rec.Amount, &rec.Currency, &status, &rec.CreditsAdded, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	rec.Status = model.PaymentStatus(status)
	return rec, nil
}

func scanPending(s rowScanner) (*model.PendingPayment, error) {
	p := &model.PendingPayment{}
	var status string
	err := s.Scan(&p.Reference, &p.UserID, &p.Email, &p.Amount, &p.Currency, &p.Credits,
		&status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = model.PaymentStatus(status)
	return p, nil
}

// compile-time interface check
var _ PaymentRepository = (*PostgresPaymentRepo)(nil)
