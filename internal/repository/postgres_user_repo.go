package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/covercraft/internal/database"
	"github.com/hitoshi/covercraft/internal/model"
)

// consumeCreditSQL は残高が1以上の場合に限り1クレジットを消費する条件付きUPDATE。
// 同一ユーザーへの同時リクエストがあっても、行ロックにより残高が負になることはない。
const consumeCreditSQL = `UPDATE users
	 SET free_downloads = free_downloads - 1,
	     total_downloads = total_downloads + 1,
	     updated_at = now()
	 WHERE id = $1 AND free_downloads > 0
	 RETURNING free_downloads, total_downloads`

// grantCreditsSQL は残高を指定数だけ増やす。
const grantCreditsSQL = `UPDATE users
	 SET free_downloads = free_downloads + $2,
	     updated_at = now()
	 WHERE id = $1
	 RETURNING free_downloads, total_downloads`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, free_downloads, total_downloads, created_at, updated_at FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.FreeDownloads, &user.TotalDownloads, &user.CreatedAt, &user.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	return user, nil
}

// GetOrCreate は指定IDのユーザーを取得し、存在しない場合は初期残高で作成する。
// 同時作成はON CONFLICT DO NOTHINGで吸収する。
func (r *PostgresUserRepo) GetOrCreate(ctx context.Context, id string, freeDownloads int) (*model.User, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, free_downloads, total_downloads, created_at, updated_at)
		 VALUES ($1, $2, 0, now(), now())
		 ON CONFLICT (id) DO NOTHING`,
		id, freeDownloads,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to provision user: %w", err)
	}

	user, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user disappeared after provisioning: %s", id)
	}
	return user, nil
}

// CreateWithSession はユーザーとセッションを同一トランザクションで作成する。
func (r *PostgresUserRepo) CreateWithSession(ctx context.Context, user *model.User, session *model.Session) error {
	return database.WithTx(ctx, r.db, func(ctx context.Context, tx database.DBTX) error {
		// ユーザーを作成
		_, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, free_downloads, total_downloads, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			user.ID, user.FreeDownloads, user.TotalDownloads, user.CreatedAt, user.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}

		// セッションを作成
		_, err = tx.ExecContext(ctx,
			`INSERT INTO sessions (id, user_id, expires_at, created_at)
			 VALUES ($1, $2, $3, $4)`,
			session.ID, session.UserID, session.ExpiresAt, session.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
}

// TryConsumeFreeDownload は条件付きUPDATEで1クレジットを消費する。
// 対象行がない場合（残高0またはユーザー不在）はmodel.ErrInsufficientCreditを返す。
func (r *PostgresUserRepo) TryConsumeFreeDownload(ctx context.Context, id string) (model.Balance, error) {
	return consumeCredit(ctx, r.db, id)
}

// ConsumeForCover はクレジット消費とカバーのダウンロード済みフラグ更新を同一トランザクションで実行する。
// どちらかが失敗した場合は両方ともロールバックされる。
func (r *PostgresUserRepo) ConsumeForCover(ctx context.Context, userID, coverID string) (model.Balance, error) {
	var balance model.Balance
	err := database.WithTx(ctx, r.db, func(ctx context.Context, tx database.DBTX) error {
		b, err := consumeCredit(ctx, tx, userID)
		if err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE covers SET downloaded = true WHERE id = $1`,
			coverID,
		)
		if err != nil {
			return fmt.Errorf("failed to mark cover downloaded: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return model.NewCoverNotFoundError(coverID)
		}

		balance = b
		return nil
	})
	if err != nil {
		return model.Balance{}, err
	}
	return balance, nil
}

// GrantCredits は残高をamountだけ増やす。
func (r *PostgresUserRepo) GrantCredits(ctx context.Context, id string, amount int) (model.Balance, error) {
	return grantCredits(ctx, r.db, id, amount)
}

// consumeCredit はDBTX上でクレジット消費の条件付きUPDATEを実行する。
func consumeCredit(ctx context.Context, q database.DBTX, id string) (model.Balance, error) {
	var b model.Balance
	err := q.QueryRowContext(ctx, consumeCreditSQL, id).Scan(&b.Free, &b.Total)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Balance{}, model.ErrInsufficientCredit
	}
	if err != nil {
		return model.Balance{}, fmt.Errorf("failed to consume credit: %w", err)
	}
	return b, nil
}

// grantCredits はDBTX上でクレジット付与のUPDATEを実行する。
func grantCredits(ctx context.Context, q database.DBTX, id string, amount int) (model.Balance, error) {
	var b model.Balance
	err := q.QueryRowContext(ctx, grantCreditsSQL, id, amount).Scan(&b.Free, &b.Total)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Balance{}, fmt.Errorf("user not found: %s", id)
	}
	if err != nil {
		return model.Balance{}, fmt.Errorf("failed to grant credits: %w", err)
	}
	return b, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
