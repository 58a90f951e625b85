package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/covercraft/internal/model"
)

// PostgresSessionRepo は匿名セッションをPostgreSQLで管理する。
// セッションの作成はユーザー作成と同一トランザクションで行うため
// PostgresUserRepo.CreateWithSession が担う。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// FindByID は有効期限内のセッションを取得する。期限切れまたは存在しない場合はnilを返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	session := &model.Session{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, expires_at, created_at
		 FROM sessions
		 WHERE id = $1 AND expires_at > now()`,
		id,
	).Scan(&session.ID, &session.UserID, &session.ExpiresAt, &session.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	return session, nil
}

// Extend は有効なセッションの期限をexpiresAtまで延長する。
// 期限を短くする更新と、既に失効したセッションの復活は行わない。
// 延長した場合はtrueを返す。
func (r *PostgresSessionRepo) Extend(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET expires_at = $2
		 WHERE id = $1 AND expires_at > now() AND expires_at < $2`,
		id, expiresAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to extend session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to extend session: %w", err)
	}
	return n > 0, nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
