package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hitoshi/covercraft/internal/model"
)

const coverColumns = `id, user_id, book_title, author_name, genre, keywords, mood, color_palette,
	prompt, storage_key, content_type, downloaded, created_at`

// PostgresCoverRepo はPostgreSQLを使用したカバーリポジトリ。
type PostgresCoverRepo struct {
	db *sql.DB
}

// NewPostgresCoverRepo はPostgresCoverRepoを生成する。
func NewPostgresCoverRepo(db *sql.DB) *PostgresCoverRepo {
	return &PostgresCoverRepo{db: db}
}

// Create はカバーを作成する。
func (r *PostgresCoverRepo) Create(ctx context.Context, cover *model.Cover) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO covers (`+coverColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		cover.ID, cover.UserID, cover.BookTitle, cover.AuthorName, cover.Genre,
		cover.Keywords, cover.Mood, cover.ColorPalette, cover.Prompt,
		cover.StorageKey, cover.ContentType, cover.Downloaded, cover.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create cover: %w", err)
	}
	return nil
}

// FindByID は指定IDのカバーを取得する。見つからない場合はnilを返す。
// idはuuid列と比較するため、UUIDとして解釈できない値も見つからない扱いにする。
func (r *PostgresCoverRepo) FindByID(ctx context.Context, id string) (*model.Cover, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	row := r.db.QueryRowContext(ctx,
		`SELECT `+coverColumns+` FROM covers WHERE id = $1`,
		id,
	)

	cover, err := scanCover(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find cover by ID: %w", err)
	}
	return cover, nil
}

// ListByUserID はユーザーのカバー一覧を作成日時の降順で返す。
func (r *PostgresCoverRepo) ListByUserID(ctx context.Context, userID string, limit int) ([]*model.Cover, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+coverColumns+` FROM covers
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list covers: %w", err)
	}
	defer rows.Close()

	var covers []*model.Cover
	for rows.Next() {
		cover, err := scanCover(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cover: %w", err)
		}
		covers = append(covers, cover)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate covers: %w", err)
	}
	return covers, nil
}

// rowScanner は *sql.Row と *sql.Rows の共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCover(s rowScanner) (*model.Cover, error) {
	cover := &model.Cover{}
	var userID sql.NullString
	err := s.Scan(
		&cover.ID, &userID, &cover.BookTitle, &cover.AuthorName, &cover.Genre,
		&cover.Keywords, &cover.Mood, &cover.ColorPalette, &cover.Prompt,
		&cover.StorageKey, &cover.ContentType, &cover.Downloaded, &cover.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if userID.Valid {
		cover.UserID = &userID.String
	}
	return cover, nil
}

// compile-time interface check
var _ CoverRepository = (*PostgresCoverRepo)(nil)
