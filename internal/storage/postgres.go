package storage

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
)

// PostgresStore はcover_imagesテーブルに画像を保存する。
// S3が設定されていない環境向けで、URLはdata URLとして返す。
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Put は画像を保存する。
func (s *PostgresStore) Put(ctx context.Context, key, contentType string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cover_images (storage_key, content_type, data, created_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (storage_key) DO UPDATE SET content_type = EXCLUDED.content_type, data = EXCLUDED.data`,
		key, contentType, data,
	)
	if err != nil {
		return fmt.Errorf("failed to store image: %w", err)
	}
	return nil
}

// URL は保存済み画像をdata URLに変換して返す。
func (s *PostgresStore) URL(ctx context.Context, key string) (string, error) {
	var contentType string
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT content_type, data FROM cover_images WHERE storage_key = $1`,
		key,
	).Scan(&contentType, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load image: %w", err)
	}

	return DataURL(contentType, data), nil
}

// DataURL はバイト列をdata URLにエンコードする。
func DataURL(contentType string, data []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(data))
}

// compile-time interface check
var _ Store = (*PostgresStore)(nil)
