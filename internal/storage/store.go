// Package storage は生成画像の保存と配信URLの解決を提供する。
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound は指定キーのオブジェクトが存在しないことを表す。
var ErrNotFound = errors.New("object not found")

// Store は画像バイト列の保存先を抽象化するインターフェース。
type Store interface {
	// Put はkeyにdataを保存する。同じkeyが既にある場合は上書きする。
	Put(ctx context.Context, key, contentType string, data []byte) error
	// URL はkeyのオブジェクトを取得するためのURLを返す。
	URL(ctx context.Context, key string) (string, error)
}

// NewKey は保存キーを生成する。形式は covers/YYYY/MM/DD/<uuid>.<ext>。
func NewKey(now time.Time, contentType string) string {
	return fmt.Sprintf("covers/%04d/%02d/%02d/%s.%s",
		now.Year(), now.Month(), now.Day(), uuid.New().String(), extensionFor(contentType))
}

func extensionFor(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "png"
	}
}
