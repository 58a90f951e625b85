package model

import "time"

// Cover はAI生成されたブックカバー画像のメタデータを表す。
// 生成後はdownloadedフラグ以外変更されない。
type Cover struct {
	ID           string
	UserID       *string // 匿名生成の場合はnil
	BookTitle    string
	AuthorName   string
	Genre        string
	Keywords     string
	Mood         string
	ColorPalette string
	Prompt       string
	StorageKey   string // オブジェクトストア上のキー
	ContentType  string
	Downloaded   bool
	CreatedAt    time.Time
}

// OwnedBy はカバーが指定ユーザーの所有であるかを判定する。
// 所有者のないカバーは誰の所有でもない。
func (c *Cover) OwnedBy(userID string) bool {
	return c.UserID != nil && *c.UserID == userID
}

// CoverRequest はカバー生成フォームの入力値。
// ハンドラー境界で一度だけ検証され、以降は検証済みとして扱う。
type CoverRequest struct {
	BookTitle    string
	AuthorName   string
	Genre        string
	Keywords     string
	Mood         string
	ColorPalette string
}
