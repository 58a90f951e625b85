// Package model はドメインモデルを定義する。
package model

import "time"

// DefaultFreeDownloads は新規ユーザーに付与される無料ダウンロード数の既定値。
const DefaultFreeDownloads = 5

// User は匿名セッションに紐づくサービス利用ユーザーを表す。
// 初回アクセス時に遅延作成され、クレジット残高はクレジットサービス経由でのみ変更される。
type User struct {
	ID             string
	FreeDownloads  int // 残りダウンロードクレジット（無料分 + 購入分）。常に0以上
	TotalDownloads int // 累計ダウンロード数
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Balance はユーザーのクレジット残高のスナップショット。
type Balance struct {
	Free  int
	Total int
}

// Balance はユーザーの現在の残高を返す。
func (u *User) Balance() Balance {
	return Balance{Free: u.FreeDownloads, Total: u.TotalDownloads}
}

// Session はユーザーの匿名セッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
