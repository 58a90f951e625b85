package model

import "time"

// PaymentStatus は決済の状態を表す。
type PaymentStatus string

const (
	// PaymentStatusPending は決済ゲートウェイで未完了の状態。
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusSuccess は決済が確認され、クレジットが付与された状態。
	PaymentStatusSuccess PaymentStatus = "success"
	// PaymentStatusFailed は決済が失敗、またはローカル検証で拒否された状態。
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusExpired は決済意図が有効期限内に完了しなかった状態。
	PaymentStatusExpired PaymentStatus = "expired"
)

// PaymentRecord は確定済み決済の記録。参照番号ごとに最大1件しか作成されない。
// 作成後は変更されない。
type PaymentRecord struct {
	Reference    string
	UserID       string
	Amount       int64 // 最小通貨単位（セント等）
	Currency     string
	Status       PaymentStatus
	CreditsAdded int
	CreatedAt    time.Time
}

// PendingPayment は決済初期化時に保存する決済意図。
// 検証時にゲートウェイの報告金額と突き合わせるために使用する。
type PendingPayment struct {
	Reference string
	UserID    string
	Email     string
	Amount    int64
	Currency  string
	Credits   int
	Status    PaymentStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GatewayStatus は決済ゲートウェイが報告するトランザクション状態。
type GatewayStatus string

const (
	// GatewayStatusSuccess は支払い完了。
	GatewayStatusSuccess GatewayStatus = "success"
	// GatewayStatusFailed は支払い失敗・放棄。
	GatewayStatusFailed GatewayStatus = "failed"
	// GatewayStatusPending は支払い未完了。
	GatewayStatusPending GatewayStatus = "pending"
)
