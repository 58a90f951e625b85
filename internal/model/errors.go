// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrInsufficientCredit はダウンロードクレジットが残っていないことを表す。
// システム障害ではなく、決済フローへ誘導するための想定内の結果。
var ErrInsufficientCredit = errors.New("insufficient download credit")

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, not_found, payment, gateway, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeCoverNotFound      = "COVER_NOT_FOUND"
	ErrCodePaymentNotFound    = "PAYMENT_NOT_FOUND"
	ErrCodePaymentRequired    = "PAYMENT_REQUIRED"
	ErrCodePaymentFailed      = "PAYMENT_FAILED"
	ErrCodePaymentPending     = "PAYMENT_PENDING"
	ErrCodePaymentMismatch    = "PAYMENT_MISMATCH"
	ErrCodeGatewayUnavailable = "GATEWAY_UNAVAILABLE"
	ErrCodeGenerationFailed   = "GENERATION_FAILED"
	ErrCodeRateLimited        = "RATE_LIMITED"
)

// NewValidationError はリクエスト検証エラーを生成する。
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  fmt.Sprintf("入力値が不正です: %s: %s", field, reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewCoverNotFoundError はカバー未検出エラーを生成する。
func NewCoverNotFoundError(coverID string) *APIError {
	return &APIError{
		Code:     ErrCodeCoverNotFound,
		Message:  fmt.Sprintf("指定されたカバーが見つかりません: %s", coverID),
		Category: "not_found",
		Action:   "カバーを再生成してください。",
	}
}

// NewPaymentNotFoundError は決済参照番号が見つからない場合のエラーを生成する。
func NewPaymentNotFoundError(reference string) *APIError {
	return &APIError{
		Code:     ErrCodePaymentNotFound,
		Message:  fmt.Sprintf("指定された決済が見つかりません: %s", reference),
		Category: "not_found",
		Action:   "決済をやり直してください。",
	}
}

// NewPaymentRequiredError は無料ダウンロードを使い切った場合のエラーを生成する。
func NewPaymentRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodePaymentRequired,
		Message:  "ダウンロードクレジットが残っていません。",
		Category: "payment",
		Action:   "クレジットを購入してから再度ダウンロードしてください。",
	}
}

// NewPaymentFailedError は決済ゲートウェイが失敗を報告した場合のエラーを生成する。
func NewPaymentFailedError(reference string) *APIError {
	return &APIError{
		Code:     ErrCodePaymentFailed,
		Message:  fmt.Sprintf("決済が完了していません: %s", reference),
		Category: "payment",
		Action:   "カード情報を確認し、決済をやり直してください。",
	}
}

// NewPaymentPendingError は決済が未完了の場合のエラーを生成する。
func NewPaymentPendingError(reference string) *APIError {
	return &APIError{
		Code:     ErrCodePaymentPending,
		Message:  fmt.Sprintf("決済の処理が完了していません: %s", reference),
		Category: "payment",
		Action:   "しばらく待ってから再度確認してください。",
	}
}

// NewPaymentMismatchError はゲートウェイの報告内容が決済意図と一致しない場合のエラーを生成する。
func NewPaymentMismatchError(reference string) *APIError {
	return &APIError{
		Code:     ErrCodePaymentMismatch,
		Message:  fmt.Sprintf("決済内容が一致しません: %s", reference),
		Category: "payment",
		Action:   "サポートにお問い合わせください。",
	}
}

// NewGatewayUnavailableError は決済ゲートウェイに到達できない場合のエラーを生成する。
// 上流の詳細はログのみに記録し、レスポンスには含めない。
func NewGatewayUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeGatewayUnavailable,
		Message:  "決済の確認に失敗しました。",
		Category: "gateway",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewGenerationFailedError は画像生成に失敗した場合のエラーを生成する。
func NewGenerationFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeGenerationFailed,
		Message:  "ブックカバーの生成に失敗しました。",
		Category: "gateway",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
