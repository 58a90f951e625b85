package paystack

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"

	"github.com/tidwall/gjson"
)

// SignatureHeader はWebhook署名を格納するHTTPヘッダー名。
const SignatureHeader = "x-paystack-signature"

// EventChargeSuccess は支払い完了イベント。
const EventChargeSuccess = "charge.success"

// ErrInvalidEvent はWebhookペイロードが解析できないことを表す。
var ErrInvalidEvent = errors.New("invalid webhook event")

// Event はWebhookイベントのうち確定処理に必要な項目。
type Event struct {
	Type      string
	Reference string
}

// VerifySignature はボディのHMAC-SHA512がsignature（16進）と一致するかを定数時間で比較する。
func VerifySignature(secretKey string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secretKey))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

// Sign はボディの署名を生成する。
func Sign(secretKey string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secretKey))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseEvent はWebhookペイロードを解析する。
func ParseEvent(body []byte) (*Event, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrInvalidEvent
	}
	parsed := gjson.ParseBytes(body)
	ev := &Event{
		Type:      parsed.Get("event").String(),
		Reference: parsed.Get("data.reference").String(),
	}
	if ev.Type == "" {
		return nil, ErrInvalidEvent
	}
	return ev, nil
}
