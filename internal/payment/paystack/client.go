// Package paystack はPaystack決済APIのクライアントを提供する。
// トランザクションの初期化と検証のみを扱う。
package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hitoshi/covercraft/internal/metrics"
	"github.com/hitoshi/covercraft/internal/model"
)

const (
	// DefaultBaseURL はPaystack APIのベースURL。
	DefaultBaseURL = "https://api.paystack.co"
	// defaultTimeout は1回の呼び出しあたりのタイムアウト。
	defaultTimeout = 10 * time.Second
	// defaultRetryDelay は再試行までの待機時間。
	defaultRetryDelay = 500 * time.Millisecond
	// maxResponseSize はレスポンスボディの読み取り上限。
	maxResponseSize = 1 << 20
)

// ErrGateway はゲートウェイ呼び出しの失敗を表す。
// 呼び出し元は決済状態を不明として扱い、成功とみなしてはならない。
var ErrGateway = errors.New("payment gateway error")

// GatewayError はゲートウェイ呼び出しの失敗詳細。errors.Is(err, ErrGateway)がtrueになる。
type GatewayError struct {
	Op         string
	StatusCode int // HTTPレスポンスを受信できなかった場合は0
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("paystack %s: status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("paystack %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("paystack %s: %s", e.Op, e.Message)
}

func (e *GatewayError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrGateway, e.Err}
	}
	return []error{ErrGateway}
}

// retryable はネットワークエラーと5xxのみ再試行対象とする。
func (e *GatewayError) retryable() bool {
	return (e.StatusCode == 0 && e.Err != nil) || e.StatusCode >= 500
}

// Config はClientの設定。
type Config struct {
	SecretKey  string
	BaseURL    string
	Timeout    time.Duration
	RetryDelay time.Duration
}

// InitializeRequest はトランザクション初期化の入力。
type InitializeRequest struct {
	Email       string
	Amount      int64 // 最小通貨単位
	Currency    string
	Reference   string
	CallbackURL string
	Metadata    map[string]any
}

// InitializeResult はトランザクション初期化の結果。
type InitializeResult struct {
	Reference        string
	AuthorizationURL string
	AccessCode       string
}

// Metadata はトランザクションに添付したメタデータのうち参照する項目。
type Metadata struct {
	UserID     string
	Credits    int
	HasCredits bool
}

// VerifyResult はトランザクション検証の結果。
type VerifyResult struct {
	Reference string
	Status    model.GatewayStatus
	RawStatus string
	Amount    int64
	Currency  string
	Metadata  Metadata
}

// Client はPaystack APIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	secretKey  string
	baseURL    string
	timeout    time.Duration
	retryDelay time.Duration
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, cfg Config, collector metrics.MetricsCollector, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		metrics:    collector,
		secretKey:  cfg.SecretKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    cfg.Timeout,
		retryDelay: cfg.RetryDelay,
	}
}

// Initialize はトランザクションを初期化し、決済ページのURLを返す。
func (c *Client) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	payload := map[string]any{
		"email":    req.Email,
		"amount":   req.Amount,
		"currency": req.Currency,
	}
	if req.Reference != "" {
		payload["reference"] = req.Reference
	}
	if req.CallbackURL != "" {
		payload["callback_url"] = req.CallbackURL
	}
	if len(req.Metadata) > 0 {
		payload["metadata"] = req.Metadata
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
	}

	data, err := c.do(ctx, "initialize", http.MethodPost, "/transaction/initialize", body)
	if err != nil {
		return nil, err
	}

	result := &InitializeResult{
		Reference:        data.Get("reference").String(),
		AuthorizationURL: data.Get("authorization_url").String(),
		AccessCode:       data.Get("access_code").String(),
	}
	if result.Reference == "" || result.AuthorizationURL == "" {
		return nil, &GatewayError{Op: "initialize", Message: "incomplete initialize response"}
	}
	return result, nil
}

// Verify はトランザクションの状態を問い合わせる。
func (c *Client) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	path := "/transaction/verify/" + url.PathEscape(reference)

	data, err := c.do(ctx, "verify", http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	raw := data.Get("status").String()
	result := &VerifyResult{
		Reference: data.Get("reference").String(),
		Status:    MapStatus(raw),
		RawStatus: raw,
		Amount:    data.Get("amount").Int(),
		Currency:  strings.ToUpper(data.Get("currency").String()),
		Metadata:  parseMetadata(data.Get("metadata")),
	}
	if result.Reference == "" {
		result.Reference = reference
	}
	return result, nil
}

// MapStatus はPaystackのトランザクション状態を3値に正規化する。
// 未知の状態は成功とみなさずpendingとして扱う。
func MapStatus(raw string) model.GatewayStatus {
	switch strings.ToLower(raw) {
	case "success":
		return model.GatewayStatusSuccess
	case "failed", "abandoned", "reversed":
		return model.GatewayStatusFailed
	default:
		// ongoing, pending, processing, queued
		return model.GatewayStatusPending
	}
}

// parseMetadata はメタデータを取り出す。Paystackはメタデータを
// オブジェクトまたはJSON文字列のどちらでも返すため両方を扱う。
func parseMetadata(v gjson.Result) Metadata {
	if v.Type == gjson.String {
		v = gjson.Parse(v.String())
	}
	if !v.IsObject() {
		return Metadata{}
	}

	md := Metadata{UserID: v.Get("user_id").String()}
	if credits := v.Get("credits"); credits.Exists() {
		md.Credits = int(credits.Int())
		md.HasCredits = true
	}
	return md
}

// do はリクエストを送信し、成功レスポンスのdataフィールドを返す。
// ネットワークエラーと5xxは1回だけ再試行する。
func (c *Client) do(ctx context.Context, op, method, path string, body []byte) (gjson.Result, error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordGatewayLatency("paystack_"+op, time.Since(start))
	}()

	data, err := c.attempt(ctx, op, method, path, body)
	var gwErr *GatewayError
	if err != nil && errors.As(err, &gwErr) && gwErr.retryable() && ctx.Err() == nil {
		c.logger.Warn("paystack request failed, retrying",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return gjson.Result{}, &GatewayError{Op: op, Err: ctx.Err()}
		case <-time.After(c.retryDelay):
		}
		data, err = c.attempt(ctx, op, method, path, body)
	}
	if err != nil {
		c.logger.Error("paystack request failed",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return gjson.Result{}, err
	}
	return data, nil
}

func (c *Client) attempt(ctx context.Context, op, method, path string, body []byte) (gjson.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, &GatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return gjson.Result{}, &GatewayError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}

	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, &GatewayError{Op: op, StatusCode: resp.StatusCode, Message: "invalid JSON response"}
	}
	parsed := gjson.ParseBytes(raw)

	if resp.StatusCode != http.StatusOK || !parsed.Get("status").Bool() {
		return gjson.Result{}, &GatewayError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    parsed.Get("message").String(),
		}
	}

	return parsed.Get("data"), nil
}
