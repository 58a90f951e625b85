package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/covercraft/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// 運用エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler // nilの場合/metricsは公開しない

	// ミドルウェア依存
	Logger            *slog.Logger
	StatusRecorder    middleware.StatusRecorder
	SessionStore      middleware.SessionStore
	SessionCreator    middleware.UserSessionCreator
	SessionConfig     middleware.SessionConfig
	CSRFConfig        middleware.CSRFConfig
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// CurrentUser はハンドラーがユーザーIDを解決する関数。nilの場合はセッションから取得する。
	CurrentUser CurrentUser

	// ドメインサービス
	BalanceService BalanceServiceInterface
	CoverService   CoverServiceInterface
	DownloadFlow   DownloadFlowInterface
	PaymentService PaymentServiceInterface

	// Webhook
	WebhookSettler    WebhookSettler
	PaystackSecretKey string
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → CORS → Session → RateLimit(General) → CSRF
//
// /health、/metrics、CSRFトークン取得、Webhookはセッションの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	statusHandler := NewStatusHandler(deps.BalanceService, deps.HealthChecker, deps.CurrentUser)
	coverHandler := NewCoverHandler(deps.CoverService, deps.CurrentUser)
	downloadHandler := NewDownloadHandler(deps.DownloadFlow, deps.CurrentUser)
	paymentHandler := NewPaymentHandler(deps.PaymentService, deps.BalanceService, deps.CurrentUser)
	webhookHandler := NewWebhookHandler(deps.WebhookSettler, deps.PaystackSecretKey, logger)

	// --- セッション不要のルート ---
	r.Get("/health", statusHandler.Health)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

	// Paystackからの呼び出しは署名で検証する
	r.Post("/api/webhooks/paystack", webhookHandler.Paystack)

	// --- セッションが必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionStore, deps.SessionCreator, deps.SessionConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Get("/api/user-status", statusHandler.UserStatus)

		// カバー生成（生成専用レート制限を追加）
		r.With(deps.RateLimiter.GenerationMiddleware()).Post("/api/generate-cover", coverHandler.GenerateCover)
		r.Get("/api/covers", coverHandler.ListCovers)

		r.Post("/api/download-cover", downloadHandler.DownloadCover)

		r.Post("/api/initialize-payment", paymentHandler.InitializePayment)
		r.Post("/api/verify-payment", paymentHandler.VerifyPayment)
	})

	return r
}
