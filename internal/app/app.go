package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/covercraft/internal/config"
	"github.com/hitoshi/covercraft/internal/cover"
	"github.com/hitoshi/covercraft/internal/credit"
	"github.com/hitoshi/covercraft/internal/database"
	"github.com/hitoshi/covercraft/internal/download"
	"github.com/hitoshi/covercraft/internal/handler"
	"github.com/hitoshi/covercraft/internal/imagegen"
	"github.com/hitoshi/covercraft/internal/logger"
	"github.com/hitoshi/covercraft/internal/metrics"
	"github.com/hitoshi/covercraft/internal/middleware"
	"github.com/hitoshi/covercraft/internal/model"
	"github.com/hitoshi/covercraft/internal/payment"
	"github.com/hitoshi/covercraft/internal/payment/paystack"
	"github.com/hitoshi/covercraft/internal/repository"
	"github.com/hitoshi/covercraft/internal/security"
	"github.com/hitoshi/covercraft/internal/storage"
	"github.com/hitoshi/covercraft/internal/worker/cleanup"
	"github.com/hitoshi/covercraft/internal/worker/reconcile"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定に従ってログレベルを変更する
	logger.SetLevel(cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	var grant GrantArgs
	if cmd == CommandGrant {
		if grant, err = ParseGrantArgs(args[1:]); err != nil {
			return err
		}
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandGrant:
		return runGrant(cfg, grant)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	coverRepo := repository.NewPostgresCoverRepo(db)
	paymentRepo := repository.NewPostgresPaymentRepo(db)

	// 3. メトリクスとセキュリティサービスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	guard := security.NewOutboundGuard()
	if err := validateEndpoints(guard, cfg); err != nil {
		return err
	}

	// 4. オブジェクトストア
	store, err := newObjectStore(context.Background(), cfg, db)
	if err != nil {
		return err
	}

	// 5. ドメインサービスの初期化
	credits := credit.NewService(userRepo, cfg.FreeDownloads)

	generator := imagegen.NewGeminiClient(
		guard.NewAPIClient(cfg.GenerationTimeout),
		imagegen.Config{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.GeminiModel,
			BaseURL: cfg.GeminiBaseURL,
			Timeout: cfg.GenerationTimeout,
		},
		collector, slog.Default(),
	)
	coverService := cover.NewService(
		coverRepo, generator, store, security.NewTextSanitizer(), credits,
		collector, slog.Default(),
	)

	downloadFlow := download.NewFlow(
		coverRepo, credits, store, collector, slog.Default(),
		download.Options{EnforceOwnership: cfg.DownloadEnforceOwnership},
	)

	paymentService := newPaymentService(cfg, guard, paymentRepo, collector)

	// 6. ルーターの構築
	// configのレート制限はreq/min単位
	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitGenerate),
	)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),

		Logger:         slog.Default(),
		StatusRecorder: collector,
		SessionStore:   sessionRepo,
		SessionCreator: userRepo,
		SessionConfig: middleware.SessionConfig{
			MaxAge:        cfg.SessionMaxAgeDuration(),
			FreeDownloads: cfg.FreeDownloads,
			CookieSecure:  cfg.CookieSecure,
			CookieDomain:  cfg.CookieDomain,
		},
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		BalanceService: credits,
		CoverService:   coverService,
		DownloadFlow:   downloadFlow,
		PaymentService: paymentService,

		WebhookSettler:    paymentService,
		PaystackSecretKey: cfg.PaystackSecretKey,
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
	// 画像生成は時間がかかるため書き込みタイムアウトは生成タイムアウトより長くする
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.GenerationTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、決済照合ワーカーとクリーンアップジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. 依存関係の初期化
	paymentRepo := repository.NewPostgresPaymentRepo(db)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	guard := security.NewOutboundGuard()
	if err := validateEndpoints(guard, cfg); err != nil {
		return err
	}

	paymentService := newPaymentService(cfg, guard, paymentRepo, collector)

	// 3. 決済照合ワーカー
	reconciler := reconcile.NewReconciler(paymentRepo, paymentService, slog.Default(), reconcile.Config{
		MinAge:         cfg.ReconcileMinAge,
		PendingTTL:     cfg.PendingPaymentTTL,
		MaxConcurrency: cfg.ReconcileMaxConcurrent,
	})

	// 4. クリーンアップジョブ
	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())
	cleanupJob.RetentionDays = cfg.PendingRetentionDays

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	// 5. ワーカーのメトリクスを別ポートで公開する（WORKER_METRICS_PORT指定時のみ）
	if cfg.WorkerMetricsPort != "" {
		metricsServer := &http.Server{
			Addr:              ":" + cfg.WorkerMetricsPort,
			Handler:           metrics.SetupMetricsRoute(registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("worker metrics server error", slog.String("error", err.Error()))
			}
		}()
		defer metricsServer.Close()
	}

	slog.Info("worker starting",
		slog.Duration("reconcile_interval", cfg.ReconcileInterval),
		slog.String("cleanup_schedule", cfg.CleanupSchedule),
	)

	// クリーンアップジョブをバックグラウンドで起動
	go func() {
		if err := cleanupJob.Start(ctx, cfg.CleanupSchedule); err != nil {
			slog.Error("cleanup job failed to start", slog.String("error", err.Error()))
		}
	}()

	// 決済照合ワーカーをメインgoroutineで実行（ブロッキング）
	reconciler.Start(ctx, cfg.ReconcileInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runGrant はサポート対応として指定ユーザーにクレジットを付与する。
// ユーザーが存在しない場合は初期残高で作成してから付与する。
func runGrant(cfg *config.Config, grant GrantArgs) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	credits := credit.NewService(repository.NewPostgresUserRepo(db), cfg.FreeDownloads)
	_, err = applyGrant(context.Background(), credits, grant)
	return err
}

// CreditGranter はgrantサブコマンドが必要とするインターフェース。credit.Serviceが実装する。
type CreditGranter interface {
	GrantCredits(ctx context.Context, userID string, amount int) (model.Balance, error)
}

func applyGrant(ctx context.Context, granter CreditGranter, grant GrantArgs) (model.Balance, error) {
	balance, err := granter.GrantCredits(ctx, grant.UserID, grant.Credits)
	if err != nil {
		return model.Balance{}, fmt.Errorf("grant failed: %w", err)
	}

	slog.Info("credits granted manually",
		slog.String("user_id", grant.UserID),
		slog.Int("credits", grant.Credits),
		slog.Int("free_downloads", balance.Free),
		slog.Int("total_downloads", balance.Total),
	)
	return balance, nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// newPaymentService はPaystackクライアントと決済サービスを構築する。
func newPaymentService(
	cfg *config.Config,
	guard security.OutboundGuardService,
	repo repository.PaymentRepository,
	collector metrics.MetricsCollector,
) *payment.Service {
	gateway := paystack.NewClient(
		guard.NewAPIClient(cfg.GatewayTimeout),
		paystack.Config{
			SecretKey: cfg.PaystackSecretKey,
			BaseURL:   cfg.PaystackBaseURL,
			Timeout:   cfg.GatewayTimeout,
		},
		collector, slog.Default(),
	)
	return payment.NewService(repo, gateway, collector, slog.Default(), payment.Config{
		PackPrice:   cfg.CreditPackPrice,
		PackCredits: cfg.CreditPackCredits,
		Currency:    cfg.PaymentCurrency,
		CallbackURL: cfg.PaymentCallbackURL,
	})
}

// validateEndpoints は外部APIのベースURLを起動時に検証する。
// コールバックURLはPaystackから利用者のブラウザに渡るだけなので、検証失敗は警告に留める。
func validateEndpoints(guard security.OutboundGuardService, cfg *config.Config) error {
	endpoints := map[string]string{
		"GEMINI_BASE_URL":   orDefault(cfg.GeminiBaseURL, imagegen.DefaultBaseURL),
		"PAYSTACK_BASE_URL": orDefault(cfg.PaystackBaseURL, paystack.DefaultBaseURL),
	}
	for name, endpoint := range endpoints {
		if err := guard.ValidateEndpoint(endpoint); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	if cfg.CookieSecure {
		if err := guard.ValidateEndpoint(cfg.PaymentCallbackURL); err != nil {
			slog.Warn("payment callback URL rejected by outbound policy",
				slog.String("callback_url", cfg.PaymentCallbackURL),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// newObjectStore はS3_BUCKETが設定されていればS3、なければPostgreSQLの画像ストアを返す。
func newObjectStore(ctx context.Context, cfg *config.Config, db *sql.DB) (storage.Store, error) {
	if cfg.S3Bucket == "" {
		slog.Info("using database image store")
		return storage.NewPostgresStore(db), nil
	}

	store, err := storage.NewS3Store(ctx, storage.S3Config{
		Bucket:        cfg.S3Bucket,
		Region:        cfg.S3Region,
		Endpoint:      cfg.S3Endpoint,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		PresignExpiry: cfg.S3PresignExpiry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize s3 store: %w", err)
	}
	slog.Info("using s3 image store", slog.String("bucket", cfg.S3Bucket))
	return store, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
