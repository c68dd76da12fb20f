// Package app はサブコマンドごとの起動処理と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/shipkit/internal/admin"
	"github.com/hitoshi/shipkit/internal/audit"
	"github.com/hitoshi/shipkit/internal/auth"
	"github.com/hitoshi/shipkit/internal/config"
	"github.com/hitoshi/shipkit/internal/database"
	"github.com/hitoshi/shipkit/internal/export"
	"github.com/hitoshi/shipkit/internal/flags"
	"github.com/hitoshi/shipkit/internal/handler"
	"github.com/hitoshi/shipkit/internal/logger"
	"github.com/hitoshi/shipkit/internal/metrics"
	"github.com/hitoshi/shipkit/internal/middleware"
	"github.com/hitoshi/shipkit/internal/permission"
	"github.com/hitoshi/shipkit/internal/repository"
	"github.com/hitoshi/shipkit/internal/worker/cleanup"
)

const tokenIssuer = "shipkit"

// Init はアプリケーションの初期化を行う。
// .envがあれば読み込んだ上で環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. 設定読み込み前にもログを使えるようにする
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. .env（任意）と環境変数から設定を読み込む
	if err := config.LoadEnvFile(".env"); err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. LOG_LEVELを反映する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
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
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx := context.Background()

	// 1. DB接続
	db, err := database.Connect(ctx, cfg.DatabaseURL, database.DefaultPoolOptions())
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("database connection established")

	// 2. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 3. サービスの構築
	svc, err := buildServices(ctx, cfg, db, collector)
	if err != nil {
		return err
	}

	if err := bootstrapAdmin(ctx, svc.auth, cfg.BootstrapAdminEmail, slog.Default()); err != nil {
		return err
	}

	// 4. レート制限とCSRF
	rlCfg := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rlCfg.GeneralPerMinute = float64(cfg.RateLimitGeneral)
		rlCfg.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitLogin > 0 {
		rlCfg.LoginLimit = cfg.RateLimitLogin
	}
	if cfg.RateLimitLoginWindow > 0 {
		rlCfg.LoginWindow = cfg.RateLimitLoginWindow
	}
	limiter := middleware.NewRateLimiter(rlCfg)
	limiter.OnReject = collector.RecordRateLimitRejection
	defer limiter.Stop()

	csrfCfg := middleware.CSRFConfig{
		CookieSecure: cfg.CookieSecure,
		CookieDomain: cfg.CookieDomain,
		OnReject:     collector.RecordCSRFRejection,
	}

	// 5. ルーターの構築
	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		HSTS:              cfg.CookieSecure,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		TrustProxy:        cfg.TrustProxy,
		CSRF:              csrfCfg,
		UserLoader:        svc.auth,
		Permissions:       svc.permissions,
		RateLimiter:       limiter,
		StatusObserver:    collector,

		DB:             db,
		MetricsHandler: metrics.Handler(reg),

		AuthService: svc.auth,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},
		LoginRecorder: collector,

		Auditor:      svc.audit,
		AuditService: svc.audit,

		FlagService: svc.flags,

		AdminService:   svc.admin,
		ExportService:  svc.admin,
		ExportRecorder: collector,
		ExportConfig:   handler.ExportHandlerConfig{URLTTL: cfg.ExportURLTTL},
	}
	// nilの*S3Storeをインターフェースに入れないよう、設定時のみ代入する
	if svc.store != nil {
		deps.ObjectStore = svc.store
	}

	router := handler.NewRouter(deps)

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second, // エクスポートのストリーミングを考慮
		IdleTimeout:       60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// services はHTTP層へ渡すサービス群。
type services struct {
	auth        *auth.Service
	audit       *audit.Service
	flags       *flags.Service
	admin       *admin.Service
	permissions *permission.Registry
	store       *export.S3Store // EXPORT_S3_BUCKET未設定ならnil
}

func buildServices(ctx context.Context, cfg *config.Config, db *sql.DB, collector *metrics.Collector) (*services, error) {
	// リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	flagRepo := repository.NewPostgresFlagRepo(db)
	auditRepo := repository.NewPostgresAuditRepo(db)
	rolePermRepo := repository.NewPostgresRolePermissionRepo(db)
	tableRepo := repository.NewPostgresTableRepo(db)

	// 権限: 組み込みの既定値にDB上の割り当てを重ねる
	perms := permission.NewRegistry()
	if err := perms.Load(ctx, rolePermRepo); err != nil {
		return nil, err
	}

	tokens := auth.NewTokenIssuer([]byte(cfg.SessionSecret), tokenIssuer)
	authService := auth.NewService(userRepo, sessionRepo, tokens,
		newLogNotifier(cfg.BaseURL, slog.Default()),
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)

	auditService := audit.NewService(auditRepo)

	svc := &services{
		auth:        authService,
		audit:       auditService,
		flags:       flags.NewService(flagRepo, cfg.FlagCacheTTL, collector),
		admin:       admin.NewService(admin.DefaultRegistry(), tableRepo, auditService),
		permissions: perms,
	}

	if cfg.ExportToS3Enabled() {
		store, err := export.NewS3Store(ctx, export.S3Config{
			Bucket:          cfg.ExportS3Bucket,
			Region:          cfg.ExportS3Region,
			Endpoint:        cfg.ExportS3Endpoint,
			AccessKeyID:     cfg.ExportS3AccessKey,
			SecretAccessKey: cfg.ExportS3SecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to configure export storage: %w", err)
		}
		svc.store = store
		slog.Info("export object storage enabled", slog.String("bucket", cfg.ExportS3Bucket))
	}

	return svc, nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、クリーンアップジョブを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 1. DB接続
	db, err := database.Connect(ctx, cfg.DatabaseURL, database.PoolOptions{MaxOpenConns: 2})
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("database connection established (worker)")

	// 2. クリーンアップジョブの初期化
	// ワーカーはスクレイプされないため、メトリクスはプロセス内で集計するだけになる
	collector := metrics.NewCollector(prometheus.NewRegistry())
	job := cleanup.NewCleanupJob(
		repository.NewPostgresSessionRepo(db),
		audit.NewService(repository.NewPostgresAuditRepo(db)),
		collector,
		slog.Default(),
	)
	job.AuditRetention = cfg.AuditRetention()

	// 3. コンテキストがキャンセルされるまでブロックする
	job.Start(ctx, cfg.CleanupInterval)

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

	version, dirty, err := database.Version(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
