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
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hitoshi/coursesync/internal/config"
	"github.com/hitoshi/coursesync/internal/conflict"
	"github.com/hitoshi/coursesync/internal/credential"
	"github.com/hitoshi/coursesync/internal/database"
	"github.com/hitoshi/coursesync/internal/handler"
	"github.com/hitoshi/coursesync/internal/logger"
	"github.com/hitoshi/coursesync/internal/metrics"
	"github.com/hitoshi/coursesync/internal/middleware"
	"github.com/hitoshi/coursesync/internal/platform"
	"github.com/hitoshi/coursesync/internal/reconcile"
	"github.com/hitoshi/coursesync/internal/repository"
	"github.com/hitoshi/coursesync/internal/security"
	"github.com/hitoshi/coursesync/internal/worker/cleanup"
	"github.com/hitoshi/coursesync/internal/worker/syncer"
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

	// 3. ログレベルを設定値に合わせる
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

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
		slog.String("platform", cfg.PlatformName),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandSync:
		return runSyncOnce(cfg)
	case CommandMigrate:
		var rest []string
		if len(args) > 1 {
			rest = args[1:]
		}
		return runMigrate(cfg, rest)
	default:
		return runServe(cfg)
	}
}

// components はserve/worker/syncで共有する依存関係。
type components struct {
	registry  *prometheus.Registry
	metrics   *metrics.Collector
	runner    *syncer.ExclusiveRunner
	conflicts *conflict.Service
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

	slog.Info("database connection established")
	return db, nil
}

// buildComponents は同期処理と競合管理の依存関係をワイヤリングする。
func buildComponents(cfg *config.Config, db *sql.DB, log *slog.Logger) (*components, error) {
	// 1. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mc := metrics.NewCollector(registry)

	// 2. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	if err := ssrfGuard.ValidateURL(cfg.PlatformBaseURL); err != nil {
		return nil, fmt.Errorf("invalid PLATFORM_BASE_URL: %w", err)
	}
	cipher, err := credential.NewCipher(cfg.CredentialEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("invalid CREDENTIAL_ENCRYPTION_KEY: %w", err)
	}

	// 3. プラットフォームクライアントの初期化
	client, err := platform.NewClient(
		ssrfGuard.NewSafeClient(cfg.PlatformTimeout),
		platform.ClientConfig{
			BaseURL:         cfg.PlatformBaseURL,
			SessionCookie:   cfg.PlatformSessionCookie,
			RequestInterval: cfg.PlatformRequestInterval,
			BreakerFailures: uint32(max(cfg.PlatformBreakerFailures, 1)),
			BreakerTimeout:  cfg.PlatformBreakerTimeout,
		},
		log, mc,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create platform client: %w", err)
	}

	strategy, err := reconcile.ParseMatchStrategy(cfg.FuzzyMatchStrategy)
	if err != nil {
		return nil, fmt.Errorf("invalid FUZZY_MATCH_STRATEGY: %w", err)
	}

	// 4. リポジトリの初期化
	assignmentRepo := repository.NewPostgresAssignmentRepo(db)
	conflictRepo := repository.NewPostgresConflictRepo(db)
	repos := syncer.Repositories{
		Connections: repository.NewPostgresConnectionRepo(db),
		Assignments: assignmentRepo,
		Courses:     repository.NewPostgresCourseRepo(db),
		Conflicts:   conflictRepo,
	}

	// 5. 同期処理の初期化
	s := syncer.NewSyncer(
		repos,
		credential.NewStoredSecretProvider(cipher),
		client,
		reconcile.NewNormalizer(security.NewTitleSanitizer()),
		reconcile.NewSimilarityMatcher(strategy),
		cfg.PlatformName,
		log, mc,
	)

	return &components{
		registry:  registry,
		metrics:   mc,
		runner:    syncer.NewExclusiveRunner(s, syncer.NewRunLock(cfg.SyncLockPath)),
		conflicts: conflict.NewService(conflictRepo, assignmentRepo, cfg.PlatformName),
	}, nil
}

// rateLimiterConfig は設定値（req/min）からレート制限設定を生成する。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rl.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rl.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitSync > 0 {
		rl.SyncRate = rate.Limit(float64(cfg.RateLimitSync) / 60.0)
		rl.SyncBurst = cfg.RateLimitSync
	}
	return rl
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	comps, err := buildComponents(cfg, db, slog.Default())
	if err != nil {
		return err
	}

	rateLimiter := middleware.NewRateLimiter(rateLimiterConfig(cfg))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:          slog.Default(),
		APIToken:        cfg.APIToken,
		RateLimiter:     rateLimiter,
		HealthChecker:   db,
		MetricsHandler:  metrics.Handler(comps.registry),
		ConflictService: comps.conflicts,
		SyncRunner:      comps.runner,
	})

	// 手動同期は全ユーザー分を処理するため書き込みタイムアウトを長めにとる
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute,
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
// DB接続を開き、同期スケジューラとクリーンアップジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	comps, err := buildComponents(cfg, db, slog.Default())
	if err != nil {
		return err
	}

	cleanupJob := cleanup.NewCleanupJob(db, slog.Default(), comps.metrics)
	if cfg.ConflictRetentionDays > 0 {
		cleanupJob.RetentionDays = cfg.ConflictRetentionDays
	}

	scheduler := syncer.NewScheduler(comps.runner, slog.Default(), cleanupJob)

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

	// メトリクス公開用のHTTPサーバー
	metricsServer := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           metrics.SetupMetricsRoute(comps.registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	slog.Info("worker starting",
		slog.Duration("sync_interval", cfg.SyncInterval),
		slog.String("lock_path", cfg.SyncLockPath),
		slog.Int("conflict_retention_days", cleanupJob.RetentionDays),
	)

	// 同期スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.SyncInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runSyncOnce は同期処理を1回実行して終了する。
// 他の同期処理が実行中の場合はエラーを返す。
func runSyncOnce(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	comps, err := buildComponents(cfg, db, slog.Default())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := comps.runner.Run(ctx)
	if err != nil {
		if errors.Is(err, syncer.ErrRunInProgress) {
			return fmt.Errorf("another sync run holds the lock %s: %w", cfg.SyncLockPath, err)
		}
		return fmt.Errorf("sync failed: %w", err)
	}

	slog.Info("one-shot sync finished", slog.Any("summary", summary))
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// 引数なしまたは "up" の場合はすべての未適用マイグレーションを適用する。
// "down [steps]" の場合は指定数（省略時はすべて）を巻き戻す。
func runMigrate(cfg *config.Config, args []string) error {
	direction := "up"
	if len(args) > 0 {
		direction = args[0]
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.String("direction", direction),
	)

	switch direction {
	case "up":
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	case "down":
		steps := 0
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 0 {
				return fmt.Errorf("invalid rollback steps: %q", args[1])
			}
			steps = n
		}
		if err := database.RollbackMigrations(cfg.DatabaseURL, steps); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
	default:
		return fmt.Errorf("unknown migrate direction: %q (expected up or down)", direction)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
