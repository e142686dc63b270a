package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/qbodemo/internal/accounting"
	"github.com/hitoshi/qbodemo/internal/auth"
	"github.com/hitoshi/qbodemo/internal/config"
	"github.com/hitoshi/qbodemo/internal/database"
	"github.com/hitoshi/qbodemo/internal/handler"
	"github.com/hitoshi/qbodemo/internal/logger"
	"github.com/hitoshi/qbodemo/internal/metrics"
	"github.com/hitoshi/qbodemo/internal/middleware"
	"github.com/hitoshi/qbodemo/internal/project"
	"github.com/hitoshi/qbodemo/internal/quickbooks"
	"github.com/hitoshi/qbodemo/internal/security"
	"github.com/hitoshi/qbodemo/internal/session"
	"github.com/hitoshi/qbodemo/internal/worker/cleanup"
)

// QuickBooks APIへの最大試行回数
const apiMaxAttempts = 3

// Init はアプリケーションの初期化を行う。
// .env と環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. .env を読み込む（既存の環境変数が優先）
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
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
		slog.String("environment", cfg.QuickBooks.NormalizedEnvironment()),
		slog.String("session_backend", cfg.SessionBackend),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandCleanup:
		return runCleanup(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はWebサーバーモードで起動する。
// セッション保存先を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. セッション保存先
	backend, err := openSessionBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open session backend: %w", err)
	}
	defer backend.close()

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 3. 外向き通信（Intuitのエンドポイントのみ）
	guard := security.NewEndpointGuard()
	qb := cfg.QuickBooks
	if err := guard.ValidateEndpoints(map[string]string{
		"QBO_DISCOVERY_URL": qb.DiscoveryURL,
		"QBO_BASE_URL":      qb.BaseURL,
		"QBO_GRAPHQL_URL":   qb.GraphQLURL,
	}); err != nil {
		return fmt.Errorf("invalid QuickBooks endpoint: %w", err)
	}
	httpClient := guard.NewSafeClient(qb.HTTPTimeout)

	transport := quickbooks.NewTransport(
		quickbooks.WithHTTPClient(httpClient),
		quickbooks.WithRateLimit(qb.APIRateLimit, max(1, int(qb.APIRateLimit))),
		quickbooks.WithRetry(apiMaxAttempts, qb.RetryBackoff),
		quickbooks.WithMetrics(collector),
		quickbooks.WithLogger(slog.Default()),
	)
	restClient := quickbooks.NewRESTClient(transport, qb.BaseURL, qb.MinorVersion)
	graphqlClient := quickbooks.NewGraphQLClient(transport, qb.GraphQLURL)

	// 4. ドメインサービス
	oauthProvider := auth.NewIntuitOAuthProvider(auth.IntuitOAuthConfig{
		ClientID:     qb.ClientID,
		ClientSecret: qb.ClientSecret,
		RedirectURI:  qb.RedirectURI,
		Scopes:       qb.RequestedScopes(),
		DiscoveryURL: qb.DiscoveryURL,
		HTTPClient:   httpClient,
	})
	authService := auth.NewService(oauthProvider, qb,
		auth.WithServiceMetrics(collector),
		auth.WithServiceLogger(slog.Default()),
	)
	if err := authService.ValidateConfig(); err != nil {
		// 認可URL生成時にも検証するため、起動は継続する
		slog.Warn("QuickBooks OAuth is not configured", slog.String("error", err.Error()))
	}

	projectService, err := project.NewService(graphqlClient, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to initialize project service: %w", err)
	}
	resolver := project.NewResolver(restClient, projectService, collector, slog.Default())
	accountingService := accounting.NewService(restClient, resolver, qb, slog.Default())

	// 5. ルーターの構築
	sessions := session.NewManager(backend.store, session.Options{
		MaxAge:       time.Duration(cfg.SessionMaxAge) * time.Second,
		CookieSecure: cfg.CookieSecure,
		CookieDomain: cfg.CookieDomain,
	}, slog.Default())

	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitWrite),
	)
	defer rateLimiter.Stop()

	router, err := handler.NewRouter(&handler.RouterDeps{
		Logger:      slog.Default(),
		Sessions:    sessions,
		RateLimiter: rateLimiter,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,

		QuickBooks: qb,
		OAuth:      authService,
		Accounting: accountingService,
		Projects:   projectService,
		Identifier: resolver,
		Sanitizer:  security.NewInputSanitizer(),

		HealthCheck: backend.health,
		Metrics:     metrics.Handler(registry),
	})
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	// 6. 期限切れセッションの削除（PostgreSQL・メモリのみ）
	if backend.expired != nil {
		job := cleanup.NewCleanupJob(backend.expired, slog.Default())
		job.Interval = cfg.SessionCleanupInterval
		go job.Start(ctx)
	}

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("web server starting",
			slog.String("addr", server.Addr),
			slog.String("session_backend", backend.name),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down web server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("web server stopped gracefully")
	return nil
}

// runCleanup は期限切れセッションの削除を1回実行する。
// cron などの外部スケジューラから呼び出す。
func runCleanup(cfg *config.Config) error {
	ctx := context.Background()

	backend, err := openSessionBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open session backend: %w", err)
	}
	defer backend.close()

	if backend.expired == nil {
		slog.Info("session backend expires sessions by itself; nothing to clean",
			slog.String("session_backend", backend.name),
		)
		return nil
	}

	return cleanup.NewCleanupJob(backend.expired, slog.Default()).Run(ctx)
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for migrate")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
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

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
