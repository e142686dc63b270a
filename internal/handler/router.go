package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/qbodemo/internal/config"
	"github.com/hitoshi/qbodemo/internal/middleware"
)

// SessionStore はセッションの読み込みと保存。session.Manager が満たす。
type SessionStore interface {
	middleware.SessionLoader
	SessionSaver
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Sessions          SessionStore
	RateLimiter       *middleware.RateLimiter
	CSRF              middleware.CSRFConfig
	CORSAllowedOrigin string

	// QuickBooks
	QuickBooks config.QuickBooksConfig
	OAuth      OAuthService
	Accounting AccountingService
	Projects   ProjectService
	Identifier ProjectIdentifier
	Sanitizer  Sanitizer

	// 運用
	HealthCheck HealthCheckFunc
	Metrics     http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → Session → RateLimit(General) → CSRF
//
// /health と /metrics はセッションを読み込まない。
// /api 配下はさらに CORS → RequireConnection を通す。
func NewRouter(deps *RouterDeps) (http.Handler, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	env := deps.QuickBooks.NormalizedEnvironment()
	pageHandler, err := NewPageHandler(deps.Sessions, env)
	if err != nil {
		return nil, err
	}
	authHandler := NewAuthHandler(deps.OAuth, deps.Sessions, deps.QuickBooks)
	accountingHandler := NewAccountingHandler(deps.Accounting, deps.Sessions, deps.Sanitizer, env)
	projectHandler := NewProjectHandler(deps.Projects, deps.Identifier, deps.Sessions, deps.Sanitizer)
	healthHandler := NewHealthHandler(deps.HealthCheck)

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	// --- セッション不要のルート ---
	r.Get("/health", healthHandler.Health)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	// --- セッションを使うルート ---
	// ミドルウェアスタック: Session → RateLimit(General) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Sessions))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		write := deps.RateLimiter.WriteMiddleware()

		r.Get("/", pageHandler.Index)

		// OAuth
		r.Get("/qbo-login", authHandler.Login)
		r.Get("/callback", authHandler.Callback)
		r.Post("/refresh-token", authHandler.RefreshToken)
		r.Get("/logout", authHandler.Logout)
		r.Post("/logout", authHandler.Logout)
		r.Get("/force-clear-session", authHandler.ForceClearSession)
		r.Get("/test-environment", authHandler.TestEnvironment)

		// Accounting
		r.Get("/call-qbo", accountingHandler.CallQBO)
		r.Get("/fetch-items", accountingHandler.FetchItems)
		r.With(write).Post("/create-customer", accountingHandler.CreateCustomer)
		r.With(write).Post("/create-item", accountingHandler.CreateItem)
		r.With(write).Post("/create-invoice", accountingHandler.CreateInvoice)
		r.With(write).Post("/create-estimate", accountingHandler.CreateEstimate)
		r.With(write).Post("/create-sales-receipt", accountingHandler.CreateSalesReceipt)
		r.With(write).Post("/create-bill", accountingHandler.CreateBill)

		// Project Management
		r.With(write).Post("/create-project", projectHandler.CreateProject)
		r.Post("/projects", projectHandler.ListProjects)
		r.Post("/projects/get", projectHandler.GetProject)
		r.Post("/projects/get-multi", projectHandler.GetProjectsMulti)
		r.With(write).Post("/delete-project", projectHandler.DeleteProject)
		r.With(write).Post("/delete-projects-multi", projectHandler.DeleteProjectsMulti)

		// JSON API
		r.Route("/api", func(r chi.Router) {
			r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
			r.Use(middleware.NewRequireConnectionMiddleware())
			r.Get("/accounts", accountingHandler.ListAccounts)
		})
	})

	return r, nil
}
