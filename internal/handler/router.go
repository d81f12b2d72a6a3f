package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/coursesync/internal/middleware"
	"github.com/hitoshi/coursesync/internal/worker/syncer"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger      *slog.Logger
	APIToken    string
	RateLimiter *middleware.RateLimiter

	// ヘルスチェック・メトリクス
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// 競合
	ConflictService ConflictServiceInterface

	// 同期
	SyncRunner syncer.Runner
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → SecurityHeaders → TokenAuth → RateLimit(General)
//
// /health と /metrics は認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	conflictHandler := NewConflictHandler(deps.ConflictService)
	syncHandler := NewSyncHandler(deps.SyncRunner)

	// --- 認証不要のルート ---
	r.Get("/health", newHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: TokenAuth → RateLimit(General)
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewTokenAuthMiddleware(deps.APIToken))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 競合管理
		r.Route("/users/{userID}/conflicts", func(r chi.Router) {
			r.Get("/", conflictHandler.ListConflicts)
			r.Get("/count", conflictHandler.CountConflicts)
			r.Post("/{id}/resolve", conflictHandler.ResolveConflict)
		})

		// POST /api/sync - 同期の手動実行（専用レート制限を追加）
		r.With(deps.RateLimiter.SyncTriggerMiddleware()).Post("/sync", syncHandler.TriggerSync)
	})

	return r
}
