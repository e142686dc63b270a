// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/qbodemo/internal/model"
	"github.com/hitoshi/qbodemo/internal/session"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	sessionContextKey   = contextKey("session")
	requestIDContextKey = contextKey("request_id")
	csrfContextKey      = contextKey("csrf_token")
)

// SessionLoader はリクエストからセッションを読み込むインターフェース。
// session.Manager が満たす。
type SessionLoader interface {
	Load(r *http.Request) (*session.Session, error)
}

// NewSessionMiddleware はCookieからセッションを読み込み、リクエストコンテキストに注入する。
// セッションが無い場合は新しいセッションを注入する。保存はハンドラーが行う。
func NewSessionMiddleware(loader SessionLoader) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := loader.Load(r)
			if err != nil {
				slog.Error("failed to load session",
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), sess)))
		})
	}
}

// NewRequireConnectionMiddleware はQuickBooks未接続のリクエストに401 JSONを返す。
// NewSessionMiddleware の後に配置する。
func NewRequireConnectionMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := SessionFromContext(r.Context())
			if sess == nil || !session.Authenticated(sess) {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotConnectedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SessionFromContext はリクエストコンテキストからセッションを取得する。
// セッションミドルウェアを通過していない場合はnil。
func SessionFromContext(ctx context.Context) *session.Session {
	sess, _ := ctx.Value(sessionContextKey).(*session.Session)
	return sess
}

// ContextWithSession はコンテキストにセッションを注入する。
func ContextWithSession(ctx context.Context, sess *session.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, sess)
}
