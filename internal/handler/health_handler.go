package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// healthTimeout はヘルスチェックで保存先へ問い合わせる際のタイムアウト。
const healthTimeout = 3 * time.Second

// HealthCheckFunc はセッション保存先の疎通を確認する。
type HealthCheckFunc func(ctx context.Context) error

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	check HealthCheckFunc
}

// NewHealthHandler はHealthHandlerを生成する。check が nil の場合は常に正常を返す。
func NewHealthHandler(check HealthCheckFunc) *HealthHandler {
	return &HealthHandler{check: check}
}

// Health は保存先に到達できれば200、できなければ503を返す。
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.check != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := h.check(ctx); err != nil {
			slog.Error("health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
