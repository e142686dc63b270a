// Package quickbooks はQuickBooks Online APIへの送信層を提供する。
// Accounting REST（query / エンティティ作成）とProject Management GraphQLの
// 両クライアントが共通の Transport を経由して通信する。
package quickbooks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/qbodemo/internal/metrics"
)

const (
	defaultMaxAttempts = 3
	defaultBackoff     = 500 * time.Millisecond
	defaultTimeout     = 30 * time.Second
	// maxResponseSize はレスポンスボディの読み取り上限（10MB）。
	maxResponseSize = 10 << 20
)

// Call は1回のAPI呼び出しを表す。ボディはリトライごとに再送される。
type Call struct {
	API    string // メトリクス・ログ用のラベル（rest_query, rest_post, graphql など）
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response は読み取り済みのHTTPレスポンス。
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport はリトライ・レート制限・メトリクス記録付きのHTTP送信を行う。
type Transport struct {
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	backoff     time.Duration
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
}

// Option はTransportの設定を変更する。
type Option func(*Transport)

// WithHTTPClient は送信に使うHTTPクライアントを設定する。
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) {
		t.httpClient = c
	}
}

// WithRateLimit は秒間リクエスト数の上限を設定する。0以下は無制限。
func WithRateLimit(requestsPerSecond float64, burst int) Option {
	return func(t *Transport) {
		if requestsPerSecond <= 0 {
			t.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
}

// WithRetry は最大試行回数とリトライ間隔を設定する。
func WithRetry(maxAttempts int, backoff time.Duration) Option {
	return func(t *Transport) {
		if maxAttempts < 1 {
			maxAttempts = 1
		}
		t.maxAttempts = maxAttempts
		t.backoff = backoff
	}
}

// WithMetrics はメトリクスコレクタを設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(t *Transport) {
		if m != nil {
			t.metrics = m
		}
	}
}

// WithLogger はロガーを設定する。
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTransport はTransportを生成する。
// 既定は最大3回試行・固定500ms間隔・秒間8リクエスト。
func NewTransport(opts ...Option) *Transport {
	t := &Transport{
		httpClient:  &http.Client{Timeout: defaultTimeout},
		limiter:     rate.NewLimiter(rate.Limit(8), 8),
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
		metrics:     metrics.Nop(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Do はCallを送信する。接続失敗・429・5xxの場合は固定間隔でリトライする。
// リトライを使い切った429/5xxは最後のレスポンスをそのまま返す。
// 接続失敗を使い切った場合は最後の送信エラーを返す。
func (t *Transport) Do(ctx context.Context, call Call) (*Response, error) {
	var lastErr error
	var lastResp *Response

	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		if attempt > 1 {
			t.metrics.RecordAPIRetry(call.API)
			if err := sleepContext(ctx, t.backoff); err != nil {
				return nil, err
			}
		}

		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limiter: %w", err)
			}
		}

		resp, err := t.send(ctx, call)
		if err != nil {
			if !isRetryableError(ctx, err) {
				return nil, err
			}
			lastErr = err
			lastResp = nil
			t.logger.Warn("qbo api call failed",
				slog.String("api", call.API),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			continue
		}

		if ClassifyHTTPStatus(resp.StatusCode) != ResponseRetryable {
			return resp, nil
		}

		lastErr = nil
		lastResp = resp
		t.logger.Warn("qbo api transient response",
			slog.String("api", call.API),
			slog.Int("attempt", attempt),
			slog.Int("status", resp.StatusCode),
		)
	}

	if lastResp != nil {
		return lastResp, nil
	}
	return nil, lastErr
}

// send は1回分の送信を行い、ボディを読み切って返す。
func (t *Transport) send(ctx context.Context, call Call) (*Response, error) {
	var body io.Reader
	if call.Body != nil {
		body = bytes.NewReader(call.Body)
	}

	req, err := http.NewRequestWithContext(ctx, call.Method, call.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range call.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.metrics.RecordAPICall(call.API, 0, time.Since(start))
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	t.metrics.RecordAPICall(call.API, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	t.logger.Debug("qbo_api_call",
		slog.String("api", call.API),
		slog.String("method", call.Method),
		slog.Int("status", resp.StatusCode),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// sleepContext はcontextのキャンセルを考慮して待機する。
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
