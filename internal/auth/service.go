// Package auth はQuickBooks OnlineのOAuth 2.0ライフサイクル（認可URL生成、
// コード交換、リフレッシュ、失効）とコールバックの処理状態管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/hitoshi/qbodemo/internal/config"
	"github.com/hitoshi/qbodemo/internal/metrics"
	"github.com/hitoshi/qbodemo/internal/model"
)

// stateBytes はCSRF対策用 state の乱数バイト数（Base64URLで43文字）。
const stateBytes = 32

// OAuthProvider はOAuth認可サーバーへの操作のインターフェース。
type OAuthProvider interface {
	// AuthCodeURL は state を含む認可URLを生成する。
	AuthCodeURL(ctx context.Context, state string) (string, error)
	// Exchange は認可コードをトークンに交換する。
	Exchange(ctx context.Context, code string) (*model.TokenSet, error)
	// Refresh はリフレッシュトークンで新しいトークンを取得する。
	Refresh(ctx context.Context, refreshToken string) (*model.TokenSet, error)
	// Revoke はトークンを失効させる。
	Revoke(ctx context.Context, token string) error
}

// AuthorizationRequest は認可URLと、コールバックで照合する state の組。
type AuthorizationRequest struct {
	URL   string
	State string
}

// Service はOAuthライフサイクルのビジネスロジックを提供する。
type Service struct {
	provider OAuthProvider
	config   config.QuickBooksConfig
	random   io.Reader
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
}

// ServiceOption はServiceの設定を変更する。
type ServiceOption func(*Service)

// WithRandom は state 生成に使う乱数源を設定する。
func WithRandom(r io.Reader) ServiceOption {
	return func(s *Service) {
		s.random = r
	}
}

// WithServiceMetrics はメトリクスコレクタを設定する。
func WithServiceMetrics(m metrics.MetricsCollector) ServiceOption {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithServiceLogger はロガーを設定する。
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService はServiceを生成する。
func NewService(provider OAuthProvider, cfg config.QuickBooksConfig, opts ...ServiceOption) *Service {
	s := &Service{
		provider: provider,
		config:   cfg,
		random:   rand.Reader,
		metrics:  metrics.Nop(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateConfig はOAuthクライアント設定を検証する。ネットワークには接続しない。
func (s *Service) ValidateConfig() error {
	switch {
	case strings.TrimSpace(s.config.ClientID) == "":
		return model.NewConfigurationError("QBO_CLIENT_ID", "is not set")
	case strings.TrimSpace(s.config.ClientSecret) == "":
		return model.NewConfigurationError("QBO_CLIENT_SECRET", "is not set")
	case strings.TrimSpace(s.config.RedirectURI) == "":
		return model.NewConfigurationError("QBO_REDIRECT_URI", "is not set")
	case !strings.HasPrefix(s.config.RedirectURI, "http://") && !strings.HasPrefix(s.config.RedirectURI, "https://"):
		return model.NewConfigurationError("QBO_REDIRECT_URI", "must start with http:// or https://")
	}

	switch s.config.NormalizedEnvironment() {
	case config.EnvironmentSandbox, config.EnvironmentProduction:
	default:
		return model.NewConfigurationError("QBO_ENVIRONMENT", "must be 'sandbox' or 'production'")
	}
	return nil
}

// BuildAuthorizationURL は設定を検証し、新しい state を発行して認可URLを生成する。
// 設定不備の場合はディスカバリへ接続する前に ConfigurationError を返す。
func (s *Service) BuildAuthorizationURL(ctx context.Context) (*AuthorizationRequest, error) {
	if err := s.ValidateConfig(); err != nil {
		s.metrics.RecordOAuthEvent("authorize", string(model.KindOf(err)))
		return nil, err
	}

	state, err := GenerateState(s.random)
	if err != nil {
		return nil, model.NewUnexpectedError("generate state", err)
	}

	authURL, err := s.provider.AuthCodeURL(ctx, state)
	if err != nil {
		err = classifyTokenError("build authorization URL", err, false)
		s.metrics.RecordOAuthEvent("authorize", string(model.KindOf(err)))
		return nil, err
	}

	s.metrics.RecordOAuthEvent("authorize", "success")
	return &AuthorizationRequest{URL: authURL, State: state}, nil
}

// ExchangeCodeForToken は認可コードをトークンに交換する。
func (s *Service) ExchangeCodeForToken(ctx context.Context, code string) (*model.TokenSet, error) {
	if strings.TrimSpace(code) == "" {
		return nil, model.NewValidationError("Authorization code is required")
	}

	tokens, err := s.provider.Exchange(ctx, code)
	if err != nil {
		err = classifyTokenError("exchange authorization code", err, false)
		s.metrics.RecordOAuthEvent("exchange", string(model.KindOf(err)))
		s.logger.Warn("authorization code exchange failed",
			slog.String("kind", string(model.KindOf(err))),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.metrics.RecordOAuthEvent("exchange", "success")
	s.logger.Info("authorization code exchanged",
		slog.Int("expires_in", tokens.ExpiresIn),
		slog.Bool("has_refresh_token", tokens.RefreshToken != ""),
	)
	return tokens, nil
}

// RefreshToken はリフレッシュトークンでアクセストークンを更新する。
// 応答にリフレッシュトークンが含まれない場合は渡されたものを引き継ぐ。
func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (*model.TokenSet, error) {
	if strings.TrimSpace(refreshToken) == "" {
		s.metrics.RecordOAuthEvent("refresh", string(model.KindMissingRefreshToken))
		return nil, model.NewMissingRefreshTokenError()
	}

	tokens, err := s.provider.Refresh(ctx, refreshToken)
	if err != nil {
		err = classifyTokenError("refresh token", err, true)
		s.metrics.RecordOAuthEvent("refresh", string(model.KindOf(err)))
		s.logger.Warn("token refresh failed",
			slog.String("kind", string(model.KindOf(err))),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}

	s.metrics.RecordOAuthEvent("refresh", "success")
	return tokens, nil
}

// RevokeTokens はトークンを失効させる。失敗してもエラーは返さない。
// 空のトークンの場合は何もしない。
func (s *Service) RevokeTokens(ctx context.Context, token string) {
	if strings.TrimSpace(model.RawToken(token)) == "" {
		return
	}

	if err := s.provider.Revoke(ctx, token); err != nil {
		s.metrics.RecordOAuthEvent("revoke", "error")
		s.logger.Warn("token revocation failed", slog.String("error", err.Error()))
		return
	}
	s.metrics.RecordOAuthEvent("revoke", "success")
}

// GenerateState は暗号的に安全な state（32バイト、Base64URLパディングなし）を生成する。
func GenerateState(r io.Reader) (string, error) {
	b := make([]byte, stateBytes)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// classifyTokenError は認可サーバーの応答を構造的に分類する。
// oauth2.RetrieveError の error フィールドとHTTPステータス、送信エラーの型で判定する。
func classifyTokenError(operation string, err error, refreshing bool) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return err
	}

	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		switch rErr.ErrorCode {
		case "invalid_grant":
			if refreshing {
				return model.NewInvalidRefreshTokenError(err)
			}
			return model.NewExpiredOrInvalidCodeError(err)
		case "invalid_client", "unauthorized_client":
			return model.NewInvalidClientCredentialsError(err)
		case "invalid_scope":
			return model.NewInvalidScopeError(err)
		}

		status := 0
		if rErr.Response != nil {
			status = rErr.Response.StatusCode
		}
		if status == http.StatusUnauthorized {
			return model.NewInvalidClientCredentialsError(err)
		}
		detail := fmt.Sprintf("status %d", status)
		if rErr.ErrorCode != "" {
			detail += " " + rErr.ErrorCode
		}
		return model.NewUpstreamError(operation, detail, err)
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return model.NewNetworkError("QuickBooks OAuth server", err)
	}

	return model.NewUnexpectedError(operation, err)
}
