package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/hitoshi/qbodemo/internal/model"
)

// IntuitOAuthConfig はIntuit OAuth 2.0プロバイダーの設定。
type IntuitOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	DiscoveryURL string

	// HTTPClient は外部送信に使うクライアント。未指定の場合は http.DefaultClient。
	HTTPClient *http.Client
}

// IntuitOAuthProvider はIntuitの認可サーバーに対するOAuth 2.0操作を提供する。
// エンドポイントはディスカバリドキュメントから解決する。
type IntuitOAuthProvider struct {
	config    IntuitOAuthConfig
	discovery *discoveryClient
}

// NewIntuitOAuthProvider はIntuitOAuthProviderを生成する。
func NewIntuitOAuthProvider(config IntuitOAuthConfig) *IntuitOAuthProvider {
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	return &IntuitOAuthProvider{
		config:    config,
		discovery: newDiscoveryClient(config.DiscoveryURL, config.HTTPClient),
	}
}

// oauth2Config はディスカバリ結果から oauth2.Config を組み立てる。
func (p *IntuitOAuthProvider) oauth2Config(ctx context.Context) (*oauth2.Config, *DiscoveryDocument, error) {
	doc, err := p.discovery.Get(ctx)
	if err != nil {
		return nil, nil, err
	}
	return &oauth2.Config{
		ClientID:     p.config.ClientID,
		ClientSecret: p.config.ClientSecret,
		RedirectURL:  p.config.RedirectURI,
		Scopes:       p.config.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   doc.AuthorizationEndpoint,
			TokenURL:  doc.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}, doc, nil
}

// AuthCodeURL は認可URLを生成する。
// 同意画面とログインを毎回求めるため prompt=consent と prompt=login を付与する。
func (p *IntuitOAuthProvider) AuthCodeURL(ctx context.Context, state string) (string, error) {
	cfg, _, err := p.oauth2Config(ctx)
	if err != nil {
		return "", err
	}

	u, err := url.Parse(cfg.AuthCodeURL(state))
	if err != nil {
		return "", model.NewUpstreamError("build authorization URL", "invalid authorization endpoint", err)
	}
	q := u.Query()
	q.Add("prompt", "consent")
	q.Add("prompt", "login")
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Exchange は認可コードをトークンに交換する。
func (p *IntuitOAuthProvider) Exchange(ctx context.Context, code string) (*model.TokenSet, error) {
	cfg, _, err := p.oauth2Config(ctx)
	if err != nil {
		return nil, err
	}

	tok, err := cfg.Exchange(p.clientContext(ctx), code)
	if err != nil {
		return nil, err
	}
	return toTokenSet(tok), nil
}

// Refresh はリフレッシュトークンで新しいトークンを取得する。
func (p *IntuitOAuthProvider) Refresh(ctx context.Context, refreshToken string) (*model.TokenSet, error) {
	cfg, _, err := p.oauth2Config(ctx)
	if err != nil {
		return nil, err
	}

	// 期限切れのトークンを渡し、必ずトークンエンドポイントへ問い合わせさせる
	expired := &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Now().Add(-time.Hour)}
	tok, err := cfg.TokenSource(p.clientContext(ctx), expired).Token()
	if err != nil {
		return nil, err
	}
	return toTokenSet(tok), nil
}

// Revoke はトークンを失効させる。トークンは "Bearer " を除いて送信する。
func (p *IntuitOAuthProvider) Revoke(ctx context.Context, token string) error {
	_, doc, err := p.oauth2Config(ctx)
	if err != nil {
		return err
	}
	if doc.RevocationEndpoint == "" {
		return model.NewUpstreamError("revoke token", "revocation endpoint missing from discovery document", nil)
	}

	body, err := json.Marshal(map[string]string{"token": model.RawToken(token)})
	if err != nil {
		return fmt.Errorf("failed to encode revoke request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, doc.RevocationEndpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create revoke request: %w", err)
	}
	req.SetBasicAuth(url.QueryEscape(p.config.ClientID), url.QueryEscape(p.config.ClientSecret))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.config.HTTPClient.Do(req)
	if err != nil {
		return model.NewNetworkError("QuickBooks revocation endpoint", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return model.NewUpstreamError("revoke token", fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), nil)
	}
	return nil
}

// clientContext は oauth2 パッケージに送信用クライアントを渡すcontextを返す。
func (p *IntuitOAuthProvider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.config.HTTPClient)
}

// toTokenSet は oauth2.Token をドメインのトークンに変換する。
func toTokenSet(tok *oauth2.Token) *model.TokenSet {
	ts := &model.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	if !tok.Expiry.IsZero() {
		ts.ExpiresIn = int(time.Until(tok.Expiry).Round(time.Second).Seconds())
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		ts.Scope = scope
	}
	return ts
}

// compile-time interface check
var _ OAuthProvider = (*IntuitOAuthProvider)(nil)
