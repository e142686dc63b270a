package session

import (
	"time"

	"github.com/hitoshi/qbodemo/internal/model"
)

// セッションキー
const (
	KeyAccessToken   = "accessToken"
	KeyRefreshToken  = "refreshToken"
	KeyRealmID       = "realmId"
	KeyGrantedScope  = "grantedScope"
	KeyAuthTimestamp = "authTimestamp"
	KeyOAuthState    = "oauthState"
	KeyCodeMarker    = "codeMarker"

	KeyCustomers       = "customers"
	KeyItems           = "items"
	KeyVendors         = "vendors"
	KeyExpenseAccounts = "expenseAccounts"
	KeyProject         = "project"
	KeyProjects        = "projects"
	KeyProjectDetails  = "projectDetails"
	KeyProjectsError   = "projectsError"
	KeyLastResult      = "lastResult"
)

// CachedKeys は接続先の会社が変わったときに破棄するキャッシュのキー。
var CachedKeys = []string{
	KeyCustomers, KeyItems, KeyVendors, KeyExpenseAccounts,
	KeyProject, KeyProjects, KeyProjectDetails, KeyProjectsError, KeyLastResult,
}

// AuthContext はセッションからQuickBooks呼び出し用の認証情報を取り出す。
func AuthContext(s *Session) model.AuthContext {
	return model.NewAuthContext(s.GetString(KeyAccessToken), s.GetString(KeyRealmID))
}

// Authenticated はアクセストークンとレルムIDが両方揃っているかを返す。
func Authenticated(s *Session) bool {
	return AuthContext(s).Authenticated()
}

// StoreTokens はトークン交換・更新の結果を保存する。
// 新しいリフレッシュトークンが空の場合は既存の値を維持する。
func StoreTokens(s *Session, tokens *model.TokenSet, now time.Time) error {
	if err := s.Set(KeyAccessToken, tokens.BearerAccessToken()); err != nil {
		return err
	}
	if tokens.RefreshToken != "" {
		if err := s.Set(KeyRefreshToken, tokens.RefreshToken); err != nil {
			return err
		}
	}
	if tokens.Scope != "" {
		if err := s.Set(KeyGrantedScope, tokens.Scope); err != nil {
			return err
		}
	}
	return s.Set(KeyAuthTimestamp, now.UTC().Format(time.RFC3339))
}

// ClearCaches は会社に紐づくキャッシュを削除する。
func ClearCaches(s *Session) {
	s.Remove(CachedKeys...)
}
