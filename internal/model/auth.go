package model

import (
	"strings"
	"time"
)

// BearerPrefix はセッションに保存するアクセストークンの接頭辞。
const BearerPrefix = "Bearer "

// AuthContext はQuickBooks APIを呼び出すための不変の認証情報。
// セッションから取り出して各操作に引数として渡す。
type AuthContext struct {
	AccessToken string // "Bearer " 付き、または生トークン
	RealmID     string
}

// NewAuthContext はAuthContextを生成する。
func NewAuthContext(accessToken, realmID string) AuthContext {
	return AuthContext{AccessToken: accessToken, RealmID: realmID}
}

// Authenticated はアクセストークンとレルムIDが両方揃っているかを返す。
func (a AuthContext) Authenticated() bool {
	return strings.TrimSpace(a.AccessToken) != "" && strings.TrimSpace(a.RealmID) != ""
}

// AuthorizationHeader は Authorization ヘッダ値を返す。
func (a AuthContext) AuthorizationHeader() string {
	return BearerValue(a.AccessToken)
}

// BearerValue はトークンを "Bearer " 付きに正規化する。
func BearerValue(token string) string {
	if strings.HasPrefix(token, BearerPrefix) {
		return token
	}
	return BearerPrefix + token
}

// RawToken は "Bearer " を取り除いたトークンを返す。
func RawToken(token string) string {
	return strings.TrimPrefix(token, BearerPrefix)
}

// TokenSet はトークンエンドポイントの応答を表す。
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
	Expiry       time.Time
	Scope        string
}

// BearerAccessToken はセッション保存用の "Bearer " 付きアクセストークンを返す。
func (t *TokenSet) BearerAccessToken() string {
	return BearerValue(t.AccessToken)
}

// MaskToken はトークンの先頭6文字と末尾4文字のみを残したプレビューを返す。
func MaskToken(token string) string {
	token = RawToken(token)
	if len(token) <= 10 {
		return "(updated)"
	}
	return token[:6] + "…" + token[len(token)-4:]
}
