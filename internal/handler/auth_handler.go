package handler

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/qbodemo/internal/auth"
	"github.com/hitoshi/qbodemo/internal/config"
	"github.com/hitoshi/qbodemo/internal/middleware"
	"github.com/hitoshi/qbodemo/internal/model"
	"github.com/hitoshi/qbodemo/internal/session"
)

// コールバック結果のメッセージ
const (
	msgConnected        = "Successfully connected to QuickBooks! You can now fetch customers."
	msgAlreadyConnected = "Already connected to QuickBooks!"
	msgInProgress       = "This authorization is already being processed. Please wait a moment."
	msgInvalidState     = "Invalid or missing OAuth state. Please try connecting again."
	msgMissingCallback  = "Missing authorization code or company (realm) ID in callback."
	msgDisconnected     = "Successfully disconnected. Please reconnect; a company picker and login will be shown."
)

// AuthHandler はOAuth接続・更新・切断のHTTPハンドラー。
type AuthHandler struct {
	oauth    OAuthService
	sessions SessionSaver
	config   config.QuickBooksConfig
	now      func() time.Time
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(oauth OAuthService, sessions SessionSaver, cfg config.QuickBooksConfig) *AuthHandler {
	return &AuthHandler{
		oauth:    oauth,
		sessions: sessions,
		config:   cfg,
		now:      time.Now,
	}
}

// Login はOAuthフローを開始する。発行した state はセッションに保存する。
// GET /qbo-login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	s := currentSession(r)

	req, err := h.oauth.BuildAuthorizationURL(r.Context())
	if err != nil {
		flashError(r, s, "build authorization url", err)
		redirectHome(w, r, h.sessions, s)
		return
	}

	if err := s.Set(session.KeyOAuthState, req.State); err != nil {
		flashError(r, s, "store oauth state", model.NewUnexpectedError("store oauth state", err))
		redirectHome(w, r, h.sessions, s)
		return
	}
	if err := h.sessions.Save(r.Context(), w, s); err != nil {
		slog.Error("failed to save session", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	http.Redirect(w, r, req.URL, http.StatusFound)
}

// Callback はOAuthコールバックを処理する。
// 同じ認可コードの再送は交換せずに「接続済み」として扱う。
// GET /callback?code=xxx&realmId=yyy&state=zzz
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	s := currentSession(r)
	q := r.URL.Query()

	if providerErr := q.Get("error"); providerErr != "" {
		slog.Warn("authorization denied by provider", slog.String("error", providerErr))
		s.Remove(session.KeyOAuthState)
		s.AddFlash(session.FlashError, "QuickBooks authorization was not completed: "+providerErr)
		redirectHome(w, r, h.sessions, s)
		return
	}

	code := strings.TrimSpace(q.Get("code"))
	realmID := strings.TrimSpace(q.Get("realmId"))
	if code == "" || realmID == "" {
		s.AddFlash(session.FlashError, msgMissingCallback)
		redirectHome(w, r, h.sessions, s)
		return
	}

	// 1. 処理状態の確認
	marker, _ := session.GetValue[auth.CodeMarker](s, session.KeyCodeMarker)
	switch marker.StateFor(code) {
	case auth.CodeProcessed:
		slog.Info("authorization code already processed")
		s.AddFlash(session.FlashSuccess, msgAlreadyConnected)
		redirectHome(w, r, h.sessions, s)
		return
	case auth.CodeProcessing:
		slog.Info("authorization code exchange in progress")
		s.AddFlash(session.FlashInfo, msgInProgress)
		redirectHome(w, r, h.sessions, s)
		return
	}

	// 2. stateの検証（CSRF対策）
	expected := s.GetString(session.KeyOAuthState)
	state := q.Get("state")
	if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(state)) != 1 {
		slog.Warn("oauth state mismatch", slog.Bool("state_issued", expected != ""))
		s.Remove(session.KeyOAuthState)
		s.AddFlash(session.FlashError, msgInvalidState)
		redirectHome(w, r, h.sessions, s)
		return
	}
	s.Remove(session.KeyOAuthState)

	// 3. 交換前に処理中として記録する
	if err := s.Set(session.KeyCodeMarker, auth.ProcessingMarker(code)); err != nil {
		flashError(r, s, "mark authorization code", model.NewUnexpectedError("mark authorization code", err))
		redirectHome(w, r, h.sessions, s)
		return
	}
	if err := h.sessions.Save(r.Context(), w, s); err != nil {
		slog.Error("failed to save session", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// 4. コード交換
	tokens, err := h.oauth.ExchangeCodeForToken(r.Context(), code)
	if err != nil {
		// 失敗したコードは再試行できるよう未処理に戻す
		s.Remove(session.KeyCodeMarker)
		flashError(r, s, "exchange authorization code", err)
		redirectHome(w, r, h.sessions, s)
		return
	}

	// 5. 接続先の会社が変わるため、キャッシュを破棄してから保存する
	session.ClearCaches(s)
	if err := h.storeConnection(s, tokens, realmID, code); err != nil {
		s.Remove(session.KeyCodeMarker)
		flashError(r, s, "store tokens", model.NewUnexpectedError("store tokens", err))
		redirectHome(w, r, h.sessions, s)
		return
	}

	slog.Info("connected to QuickBooks", slog.String("realm_id", realmID))
	s.AddFlash(session.FlashSuccess, msgConnected)
	redirectHome(w, r, h.sessions, s)
}

func (h *AuthHandler) storeConnection(s *session.Session, tokens *model.TokenSet, realmID, code string) error {
	if err := session.StoreTokens(s, tokens, h.now()); err != nil {
		return err
	}
	if err := s.Set(session.KeyRealmID, realmID); err != nil {
		return err
	}
	return s.Set(session.KeyCodeMarker, auth.ProcessedMarker(code))
}

// RefreshToken は保存済みのリフレッシュトークンでアクセストークンを更新する。
// POST /refresh-token
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	s := currentSession(r)

	tokens, err := h.oauth.RefreshToken(r.Context(), s.GetString(session.KeyRefreshToken))
	if err != nil {
		flashError(r, s, "refresh token", err)
		redirectHome(w, r, h.sessions, s)
		return
	}

	if err := session.StoreTokens(s, tokens, h.now()); err != nil {
		flashError(r, s, "store tokens", model.NewUnexpectedError("store tokens", err))
		redirectHome(w, r, h.sessions, s)
		return
	}

	s.AddFlash(session.FlashSuccess, "Access token refreshed: "+model.MaskToken(tokens.AccessToken))
	redirectHome(w, r, h.sessions, s)
}

// Logout は両方のトークンを失効させてからセッションを破棄する。
// 失効の失敗は切断を妨げない。
// GET|POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	s := currentSession(r)

	h.oauth.RevokeTokens(r.Context(), s.GetString(session.KeyAccessToken))
	h.oauth.RevokeTokens(r.Context(), s.GetString(session.KeyRefreshToken))

	if err := h.sessions.Destroy(r.Context(), w, s); err != nil {
		// 削除に失敗しても値は破棄し、次の保存で新しいIDに切り替える
		slog.Error("failed to destroy session", slog.String("error", err.Error()))
		s.Invalidate()
	}

	s.AddFlash(session.FlashSuccess, msgDisconnected)
	redirectHome(w, r, h.sessions, s)
}

// ForceClearSession はセッションを強制的に破棄し、破棄前の状態をJSONで返す。
// GET /force-clear-session
func (h *AuthHandler) ForceClearSession(w http.ResponseWriter, r *http.Request) {
	s := currentSession(r)

	accessToken := "null"
	if s.GetString(session.KeyAccessToken) != "" {
		accessToken = "present"
	}
	body := map[string]any{
		"beforeClear_sessionId":   s.ID,
		"beforeClear_realmId":     s.GetString(session.KeyRealmID),
		"beforeClear_accessToken": accessToken,
	}

	if err := h.sessions.Destroy(r.Context(), w, s); err != nil {
		slog.Error("failed to destroy session", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	body["status"] = "Session completely cleared and invalidated"
	body["action"] = "Please restart browser and try OAuth again"
	writeJSON(w, http.StatusOK, body)
}

// TestEnvironment は接続先環境の設定とセッションの接続状態をJSONで返す。
// クライアントシークレットとトークンは含めない。
// GET /test-environment
func (h *AuthHandler) TestEnvironment(w http.ResponseWriter, r *http.Request) {
	s := currentSession(r)

	realmID := s.GetString(session.KeyRealmID)
	if realmID == "" {
		realmID = "(none)"
	}
	scope := s.GetString(session.KeyGrantedScope)
	if scope == "" {
		scope = "(unknown)"
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"environment":     h.config.NormalizedEnvironment(),
		"baseUrl":         h.config.BaseURL,
		"graphqlUrl":      h.config.GraphQLURL,
		"sampleDeepLink":  h.config.InvoiceDeepLink("123", "456"),
		"clientId":        h.config.ClientID,
		"redirectUri":     h.config.RedirectURI,
		"realmId":         realmID,
		"scope":           scope,
		"requestedScopes": strings.Join(h.config.RequestedScopes(), " "),
		"authenticated":   strconv.FormatBool(session.Authenticated(s)),
	})
}
