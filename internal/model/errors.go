// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrorKind はエラーの種別を表す。
// プロバイダのレスポンス（ステータスコード、error フィールド）から構造的に決定する。
type ErrorKind string

const (
	KindConfiguration                ErrorKind = "configuration"
	KindExpiredOrInvalidCode         ErrorKind = "expired_or_invalid_code"
	KindInvalidClientCredentials     ErrorKind = "invalid_client_credentials"
	KindInvalidScope                 ErrorKind = "invalid_scope"
	KindMissingRefreshToken          ErrorKind = "missing_refresh_token"
	KindInvalidOrExpiredRefreshToken ErrorKind = "invalid_or_expired_refresh_token"
	KindNetwork                      ErrorKind = "network"
	KindBackendUnavailable           ErrorKind = "backend_unavailable"
	KindUnauthorized                 ErrorKind = "unauthorized"
	KindForbidden                    ErrorKind = "forbidden"
	KindNotFound                     ErrorKind = "not_found"
	KindValidation                   ErrorKind = "validation"
	KindUpstream                     ErrorKind = "upstream"
	KindUnexpected                   ErrorKind = "unexpected"
)

// Group はエラー種別の大分類を返す。
func (k ErrorKind) Group() string {
	switch k {
	case KindConfiguration:
		return "ConfigurationError"
	case KindExpiredOrInvalidCode, KindInvalidClientCredentials, KindInvalidScope:
		return "AuthorizationError"
	case KindMissingRefreshToken, KindInvalidOrExpiredRefreshToken:
		return "TokenRefreshError"
	case KindNetwork:
		return "TransientTransportError"
	case KindBackendUnavailable:
		return "BackendUnavailableError"
	case KindValidation:
		return "ValidationError"
	default:
		return "UnexpectedError"
	}
}

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string    // エラーコード
	Message  string    // エラーメッセージ
	Category string    // カテゴリ: auth, validation, quickbooks, system
	Action   string    // ユーザー向け対処方法
	Kind     ErrorKind // 構造的な分類
	Err      error     // 原因（ログ用）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// UserMessage はUI表示用のメッセージを返す。
func (e *APIError) UserMessage() string {
	if e.Action == "" {
		return e.Message
	}
	return e.Message + " " + e.Action
}

// KindOf はエラーチェーンから種別を取り出す。APIErrorを含まない場合は KindUnexpected。
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUnexpected
}

// IsKind はエラーチェーンが指定種別のAPIErrorを含むかを返す。
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// UserMessage は任意のエラーからUI表示用メッセージを取り出す。
func UserMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.UserMessage()
	}
	return "An unexpected error occurred. Please try again."
}

// 定義済みエラーコード
const (
	ErrCodeConfiguration        = "CONFIGURATION_ERROR"
	ErrCodeExpiredOrInvalidCode = "EXPIRED_OR_INVALID_CODE"
	ErrCodeInvalidClient        = "INVALID_CLIENT_CREDENTIALS"
	ErrCodeInvalidScope         = "INVALID_SCOPE"
	ErrCodeMissingRefreshToken  = "MISSING_REFRESH_TOKEN"
	ErrCodeInvalidRefreshToken  = "INVALID_REFRESH_TOKEN"
	ErrCodeNetwork              = "NETWORK_ERROR"
	ErrCodeBackendUnavailable   = "BACKEND_UNAVAILABLE"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeForbidden            = "FORBIDDEN"
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeUpstream             = "UPSTREAM_ERROR"
	ErrCodeUnexpected           = "UNEXPECTED_ERROR"
	ErrCodeNotConnected         = "NOT_CONNECTED"
	ErrCodeRateLimited          = "RATE_LIMIT_EXCEEDED"
	ErrCodeCSRFInvalid          = "CSRF_TOKEN_INVALID"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// NewConfigurationError は設定不備エラーを生成する。field には欠落・不正な設定項目名を渡す。
func NewConfigurationError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeConfiguration,
		Message:  fmt.Sprintf("QuickBooks configuration error: %s %s.", field, reason),
		Category: "system",
		Action:   "Check the QBO_* environment variables and restart the application.",
		Kind:     KindConfiguration,
	}
}

// NewExpiredOrInvalidCodeError は認可コードの期限切れ・使用済みエラーを生成する。
func NewExpiredOrInvalidCodeError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeExpiredOrInvalidCode,
		Message:  "Authorization code expired or already used.",
		Category: "auth",
		Action:   "Please try connecting again.",
		Kind:     KindExpiredOrInvalidCode,
		Err:      err,
	}
}

// NewInvalidClientCredentialsError はクライアント認証情報の不一致エラーを生成する。
func NewInvalidClientCredentialsError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidClient,
		Message:  "Invalid client credentials.",
		Category: "auth",
		Action:   "Verify the client id, client secret and redirect URI registered for the app.",
		Kind:     KindInvalidClientCredentials,
		Err:      err,
	}
}

// NewInvalidScopeError はスコープ不正エラーを生成する。
func NewInvalidScopeError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidScope,
		Message:  "Invalid scope requested.",
		Category: "auth",
		Action:   "Check QBO_SCOPES and the scopes enabled for the app.",
		Kind:     KindInvalidScope,
		Err:      err,
	}
}

// NewMissingRefreshTokenError はリフレッシュトークン未保持エラーを生成する。
func NewMissingRefreshTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingRefreshToken,
		Message:  "No refresh token available.",
		Category: "auth",
		Action:   "Please re-authenticate.",
		Kind:     KindMissingRefreshToken,
	}
}

// NewInvalidRefreshTokenError はリフレッシュトークンの無効・期限切れエラーを生成する。
func NewInvalidRefreshTokenError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRefreshToken,
		Message:  "Refresh token is invalid or expired.",
		Category: "auth",
		Action:   "Please reconnect to QuickBooks.",
		Kind:     KindInvalidOrExpiredRefreshToken,
		Err:      err,
	}
}

// NewNetworkError は接続失敗エラーを生成する。
func NewNetworkError(target string, err error) *APIError {
	return &APIError{
		Code:     ErrCodeNetwork,
		Message:  fmt.Sprintf("Could not reach %s.", target),
		Category: "quickbooks",
		Action:   "Check network connectivity and try again.",
		Kind:     KindNetwork,
		Err:      err,
	}
}

// NewBackendUnavailableError はプロバイダ側インフラ障害エラーを生成する。
func NewBackendUnavailableError(detail string) *APIError {
	return &APIError{
		Code:     ErrCodeBackendUnavailable,
		Message:  "QuickBooks backend service is experiencing database connectivity issues: " + detail,
		Category: "quickbooks",
		Action:   "Please try again later or contact QuickBooks Developer Support if the issue persists.",
		Kind:     KindBackendUnavailable,
	}
}

// NewUnauthorizedError はアクセストークン無効（401）エラーを生成する。
func NewUnauthorizedError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Unauthorized (401): Access token invalid or expired.",
		Category: "auth",
		Action:   "Please reconnect to QuickBooks.",
		Kind:     KindUnauthorized,
		Err:      err,
	}
}

// NewForbiddenError は権限不足（403）エラーを生成する。
func NewForbiddenError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "Forbidden (403): Missing scope 'project-management.project' or Projects not enabled.",
		Category: "auth",
		Action:   "Ensure the Projects feature is enabled, add the scope and re-authenticate.",
		Kind:     KindForbidden,
		Err:      err,
	}
}

// NewNotFoundError はリソース未検出エラーを生成する。
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("%s not found: %s", resource, id),
		Category: "quickbooks",
		Kind:     KindNotFound,
	}
}

// NewValidationError は入力不備エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
		Kind:     KindValidation,
	}
}

// NewUpstreamError はQuickBooks APIのエラー応答を表すエラーを生成する。
func NewUpstreamError(operation, detail string, err error) *APIError {
	return &APIError{
		Code:     ErrCodeUpstream,
		Message:  fmt.Sprintf("Failed to %s: %s", operation, detail),
		Category: "quickbooks",
		Kind:     KindUpstream,
		Err:      err,
	}
}

// NewUnexpectedError は分類できないエラーを生成する。
func NewUnexpectedError(operation string, err error) *APIError {
	msg := fmt.Sprintf("Unexpected error during %s.", operation)
	if err != nil {
		msg = fmt.Sprintf("Unexpected error during %s: %v", operation, err)
	}
	return &APIError{
		Code:     ErrCodeUnexpected,
		Message:  msg,
		Category: "system",
		Action:   "Please try again.",
		Kind:     KindUnexpected,
		Err:      err,
	}
}

// NewNotConnectedError はQuickBooks未接続エラーを生成する。
func NewNotConnectedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotConnected,
		Message:  "Please connect to QuickBooks first.",
		Category: "auth",
		Kind:     KindUnauthorized,
	}
}
