package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/qbodemo/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
	Kind     string `json:"kind,omitempty"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
		Kind:     string(apiErr.Kind),
	})
}

// WriteError は任意のエラーを種別に応じたステータスで書き込む。
// APIErrorを含まないエラーは内部エラーとして扱う。
func WriteError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		WriteInternalServerError(w)
		return
	}
	WriteErrorResponse(w, StatusForKind(apiErr.Kind), apiErr)
}

// StatusForKind はエラー種別に対応するHTTPステータスを返す。
func StatusForKind(kind model.ErrorKind) int {
	switch kind {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindUnauthorized, model.KindExpiredOrInvalidCode,
		model.KindMissingRefreshToken, model.KindInvalidOrExpiredRefreshToken:
		return http.StatusUnauthorized
	case model.KindForbidden, model.KindInvalidScope:
		return http.StatusForbidden
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindNetwork, model.KindUpstream, model.KindInvalidClientCredentials:
		return http.StatusBadGateway
	case model.KindBackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     model.ErrCodeInternal,
		Message:  "An internal error occurred.",
		Category: "system",
		Action:   "Please wait a moment and try again.",
		Kind:     model.KindUnexpected,
	})
}
