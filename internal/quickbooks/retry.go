package quickbooks

import (
	"context"
	"errors"
)

// ResponseClass はHTTPステータスコードに基づく応答の分類。
type ResponseClass int

const (
	// ResponseOK は成功（2xx）。
	ResponseOK ResponseClass = iota
	// ResponseRetryable は一時的な失敗（429/5xx）。固定間隔でリトライする。
	ResponseRetryable
	// ResponseClientError はリトライしても結果が変わらない失敗（4xx）。
	ResponseClientError
	// ResponseUnknown は上記以外（1xx/3xx）。
	ResponseUnknown
)

// ClassifyHTTPStatus はHTTPステータスコードを分類する。
func ClassifyHTTPStatus(statusCode int) ResponseClass {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return ResponseOK
	case statusCode == 429:
		return ResponseRetryable
	case statusCode >= 500:
		return ResponseRetryable
	case statusCode >= 400:
		return ResponseClientError
	default:
		return ResponseUnknown
	}
}

// isRetryableError は送信エラーがリトライ対象かを判定する。
// 呼び出し元のcontextによるキャンセル・期限切れはリトライしない。
func isRetryableError(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, context.Canceled)
}
