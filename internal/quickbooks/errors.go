package quickbooks

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/qbodemo/internal/model"
)

// backendUnavailableMarkers はプロバイダ側DB障害を示すGraphQLエラーメッセージ。
var backendUnavailableMarkers = []string{
	"Could not open JPA EntityManager",
	"Unable to acquire JDBC Connection",
}

// Fault はAccounting REST APIのエラー応答。
type Fault struct {
	Type  string `json:"type"`
	Error []struct {
		Message string `json:"Message"`
		Detail  string `json:"Detail"`
		Code    string `json:"code"`
	} `json:"Error"`
}

// describe は最初のエラーのメッセージと詳細を返す。
func (f *Fault) describe() string {
	if f == nil || len(f.Error) == 0 {
		return "unknown fault"
	}
	e := f.Error[0]
	switch {
	case e.Detail != "" && e.Detail != e.Message:
		return fmt.Sprintf("%s (%s) [code=%s]", e.Message, e.Detail, e.Code)
	case e.Code != "":
		return fmt.Sprintf("%s [code=%s]", e.Message, e.Code)
	default:
		return e.Message
	}
}

// parseFault はボディに Fault が含まれていれば取り出す。
func parseFault(body []byte) *Fault {
	var envelope struct {
		Fault *Fault `json:"Fault"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil
	}
	return envelope.Fault
}

// httpStatusError は非2xxレスポンスを分類済みのエラーに変換する。
func httpStatusError(operation string, resp *Response) error {
	cause := fmt.Errorf("http status %d: %s", resp.StatusCode, excerpt(resp.Body))
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return model.NewUnauthorizedError(cause)
	case http.StatusForbidden:
		return model.NewForbiddenError(cause)
	}
	if f := parseFault(resp.Body); f != nil {
		return model.NewUpstreamError(operation, f.describe(), cause)
	}
	return model.NewUpstreamError(operation, fmt.Sprintf("%d - %s", resp.StatusCode, excerpt(resp.Body)), cause)
}

// isBackendUnavailable はエラーメッセージがプロバイダ側インフラ障害を示すかを返す。
func isBackendUnavailable(message string) bool {
	for _, marker := range backendUnavailableMarkers {
		if strings.Contains(message, marker) {
			return true
		}
	}
	return false
}

// excerpt はログ・エラーメッセージ用にボディを短く切り詰める。
func excerpt(body []byte) string {
	const limit = 300
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
