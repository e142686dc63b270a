package quickbooks

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hitoshi/qbodemo/internal/model"
)

// GraphQLExecutor はProject Management GraphQLの実行インターフェース。
type GraphQLExecutor interface {
	Execute(ctx context.Context, ac model.AuthContext, operation, query string, variables map[string]any) (*GraphQLResponse, error)
}

// GraphQLClient はProject Management GraphQL APIのクライアント。
type GraphQLClient struct {
	transport *Transport
	endpoint  string
}

// NewGraphQLClient はGraphQLClientを生成する。
func NewGraphQLClient(transport *Transport, endpoint string) *GraphQLClient {
	return &GraphQLClient{transport: transport, endpoint: endpoint}
}

// GraphQLError はGraphQL応答の errors 要素。
type GraphQLError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// GraphQLResponse はGraphQL応答。Data はエイリアス単位で遅延デコードできるよう生のまま保持する。
type GraphQLResponse struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []GraphQLError             `json:"errors,omitempty"`
}

// Field は data 直下のフィールドを dst にデコードする。null または欠落の場合は false を返す。
func (r *GraphQLResponse) Field(name string, dst any) (bool, error) {
	if r == nil {
		return false, nil
	}
	raw, ok := r.Data[name]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, err
	}
	return true, nil
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// Execute はGraphQLドキュメントを送信する。
// 401/403 は認証・権限エラー、errors が含まれる場合は最初のメッセージで分類する。
func (c *GraphQLClient) Execute(ctx context.Context, ac model.AuthContext, operation, query string, variables map[string]any) (*GraphQLResponse, error) {
	if err := requireAuth(ac); err != nil {
		return nil, err
	}

	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, model.NewUnexpectedError("encode GraphQL request", err)
	}

	resp, err := c.transport.Do(ctx, Call{
		API:    "graphql",
		Method: http.MethodPost,
		URL:    c.endpoint,
		Header: http.Header{
			"Authorization": {ac.AuthorizationHeader()},
			"Content-Type":  {"application/json"},
			"Accept":        {"application/json"},
		},
		Body: body,
	})
	if err != nil {
		return nil, model.NewNetworkError("QuickBooks GraphQL API", err)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, httpStatusError(operation, resp)
	}

	var out GraphQLResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		if ClassifyHTTPStatus(resp.StatusCode) != ResponseOK {
			return nil, httpStatusError(operation, resp)
		}
		return nil, model.NewUnexpectedError("parse GraphQL response", err)
	}

	if len(out.Errors) > 0 {
		return nil, graphQLError(operation, out.Errors[0])
	}
	if ClassifyHTTPStatus(resp.StatusCode) != ResponseOK {
		return nil, httpStatusError(operation, resp)
	}
	return &out, nil
}

// graphQLError は最初のGraphQLエラーを分類済みエラーに変換する。
func graphQLError(operation string, e GraphQLError) error {
	if isBackendUnavailable(e.Message) {
		return model.NewBackendUnavailableError(e.Message)
	}
	msg := strings.ToLower(e.Message)
	if code, _ := e.Extensions["code"].(string); strings.EqualFold(code, "UNAUTHENTICATED") {
		return model.NewUnauthorizedError(nil)
	}
	if strings.Contains(msg, "insufficient_scope") {
		return model.NewForbiddenError(nil)
	}
	return model.NewUpstreamError(operation, "GraphQL error: "+e.Message, nil)
}

var _ GraphQLExecutor = (*GraphQLClient)(nil)
