package quickbooks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/qbodemo/internal/model"
)

// Querier はAccountingのクエリインターフェース。
type Querier interface {
	Query(ctx context.Context, ac model.AuthContext, query string) (*QueryResult, error)
}

// RESTClient はAccounting REST APIのクライアント。
type RESTClient struct {
	transport    *Transport
	baseURL      string
	minorVersion string
}

// NewRESTClient はRESTClientを生成する。baseURLは末尾のスラッシュを除いて保持する。
func NewRESTClient(transport *Transport, baseURL, minorVersion string) *RESTClient {
	return &RESTClient{
		transport:    transport,
		baseURL:      strings.TrimRight(baseURL, "/"),
		minorVersion: minorVersion,
	}
}

// QueryResult はクエリ応答の QueryResponse 部分。
type QueryResult struct {
	entities map[string]json.RawMessage
}

// NewQueryResult はエンティティ名ごとの生JSONからQueryResultを生成する。
func NewQueryResult(entities map[string]json.RawMessage) *QueryResult {
	return &QueryResult{entities: entities}
}

// Decode は指定エンティティ（Customer, Item など）の配列を dst にデコードする。
// 該当エンティティが含まれない場合は false を返す。
func (r *QueryResult) Decode(entity string, dst any) (bool, error) {
	if r == nil {
		return false, nil
	}
	raw, ok := r.entities[entity]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", entity, err)
	}
	return true, nil
}

// Count は指定エンティティの件数を返す。
func (r *QueryResult) Count(entity string) int {
	var rows []json.RawMessage
	if ok, err := r.Decode(entity, &rows); !ok || err != nil {
		return 0
	}
	return len(rows)
}

// Query はクエリ文を送信する（Content-Type: application/text）。
func (c *RESTClient) Query(ctx context.Context, ac model.AuthContext, query string) (*QueryResult, error) {
	if err := requireAuth(ac); err != nil {
		return nil, err
	}

	resp, err := c.transport.Do(ctx, Call{
		API:    "rest_query",
		Method: http.MethodPost,
		URL:    c.endpoint(ac.RealmID, "/query"),
		Header: http.Header{
			"Authorization": {ac.AuthorizationHeader()},
			"Content-Type":  {"application/text"},
			"Accept":        {"application/json"},
		},
		Body: []byte(query),
	})
	if err != nil {
		return nil, model.NewNetworkError("QuickBooks Accounting API", err)
	}
	if ClassifyHTTPStatus(resp.StatusCode) != ResponseOK {
		return nil, httpStatusError("run query", resp)
	}

	var envelope struct {
		QueryResponse map[string]json.RawMessage `json:"QueryResponse"`
		Fault         *Fault                     `json:"Fault"`
	}
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return nil, model.NewUnexpectedError("parse query response", err)
	}
	if envelope.Fault != nil {
		return nil, model.NewUpstreamError("run query", envelope.Fault.describe(), nil)
	}
	return &QueryResult{entities: envelope.QueryResponse}, nil
}

// Post はエンティティをJSONで作成し、応答の entity キー（Invoice など）を dst にデコードする。
// path は "/invoice" のようなエンティティパス。
func (c *RESTClient) Post(ctx context.Context, ac model.AuthContext, path, entity string, payload, dst any) error {
	if err := requireAuth(ac); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return model.NewUnexpectedError("encode "+entity, err)
	}

	resp, err := c.transport.Do(ctx, Call{
		API:    "rest_post",
		Method: http.MethodPost,
		URL:    c.endpoint(ac.RealmID, path),
		Header: http.Header{
			"Authorization": {ac.AuthorizationHeader()},
			"Content-Type":  {"application/json"},
			"Accept":        {"application/json"},
		},
		Body: body,
	})
	if err != nil {
		return model.NewNetworkError("QuickBooks Accounting API", err)
	}
	operation := "create " + strings.ToLower(entity)
	if ClassifyHTTPStatus(resp.StatusCode) != ResponseOK {
		return httpStatusError(operation, resp)
	}
	if f := parseFault(resp.Body); f != nil {
		return model.NewUpstreamError(operation, f.describe(), nil)
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return model.NewUnexpectedError("parse "+entity+" response", err)
	}
	raw, ok := envelope[entity]
	if !ok {
		return model.NewUpstreamError(operation, "response did not contain "+entity, nil)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return model.NewUnexpectedError("parse "+entity+" response", err)
	}
	return nil
}

// endpoint は /v3/company/{realmId}{path}?minorversion=N を組み立てる。
func (c *RESTClient) endpoint(realmID, path string) string {
	u := fmt.Sprintf("%s/v3/company/%s%s", c.baseURL, url.PathEscape(realmID), path)
	if c.minorVersion != "" {
		u += "?minorversion=" + url.QueryEscape(c.minorVersion)
	}
	return u
}

// requireAuth はアクセストークンとレルムIDの存在を検証する。
func requireAuth(ac model.AuthContext) error {
	if strings.TrimSpace(ac.AccessToken) == "" {
		return model.NewValidationError("Access token is required")
	}
	if strings.TrimSpace(ac.RealmID) == "" {
		return model.NewValidationError("Realm ID is required")
	}
	return nil
}

var _ Querier = (*RESTClient)(nil)
