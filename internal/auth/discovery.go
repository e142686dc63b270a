package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/hitoshi/qbodemo/internal/model"
)

// maxDiscoverySize はディスカバリドキュメントの読み取り上限（1MB）。
const maxDiscoverySize = 1 << 20

// DiscoveryDocument はOpenID Connectディスカバリドキュメントのうち利用する項目。
type DiscoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	RevocationEndpoint    string `json:"revocation_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
}

// discoveryClient は環境ごとのディスカバリドキュメントを取得し、成功時のみキャッシュする。
type discoveryClient struct {
	url        string
	httpClient *http.Client

	mu  sync.Mutex
	doc *DiscoveryDocument
}

func newDiscoveryClient(url string, httpClient *http.Client) *discoveryClient {
	return &discoveryClient{url: url, httpClient: httpClient}
}

// Get はキャッシュ済みのドキュメント、または新たに取得したドキュメントを返す。
func (d *discoveryClient) Get(ctx context.Context) (*DiscoveryDocument, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.doc != nil {
		return d.doc, nil
	}

	doc, err := d.fetch(ctx)
	if err != nil {
		return nil, err
	}
	d.doc = doc
	return doc, nil
}

func (d *discoveryClient) fetch(ctx context.Context) (*DiscoveryDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return nil, model.NewConfigurationError("discovery URL", "is invalid")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, model.NewNetworkError("QuickBooks discovery endpoint", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDiscoverySize))
	if err != nil {
		return nil, model.NewNetworkError("QuickBooks discovery endpoint", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, model.NewUpstreamError("fetch discovery document", fmt.Sprintf("status %d", resp.StatusCode), nil)
	}

	var doc DiscoveryDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, model.NewUpstreamError("fetch discovery document", "invalid JSON", err)
	}

	if doc.AuthorizationEndpoint == "" || doc.TokenEndpoint == "" {
		return nil, model.NewUpstreamError("fetch discovery document", "authorization or token endpoint missing", nil)
	}

	return &doc, nil
}
