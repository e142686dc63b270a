package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewSafeClientTimeout(t *testing.T) {
	guard := NewEndpointGuard()
	timeout := 5 * time.Second
	client := guard.NewSafeClient(timeout)
	if client.Timeout != timeout {
		t.Errorf("expected timeout %v, got %v", timeout, client.Timeout)
	}
	if client.Transport == nil || client.Transport == http.DefaultTransport {
		t.Fatal("expected custom Transport")
	}
}

// httptestサーバーは127.0.0.1で起動されるため、safeurlがブロックする。
func TestNewSafeClientBlocksLoopback(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewEndpointGuard().NewSafeClient(5 * time.Second)

	if _, err := client.Get(ts.URL); err == nil {
		t.Fatal("expected error for loopback address request, got nil")
	}
}

func TestValidateURL(t *testing.T) {
	guard := NewEndpointGuard()

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"Intuit discovery", "https://developer.api.intuit.com/.well-known/openid_sandbox_configuration", false},
		{"GraphQL", "https://qb.api.intuit.com/graphql", false},
		{"空文字", "", true},
		{"httpは不可", "http://quickbooks.api.intuit.com", true},
		{"ftpは不可", "ftp://example.com", true},
		{"ホストなし", "https://", true},
		{"プライベートIP", "https://10.0.0.1/v3", true},
		{"ループバック", "https://127.0.0.1/v3", true},
		{"localhost", "https://localhost/v3", true},
		{"メタデータIP", "https://169.254.169.254/latest/meta-data/", true},
		{"IPv6ループバック", "https://[::1]/v3", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestValidateEndpoints_ReportsOffendingName(t *testing.T) {
	guard := NewEndpointGuard()

	err := guard.ValidateEndpoints(map[string]string{
		"QBO_BASE_URL":    "https://quickbooks.api.intuit.com",
		"QBO_GRAPHQL_URL": "https://192.168.0.10/graphql",
		"QBO_EMPTY":       "",
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if got := err.Error(); len(got) < len("QBO_GRAPHQL_URL") || got[:len("QBO_GRAPHQL_URL")] != "QBO_GRAPHQL_URL" {
		t.Errorf("error = %q, want prefix QBO_GRAPHQL_URL", got)
	}
}

func TestValidateEndpoints_AllValid(t *testing.T) {
	guard := NewEndpointGuard()
	err := guard.ValidateEndpoints(map[string]string{
		"QBO_BASE_URL": "https://sandbox-quickbooks.api.intuit.com",
	})
	if err != nil {
		t.Errorf("ValidateEndpoints() error = %v", err)
	}
}
