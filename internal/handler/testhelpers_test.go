package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/qbodemo/internal/accounting"
	"github.com/hitoshi/qbodemo/internal/auth"
	"github.com/hitoshi/qbodemo/internal/middleware"
	"github.com/hitoshi/qbodemo/internal/model"
	"github.com/hitoshi/qbodemo/internal/project"
	"github.com/hitoshi/qbodemo/internal/session"
)

// --- モック定義 ---

// mockOAuth はOAuthServiceのモック実装。
type mockOAuth struct {
	buildAuthorizationURLFn func(ctx context.Context) (*auth.AuthorizationRequest, error)
	exchangeFn              func(ctx context.Context, code string) (*model.TokenSet, error)
	refreshFn               func(ctx context.Context, refreshToken string) (*model.TokenSet, error)

	exchangeCalls int
	revoked       []string
}

func (m *mockOAuth) BuildAuthorizationURL(ctx context.Context) (*auth.AuthorizationRequest, error) {
	if m.buildAuthorizationURLFn != nil {
		return m.buildAuthorizationURLFn(ctx)
	}
	return &auth.AuthorizationRequest{URL: "https://appcenter.intuit.com/connect/oauth2?state=st", State: "st"}, nil
}

func (m *mockOAuth) ExchangeCodeForToken(ctx context.Context, code string) (*model.TokenSet, error) {
	m.exchangeCalls++
	if m.exchangeFn != nil {
		return m.exchangeFn(ctx, code)
	}
	return &model.TokenSet{AccessToken: "access-" + code, RefreshToken: "refresh-" + code, Scope: "com.intuit.quickbooks.accounting"}, nil
}

func (m *mockOAuth) RefreshToken(ctx context.Context, refreshToken string) (*model.TokenSet, error) {
	if m.refreshFn != nil {
		return m.refreshFn(ctx, refreshToken)
	}
	return &model.TokenSet{AccessToken: "new-access-token-value"}, nil
}

func (m *mockOAuth) RevokeTokens(_ context.Context, token string) {
	m.revoked = append(m.revoked, token)
}

// mockSaver はSessionSaverのモック実装。
// Destroy は既定でセッションの値を破棄する。
type mockSaver struct {
	saveFn    func(ctx context.Context, w http.ResponseWriter, s *session.Session) error
	destroyFn func(ctx context.Context, w http.ResponseWriter, s *session.Session) error

	saves    int
	destroys int
}

func (m *mockSaver) Save(ctx context.Context, w http.ResponseWriter, s *session.Session) error {
	m.saves++
	if m.saveFn != nil {
		return m.saveFn(ctx, w, s)
	}
	return nil
}

func (m *mockSaver) Destroy(ctx context.Context, w http.ResponseWriter, s *session.Session) error {
	m.destroys++
	if m.destroyFn != nil {
		return m.destroyFn(ctx, w, s)
	}
	s.Invalidate()
	return nil
}

// mockAccounting はAccountingServiceのモック実装。
type mockAccounting struct {
	listCustomersFn       func(ctx context.Context, ac model.AuthContext) ([]model.Customer, error)
	listItemsFn           func(ctx context.Context, ac model.AuthContext) ([]model.Item, error)
	listVendorsFn         func(ctx context.Context, ac model.AuthContext) ([]model.Vendor, error)
	listExpenseAccountsFn func(ctx context.Context, ac model.AuthContext) ([]model.Account, error)
	listAccountsFn        func(ctx context.Context, ac model.AuthContext) (*model.AccountList, error)
	createCustomerFn      func(ctx context.Context, ac model.AuthContext, in accounting.CustomerInput) (*model.Customer, error)
	createItemFn          func(ctx context.Context, ac model.AuthContext, name string, unitPrice float64) (*model.Item, error)
	createInvoiceFn       func(ctx context.Context, ac model.AuthContext, in accounting.InvoiceInput) (*model.InvoiceResult, error)
	createEstimateFn      func(ctx context.Context, ac model.AuthContext, in accounting.SalesInput) (*model.TransactionResult, error)
	createSalesReceiptFn  func(ctx context.Context, ac model.AuthContext, in accounting.SalesInput) (*model.TransactionResult, error)
	createBillFn          func(ctx context.Context, ac model.AuthContext, in accounting.BillInput) (*model.TransactionResult, error)
}

func (m *mockAccounting) ListCustomers(ctx context.Context, ac model.AuthContext) ([]model.Customer, error) {
	if m.listCustomersFn != nil {
		return m.listCustomersFn(ctx, ac)
	}
	return nil, nil
}

func (m *mockAccounting) ListItems(ctx context.Context, ac model.AuthContext) ([]model.Item, error) {
	if m.listItemsFn != nil {
		return m.listItemsFn(ctx, ac)
	}
	return nil, nil
}

func (m *mockAccounting) ListVendors(ctx context.Context, ac model.AuthContext) ([]model.Vendor, error) {
	if m.listVendorsFn != nil {
		return m.listVendorsFn(ctx, ac)
	}
	return nil, nil
}

func (m *mockAccounting) ListExpenseAccounts(ctx context.Context, ac model.AuthContext) ([]model.Account, error) {
	if m.listExpenseAccountsFn != nil {
		return m.listExpenseAccountsFn(ctx, ac)
	}
	return nil, nil
}

func (m *mockAccounting) ListAccounts(ctx context.Context, ac model.AuthContext) (*model.AccountList, error) {
	if m.listAccountsFn != nil {
		return m.listAccountsFn(ctx, ac)
	}
	return &model.AccountList{Accounts: []model.Account{}}, nil
}

func (m *mockAccounting) CreateCustomer(ctx context.Context, ac model.AuthContext, in accounting.CustomerInput) (*model.Customer, error) {
	if m.createCustomerFn != nil {
		return m.createCustomerFn(ctx, ac, in)
	}
	return &model.Customer{ID: "1", Name: in.DisplayName}, nil
}

func (m *mockAccounting) CreateItem(ctx context.Context, ac model.AuthContext, name string, unitPrice float64) (*model.Item, error) {
	if m.createItemFn != nil {
		return m.createItemFn(ctx, ac, name, unitPrice)
	}
	return &model.Item{ID: "1", Name: name, UnitPrice: unitPrice}, nil
}

func (m *mockAccounting) CreateInvoice(ctx context.Context, ac model.AuthContext, in accounting.InvoiceInput) (*model.InvoiceResult, error) {
	if m.createInvoiceFn != nil {
		return m.createInvoiceFn(ctx, ac, in)
	}
	return &model.InvoiceResult{InvoiceID: "1"}, nil
}

func (m *mockAccounting) CreateEstimate(ctx context.Context, ac model.AuthContext, in accounting.SalesInput) (*model.TransactionResult, error) {
	if m.createEstimateFn != nil {
		return m.createEstimateFn(ctx, ac, in)
	}
	return &model.TransactionResult{ID: "1", ProjectID: in.ProjectID}, nil
}

func (m *mockAccounting) CreateSalesReceipt(ctx context.Context, ac model.AuthContext, in accounting.SalesInput) (*model.TransactionResult, error) {
	if m.createSalesReceiptFn != nil {
		return m.createSalesReceiptFn(ctx, ac, in)
	}
	return &model.TransactionResult{ID: "1", ProjectID: in.ProjectID}, nil
}

func (m *mockAccounting) CreateBill(ctx context.Context, ac model.AuthContext, in accounting.BillInput) (*model.TransactionResult, error) {
	if m.createBillFn != nil {
		return m.createBillFn(ctx, ac, in)
	}
	return &model.TransactionResult{ID: "1", ProjectID: in.ProjectID}, nil
}

// mockProjects はProjectServiceのモック実装。
type mockProjects struct {
	createFn     func(ctx context.Context, ac model.AuthContext, in project.CreateInput) (*model.Project, error)
	listFn       func(ctx context.Context, ac model.AuthContext, in project.ListInput) (*model.ProjectPage, error)
	getFn        func(ctx context.Context, ac model.AuthContext, id string) (*model.Project, error)
	getManyFn    func(ctx context.Context, ac model.AuthContext, ids []string) ([]model.Project, error)
	deleteFn     func(ctx context.Context, ac model.AuthContext, id string, version *int) (*model.ProjectDeleteResult, error)
	deleteManyFn func(ctx context.Context, ac model.AuthContext, ids []string) []model.ProjectDeleteRow
}

func (m *mockProjects) Create(ctx context.Context, ac model.AuthContext, in project.CreateInput) (*model.Project, error) {
	if m.createFn != nil {
		return m.createFn(ctx, ac, in)
	}
	return &model.Project{ID: "p-1", Name: in.ProjectName, CustomerID: in.CustomerID}, nil
}

func (m *mockProjects) List(ctx context.Context, ac model.AuthContext, in project.ListInput) (*model.ProjectPage, error) {
	if m.listFn != nil {
		return m.listFn(ctx, ac, in)
	}
	return &model.ProjectPage{}, nil
}

func (m *mockProjects) Get(ctx context.Context, ac model.AuthContext, id string) (*model.Project, error) {
	if m.getFn != nil {
		return m.getFn(ctx, ac, id)
	}
	return &model.Project{ID: id}, nil
}

func (m *mockProjects) GetMany(ctx context.Context, ac model.AuthContext, ids []string) ([]model.Project, error) {
	if m.getManyFn != nil {
		return m.getManyFn(ctx, ac, ids)
	}
	return nil, nil
}

func (m *mockProjects) Delete(ctx context.Context, ac model.AuthContext, id string, version *int) (*model.ProjectDeleteResult, error) {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, ac, id, version)
	}
	return &model.ProjectDeleteResult{ID: id, Deleted: true}, nil
}

func (m *mockProjects) DeleteMany(ctx context.Context, ac model.AuthContext, ids []string) []model.ProjectDeleteRow {
	if m.deleteManyFn != nil {
		return m.deleteManyFn(ctx, ac, ids)
	}
	rows := make([]model.ProjectDeleteRow, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, model.ProjectDeleteRow{ID: id, Status: "success", Deleted: true})
	}
	return rows
}

// mockIdentifier はProjectIdentifierのモック実装。
type mockIdentifier struct {
	identifyFn func(ctx context.Context, ac model.AuthContext, p *model.Project) model.ProjectIdentity
}

func (m *mockIdentifier) Identify(ctx context.Context, ac model.AuthContext, p *model.Project) model.ProjectIdentity {
	if m.identifyFn != nil {
		return m.identifyFn(ctx, ac, p)
	}
	return model.ProjectIdentity{GraphQLProjectID: p.ID}
}

// nopSanitizer は前後の空白のみを除く。
type nopSanitizer struct{}

func (nopSanitizer) Sanitize(input string) string { return strings.TrimSpace(input) }

// --- テストヘルパー ---

// newTestSession は保存済みのセッションを生成し、values を文字列として設定する。
func newTestSession(values map[string]string) *session.Session {
	s := session.Restore(&model.Session{ID: "sid", ExpiresAt: time.Now().Add(time.Hour)})
	for k, v := range values {
		s.Set(k, v)
	}
	return s
}

// connectedSession は接続済みのセッションを返す。
func connectedSession() *session.Session {
	return newTestSession(map[string]string{
		session.KeyAccessToken:  "Bearer access-token",
		session.KeyRefreshToken: "refresh-token",
		session.KeyRealmID:      "9130",
	})
}

// withSession はリクエストにセッションを注入する。
func withSession(r *http.Request, s *session.Session) *http.Request {
	return r.WithContext(middleware.ContextWithSession(r.Context(), s))
}

// postForm はフォーム送信のリクエストを生成する。
func postForm(path string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// flashMessages はフラッシュメッセージを取り出す（取り出したフラッシュは消える）。
func flashMessages(s *session.Session) []string {
	var out []string
	for _, f := range s.PopFlashes() {
		out = append(out, string(f.Kind)+": "+f.Message)
	}
	return out
}

// assertRedirectHome はトップページへの302リダイレクトを検証する。
func assertRedirectHome(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusFound)
	}
	if loc := rec.Header().Get("Location"); loc != "/" {
		t.Errorf("Location = %q, want %q", loc, "/")
	}
}

// assertFlash はフラッシュに want が含まれることを検証する。
func assertFlash(t *testing.T, s *session.Session, want string) {
	t.Helper()
	flashes := flashMessages(s)
	for _, f := range flashes {
		if f == want {
			return
		}
	}
	t.Errorf("flashes = %q, want to contain %q", flashes, want)
}
