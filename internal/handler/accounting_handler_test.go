package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/hitoshi/qbodemo/internal/accounting"
	"github.com/hitoshi/qbodemo/internal/model"
	"github.com/hitoshi/qbodemo/internal/session"
)

func newTestAccountingHandler(svc *mockAccounting) *AccountingHandler {
	return NewAccountingHandler(svc, &mockSaver{}, nopSanitizer{}, "sandbox")
}

func TestAccountingHandler_NotConnected_FlashesAndSkipsService(t *testing.T) {
	called := false
	svc := &mockAccounting{
		listCustomersFn: func(_ context.Context, _ model.AuthContext) ([]model.Customer, error) {
			called = true
			return nil, nil
		},
	}
	h := newTestAccountingHandler(svc)

	s := newTestSession(nil)
	rec := httptest.NewRecorder()

	h.CallQBO(rec, withSession(httptest.NewRequest(http.MethodGet, "/call-qbo", nil), s))

	assertRedirectHome(t, rec)
	if called {
		t.Error("service should not be called without a connection")
	}
	assertFlash(t, s, "error: "+msgNotConnected)
}

func TestAccountingHandler_CallQBO_CachesListsAndTolerantPreloads(t *testing.T) {
	var gotAuth model.AuthContext
	svc := &mockAccounting{
		listCustomersFn: func(_ context.Context, ac model.AuthContext) ([]model.Customer, error) {
			gotAuth = ac
			return []model.Customer{{ID: "1", Name: "Amy's Bird Sanctuary"}, {ID: "2", Name: "Bill's Windsurf Shop"}}, nil
		},
		listItemsFn: func(_ context.Context, _ model.AuthContext) ([]model.Item, error) {
			return []model.Item{{ID: "10", Name: "Design"}}, nil
		},
		listVendorsFn: func(_ context.Context, _ model.AuthContext) ([]model.Vendor, error) {
			return nil, model.NewForbiddenError(nil)
		},
		listExpenseAccountsFn: func(_ context.Context, _ model.AuthContext) ([]model.Account, error) {
			return []model.Account{{ID: "7", Name: "Advertising", Type: "Expense"}}, nil
		},
	}
	h := newTestAccountingHandler(svc)

	s := connectedSession()
	rec := httptest.NewRecorder()

	h.CallQBO(rec, withSession(httptest.NewRequest(http.MethodGet, "/call-qbo", nil), s))

	assertRedirectHome(t, rec)
	if gotAuth.AccessToken != "Bearer access-token" || gotAuth.RealmID != "9130" {
		t.Errorf("auth context = %+v", gotAuth)
	}
	customers, _ := session.GetValue[[]model.Customer](s, session.KeyCustomers)
	if len(customers) != 2 {
		t.Errorf("cached customers = %d, want 2", len(customers))
	}
	items, _ := session.GetValue[[]model.Item](s, session.KeyItems)
	if len(items) != 1 {
		t.Errorf("cached items = %d, want 1", len(items))
	}
	if s.Has(session.KeyVendors) {
		t.Error("vendors should not be cached when the preload fails")
	}
	accounts, _ := session.GetValue[[]model.Account](s, session.KeyExpenseAccounts)
	if len(accounts) != 1 {
		t.Errorf("cached expense accounts = %d, want 1", len(accounts))
	}
	assertFlash(t, s, "success: Successfully loaded 2 customers and 1 items! Ready for project creation.")
}

func TestAccountingHandler_CallQBO_CustomerError(t *testing.T) {
	svc := &mockAccounting{
		listCustomersFn: func(_ context.Context, _ model.AuthContext) ([]model.Customer, error) {
			return nil, model.NewUnauthorizedError(nil)
		},
	}
	h := newTestAccountingHandler(svc)

	s := connectedSession()
	rec := httptest.NewRecorder()

	h.CallQBO(rec, withSession(httptest.NewRequest(http.MethodGet, "/call-qbo", nil), s))

	assertRedirectHome(t, rec)
	if s.Has(session.KeyCustomers) {
		t.Error("customers should not be cached on failure")
	}
	assertFlash(t, s, "error: Unauthorized (401): Access token invalid or expired. Please reconnect to QuickBooks.")
}

func TestAccountingHandler_FetchItems(t *testing.T) {
	svc := &mockAccounting{
		listItemsFn: func(_ context.Context, _ model.AuthContext) ([]model.Item, error) {
			return []model.Item{{ID: "10", Name: "Design"}, {ID: "11", Name: "Hours"}}, nil
		},
	}
	h := newTestAccountingHandler(svc)

	s := connectedSession()
	rec := httptest.NewRecorder()

	h.FetchItems(rec, withSession(httptest.NewRequest(http.MethodGet, "/fetch-items", nil), s))

	assertRedirectHome(t, rec)
	items, _ := session.GetValue[[]model.Item](s, session.KeyItems)
	if len(items) != 2 {
		t.Errorf("cached items = %d, want 2", len(items))
	}
	assertFlash(t, s, "success: Items loaded successfully!")
}

func TestAccountingHandler_CreateCustomer_RefreshesList(t *testing.T) {
	var gotInput accounting.CustomerInput
	svc := &mockAccounting{
		createCustomerFn: func(_ context.Context, _ model.AuthContext, in accounting.CustomerInput) (*model.Customer, error) {
			gotInput = in
			return &model.Customer{ID: "58", Name: in.DisplayName}, nil
		},
		listCustomersFn: func(_ context.Context, _ model.AuthContext) ([]model.Customer, error) {
			return []model.Customer{{ID: "58", Name: "Acme"}}, nil
		},
	}
	h := newTestAccountingHandler(svc)

	s := connectedSession()
	rec := httptest.NewRecorder()
	form := url.Values{"displayName": {"  Acme "}, "email": {"ops@acme.test"}, "phone": {"555-0100"}}

	h.CreateCustomer(rec, withSession(postForm("/create-customer", form), s))

	assertRedirectHome(t, rec)
	if gotInput.DisplayName != "Acme" || gotInput.Email != "ops@acme.test" || gotInput.Phone != "555-0100" {
		t.Errorf("input = %+v", gotInput)
	}
	customers, _ := session.GetValue[[]model.Customer](s, session.KeyCustomers)
	if len(customers) != 1 {
		t.Errorf("cached customers = %d, want 1", len(customers))
	}
	assertFlash(t, s, "success: Customer created: Acme (ID: 58)")
}

func TestAccountingHandler_CreateCustomer_UpstreamError_AddsEnvironmentHint(t *testing.T) {
	svc := &mockAccounting{
		createCustomerFn: func(_ context.Context, _ model.AuthContext, _ accounting.CustomerInput) (*model.Customer, error) {
			return nil, model.NewUpstreamError("create customer", "Duplicate Name Exists Error", nil)
		},
	}
	h := newTestAccountingHandler(svc)

	s := connectedSession()
	rec := httptest.NewRecorder()

	h.CreateCustomer(rec, withSession(postForm("/create-customer", url.Values{"displayName": {"Acme"}}), s))

	assertRedirectHome(t, rec)
	assertFlash(t, s, "info: [env=sandbox, realmId=9130]")
}

func TestAccountingHandler_CreateItem_InvalidPrice(t *testing.T) {
	called := false
	svc := &mockAccounting{
		createItemFn: func(_ context.Context, _ model.AuthContext, _ string, _ float64) (*model.Item, error) {
			called = true
			return nil, nil
		},
	}
	h := newTestAccountingHandler(svc)

	s := connectedSession()
	rec := httptest.NewRecorder()

	h.CreateItem(rec, withSession(postForm("/create-item", url.Values{"name": {"Design"}, "unitPrice": {"abc"}}), s))

	assertRedirectHome(t, rec)
	if called {
		t.Error("service should not be called with an invalid price")
	}
	assertFlash(t, s, "error: Unit price must be a number")
}

func TestAccountingHandler_CreateItem_Success(t *testing.T) {
	var gotName string
	var gotPrice float64
	svc := &mockAccounting{
		createItemFn: func(_ context.Context, _ model.AuthContext, name string, unitPrice float64) (*model.Item, error) {
			gotName, gotPrice = name, unitPrice
			return &model.Item{ID: "21", Name: name}, nil
		},
	}
	h := newTestAccountingHandler(svc)

	s := connectedSession()
	rec := httptest.NewRecorder()

	h.CreateItem(rec, withSession(postForm("/create-item", url.Values{"name": {"Design"}, "unitPrice": {"75.5"}}), s))

	assertRedirectHome(t, rec)
	if gotName != "Design" || gotPrice != 75.5 {
		t.Errorf("CreateItem(%q, %v)", gotName, gotPrice)
	}
	assertFlash(t, s, "success: Item created: Design (ID: 21)")
}

func TestAccountingHandler_CreateInvoice(t *testing.T) {
	var gotInput accounting.InvoiceInput
	svc := &mockAccounting{
		createInvoiceFn: func(_ context.Context, _ model.AuthContext, in accounting.InvoiceInput) (*model.InvoiceResult, error) {
			gotInput = in
			return &model.InvoiceResult{
				InvoiceID:  "145",
				DocNumber:  "1038",
				Amount:     300,
				ProjectID:  in.ProjectID,
				ProjectRef: "412",
				DeepLink:   "https://app.sandbox.qbo.intuit.com/app/invoice?txnId=145&companyId=9130",
			}, nil
		},
	}
	h := newTestAccountingHandler(svc)

	s := connectedSession()
	rec := httptest.NewRecorder()
	form := url.Values{
		"customerId": {"58"}, "itemId": {"10"}, "itemName": {"Design"},
		"projectId": {"gql-1"}, "quantity": {"3"}, "amount": {"100"}, "description": {"Phase 1"},
	}

	h.CreateInvoice(rec, withSession(postForm("/create-invoice", form), s))

	assertRedirectHome(t, rec)
	want := accounting.InvoiceInput{
		CustomerID: "58", ItemID: "10", ItemName: "Design", ProjectID: "gql-1",
		Quantity: 3, UnitPrice: 100, Description: "Phase 1",
	}
	if gotInput != want {
		t.Errorf("input = %+v, want %+v", gotInput, want)
	}
	res, ok := session.GetValue[lastResult](s, session.KeyLastResult)
	if !ok {
		t.Fatal("last result should be stored")
	}
	if res.Kind != resultInvoice || res.ID != "145" || res.ProjectRef != "412" {
		t.Errorf("last result = %+v", res)
	}
	assertFlash(t, s, "success: Invoice created successfully! Invoice #1038 (ID: 145) linked to Project ID: 412")
}

func TestAccountingHandler_CreateInvoice_Validation(t *testing.T) {
	tests := []struct {
		name string
		form url.Values
		want string
	}{
		{name: "missing amount", form: url.Values{"quantity": {"1"}}, want: "error: Amount is required"},
		{name: "bad quantity", form: url.Values{"quantity": {"two"}, "amount": {"10"}}, want: "error: Quantity must be a whole number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			svc := &mockAccounting{
				createInvoiceFn: func(_ context.Context, _ model.AuthContext, _ accounting.InvoiceInput) (*model.InvoiceResult, error) {
					called = true
					return nil, nil
				},
			}
			h := newTestAccountingHandler(svc)

			s := connectedSession()
			rec := httptest.NewRecorder()

			h.CreateInvoice(rec, withSession(postForm("/create-invoice", tt.form), s))

			assertRedirectHome(t, rec)
			if called {
				t.Error("service should not be called")
			}
			assertFlash(t, s, tt.want)
		})
	}
}

func TestAccountingHandler_CreateEstimateAndSalesReceipt(t *testing.T) {
	var estimateInput, receiptInput accounting.SalesInput
	svc := &mockAccounting{
		createEstimateFn: func(_ context.Context, _ model.AuthContext, in accounting.SalesInput) (*model.TransactionResult, error) {
			estimateInput = in
			return &model.TransactionResult{ID: "E1", TotalAmt: 50, ProjectID: in.ProjectID}, nil
		},
		createSalesReceiptFn: func(_ context.Context, _ model.AuthContext, in accounting.SalesInput) (*model.TransactionResult, error) {
			receiptInput = in
			return &model.TransactionResult{ID: "S1", TotalAmt: 50, ProjectID: in.ProjectID}, nil
		},
	}
	h := newTestAccountingHandler(svc)
	form := url.Values{"customerId": {"58"}, "itemId": {"10"}, "projectId": {"412"}, "amount": {"50"}}

	s := connectedSession()
	rec := httptest.NewRecorder()
	h.CreateEstimate(rec, withSession(postForm("/create-estimate", form), s))
	assertRedirectHome(t, rec)
	if estimateInput.Quantity != 1 || estimateInput.UnitPrice != 50 {
		t.Errorf("estimate input = %+v, want quantity 1 and unit price 50", estimateInput)
	}
	res, _ := session.GetValue[lastResult](s, session.KeyLastResult)
	if res.Kind != resultEstimate || res.ID != "E1" {
		t.Errorf("last result = %+v", res)
	}
	assertFlash(t, s, "success: Estimate created (ID: E1) for Project ID: 412")

	s = connectedSession()
	rec = httptest.NewRecorder()
	h.CreateSalesReceipt(rec, withSession(postForm("/create-sales-receipt", form), s))
	assertRedirectHome(t, rec)
	if receiptInput.ProjectID != "412" {
		t.Errorf("sales receipt input = %+v", receiptInput)
	}
	res, _ = session.GetValue[lastResult](s, session.KeyLastResult)
	if res.Kind != resultSalesReceipt || res.ID != "S1" {
		t.Errorf("last result = %+v", res)
	}
	assertFlash(t, s, "success: Sales receipt created (ID: S1) for Project ID: 412")
}

func TestAccountingHandler_CreateBill(t *testing.T) {
	var gotInput accounting.BillInput
	svc := &mockAccounting{
		createBillFn: func(_ context.Context, _ model.AuthContext, in accounting.BillInput) (*model.TransactionResult, error) {
			gotInput = in
			return &model.TransactionResult{ID: "B9", TotalAmt: in.Amount, ProjectID: in.ProjectID}, nil
		},
	}
	h := newTestAccountingHandler(svc)

	s := connectedSession()
	rec := httptest.NewRecorder()
	form := url.Values{"vendorId": {"31"}, "expenseAccountId": {"7"}, "projectId": {"412"}, "amount": {"120.25"}, "description": {"Materials"}}

	h.CreateBill(rec, withSession(postForm("/create-bill", form), s))

	assertRedirectHome(t, rec)
	want := accounting.BillInput{VendorID: "31", ExpenseAccountID: "7", ProjectID: "412", Amount: 120.25, Description: "Materials"}
	if gotInput != want {
		t.Errorf("input = %+v, want %+v", gotInput, want)
	}
	res, _ := session.GetValue[lastResult](s, session.KeyLastResult)
	if res.Kind != resultBill || res.Amount != 120.25 {
		t.Errorf("last result = %+v", res)
	}
	assertFlash(t, s, "success: Bill created successfully! Bill ID: B9, linked to Project ID: 412")
}

func TestAccountingHandler_CreateBill_ServiceError(t *testing.T) {
	svc := &mockAccounting{
		createBillFn: func(_ context.Context, _ model.AuthContext, _ accounting.BillInput) (*model.TransactionResult, error) {
			return nil, model.NewValidationError("Vendor is required")
		},
	}
	h := newTestAccountingHandler(svc)

	s := connectedSession()
	rec := httptest.NewRecorder()

	h.CreateBill(rec, withSession(postForm("/create-bill", url.Values{"amount": {"10"}}), s))

	assertRedirectHome(t, rec)
	if s.Has(session.KeyLastResult) {
		t.Error("last result should not be stored on failure")
	}
	assertFlash(t, s, "error: Vendor is required")
}

func TestAccountingHandler_ListAccounts(t *testing.T) {
	svc := &mockAccounting{
		listAccountsFn: func(_ context.Context, _ model.AuthContext) (*model.AccountList, error) {
			return &model.AccountList{
				Accounts: []model.Account{{ID: "1", Name: "Checking", Type: "Bank", CurrentBalance: 1201}},
				Count:    1,
			}, nil
		},
	}
	h := newTestAccountingHandler(svc)
	rec := httptest.NewRecorder()

	h.ListAccounts(rec, withSession(httptest.NewRequest(http.MethodGet, "/api/accounts", nil), connectedSession()))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body model.AccountList
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Count != 1 || len(body.Accounts) != 1 || body.Accounts[0].Name != "Checking" {
		t.Errorf("body = %+v", body)
	}
}

func TestAccountingHandler_ListAccounts_Error(t *testing.T) {
	svc := &mockAccounting{
		listAccountsFn: func(_ context.Context, _ model.AuthContext) (*model.AccountList, error) {
			return nil, model.NewUnauthorizedError(errors.New("401"))
		},
	}
	h := newTestAccountingHandler(svc)
	rec := httptest.NewRecorder()

	h.ListAccounts(rec, withSession(httptest.NewRequest(http.MethodGet, "/api/accounts", nil), connectedSession()))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["code"] != model.ErrCodeUnauthorized {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeUnauthorized)
	}
}
