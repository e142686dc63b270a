package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/qbodemo/internal/accounting"
	"github.com/hitoshi/qbodemo/internal/middleware"
	"github.com/hitoshi/qbodemo/internal/model"
	"github.com/hitoshi/qbodemo/internal/session"
)

// AccountingHandler は顧客・品目の取得と、取引作成のHTTPハンドラー。
type AccountingHandler struct {
	service     AccountingService
	sessions    SessionSaver
	sanitizer   Sanitizer
	environment string
}

// NewAccountingHandler はAccountingHandlerを生成する。
func NewAccountingHandler(service AccountingService, sessions SessionSaver, sanitizer Sanitizer, environment string) *AccountingHandler {
	return &AccountingHandler{
		service:     service,
		sessions:    sessions,
		sanitizer:   sanitizer,
		environment: environment,
	}
}

// CallQBO は顧客と品目を取得してセッションに保存する。
// 仕入先と経費勘定は取得できなくてもページを表示できるよう、失敗をログのみに残す。
// GET /call-qbo
func (h *AccountingHandler) CallQBO(w http.ResponseWriter, r *http.Request) {
	s := currentSession(r)
	ac, ok := requireConnected(s)
	if !ok {
		redirectHome(w, r, h.sessions, s)
		return
	}

	customers, err := h.service.ListCustomers(r.Context(), ac)
	if err != nil {
		flashError(r, s, "list customers", err)
		redirectHome(w, r, h.sessions, s)
		return
	}
	items, err := h.service.ListItems(r.Context(), ac)
	if err != nil {
		flashError(r, s, "list items", err)
		redirectHome(w, r, h.sessions, s)
		return
	}
	s.Set(session.KeyCustomers, customers)
	s.Set(session.KeyItems, items)

	if vendors, err := h.service.ListVendors(r.Context(), ac); err != nil {
		slog.Warn("vendor preload failed", slog.String("error", err.Error()))
	} else {
		s.Set(session.KeyVendors, vendors)
	}
	if accounts, err := h.service.ListExpenseAccounts(r.Context(), ac); err != nil {
		slog.Warn("expense account preload failed", slog.String("error", err.Error()))
	} else {
		s.Set(session.KeyExpenseAccounts, accounts)
	}

	s.AddFlash(session.FlashSuccess, fmt.Sprintf(
		"Successfully loaded %d customers and %d items! Ready for project creation.", len(customers), len(items)))
	redirectHome(w, r, h.sessions, s)
}

// FetchItems は品目一覧を再取得する。
// GET /fetch-items
func (h *AccountingHandler) FetchItems(w http.ResponseWriter, r *http.Request) {
	s := currentSession(r)
	ac, ok := requireConnected(s)
	if !ok {
		redirectHome(w, r, h.sessions, s)
		return
	}

	items, err := h.service.ListItems(r.Context(), ac)
	if err != nil {
		flashError(r, s, "list items", err)
		redirectHome(w, r, h.sessions, s)
		return
	}

	s.Set(session.KeyItems, items)
	s.AddFlash(session.FlashSuccess, "Items loaded successfully!")
	redirectHome(w, r, h.sessions, s)
}

// CreateCustomer は顧客を作成し、顧客一覧を更新する。
// POST /create-customer
func (h *AccountingHandler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	s := currentSession(r)
	ac, ok := requireConnected(s)
	if !ok {
		redirectHome(w, r, h.sessions, s)
		return
	}

	created, err := h.service.CreateCustomer(r.Context(), ac, accounting.CustomerInput{
		DisplayName: formText(r, h.sanitizer, "displayName"),
		Email:       formText(r, h.sanitizer, "email"),
		Phone:       formText(r, h.sanitizer, "phone"),
	})
	if err != nil {
		h.flashWriteError(r, s, ac, "create customer", err)
		redirectHome(w, r, h.sessions, s)
		return
	}

	if customers, err := h.service.ListCustomers(r.Context(), ac); err != nil {
		slog.Warn("customer list refresh failed", slog.String("error", err.Error()))
	} else {
		s.Set(session.KeyCustomers, customers)
	}

	s.AddFlash(session.FlashSuccess, fmt.Sprintf("Customer created: %s (ID: %s)", created.Name, created.ID))
	redirectHome(w, r, h.sessions, s)
}

// CreateItem はサービス品目を作成し、品目一覧を更新する。
// POST /create-item
func (h *AccountingHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	s := currentSession(r)
	ac, ok := requireConnected(s)
	if !ok {
		redirectHome(w, r, h.sessions, s)
		return
	}

	unitPrice, err := formFloat(r, "unitPrice", "Unit price")
	if err != nil {
		flashError(r, s, "create item", err)
		redirectHome(w, r, h.sessions, s)
		return
	}

	created, err := h.service.CreateItem(r.Context(), ac, formText(r, h.sanitizer, "name"), unitPrice)
	if err != nil {
		h.flashWriteError(r, s, ac, "create item", err)
		redirectHome(w, r, h.sessions, s)
		return
	}

	if items, err := h.service.ListItems(r.Context(), ac); err != nil {
		slog.Warn("item list refresh failed", slog.String("error", err.Error()))
	} else {
		s.Set(session.KeyItems, items)
	}

	s.AddFlash(session.FlashSuccess, fmt.Sprintf("Item created: %s (ID: %s)", created.Name, created.ID))
	redirectHome(w, r, h.sessions, s)
}

// CreateInvoice はプロジェクトに紐づく請求書を作成する。
// POST /create-invoice
func (h *AccountingHandler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	s := currentSession(r)
	ac, ok := requireConnected(s)
	if !ok {
		redirectHome(w, r, h.sessions, s)
		return
	}

	in, err := h.salesInput(r)
	if err != nil {
		flashError(r, s, "create invoice", err)
		redirectHome(w, r, h.sessions, s)
		return
	}

	res, err := h.service.CreateInvoice(r.Context(), ac, accounting.InvoiceInput{
		CustomerID:  in.CustomerID,
		ItemID:      in.ItemID,
		ItemName:    formText(r, h.sanitizer, "itemName"),
		ProjectID:   in.ProjectID,
		Quantity:    in.Quantity,
		UnitPrice:   in.UnitPrice,
		Description: in.Description,
	})
	if err != nil {
		flashError(r, s, "create invoice", err)
		redirectHome(w, r, h.sessions, s)
		return
	}

	s.Set(session.KeyLastResult, lastResult{
		Kind:       resultInvoice,
		ID:         res.InvoiceID,
		DocNumber:  res.DocNumber,
		Amount:     res.Amount,
		ProjectID:  res.ProjectID,
		ProjectRef: res.ProjectRef,
		DeepLink:   res.DeepLink,
	})
	s.AddFlash(session.FlashSuccess, fmt.Sprintf(
		"Invoice created successfully! Invoice #%s (ID: %s) linked to Project ID: %s", res.DocNumber, res.InvoiceID, res.ProjectRef))
	redirectHome(w, r, h.sessions, s)
}

// CreateEstimate はプロジェクトに紐づく見積を作成する。
// POST /create-estimate
func (h *AccountingHandler) CreateEstimate(w http.ResponseWriter, r *http.Request) {
	h.createSalesTransaction(w, r, resultEstimate, "create estimate", h.service.CreateEstimate)
}

// CreateSalesReceipt はプロジェクトに紐づく販売レシートを作成する。
// POST /create-sales-receipt
func (h *AccountingHandler) CreateSalesReceipt(w http.ResponseWriter, r *http.Request) {
	h.createSalesTransaction(w, r, resultSalesReceipt, "create sales receipt", h.service.CreateSalesReceipt)
}

type salesCreator func(ctx context.Context, ac model.AuthContext, in accounting.SalesInput) (*model.TransactionResult, error)

func (h *AccountingHandler) createSalesTransaction(w http.ResponseWriter, r *http.Request, kind, operation string, create salesCreator) {
	s := currentSession(r)
	ac, ok := requireConnected(s)
	if !ok {
		redirectHome(w, r, h.sessions, s)
		return
	}

	in, err := h.salesInput(r)
	if err != nil {
		flashError(r, s, operation, err)
		redirectHome(w, r, h.sessions, s)
		return
	}

	res, err := create(r.Context(), ac, in)
	if err != nil {
		flashError(r, s, operation, err)
		redirectHome(w, r, h.sessions, s)
		return
	}

	s.Set(session.KeyLastResult, lastResult{
		Kind:      kind,
		ID:        res.ID,
		Amount:    res.TotalAmt,
		ProjectID: res.ProjectID,
		DeepLink:  res.DeepLink,
	})
	label := "Estimate"
	if kind == resultSalesReceipt {
		label = "Sales receipt"
	}
	s.AddFlash(session.FlashSuccess, fmt.Sprintf("%s created (ID: %s) for Project ID: %s", label, res.ID, res.ProjectID))
	redirectHome(w, r, h.sessions, s)
}

// CreateBill はプロジェクトに紐づく仕入請求書を作成する。
// POST /create-bill
func (h *AccountingHandler) CreateBill(w http.ResponseWriter, r *http.Request) {
	s := currentSession(r)
	ac, ok := requireConnected(s)
	if !ok {
		redirectHome(w, r, h.sessions, s)
		return
	}

	amount, err := formFloat(r, "amount", "Amount")
	if err != nil {
		flashError(r, s, "create bill", err)
		redirectHome(w, r, h.sessions, s)
		return
	}

	res, err := h.service.CreateBill(r.Context(), ac, accounting.BillInput{
		VendorID:         formID(r, "vendorId"),
		ExpenseAccountID: formID(r, "expenseAccountId"),
		ProjectID:        formID(r, "projectId"),
		Amount:           amount,
		Description:      formText(r, h.sanitizer, "description"),
	})
	if err != nil {
		flashError(r, s, "create bill", err)
		redirectHome(w, r, h.sessions, s)
		return
	}

	s.Set(session.KeyLastResult, lastResult{
		Kind:      resultBill,
		ID:        res.ID,
		Amount:    res.TotalAmt,
		ProjectID: res.ProjectID,
		DeepLink:  res.DeepLink,
	})
	s.AddFlash(session.FlashSuccess, fmt.Sprintf("Bill created successfully! Bill ID: %s, linked to Project ID: %s", res.ID, res.ProjectID))
	redirectHome(w, r, h.sessions, s)
}

// ListAccounts は有効な勘定科目をJSONで返す。
// 未接続のリクエストはミドルウェアで401になる。
// GET /api/accounts
func (h *AccountingHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	s := currentSession(r)

	list, err := h.service.ListAccounts(r.Context(), session.AuthContext(s))
	if err != nil {
		slog.Warn("list accounts failed",
			slog.String("kind", string(model.KindOf(err))),
			slog.String("error", err.Error()),
		)
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// salesInput は請求書・見積・販売レシート共通のフォーム値を読み取る。
// amount は単価として扱う。
func (h *AccountingHandler) salesInput(r *http.Request) (accounting.SalesInput, error) {
	quantity, err := formInt(r, "quantity", "Quantity", 1)
	if err != nil {
		return accounting.SalesInput{}, err
	}
	unitPrice, err := formFloat(r, "amount", "Amount")
	if err != nil {
		return accounting.SalesInput{}, err
	}
	return accounting.SalesInput{
		CustomerID:  formID(r, "customerId"),
		ItemID:      formID(r, "itemId"),
		ProjectID:   formID(r, "projectId"),
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		Description: formText(r, h.sanitizer, "description"),
	}, nil
}

// flashWriteError はマスタ作成の失敗に接続先の環境と会社IDを添えて表示する。
func (h *AccountingHandler) flashWriteError(r *http.Request, s *session.Session, ac model.AuthContext, operation string, err error) {
	flashError(r, s, operation, err)
	if model.KindOf(err) == model.KindValidation {
		return
	}
	realm := ac.RealmID
	if realm == "" {
		realm = "(none)"
	}
	s.AddFlash(session.FlashInfo, fmt.Sprintf("[env=%s, realmId=%s]", h.environment, realm))
}
