// Package accounting はQuickBooks Accounting APIの参照・作成操作を提供する。
package accounting

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/hitoshi/qbodemo/internal/model"
	"github.com/hitoshi/qbodemo/internal/quickbooks"
)

// Queries
const (
	queryCustomers       = "Select * from Customer where Job = false"
	queryItems           = "Select Id, Name, Type from Item where Active = true and Type in ('Service','NonInventory','Inventory') MAXRESULTS 25"
	queryVendors         = "select Id, DisplayName from Vendor where Active = true"
	queryExpenseAccounts = "select Id, Name, AccountType from Account where Active = true and AccountType in ('Expense','Cost of Goods Sold')"
	queryAccounts        = "Select Id, Name, AccountType, AccountSubType, CurrentBalance, FullyQualifiedName from Account where Active = true"
	queryIncomeAccount   = "select * from Account where AccountType = 'Income' and Active = true"
)

// EntityClient はAccounting APIのクエリと作成のインターフェース。
type EntityClient interface {
	quickbooks.Querier
	Post(ctx context.Context, ac model.AuthContext, path, entity string, payload, dst any) error
}

// ProjectRefResolver は書き込み用プロジェクト参照の解決インターフェース。
type ProjectRefResolver interface {
	ResolveProjectReferenceForWrite(ctx context.Context, ac model.AuthContext, providedProjectID string) string
}

// DeepLinker はQuickBooks UIへのディープリンクを生成する。
type DeepLinker interface {
	InvoiceDeepLink(invoiceID, realmID string) string
	TransactionDeepLink(kind, txnID string) string
}

// Service はAccounting操作を提供する。
type Service struct {
	client   EntityClient
	resolver ProjectRefResolver
	links    DeepLinker
	now      func() time.Time
	logger   *slog.Logger
}

// NewService はServiceを生成する。
func NewService(client EntityClient, resolver ProjectRefResolver, links DeepLinker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		client:   client,
		resolver: resolver,
		links:    links,
		now:      time.Now,
		logger:   logger,
	}
}

// --- 参照 ---

// ListCustomers はプロジェクトではない顧客の一覧を返す。
func (s *Service) ListCustomers(ctx context.Context, ac model.AuthContext) ([]model.Customer, error) {
	var rows []struct {
		ID                 string `json:"Id"`
		DisplayName        string `json:"DisplayName"`
		FullyQualifiedName string `json:"FullyQualifiedName"`
	}
	if err := s.query(ctx, ac, queryCustomers, "Customer", &rows); err != nil {
		return nil, err
	}

	customers := make([]model.Customer, 0, len(rows))
	for _, r := range rows {
		name := r.DisplayName
		if name == "" {
			name = r.FullyQualifiedName
		}
		customers = append(customers, model.Customer{ID: r.ID, Name: name})
	}
	return customers, nil
}

// ListItems は販売取引に使える品目を返す。Category は除外する。
func (s *Service) ListItems(ctx context.Context, ac model.AuthContext) ([]model.Item, error) {
	var rows []struct {
		ID        string  `json:"Id"`
		Name      string  `json:"Name"`
		Type      string  `json:"Type"`
		UnitPrice float64 `json:"UnitPrice"`
	}
	if err := s.query(ctx, ac, queryItems, "Item", &rows); err != nil {
		return nil, err
	}

	items := make([]model.Item, 0, len(rows))
	for _, r := range rows {
		if strings.EqualFold(r.Type, "Category") {
			continue
		}
		items = append(items, model.Item{ID: r.ID, Name: r.Name, Type: r.Type, UnitPrice: r.UnitPrice})
	}
	return items, nil
}

// ListVendors は有効な仕入先を返す。
func (s *Service) ListVendors(ctx context.Context, ac model.AuthContext) ([]model.Vendor, error) {
	var rows []struct {
		ID          string `json:"Id"`
		DisplayName string `json:"DisplayName"`
	}
	if err := s.query(ctx, ac, queryVendors, "Vendor", &rows); err != nil {
		return nil, err
	}

	vendors := make([]model.Vendor, 0, len(rows))
	for _, r := range rows {
		vendors = append(vendors, model.Vendor{ID: r.ID, Name: r.DisplayName})
	}
	return vendors, nil
}

// ListExpenseAccounts は費用・売上原価の勘定科目を返す。
func (s *Service) ListExpenseAccounts(ctx context.Context, ac model.AuthContext) ([]model.Account, error) {
	var rows []accountRow
	if err := s.query(ctx, ac, queryExpenseAccounts, "Account", &rows); err != nil {
		return nil, err
	}

	accounts := make([]model.Account, 0, len(rows))
	for _, r := range rows {
		accounts = append(accounts, r.toModel())
	}
	return accounts, nil
}

// ListAccounts は有効な勘定科目と件数を返す。
func (s *Service) ListAccounts(ctx context.Context, ac model.AuthContext) (*model.AccountList, error) {
	var rows []accountRow
	if err := s.query(ctx, ac, queryAccounts, "Account", &rows); err != nil {
		return nil, err
	}

	list := &model.AccountList{Accounts: make([]model.Account, 0, len(rows))}
	for _, r := range rows {
		list.Accounts = append(list.Accounts, r.toModel())
	}
	list.Count = len(list.Accounts)
	return list, nil
}

type accountRow struct {
	ID                 string  `json:"Id"`
	Name               string  `json:"Name"`
	AccountType        string  `json:"AccountType"`
	AccountSubType     string  `json:"AccountSubType"`
	FullyQualifiedName string  `json:"FullyQualifiedName"`
	CurrentBalance     float64 `json:"CurrentBalance"`
}

func (r accountRow) toModel() model.Account {
	return model.Account{
		ID:                 r.ID,
		Name:               r.Name,
		Type:               r.AccountType,
		SubType:            r.AccountSubType,
		FullyQualifiedName: r.FullyQualifiedName,
		CurrentBalance:     r.CurrentBalance,
	}
}

// --- 作成 ---

// CustomerInput は顧客作成の入力。
type CustomerInput struct {
	DisplayName string
	Email       string
	Phone       string
}

// CreateCustomer は顧客を作成する。
func (s *Service) CreateCustomer(ctx context.Context, ac model.AuthContext, in CustomerInput) (*model.Customer, error) {
	if err := requireAuth(ac); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.DisplayName) == "" {
		return nil, model.NewValidationError("Customer display name is required")
	}

	payload := customerPayload{DisplayName: strings.TrimSpace(in.DisplayName)}
	if email := strings.TrimSpace(in.Email); email != "" {
		payload.PrimaryEmailAddr = &emailAddress{Address: email}
	}
	if phone := strings.TrimSpace(in.Phone); phone != "" {
		payload.PrimaryPhone = &telephoneNumber{FreeFormNumber: phone}
	}

	var created createdEntity
	if err := s.client.Post(ctx, ac, "/customer", "Customer", payload, &created); err != nil {
		return nil, err
	}

	s.logger.Info("customer created", slog.String("customer_id", created.ID))
	return &model.Customer{ID: created.ID, Name: created.DisplayName}, nil
}

// CreateItem はサービス品目を作成する。収益勘定には最初に見つかった Income 勘定を使う。
func (s *Service) CreateItem(ctx context.Context, ac model.AuthContext, name string, unitPrice float64) (*model.Item, error) {
	if err := requireAuth(ac); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, model.NewValidationError("Item name is required")
	}
	if unitPrice < 0 || math.IsNaN(unitPrice) {
		return nil, model.NewValidationError("Unit price must be >= 0")
	}

	var accounts []struct {
		ID string `json:"Id"`
	}
	if err := s.query(ctx, ac, queryIncomeAccount, "Account", &accounts); err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, model.NewValidationError("Could not find an Income account to assign to the item")
	}

	payload := itemPayload{
		Name:             name,
		Type:             "Service",
		UnitPrice:        unitPrice,
		IncomeAccountRef: ref{Value: accounts[0].ID},
	}

	var created createdEntity
	if err := s.client.Post(ctx, ac, "/item", "Item", payload, &created); err != nil {
		return nil, err
	}

	s.logger.Info("item created", slog.String("item_id", created.ID))
	return &model.Item{ID: created.ID, Name: created.Name, Type: created.Type, UnitPrice: created.UnitPrice}, nil
}

// InvoiceInput は請求書作成の入力。
type InvoiceInput struct {
	CustomerID  string
	ItemID      string
	ItemName    string
	ProjectID   string
	Quantity    int
	UnitPrice   float64
	Description string
}

// CreateInvoice はプロジェクトに紐づく請求書を作成する。
// ProjectRef は ResolveProjectReferenceForWrite で解決したIDを使う。
func (s *Service) CreateInvoice(ctx context.Context, ac model.AuthContext, in InvoiceInput) (*model.InvoiceResult, error) {
	if err := requireAuth(ac); err != nil {
		return nil, err
	}
	if err := requireFields(
		field{"Customer ID", in.CustomerID},
		field{"Item ID", in.ItemID},
		field{"Project ID", in.ProjectID},
	); err != nil {
		return nil, err
	}

	projectRef := in.ProjectID
	if s.resolver != nil {
		projectRef = s.resolver.ResolveProjectReferenceForWrite(ctx, ac, in.ProjectID)
	}

	amount := lineAmount(float64(in.Quantity), in.UnitPrice)
	payload := invoicePayload{
		CustomerRef: ref{Value: in.CustomerID},
		ProjectRef:  ref{Value: projectRef},
		Line: []line{{
			Description: strings.TrimSpace(in.Description),
			Amount:      amount,
			DetailType:  "SalesItemLineDetail",
			SalesItemLineDetail: &salesItemLineDetail{
				ItemRef: ref{Value: in.ItemID, Name: in.ItemName},
				Qty:     float64(in.Quantity),
			},
		}},
	}

	var created createdEntity
	if err := s.client.Post(ctx, ac, "/invoice", "Invoice", payload, &created); err != nil {
		return nil, err
	}

	s.logger.Info("invoice created",
		slog.String("invoice_id", created.ID),
		slog.String("project_id", in.ProjectID),
		slog.String("project_ref", projectRef),
	)
	return &model.InvoiceResult{
		InvoiceID:  created.ID,
		DocNumber:  created.DocNumber,
		TotalAmt:   created.TotalAmt,
		Amount:     amount,
		ProjectID:  in.ProjectID,
		ProjectRef: projectRef,
		CustomerID: in.CustomerID,
		DeepLink:   s.links.InvoiceDeepLink(created.ID, ac.RealmID),
	}, nil
}

// SalesInput は見積・販売レシート作成の入力。
type SalesInput struct {
	CustomerID  string
	ItemID      string
	ProjectID   string
	Quantity    int
	UnitPrice   float64
	Description string
}

// CreateEstimate はプロジェクトに紐づく見積を作成する。ProjectRef はヘッダに設定する。
func (s *Service) CreateEstimate(ctx context.Context, ac model.AuthContext, in SalesInput) (*model.TransactionResult, error) {
	if err := s.validateSales(ac, in, false); err != nil {
		return nil, err
	}

	payload := s.salesPayload(in)
	payload.ProjectRef = &ref{Value: in.ProjectID}

	var created createdEntity
	if err := s.client.Post(ctx, ac, "/estimate", "Estimate", payload, &created); err != nil {
		return nil, err
	}

	s.logger.Info("estimate created", slog.String("estimate_id", created.ID), slog.String("project_id", in.ProjectID))
	return &model.TransactionResult{
		ID:         created.ID,
		TotalAmt:   created.TotalAmt,
		ProjectID:  in.ProjectID,
		CustomerID: in.CustomerID,
		DeepLink:   s.links.TransactionDeepLink("estimate", created.ID),
	}, nil
}

// CreateSalesReceipt はプロジェクトに紐づく販売レシートを作成する。ProjectRef は明細行に設定する。
func (s *Service) CreateSalesReceipt(ctx context.Context, ac model.AuthContext, in SalesInput) (*model.TransactionResult, error) {
	if err := s.validateSales(ac, in, true); err != nil {
		return nil, err
	}

	payload := s.salesPayload(in)
	payload.Line[0].ProjectRef = &ref{Value: in.ProjectID}

	var created createdEntity
	if err := s.client.Post(ctx, ac, "/salesreceipt", "SalesReceipt", payload, &created); err != nil {
		return nil, err
	}

	s.logger.Info("sales receipt created", slog.String("sales_receipt_id", created.ID), slog.String("project_id", in.ProjectID))
	return &model.TransactionResult{
		ID:         created.ID,
		TotalAmt:   created.TotalAmt,
		ProjectID:  in.ProjectID,
		CustomerID: in.CustomerID,
		DeepLink:   s.links.TransactionDeepLink("salesreceipt", created.ID),
	}, nil
}

func (s *Service) validateSales(ac model.AuthContext, in SalesInput, strictAmounts bool) error {
	if err := requireAuth(ac); err != nil {
		return err
	}
	if err := requireFields(
		field{"Customer ID", in.CustomerID},
		field{"Item ID", in.ItemID},
		field{"Project ID", in.ProjectID},
	); err != nil {
		return err
	}
	if strictAmounts && (in.Quantity <= 0 || in.UnitPrice < 0) {
		return model.NewValidationError("Quantity must be > 0 and UnitPrice >= 0")
	}
	return nil
}

// salesPayload は見積・販売レシート共通のペイロードを組み立てる。
func (s *Service) salesPayload(in SalesInput) estimatePayload {
	amount := lineAmount(float64(in.Quantity), in.UnitPrice)
	return estimatePayload{
		TxnDate:     s.now().Format(time.DateOnly),
		CurrencyRef: ref{Value: "USD", Name: "United States Dollar"},
		CustomerRef: ref{Value: in.CustomerID},
		Line: []line{
			{
				ID:          "1",
				LineNum:     1,
				Description: strings.TrimSpace(in.Description),
				Amount:      amount,
				DetailType:  "SalesItemLineDetail",
				SalesItemLineDetail: &salesItemLineDetail{
					ItemRef:    ref{Value: in.ItemID},
					UnitPrice:  in.UnitPrice,
					Qty:        float64(in.Quantity),
					TaxCodeRef: &ref{Value: "NON"},
				},
			},
			{
				Amount:             amount,
				DetailType:         "SubTotalLineDetail",
				SubTotalLineDetail: &struct{}{},
			},
		},
	}
}

// BillInput は仕入請求書作成の入力。
type BillInput struct {
	VendorID         string
	ExpenseAccountID string
	ProjectID        string
	Amount           float64
	Description      string
}

// CreateBill はプロジェクトに紐づく仕入請求書を作成する。
func (s *Service) CreateBill(ctx context.Context, ac model.AuthContext, in BillInput) (*model.TransactionResult, error) {
	if err := requireAuth(ac); err != nil {
		return nil, err
	}
	if err := requireFields(
		field{"Vendor ID", in.VendorID},
		field{"Expense Account ID", in.ExpenseAccountID},
		field{"Project ID", in.ProjectID},
	); err != nil {
		return nil, err
	}
	if !(in.Amount > 0) {
		return nil, model.NewValidationError("Amount must be > 0")
	}

	payload := billPayload{
		TxnDate:   s.now().Format(time.DateOnly),
		VendorRef: ref{Value: in.VendorID},
		Line: []line{{
			ID:          "1",
			Description: strings.TrimSpace(in.Description),
			Amount:      in.Amount,
			DetailType:  "AccountBasedExpenseLineDetail",
			AccountBasedExpenseLineDetail: &accountBasedExpenseLineDetail{
				AccountRef: ref{Value: in.ExpenseAccountID},
			},
			ProjectRef: &ref{Value: in.ProjectID},
		}},
	}

	var created createdEntity
	if err := s.client.Post(ctx, ac, "/bill", "Bill", payload, &created); err != nil {
		return nil, err
	}

	s.logger.Info("bill created", slog.String("bill_id", created.ID), slog.String("project_id", in.ProjectID))
	return &model.TransactionResult{
		ID:        created.ID,
		TotalAmt:  created.TotalAmt,
		ProjectID: in.ProjectID,
		VendorID:  in.VendorID,
		DeepLink:  s.links.TransactionDeepLink("bill", created.ID),
	}, nil
}

// InvoiceDeepLink は請求書を開くURLを返す。
func (s *Service) InvoiceDeepLink(invoiceID, realmID string) (string, error) {
	if strings.TrimSpace(invoiceID) == "" {
		return "", model.NewValidationError("Invoice ID is required for deep link generation")
	}
	if strings.TrimSpace(realmID) == "" {
		return "", model.NewValidationError("Realm ID is required for deep link generation")
	}
	return s.links.InvoiceDeepLink(invoiceID, realmID), nil
}

// --- helpers ---

func (s *Service) query(ctx context.Context, ac model.AuthContext, query, entity string, dst any) error {
	result, err := s.client.Query(ctx, ac, query)
	if err != nil {
		return err
	}
	if _, err := result.Decode(entity, dst); err != nil {
		return model.NewUnexpectedError("parse "+entity+" list", err)
	}
	return nil
}

type field struct {
	name  string
	value string
}

func requireFields(fields ...field) error {
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return model.NewValidationError(f.name + " is required")
		}
	}
	return nil
}

func requireAuth(ac model.AuthContext) error {
	if strings.TrimSpace(ac.AccessToken) == "" {
		return model.NewValidationError("Access token is required")
	}
	if strings.TrimSpace(ac.RealmID) == "" {
		return model.NewValidationError("Realm ID is required")
	}
	return nil
}

// lineAmount は数量×単価を小数2桁に丸める。
func lineAmount(qty, unitPrice float64) float64 {
	return math.Round(qty*unitPrice*100) / 100
}
