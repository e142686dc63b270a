package model

// Customer はAccountingドメインの顧客。
type Customer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Item は販売取引に使用できる品目。
type Item struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Type      string  `json:"type,omitempty"`
	UnitPrice float64 `json:"unitPrice,omitempty"`
}

// Vendor は仕入先。
type Vendor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Account は勘定科目。
type Account struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Type               string  `json:"type"`
	SubType            string  `json:"subType,omitempty"`
	FullyQualifiedName string  `json:"fullyQualifiedName,omitempty"`
	CurrentBalance     float64 `json:"currentBalance"`
}

// AccountList は /api/accounts の応答。
type AccountList struct {
	Accounts []Account `json:"accounts"`
	Count    int       `json:"count"`
}

// InvoiceResult は請求書作成の結果。
type InvoiceResult struct {
	InvoiceID  string  `json:"invoiceId"`
	DocNumber  string  `json:"docNumber,omitempty"`
	TotalAmt   float64 `json:"totalAmt"`
	Amount     float64 `json:"amount"`
	ProjectID  string  `json:"projectId"`
	ProjectRef string  `json:"projectRef"`
	CustomerID string  `json:"customerId"`
	DeepLink   string  `json:"deepLink"`
}

// TransactionResult は見積・販売レシート・請求書（仕入）作成の結果。
type TransactionResult struct {
	ID         string  `json:"id"`
	TotalAmt   float64 `json:"totalAmt"`
	ProjectID  string  `json:"projectId"`
	CustomerID string  `json:"customerId,omitempty"`
	VendorID   string  `json:"vendorId,omitempty"`
	DeepLink   string  `json:"deepLink,omitempty"`
}
