package accounting

// ref はAccounting APIの参照型（CustomerRef, ItemRef など）。
type ref struct {
	Value string `json:"value"`
	Name  string `json:"name,omitempty"`
}

type salesItemLineDetail struct {
	ItemRef    ref     `json:"ItemRef"`
	UnitPrice  float64 `json:"UnitPrice,omitempty"`
	Qty        float64 `json:"Qty"`
	TaxCodeRef *ref    `json:"TaxCodeRef,omitempty"`
}

type accountBasedExpenseLineDetail struct {
	AccountRef ref `json:"AccountRef"`
}

type line struct {
	ID                            string                         `json:"Id,omitempty"`
	LineNum                       int                            `json:"LineNum,omitempty"`
	Description                   string                         `json:"Description,omitempty"`
	Amount                        float64                        `json:"Amount"`
	DetailType                    string                         `json:"DetailType"`
	SalesItemLineDetail           *salesItemLineDetail           `json:"SalesItemLineDetail,omitempty"`
	SubTotalLineDetail            *struct{}                      `json:"SubTotalLineDetail,omitempty"`
	AccountBasedExpenseLineDetail *accountBasedExpenseLineDetail `json:"AccountBasedExpenseLineDetail,omitempty"`
	ProjectRef                    *ref                           `json:"ProjectRef,omitempty"`
}

type invoicePayload struct {
	CustomerRef ref    `json:"CustomerRef"`
	ProjectRef  ref    `json:"ProjectRef"`
	Line        []line `json:"Line"`
}

type estimatePayload struct {
	TxnDate     string `json:"TxnDate"`
	CurrencyRef ref    `json:"CurrencyRef"`
	CustomerRef ref    `json:"CustomerRef"`
	ProjectRef  *ref   `json:"ProjectRef,omitempty"`
	Line        []line `json:"Line"`
}

type billPayload struct {
	TxnDate   string `json:"TxnDate"`
	VendorRef ref    `json:"VendorRef"`
	Line      []line `json:"Line"`
}

type customerPayload struct {
	DisplayName      string           `json:"DisplayName"`
	PrimaryEmailAddr *emailAddress    `json:"PrimaryEmailAddr,omitempty"`
	PrimaryPhone     *telephoneNumber `json:"PrimaryPhone,omitempty"`
}

type emailAddress struct {
	Address string `json:"Address"`
}

type telephoneNumber struct {
	FreeFormNumber string `json:"FreeFormNumber"`
}

type itemPayload struct {
	Name             string  `json:"Name"`
	Type             string  `json:"Type"`
	UnitPrice        float64 `json:"UnitPrice"`
	IncomeAccountRef ref     `json:"IncomeAccountRef"`
}

// 作成応答で参照する項目
type createdEntity struct {
	ID          string  `json:"Id"`
	DocNumber   string  `json:"DocNumber"`
	TotalAmt    float64 `json:"TotalAmt"`
	DisplayName string  `json:"DisplayName"`
	Name        string  `json:"Name"`
	Type        string  `json:"Type"`
	UnitPrice   float64 `json:"UnitPrice"`
}
