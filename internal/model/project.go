package model

// Project はProject Management（GraphQL）ドメインのプロジェクトを表す。
type Project struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name,omitempty"`
	Description         string    `json:"description,omitempty"`
	Type                string    `json:"type,omitempty"`
	Status              string    `json:"status,omitempty"`
	StartDate           string    `json:"startDate,omitempty"`
	DueDate             string    `json:"dueDate,omitempty"`
	CompletedDate       string    `json:"completedDate,omitempty"`
	Priority            *int      `json:"priority,omitempty"`
	Version             int       `json:"version,omitempty"`
	CustomerID          string    `json:"customerId,omitempty"`
	AccountID           string    `json:"accountId,omitempty"`
	AssigneeID          string    `json:"assigneeId,omitempty"`
	Addresses           []Address `json:"addresses,omitempty"`
	AccountingProjectID string    `json:"accountingProjectId,omitempty"`
	Missing             bool      `json:"missing,omitempty"`
}

// Address はプロジェクトの住所を表す。
type Address struct {
	StreetAddressLine1 string `json:"streetAddressLine1,omitempty"`
	StreetAddressLine2 string `json:"streetAddressLine2,omitempty"`
	StreetAddressLine3 string `json:"streetAddressLine3,omitempty"`
	State              string `json:"state,omitempty"`
	PostalCode         string `json:"postalCode,omitempty"`
}

// PageInfo はGraphQLコネクションのページング情報。
type PageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor,omitempty"`
}

// ProjectPage はプロジェクト一覧の1ページ。
type ProjectPage struct {
	Nodes    []Project `json:"nodes"`
	PageInfo *PageInfo `json:"pageInfo,omitempty"`
}

// ProjectDeleteResult はプロジェクト削除の結果。
type ProjectDeleteResult struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Version int    `json:"version"`
	Deleted bool   `json:"deleted"`
}

// ProjectDeleteRow は複数削除の1件分の結果。
type ProjectDeleteRow struct {
	ID      string `json:"id"`
	Status  string `json:"status"` // success / error
	Name    string `json:"name,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ProjectIdentity は2つのID空間におけるプロジェクトの対応を表す。
// AccountingProjectID が空の場合は未解決。
type ProjectIdentity struct {
	GraphQLProjectID    string
	AccountingProjectID string
	ProjectName         string
	ParentCustomerID    string
}
