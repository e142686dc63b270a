// Package project はProject Management（GraphQL）のプロジェクト操作と、
// プロジェクトIDをAccounting側のプロジェクト顧客IDへ対応付けるリゾルバを提供する。
package project

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/qbodemo/internal/model"
	"github.com/hitoshi/qbodemo/internal/quickbooks"
)

//go:embed graphql/*.graphql graphql/*.json
var documents embed.FS

const (
	// DefaultPageSize は一覧取得の既定件数。
	DefaultPageSize = 10
	// MaxBatchSize は一括取得の上限件数。
	MaxBatchSize = 20

	// dateTimeLayout はGraphQLに渡す日時の書式（yyyy-MM-ddTHH:mm:ss.SSSZ）。
	dateTimeLayout = "2006-01-02T15:04:05.000Z"

	defaultMinDueDate = "2000-01-01T00:00:00.000Z"
	defaultMaxDueDate = "2100-12-31T23:59:59.000Z"
)

// variablesTemplate はプロジェクト作成変数の既定値。
type variablesTemplate struct {
	Template struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Status      string `json:"status"`
		Priority    int    `json:"priority"`
		Pinned      bool   `json:"pinned"`
	} `json:"template"`
}

// Service はProject Management GraphQLの操作を提供する。
type Service struct {
	gql      quickbooks.GraphQLExecutor
	template variablesTemplate
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger
}

// NewService はServiceを生成する。埋め込みテンプレートの読み込みに失敗した場合はエラーを返す。
func NewService(gql quickbooks.GraphQLExecutor, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	raw, err := documents.ReadFile("graphql/project_variables.json")
	if err != nil {
		return nil, fmt.Errorf("failed to read project variables template: %w", err)
	}
	var tmpl variablesTemplate
	if err := json.Unmarshal(raw, &tmpl); err != nil {
		return nil, fmt.Errorf("failed to parse project variables template: %w", err)
	}

	return &Service{
		gql:      gql,
		template: tmpl,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
		logger:   logger,
	}, nil
}

// CreateInput はプロジェクト作成の入力。
type CreateInput struct {
	CustomerName string
	CustomerID   string
	ProjectName  string // 空の場合はテンプレートから生成
}

// Create はプロジェクトを作成する。顧客IDは数値でなければならない。
func (s *Service) Create(ctx context.Context, ac model.AuthContext, in CreateInput) (*model.Project, error) {
	customerID, err := strconv.Atoi(strings.TrimSpace(in.CustomerID))
	if err != nil {
		return nil, model.NewValidationError("Customer ID must be numeric")
	}

	query, err := s.document("project_create.graphql")
	if err != nil {
		return nil, err
	}

	resp, err := s.gql.Execute(ctx, ac, "create project", query, s.createVariables(in.CustomerName, customerID, in.ProjectName))
	if err != nil {
		return nil, err
	}

	var node projectNode
	ok, err := resp.Field("projectManagementCreateProject", &node)
	if err != nil {
		return nil, model.NewUnexpectedError("parse create project response", err)
	}
	if !ok {
		return nil, model.NewUpstreamError("create project", "empty response", nil)
	}

	p := node.toModel()
	s.logger.Info("project created", slog.String("project_id", p.ID), slog.String("customer_id", in.CustomerID))
	return &p, nil
}

// createVariables はテンプレートと入力から作成用変数を組み立てる。
func (s *Service) createVariables(customerName string, customerID int, projectName string) map[string]any {
	t := s.template.Template
	now := s.now().UTC()

	name := strings.TrimSpace(projectName)
	if name == "" {
		name = strings.ReplaceAll(t.Name, "{uuid}", s.newID())
	}

	return map[string]any{
		"name":        name,
		"description": strings.ReplaceAll(t.Description, "{customerName}", customerName),
		"startDate":   now.Format(dateTimeLayout),
		"dueDate":     now.AddDate(5, 0, 0).Format(dateTimeLayout),
		"status":      t.Status,
		"priority":    t.Priority,
		"pinned":      t.Pinned,
		"customer":    map[string]any{"id": customerID},
	}
}

// ListInput は一覧取得の条件。日付は yyyy-MM-dd。
type ListInput struct {
	First     int
	After     string
	StartDate string
	EndDate   string
}

// List は期日の降順でプロジェクトを取得する。
// 期日範囲が指定されない場合は広い既定範囲を使う。
func (s *Service) List(ctx context.Context, ac model.AuthContext, in ListInput) (*model.ProjectPage, error) {
	query, err := s.document("project_list.graphql")
	if err != nil {
		return nil, err
	}

	resp, err := s.gql.Execute(ctx, ac, "list projects", query, listVariables(in))
	if err != nil {
		return nil, err
	}

	var conn struct {
		Edges []struct {
			Node projectNode `json:"node"`
		} `json:"edges"`
		PageInfo *model.PageInfo `json:"pageInfo"`
	}
	if _, err := resp.Field("projectManagementProjects", &conn); err != nil {
		return nil, model.NewUnexpectedError("parse project list", err)
	}

	page := &model.ProjectPage{Nodes: make([]model.Project, 0, len(conn.Edges)), PageInfo: conn.PageInfo}
	for _, e := range conn.Edges {
		page.Nodes = append(page.Nodes, e.Node.toModel())
	}
	return page, nil
}

// listVariables は一覧取得の変数を組み立てる。
func listVariables(in ListInput) map[string]any {
	first := in.First
	if first <= 0 {
		first = DefaultPageSize
	}

	between := map[string]any{}
	start := strings.TrimSpace(in.StartDate)
	end := strings.TrimSpace(in.EndDate)
	if start == "" && end == "" {
		between["minDate"] = defaultMinDueDate
		between["maxDate"] = defaultMaxDueDate
	} else {
		if start != "" {
			between["minDate"] = start + "T00:00:00.000Z"
		}
		if end != "" {
			between["maxDate"] = end + "T23:59:59.000Z"
		}
	}

	vars := map[string]any{
		"first":   first,
		"orderBy": []string{"DUE_DATE_DESC"},
		"filter": map[string]any{
			"dueDate": map[string]any{"between": between},
		},
	}
	if in.After != "" {
		vars["after"] = in.After
	}
	return vars
}

// Get はIDでプロジェクトを取得する。存在しない場合は NotFound。
func (s *Service) Get(ctx context.Context, ac model.AuthContext, id string) (*model.Project, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, model.NewValidationError("Project ID is required")
	}

	query, err := s.document("project_get.graphql")
	if err != nil {
		return nil, err
	}

	resp, err := s.gql.Execute(ctx, ac, "get project", query, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}

	var node projectNode
	ok, err := resp.Field("projectManagementProject", &node)
	if err != nil {
		return nil, model.NewUnexpectedError("parse project", err)
	}
	if !ok {
		return nil, model.NewNotFoundError("Project", id)
	}

	p := node.toModel()
	if p.ID == "" {
		p.ID = id
	}
	return &p, nil
}

// GetMany はエイリアスを使い1回の問い合わせで複数プロジェクトを取得する。
// 先頭 MaxBatchSize 件までを対象とし、見つからないIDはIDのみのエントリを返す。
func (s *Service) GetMany(ctx context.Context, ac model.AuthContext, ids []string) ([]model.Project, error) {
	ids = compactIDs(ids)
	if len(ids) == 0 {
		return nil, model.NewValidationError("At least one project ID is required")
	}
	if len(ids) > MaxBatchSize {
		ids = ids[:MaxBatchSize]
	}

	query, vars := multiGetDocument(ids)
	resp, err := s.gql.Execute(ctx, ac, "get projects", query, vars)
	if err != nil {
		return nil, err
	}

	projects := make([]model.Project, 0, len(ids))
	for i, id := range ids {
		var node projectNode
		ok, err := resp.Field(fmt.Sprintf("p%d", i+1), &node)
		if err != nil {
			return nil, model.NewUnexpectedError("parse projects", err)
		}
		if !ok {
			projects = append(projects, model.Project{ID: id, Missing: true})
			continue
		}
		projects = append(projects, node.toModel())
	}
	return projects, nil
}

// multiGetDocument は p1..pN のエイリアスを持つクエリと変数を組み立てる。
func multiGetDocument(ids []string) (string, map[string]any) {
	var b strings.Builder
	vars := make(map[string]any, len(ids))

	b.WriteString("query Multi(")
	for i := range ids {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$v%d: ID!", i+1)
	}
	b.WriteString(") {")
	for i, id := range ids {
		fmt.Fprintf(&b, " p%d: projectManagementProject(id: $v%d) {", i+1, i+1)
		b.WriteString(" id name status description startDate dueDate account { id } customer { id }")
		b.WriteString(" }")
		vars[fmt.Sprintf("v%d", i+1)] = id
	}
	b.WriteString(" }")

	return b.String(), vars
}

// Delete はプロジェクトを削除（論理削除）する。version は指定された場合のみ送信する。
func (s *Service) Delete(ctx context.Context, ac model.AuthContext, id string, version *int) (*model.ProjectDeleteResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, model.NewValidationError("Project ID is required")
	}

	query, err := s.document("project_delete.graphql")
	if err != nil {
		return nil, err
	}

	input := map[string]any{"id": id}
	if version != nil {
		input["version"] = *version
	}

	resp, err := s.gql.Execute(ctx, ac, "delete project", query, map[string]any{"input": input})
	if err != nil {
		return nil, err
	}

	var payload struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Version int    `json:"version"`
		Deleted bool   `json:"deleted"`
		Message string `json:"message"`
	}
	ok, err := resp.Field("projectManagementDeleteProject", &payload)
	if err != nil {
		return nil, model.NewUnexpectedError("parse delete project response", err)
	}
	if !ok {
		return nil, model.NewUpstreamError("delete project", "no response for delete project", nil)
	}
	if payload.ID == "" {
		detail := payload.Message
		if detail == "" {
			detail = "unknown error"
		}
		return nil, model.NewUpstreamError("delete project", "Delete failed: "+detail, nil)
	}

	s.logger.Info("project deleted", slog.String("project_id", payload.ID), slog.Bool("deleted", payload.Deleted))
	return &model.ProjectDeleteResult{
		ID:      payload.ID,
		Name:    payload.Name,
		Version: payload.Version,
		Deleted: payload.Deleted,
	}, nil
}

// DeleteMany は複数プロジェクトを1件ずつ削除し、件ごとの結果を返す。
func (s *Service) DeleteMany(ctx context.Context, ac model.AuthContext, ids []string) []model.ProjectDeleteRow {
	ids = compactIDs(ids)
	rows := make([]model.ProjectDeleteRow, 0, len(ids))
	for _, id := range ids {
		res, err := s.Delete(ctx, ac, id, nil)
		if err != nil {
			rows = append(rows, model.ProjectDeleteRow{ID: id, Status: "error", Error: model.UserMessage(err)})
			continue
		}
		rows = append(rows, model.ProjectDeleteRow{ID: id, Status: "success", Name: res.Name, Deleted: res.Deleted})
	}
	return rows
}

// ExplainListError は一覧取得エラーに対する補足説明を返す。該当しない場合は空文字。
func ExplainListError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "orderby") && strings.Contains(msg, "cannot construct instance"):
		return "The projects API rejected the orderBy format. Sorting must be a list of enum values such as DUE_DATE_DESC."
	case strings.Contains(msg, "projectmanagementprojects") && strings.Contains(msg, "exception while fetching data"):
		return "The projects API failed while fetching data. Projects may not be enabled for this company, or the date filter is outside the supported range."
	}
	return ""
}

func (s *Service) document(name string) (string, error) {
	b, err := documents.ReadFile("graphql/" + name)
	if err != nil {
		return "", model.NewUnexpectedError("load GraphQL document", err)
	}
	return string(b), nil
}

// compactIDs は前後の空白を除き、空のIDと重複を取り除く。
func compactIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

type idRef struct {
	ID string `json:"id"`
}

// projectNode はGraphQL応答のプロジェクトノード。
type projectNode struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Type          string          `json:"type"`
	Status        string          `json:"status"`
	StartDate     string          `json:"startDate"`
	DueDate       string          `json:"dueDate"`
	CompletedDate string          `json:"completedDate"`
	Priority      *int            `json:"priority"`
	Version       int             `json:"version"`
	Customer      *idRef          `json:"customer"`
	Account       *idRef          `json:"account"`
	Assignee      *idRef          `json:"assignee"`
	Addresses     []model.Address `json:"addresses"`
}

func (n projectNode) toModel() model.Project {
	p := model.Project{
		ID:            n.ID,
		Name:          n.Name,
		Description:   n.Description,
		Type:          n.Type,
		Status:        n.Status,
		StartDate:     n.StartDate,
		DueDate:       n.DueDate,
		CompletedDate: n.CompletedDate,
		Priority:      n.Priority,
		Version:       n.Version,
		Addresses:     n.Addresses,
	}
	if n.Customer != nil {
		p.CustomerID = n.Customer.ID
	}
	if n.Account != nil {
		p.AccountID = n.Account.ID
	}
	if n.Assignee != nil {
		p.AssigneeID = n.Assignee.ID
	}
	return p
}
