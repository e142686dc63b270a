package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/qbodemo/internal/model"
	"github.com/hitoshi/qbodemo/internal/project"
	"github.com/hitoshi/qbodemo/internal/session"
)

// defaultPageSize はプロジェクト一覧の既定件数。
const defaultPageSize = 10

// ProjectHandler はProject Management（GraphQL）のプロジェクト操作のHTTPハンドラー。
type ProjectHandler struct {
	service    ProjectService
	identifier ProjectIdentifier
	sessions   SessionSaver
	sanitizer  Sanitizer
}

// NewProjectHandler はProjectHandlerを生成する。
func NewProjectHandler(service ProjectService, identifier ProjectIdentifier, sessions SessionSaver, sanitizer Sanitizer) *ProjectHandler {
	return &ProjectHandler{
		service:    service,
		identifier: identifier,
		sessions:   sessions,
		sanitizer:  sanitizer,
	}
}

// CreateProject は取得済みの顧客一覧から顧客IDを引き、プロジェクトを作成する。
// POST /create-project
func (h *ProjectHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	s := currentSession(r)
	ac, ok := requireConnected(s)
	if !ok {
		redirectHome(w, r, h.sessions, s)
		return
	}

	customerName := formText(r, h.sanitizer, "customerName")
	customerID := lookupCustomerID(s, customerName)
	if customerID == "" {
		s.AddFlash(session.FlashError, fmt.Sprintf("Could not find customer ID for: %s. Please fetch customers first.", customerName))
		redirectHome(w, r, h.sessions, s)
		return
	}

	p, err := h.service.Create(r.Context(), ac, project.CreateInput{
		CustomerName: customerName,
		CustomerID:   customerID,
		ProjectName:  formText(r, h.sanitizer, "projectName"),
	})
	if err != nil {
		flashError(r, s, "create project", err)
		redirectHome(w, r, h.sessions, s)
		return
	}

	s.Set(session.KeyProject, p)
	s.Remove(session.KeyLastResult)
	s.AddFlash(session.FlashSuccess, "Project created successfully!")
	redirectHome(w, r, h.sessions, s)
}

// ListProjects は期日の降順でプロジェクトを取得する。
// 失敗時は一覧欄に補足説明を表示する。
// POST /projects
func (h *ProjectHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	s := currentSession(r)
	ac, ok := requireConnected(s)
	if !ok {
		redirectHome(w, r, h.sessions, s)
		return
	}

	first, err := formInt(r, "first", "Page size", defaultPageSize)
	if err != nil {
		flashError(r, s, "list projects", err)
		redirectHome(w, r, h.sessions, s)
		return
	}
	if first <= 0 {
		first = defaultPageSize
	}

	page, err := h.service.List(r.Context(), ac, project.ListInput{
		First:     first,
		After:     formID(r, "after"),
		StartDate: formID(r, "startDate"),
		EndDate:   formID(r, "endDate"),
	})
	if err != nil {
		flashError(r, s, "list projects", err)
		explanation := project.ExplainListError(err)
		if explanation == "" {
			explanation = model.UserMessage(err)
		}
		s.Set(session.KeyProjectsError, explanation)
		s.Remove(session.KeyProjects)
		redirectHome(w, r, h.sessions, s)
		return
	}

	s.Set(session.KeyProjects, page)
	s.Remove(session.KeyProjectsError)
	s.AddFlash(session.FlashSuccess, fmt.Sprintf("Loaded %d projects.", len(page.Nodes)))
	redirectHome(w, r, h.sessions, s)
}

// GetProject はプロジェクトを取得し、Accounting側のプロジェクト顧客IDも解決する。
// 解決できない場合もプロジェクトは表示する。
// POST /projects/get
func (h *ProjectHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	s := currentSession(r)
	ac, ok := requireConnected(s)
	if !ok {
		redirectHome(w, r, h.sessions, s)
		return
	}

	p, err := h.service.Get(r.Context(), ac, formID(r, "id"))
	if err != nil {
		flashError(r, s, "get project", err)
		redirectHome(w, r, h.sessions, s)
		return
	}

	identity := h.identifier.Identify(r.Context(), ac, p)
	p.AccountingProjectID = identity.AccountingProjectID

	s.Set(session.KeyProject, p)
	label := p.Name
	if label == "" {
		label = p.ID
	}
	s.AddFlash(session.FlashSuccess, "Project loaded: "+label)
	redirectHome(w, r, h.sessions, s)
}

// GetProjectsMulti は複数のプロジェクトを1回の問い合わせで取得する。
// ids（カンマ区切り）と ids[]（繰り返し）の両方を受け付ける。
// POST /projects/get-multi
func (h *ProjectHandler) GetProjectsMulti(w http.ResponseWriter, r *http.Request) {
	s := currentSession(r)
	ac, ok := requireConnected(s)
	if !ok {
		redirectHome(w, r, h.sessions, s)
		return
	}

	ids := projectIDs(r)
	if len(ids) == 0 {
		s.AddFlash(session.FlashError, "Please provide at least one project ID.")
		redirectHome(w, r, h.sessions, s)
		return
	}

	projects, err := h.service.GetMany(r.Context(), ac, ids)
	if err != nil {
		flashError(r, s, "get projects", err)
		redirectHome(w, r, h.sessions, s)
		return
	}

	s.Set(session.KeyProjectDetails, projects)
	s.AddFlash(session.FlashSuccess, fmt.Sprintf("Loaded %d project(s) by ID.", len(projects)))
	redirectHome(w, r, h.sessions, s)
}

// DeleteProject はプロジェクトを削除する。表示中のプロジェクトであれば表示からも外す。
// POST /delete-project
func (h *ProjectHandler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	s := currentSession(r)
	ac, ok := requireConnected(s)
	if !ok {
		redirectHome(w, r, h.sessions, s)
		return
	}

	var version *int
	if strings.TrimSpace(r.PostFormValue("version")) != "" {
		v, err := formInt(r, "version", "Version", 0)
		if err != nil {
			flashError(r, s, "delete project", err)
			redirectHome(w, r, h.sessions, s)
			return
		}
		version = &v
	}

	id := formID(r, "id")
	res, err := h.service.Delete(r.Context(), ac, id, version)
	if err != nil {
		flashError(r, s, "delete project", err)
		redirectHome(w, r, h.sessions, s)
		return
	}

	if current, ok := session.GetValue[model.Project](s, session.KeyProject); ok && current.ID == res.ID {
		s.Remove(session.KeyProject)
	}
	s.Set(session.KeyLastResult, lastResult{
		Kind: resultProjectDelete,
		ID:   res.ID,
		DeleteRows: []model.ProjectDeleteRow{{
			ID: res.ID, Status: "success", Name: res.Name, Deleted: res.Deleted,
		}},
	})
	s.AddFlash(session.FlashSuccess, "Project deleted: "+res.ID)
	redirectHome(w, r, h.sessions, s)
}

// DeleteProjectsMulti はカンマ区切りのプロジェクトを1件ずつ削除し、件ごとの結果を表示する。
// POST /delete-projects-multi
func (h *ProjectHandler) DeleteProjectsMulti(w http.ResponseWriter, r *http.Request) {
	s := currentSession(r)
	ac, ok := requireConnected(s)
	if !ok {
		redirectHome(w, r, h.sessions, s)
		return
	}

	ids := projectIDs(r)
	if len(ids) == 0 {
		s.AddFlash(session.FlashError, "Please provide at least one project ID.")
		redirectHome(w, r, h.sessions, s)
		return
	}

	rows := h.service.DeleteMany(r.Context(), ac, ids)
	succeeded := 0
	for _, row := range rows {
		if row.Status == "success" {
			succeeded++
		}
	}

	s.Set(session.KeyLastResult, lastResult{Kind: resultDeleteMulti, DeleteRows: rows})
	s.AddFlash(session.FlashSuccess, fmt.Sprintf("Delete complete: %d success, %d failed.", succeeded, len(rows)-succeeded))
	redirectHome(w, r, h.sessions, s)
}

// lookupCustomerID は取得済みの顧客一覧から表示名で顧客IDを探す。
func lookupCustomerID(s *session.Session, name string) string {
	customers, _ := session.GetValue[[]model.Customer](s, session.KeyCustomers)
	for _, c := range customers {
		if c.Name == name {
			return c.ID
		}
	}
	return ""
}

// projectIDs はフォームの ids[] と ids（カンマ区切り）を順に結合する。
func projectIDs(r *http.Request) []string {
	if err := r.ParseForm(); err != nil {
		return nil
	}
	var ids []string
	for _, v := range r.PostForm["ids[]"] {
		if v = strings.TrimSpace(v); v != "" {
			ids = append(ids, v)
		}
	}
	for _, part := range strings.Split(r.PostFormValue("ids"), ",") {
		if v := strings.TrimSpace(part); v != "" {
			ids = append(ids, v)
		}
	}
	return ids
}
