package handler

import (
	"bytes"
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/hitoshi/qbodemo/internal/middleware"
	"github.com/hitoshi/qbodemo/internal/model"
	"github.com/hitoshi/qbodemo/internal/session"
)

//go:embed templates/index.html
var templateFS embed.FS

// salesAction は販売系フォームの送信先。
type salesAction struct {
	Path  string
	Label string
}

var salesActions = []salesAction{
	{Path: "/create-invoice", Label: "invoice"},
	{Path: "/create-estimate", Label: "estimate"},
	{Path: "/create-sales-receipt", Label: "sales receipt"},
}

// pageData はトップページの表示内容。
type pageData struct {
	Authenticated bool
	Environment   string
	RealmID       string
	GrantedScope  string
	CSRFField     string
	CSRFToken     string
	Flashes       []session.Flash

	Customers       []model.Customer
	Items           []model.Item
	Vendors         []model.Vendor
	ExpenseAccounts []model.Account

	Project        *model.Project
	Projects       *model.ProjectPage
	ProjectsError  string
	ProjectDetails []model.Project
	LastResult     *lastResult
	SalesActions   []salesAction
}

// PageHandler はトップページを描画する。
type PageHandler struct {
	sessions    SessionSaver
	environment string
	tmpl        *template.Template
}

// NewPageHandler はテンプレートを読み込んでPageHandlerを生成する。
func NewPageHandler(sessions SessionSaver, environment string) (*PageHandler, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/index.html")
	if err != nil {
		return nil, err
	}
	return &PageHandler{sessions: sessions, environment: environment, tmpl: tmpl}, nil
}

// Index はセッションの状態からトップページを描画する。フラッシュは表示後に消える。
// GET /
func (h *PageHandler) Index(w http.ResponseWriter, r *http.Request) {
	s := currentSession(r)

	data := pageData{
		Authenticated: session.Authenticated(s),
		Environment:   h.environment,
		CSRFField:     middleware.CSRFFormField,
		CSRFToken:     middleware.CSRFTokenFromContext(r.Context()),
		Flashes:       s.PopFlashes(),
		SalesActions:  salesActions,
	}

	if !data.Authenticated {
		// 未接続のまま残った前回の会社のデータは表示しない
		session.ClearCaches(s)
	} else {
		data.RealmID = s.GetString(session.KeyRealmID)
		data.GrantedScope = s.GetString(session.KeyGrantedScope)
		data.Customers, _ = session.GetValue[[]model.Customer](s, session.KeyCustomers)
		data.Items, _ = session.GetValue[[]model.Item](s, session.KeyItems)
		data.Vendors, _ = session.GetValue[[]model.Vendor](s, session.KeyVendors)
		data.ExpenseAccounts, _ = session.GetValue[[]model.Account](s, session.KeyExpenseAccounts)
		data.ProjectsError = s.GetString(session.KeyProjectsError)
		data.ProjectDetails, _ = session.GetValue[[]model.Project](s, session.KeyProjectDetails)
		if p, ok := session.GetValue[model.Project](s, session.KeyProject); ok {
			data.Project = &p
		}
		if page, ok := session.GetValue[model.ProjectPage](s, session.KeyProjects); ok {
			data.Projects = &page
		}
		if res, ok := session.GetValue[lastResult](s, session.KeyLastResult); ok {
			data.LastResult = &res
		}
	}

	if s.Dirty() {
		if err := h.sessions.Save(r.Context(), w, s); err != nil {
			slog.Error("failed to save session", slog.String("error", err.Error()))
			middleware.WriteInternalServerError(w)
			return
		}
	}

	var buf bytes.Buffer
	if err := h.tmpl.Execute(&buf, data); err != nil {
		slog.Error("failed to render page", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}
