// Package handler はHTTPハンドラーを提供する。
// HTMLフローは処理結果をフラッシュメッセージとしてセッションに積み、トップページへリダイレクトする。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/qbodemo/internal/accounting"
	"github.com/hitoshi/qbodemo/internal/auth"
	"github.com/hitoshi/qbodemo/internal/middleware"
	"github.com/hitoshi/qbodemo/internal/model"
	"github.com/hitoshi/qbodemo/internal/project"
	"github.com/hitoshi/qbodemo/internal/session"
)

// msgNotConnected は未接続時に表示するメッセージ。
const msgNotConnected = "Please connect to QuickBooks first."

// OAuthService はOAuthライフサイクルの操作。auth.Service が満たす。
type OAuthService interface {
	BuildAuthorizationURL(ctx context.Context) (*auth.AuthorizationRequest, error)
	ExchangeCodeForToken(ctx context.Context, code string) (*model.TokenSet, error)
	RefreshToken(ctx context.Context, refreshToken string) (*model.TokenSet, error)
	RevokeTokens(ctx context.Context, token string)
}

// SessionSaver はセッションの保存と破棄。session.Manager が満たす。
type SessionSaver interface {
	Save(ctx context.Context, w http.ResponseWriter, s *session.Session) error
	Destroy(ctx context.Context, w http.ResponseWriter, s *session.Session) error
}

// AccountingService はAccounting REST APIの読み書き。accounting.Service が満たす。
type AccountingService interface {
	ListCustomers(ctx context.Context, ac model.AuthContext) ([]model.Customer, error)
	ListItems(ctx context.Context, ac model.AuthContext) ([]model.Item, error)
	ListVendors(ctx context.Context, ac model.AuthContext) ([]model.Vendor, error)
	ListExpenseAccounts(ctx context.Context, ac model.AuthContext) ([]model.Account, error)
	ListAccounts(ctx context.Context, ac model.AuthContext) (*model.AccountList, error)
	CreateCustomer(ctx context.Context, ac model.AuthContext, in accounting.CustomerInput) (*model.Customer, error)
	CreateItem(ctx context.Context, ac model.AuthContext, name string, unitPrice float64) (*model.Item, error)
	CreateInvoice(ctx context.Context, ac model.AuthContext, in accounting.InvoiceInput) (*model.InvoiceResult, error)
	CreateEstimate(ctx context.Context, ac model.AuthContext, in accounting.SalesInput) (*model.TransactionResult, error)
	CreateSalesReceipt(ctx context.Context, ac model.AuthContext, in accounting.SalesInput) (*model.TransactionResult, error)
	CreateBill(ctx context.Context, ac model.AuthContext, in accounting.BillInput) (*model.TransactionResult, error)
}

// ProjectService はProject Management GraphQL APIの操作。project.Service が満たす。
type ProjectService interface {
	Create(ctx context.Context, ac model.AuthContext, in project.CreateInput) (*model.Project, error)
	List(ctx context.Context, ac model.AuthContext, in project.ListInput) (*model.ProjectPage, error)
	Get(ctx context.Context, ac model.AuthContext, id string) (*model.Project, error)
	GetMany(ctx context.Context, ac model.AuthContext, ids []string) ([]model.Project, error)
	Delete(ctx context.Context, ac model.AuthContext, id string, version *int) (*model.ProjectDeleteResult, error)
	DeleteMany(ctx context.Context, ac model.AuthContext, ids []string) []model.ProjectDeleteRow
}

// ProjectIdentifier はプロジェクトのAccounting側IDを解決する。project.Resolver が満たす。
type ProjectIdentifier interface {
	Identify(ctx context.Context, ac model.AuthContext, p *model.Project) model.ProjectIdentity
}

// Sanitizer はフォームの自由入力を正規化する。security.InputSanitizer が満たす。
type Sanitizer interface {
	Sanitize(input string) string
}

// lastResult は直近の書き込み操作の結果パネル。
type lastResult struct {
	Kind       string                   `json:"kind"`
	ID         string                   `json:"id,omitempty"`
	DocNumber  string                   `json:"docNumber,omitempty"`
	Amount     float64                  `json:"amount,omitempty"`
	ProjectID  string                   `json:"projectId,omitempty"`
	ProjectRef string                   `json:"projectRef,omitempty"`
	DeepLink   string                   `json:"deepLink,omitempty"`
	DeleteRows []model.ProjectDeleteRow `json:"deleteRows,omitempty"`
}

// 結果パネルの種別
const (
	resultInvoice       = "invoice"
	resultEstimate      = "estimate"
	resultSalesReceipt  = "salesReceipt"
	resultBill          = "bill"
	resultProjectDelete = "projectDelete"
	resultDeleteMulti   = "projectDeleteMulti"
)

// currentSession はミドルウェアが読み込んだセッションを返す。
// ルーター外で呼ばれた場合は保存されない一時セッションを返す。
func currentSession(r *http.Request) *session.Session {
	if s := middleware.SessionFromContext(r.Context()); s != nil {
		return s
	}
	now := time.Now()
	return session.New("", now, now)
}

// redirectHome はセッションを保存してトップページへリダイレクトする。
// 保存に失敗した場合は500を返す。
func redirectHome(w http.ResponseWriter, r *http.Request, saver SessionSaver, s *session.Session) {
	if err := saver.Save(r.Context(), w, s); err != nil {
		slog.Error("failed to save session",
			slog.String("error", err.Error()),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		)
		middleware.WriteInternalServerError(w)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

// flashError はエラーをUI向けメッセージとしてフラッシュに積み、詳細をログに残す。
func flashError(r *http.Request, s *session.Session, operation string, err error) {
	logAttrs := []any{
		slog.String("operation", operation),
		slog.String("kind", string(model.KindOf(err))),
		slog.String("error", err.Error()),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
	}
	if model.KindOf(err) == model.KindValidation {
		slog.Info("request rejected", logAttrs...)
	} else {
		slog.Warn("operation failed", logAttrs...)
	}
	s.AddFlash(session.FlashError, model.UserMessage(err))
}

// requireConnected は接続済みならAuthContextを返す。未接続ならフラッシュを積んで false を返す。
func requireConnected(s *session.Session) (model.AuthContext, bool) {
	ac := session.AuthContext(s)
	if !ac.Authenticated() {
		s.AddFlash(session.FlashError, msgNotConnected)
		return ac, false
	}
	return ac, true
}

// formText はフォーム値をサニタイズして返す。
func formText(r *http.Request, sanitizer Sanitizer, key string) string {
	return sanitizer.Sanitize(r.PostFormValue(key))
}

// formID は識別子系のフォーム値を前後の空白を除いて返す。
func formID(r *http.Request, key string) string {
	return strings.TrimSpace(r.PostFormValue(key))
}

// formInt は整数のフォーム値を読み取る。空の場合は def。
func formInt(r *http.Request, key, label string, def int) (int, error) {
	v := strings.TrimSpace(r.PostFormValue(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, model.NewValidationError(label + " must be a whole number")
	}
	return n, nil
}

// formFloat は数値のフォーム値を読み取る。
func formFloat(r *http.Request, key, label string) (float64, error) {
	v := strings.TrimSpace(r.PostFormValue(key))
	if v == "" {
		return 0, model.NewValidationError(label + " is required")
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, model.NewValidationError(label + " must be a number")
	}
	return f, nil
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
