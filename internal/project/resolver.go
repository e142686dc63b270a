package project

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/qbodemo/internal/metrics"
	"github.com/hitoshi/qbodemo/internal/model"
	"github.com/hitoshi/qbodemo/internal/quickbooks"
)

// ProjectGetter はProject Management側のプロジェクト取得インターフェース。
type ProjectGetter interface {
	Get(ctx context.Context, ac model.AuthContext, id string) (*model.Project, error)
}

// Resolver はProject ManagementのプロジェクトIDを、Accountingの
// プロジェクト顧客（IsProject = true の Customer）IDへ対応付ける。
// 解決できない場合もエラーにはせず、呼び出し元の書き込みを止めない。
type Resolver struct {
	querier  quickbooks.Querier
	projects ProjectGetter
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
}

// NewResolver はResolverを生成する。
func NewResolver(querier quickbooks.Querier, projects ProjectGetter, m metrics.MetricsCollector, logger *slog.Logger) *Resolver {
	if m == nil {
		m = metrics.Nop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{querier: querier, projects: projects, metrics: m, logger: logger}
}

// ResolveAccountingProjectID はプロジェクト名（と親顧客ID）でプロジェクト顧客を検索する。
// 名前が空の場合は問い合わせずに未解決を返す。
// 複数件一致した場合は先頭を採用する。検索の失敗は未解決として扱う。
func (r *Resolver) ResolveAccountingProjectID(ctx context.Context, ac model.AuthContext, projectName, parentCustomerID string) (string, bool) {
	if strings.TrimSpace(projectName) == "" || !ac.Authenticated() {
		return "", false
	}

	query := fmt.Sprintf(
		"select Id, DisplayName, ParentRef from Customer where IsProject = true and Active = true and DisplayName = '%s'",
		escapeQueryValue(projectName),
	)
	if parent := strings.TrimSpace(parentCustomerID); parent != "" {
		query += fmt.Sprintf(" and ParentRef = '%s'", escapeQueryValue(parent))
	}

	id, err := r.firstCustomerID(ctx, ac, query)
	if err != nil {
		r.logger.Warn("project name lookup failed",
			slog.String("project_name", projectName),
			slog.String("error", err.Error()),
		)
		r.metrics.RecordResolution(metrics.ResolutionMiss)
		return "", false
	}
	if id == "" {
		r.metrics.RecordResolution(metrics.ResolutionMiss)
		return "", false
	}

	r.metrics.RecordResolution(metrics.ResolutionByName)
	return id, true
}

// ResolveProjectReferenceForWrite は書き込み用のプロジェクト参照を決定する。
//  1. 渡されたIDがそのままプロジェクト顧客IDであればそれを使う
//  2. そうでなければProject Management側のプロジェクト名と顧客IDで名前検索する
//  3. いずれでも解決できなければ渡されたIDをそのまま返す
func (r *Resolver) ResolveProjectReferenceForWrite(ctx context.Context, ac model.AuthContext, providedProjectID string) string {
	providedProjectID = strings.TrimSpace(providedProjectID)
	if providedProjectID == "" {
		return ""
	}

	// 1. probe
	probe := fmt.Sprintf("select Id from Customer where IsProject = true and Id = '%s'", escapeQueryValue(providedProjectID))
	id, err := r.firstCustomerID(ctx, ac, probe)
	if err != nil {
		r.logger.Warn("project id probe failed",
			slog.String("project_id", providedProjectID),
			slog.String("error", err.Error()),
		)
	}
	if id != "" {
		r.metrics.RecordResolution(metrics.ResolutionDirect)
		return id
	}

	// 2. name search
	if r.projects != nil {
		p, err := r.projects.Get(ctx, ac, providedProjectID)
		switch {
		case err != nil:
			r.logger.Warn("project lookup for resolution failed",
				slog.String("project_id", providedProjectID),
				slog.String("error", err.Error()),
			)
		case p != nil:
			if resolved, ok := r.ResolveAccountingProjectID(ctx, ac, p.Name, p.CustomerID); ok {
				return resolved
			}
		}
	}

	// 3. fallback
	r.metrics.RecordResolution(metrics.ResolutionFallback)
	r.logger.Info("project reference unresolved, using provided id", slog.String("project_id", providedProjectID))
	return providedProjectID
}

// Identify はプロジェクトの2つのID空間における対応を返す。
// AccountingProjectID が空の場合は未解決。
func (r *Resolver) Identify(ctx context.Context, ac model.AuthContext, p *model.Project) model.ProjectIdentity {
	identity := model.ProjectIdentity{
		GraphQLProjectID: p.ID,
		ProjectName:      p.Name,
		ParentCustomerID: p.CustomerID,
	}
	if id, ok := r.ResolveAccountingProjectID(ctx, ac, p.Name, p.CustomerID); ok {
		identity.AccountingProjectID = id
	}
	return identity
}

// firstCustomerID はクエリ結果の先頭 Customer のIDを返す。該当なしは空文字。
func (r *Resolver) firstCustomerID(ctx context.Context, ac model.AuthContext, query string) (string, error) {
	result, err := r.querier.Query(ctx, ac, query)
	if err != nil {
		return "", err
	}

	var rows []struct {
		ID string `json:"Id"`
	}
	if _, err := result.Decode("Customer", &rows); err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}
	return rows[0].ID, nil
}

// escapeQueryValue はクエリ文字列リテラル用にシングルクォートを二重化する。
func escapeQueryValue(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}
