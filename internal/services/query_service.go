package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/charlesng35/dbwarden/internal/classifier"
	"github.com/charlesng35/dbwarden/internal/permissions"
	"github.com/charlesng35/dbwarden/internal/registry"
	apperrors "github.com/charlesng35/dbwarden/pkg/errors"
	"github.com/charlesng35/dbwarden/pkg/metrics"
)

const (
	// DefaultQueryTimeout bounds a single statement batch.
	DefaultQueryTimeout = 30 * time.Second
	// DefaultMaxRows caps the rows returned by a read batch.
	DefaultMaxRows = 1000
)

// QueryPolicy bounds ad-hoc execution.
type QueryPolicy struct {
	Timeout time.Duration
	MaxRows int
}

// QueryResult is either a row set or an affected-row count.
type QueryResult struct {
	Columns      []string `json:"columns,omitempty"`
	Rows         [][]any  `json:"rows,omitempty"`
	RowCount     int      `json:"row_count"`
	Truncated    bool     `json:"truncated,omitempty"`
	RowsAffected *int64   `json:"rows_affected,omitempty"`
	Required     []string `json:"required"`
	DurationMS   int64    `json:"duration_ms"`
}

// QueryService runs classified statement batches against registered connections.
type QueryService struct {
	registry *registry.Registry
	engine   *permissions.Engine
	audit    *AuditService
	policy   QueryPolicy
}

// NewQueryService constructs a QueryService.
func NewQueryService(reg *registry.Registry, engine *permissions.Engine, audit *AuditService, policy QueryPolicy) (*QueryService, error) {
	if reg == nil {
		return nil, errors.New("query service: registry is required")
	}
	if engine == nil {
		return nil, errors.New("query service: permission engine is required")
	}
	if policy.Timeout <= 0 {
		policy.Timeout = DefaultQueryTimeout
	}
	if policy.MaxRows <= 0 {
		policy.MaxRows = DefaultMaxRows
	}
	return &QueryService{registry: reg, engine: engine, audit: audit, policy: policy}, nil
}

// Execute checks the caller's permissions against the classified batch, then runs it.
// Nothing reaches the source unless every required permission is held.
func (s *QueryService) Execute(ctx context.Context, user, id, statement string) (*QueryResult, error) {
	ctx = ensureContext(ctx)
	user = normaliseUsername(user)
	statement = strings.TrimSpace(statement)
	if statement == "" {
		return nil, apperrors.Validation("no SQL provided")
	}

	if err := requireAccess(ctx, s.engine, s.registry, user, id); err != nil {
		return nil, err
	}

	required := classifier.Required(statement)
	if len(required) == 0 {
		return nil, apperrors.Validation("no SQL provided")
	}
	kind := batchKind(required)

	if err := s.engine.Require(ctx, user, id, required...); err != nil {
		metrics.QueryExecutions.WithLabelValues(kind, "denied").Inc()
		recordAudit(s.audit, ctx, AuditEntry{
			Username: user,
			Action:   "query.execute",
			Resource: id,
			Result:   AuditDenied,
			Metadata: map[string]any{"query": statement, "required": required},
		})
		return nil, err
	}

	handle, ok := s.registry.Handle(ctx, id)
	if !ok {
		metrics.QueryExecutions.WithLabelValues(kind, "error").Inc()
		return nil, apperrors.Connectivity("connection unavailable", nil)
	}

	runCtx, cancel := context.WithTimeout(ctx, s.policy.Timeout)
	defer cancel()

	started := time.Now()
	var (
		result *QueryResult
		err    error
	)
	if classifier.ReadOnly(required) {
		result, err = s.query(runCtx, handle, statement)
	} else {
		result, err = s.exec(runCtx, handle, statement)
	}

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metrics.QueryExecutions.WithLabelValues(kind, outcome).Inc()

	meta := map[string]any{"query": statement, "required": required}
	if err != nil {
		meta["error"] = err.Error()
	}
	recordAudit(s.audit, ctx, AuditEntry{
		Username: user,
		Action:   "query.execute",
		Resource: id,
		Result:   auditResult(err),
		Metadata: meta,
	})

	if err != nil {
		return nil, apperrors.Connectivity("query failed", err)
	}
	result.Required = required
	result.DurationMS = time.Since(started).Milliseconds()
	return result, nil
}

func (s *QueryService) query(ctx context.Context, db *sql.DB, statement string) (*QueryResult, error) {
	rows, err := db.QueryContext(ctx, statement)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, data, truncated, err := scanRows(rows, s.policy.MaxRows)
	if err != nil {
		return nil, err
	}
	return &QueryResult{
		Columns:   columns,
		Rows:      data,
		RowCount:  len(data),
		Truncated: truncated,
	}, nil
}

func (s *QueryService) exec(ctx context.Context, db *sql.DB, statement string) (*QueryResult, error) {
	res, err := db.ExecContext(ctx, statement)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}
	return &QueryResult{RowsAffected: &affected}, nil
}

// scanRows reads up to limit rows (no cap when limit <= 0) and reports whether more were available.
func scanRows(rows *sql.Rows, limit int) ([]string, [][]any, bool, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, false, err
	}

	data := make([][]any, 0)
	truncated := false
	for rows.Next() {
		if limit > 0 && len(data) >= limit {
			truncated = true
			break
		}
		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, nil, false, err
		}
		for i, v := range values {
			values[i] = normaliseValue(v)
		}
		data = append(data, values)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, false, err
	}
	return columns, data, truncated, nil
}

func normaliseValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return val
	}
}

// batchKind labels a batch by its most privileged statement.
func batchKind(required []string) string {
	switch {
	case containsString(required, permissions.ExecuteSQLDDL):
		return "ddl"
	case containsString(required, permissions.ExecuteSQLWrite):
		return "write"
	default:
		return "read"
	}
}

// requireAccess hides connections the caller neither owns nor holds a grant on.
func requireAccess(ctx context.Context, engine *permissions.Engine, reg *registry.Registry, user, id string) error {
	if _, ok := reg.Config(id); !ok {
		return ErrConnectionNotFound
	}
	allowed, err := engine.HasAccess(ctx, user, id)
	if err != nil {
		return apperrors.Persistence("failed to evaluate access", err)
	}
	if !allowed {
		return ErrConnectionNotFound
	}
	return nil
}
