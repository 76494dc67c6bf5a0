package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/charlesng35/dbwarden/internal/drivers"
	"github.com/charlesng35/dbwarden/internal/permissions"
	"github.com/charlesng35/dbwarden/internal/registry"
	apperrors "github.com/charlesng35/dbwarden/pkg/errors"
)

// PreviewRowLimit caps the sample rows returned with table details.
const PreviewRowLimit = 100

// ColumnInfo describes one column of a table.
type ColumnInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// TableInfo carries a table's columns and a bounded preview of its rows.
type TableInfo struct {
	Schema   string       `json:"schema"`
	Table    string       `json:"table"`
	Columns  []ColumnInfo `json:"columns"`
	Preview  [][]any      `json:"data"`
	Headers  []string     `json:"headers"`
	RowCount int          `json:"row_count"`
}

// IntrospectionService browses catalogs of registered connections.
type IntrospectionService struct {
	registry *registry.Registry
	engine   *permissions.Engine
	timeout  time.Duration
}

// NewIntrospectionService constructs an IntrospectionService. timeout bounds each catalog query.
func NewIntrospectionService(reg *registry.Registry, engine *permissions.Engine, timeout time.Duration) (*IntrospectionService, error) {
	if reg == nil {
		return nil, errors.New("introspection service: registry is required")
	}
	if engine == nil {
		return nil, errors.New("introspection service: permission engine is required")
	}
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return &IntrospectionService{registry: reg, engine: engine, timeout: timeout}, nil
}

// Schemas lists the schemas visible on the connection.
func (s *IntrospectionService) Schemas(ctx context.Context, user, id string) ([]string, error) {
	target, err := s.prepare(ctx, user, id)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithTimeout(ensureContext(ctx), s.timeout)
	defer cancel()
	return listNames(runCtx, target.db, target.catalog.Schemas)
}

// Tables lists base tables in schema. An empty schema selects the engine default.
func (s *IntrospectionService) Tables(ctx context.Context, user, id, schema string) ([]string, error) {
	target, err := s.prepare(ctx, user, id)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithTimeout(ensureContext(ctx), s.timeout)
	defer cancel()
	return listNames(runCtx, target.db, target.catalog.Tables, target.schema(schema))
}

// Views lists views in schema. An empty schema selects the engine default.
func (s *IntrospectionService) Views(ctx context.Context, user, id, schema string) ([]string, error) {
	target, err := s.prepare(ctx, user, id)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithTimeout(ensureContext(ctx), s.timeout)
	defer cancel()
	return listNames(runCtx, target.db, target.catalog.Views, target.schema(schema))
}

// TableInfo returns the columns of table and up to PreviewRowLimit rows.
func (s *IntrospectionService) TableInfo(ctx context.Context, user, id, schema, table string) (*TableInfo, error) {
	target, err := s.prepare(ctx, user, id)
	if err != nil {
		return nil, err
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return nil, apperrors.Validation("table is required")
	}
	schema = target.schema(schema)

	runCtx, cancel := context.WithTimeout(ensureContext(ctx), s.timeout)
	defer cancel()

	columns, err := listColumns(runCtx, target.db, target.catalog.Columns, schema, table)
	if err != nil {
		return nil, err
	}

	preview := target.catalog.Preview(target.catalog.Qualified(schema, table), PreviewRowLimit)
	rows, err := target.db.QueryContext(runCtx, preview)
	if err != nil {
		return nil, apperrors.Connectivity("failed to preview table", err)
	}
	defer rows.Close()

	headers, data, _, err := scanRows(rows, PreviewRowLimit)
	if err != nil {
		return nil, apperrors.Connectivity("failed to preview table", err)
	}

	return &TableInfo{
		Schema:   schema,
		Table:    table,
		Columns:  columns,
		Preview:  data,
		Headers:  headers,
		RowCount: len(data),
	}, nil
}

type introspectionTarget struct {
	cfg     drivers.Config
	db      *sql.DB
	catalog drivers.Catalog
}

func (t introspectionTarget) schema(requested string) string {
	requested = strings.TrimSpace(requested)
	if requested == "" || requested == "default" {
		return drivers.DefaultSchema(t.cfg)
	}
	return requested
}

func (s *IntrospectionService) prepare(ctx context.Context, user, id string) (introspectionTarget, error) {
	ctx = ensureContext(ctx)
	user = normaliseUsername(user)
	if err := requireAccess(ctx, s.engine, s.registry, user, id); err != nil {
		return introspectionTarget{}, err
	}
	if err := s.engine.Require(ctx, user, id, permissions.ExecuteSQLRead); err != nil {
		return introspectionTarget{}, err
	}

	cfg, _ := s.registry.Config(id)
	catalog, ok := drivers.CatalogFor(cfg.Kind)
	if !ok {
		return introspectionTarget{}, apperrors.Validation("connection does not support introspection")
	}
	db, ok := s.registry.Handle(ctx, id)
	if !ok {
		return introspectionTarget{}, apperrors.Connectivity("connection unavailable", nil)
	}
	return introspectionTarget{cfg: cfg, db: db, catalog: catalog}, nil
}

func listNames(ctx context.Context, db *sql.DB, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Connectivity("catalog query failed", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperrors.Connectivity("catalog query failed", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Connectivity("catalog query failed", err)
	}
	return names, nil
}

func listColumns(ctx context.Context, db *sql.DB, query, schema, table string) ([]ColumnInfo, error) {
	rows, err := db.QueryContext(ctx, query, schema, table)
	if err != nil {
		return nil, apperrors.Connectivity("failed to describe table", err)
	}
	defer rows.Close()

	columns := make([]ColumnInfo, 0)
	for rows.Next() {
		var col ColumnInfo
		var nullable string
		if err := rows.Scan(&col.Name, &col.Type, &nullable); err != nil {
			return nil, apperrors.Connectivity("failed to describe table", err)
		}
		switch strings.ToUpper(strings.TrimSpace(nullable)) {
		case "YES", "Y", "TRUE", "1":
			col.Nullable = true
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Connectivity("failed to describe table", err)
	}
	if len(columns) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return columns, nil
}
