package services

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/dbwarden/internal/permissions"
	apperrors "github.com/charlesng35/dbwarden/pkg/errors"
)

func newIntrospectionFixture(t *testing.T) (*queryFixture, *IntrospectionService) {
	t.Helper()
	f := newQueryFixture(t, QueryPolicy{})
	svc, err := NewIntrospectionService(f.registry, f.engine, 0)
	require.NoError(t, err)
	return f, svc
}

func TestIntrospectionListsCatalog(t *testing.T) {
	f, svc := newIntrospectionFixture(t)
	ctx := context.Background()

	f.mock.ExpectQuery("FROM information_schema.schemata").
		WillReturnRows(sqlmock.NewRows([]string{"schema_name"}).AddRow("public").AddRow("sales"))
	schemas, err := svc.Schemas(ctx, "alice", f.id)
	require.NoError(t, err)
	require.Equal(t, []string{"public", "sales"}, schemas)

	f.mock.ExpectQuery("FROM information_schema.tables").
		WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("orders"))
	tables, err := svc.Tables(ctx, "alice", f.id, "")
	require.NoError(t, err)
	require.Equal(t, []string{"orders"}, tables)

	f.mock.ExpectQuery("FROM information_schema.views").
		WithArgs("sales").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}))
	views, err := svc.Views(ctx, "alice", f.id, "sales")
	require.NoError(t, err)
	require.Empty(t, views)

	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestIntrospectionTableInfo(t *testing.T) {
	f, svc := newIntrospectionFixture(t)
	ctx := context.Background()

	f.mock.ExpectQuery("FROM information_schema.columns").
		WithArgs("public", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable"}).
			AddRow("id", "integer", "NO").
			AddRow("note", "text", "YES"))
	f.mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "public"."orders" LIMIT 100`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "note"}).AddRow(1, "first"))

	info, err := svc.TableInfo(ctx, "alice", f.id, "", "orders")
	require.NoError(t, err)
	require.Equal(t, "public", info.Schema)
	require.Len(t, info.Columns, 2)
	require.False(t, info.Columns[0].Nullable)
	require.True(t, info.Columns[1].Nullable)
	require.Equal(t, []string{"id", "note"}, info.Headers)
	require.Equal(t, 1, info.RowCount)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestIntrospectionMissingTable(t *testing.T) {
	f, svc := newIntrospectionFixture(t)

	_, err := svc.TableInfo(context.Background(), "alice", f.id, "public", " ")
	require.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	f.mock.ExpectQuery("FROM information_schema.columns").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable"}))
	_, err = svc.TableInfo(context.Background(), "alice", f.id, "public", "ghost")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestIntrospectionRequiresAccess(t *testing.T) {
	f, svc := newIntrospectionFixture(t)
	ctx := context.Background()

	_, err := svc.Schemas(ctx, "bob", f.id)
	require.ErrorIs(t, err, ErrConnectionNotFound)

	_, err = f.grants.Upsert(ctx, "alice", f.id, GrantInput{Username: "bob", Role: permissions.RoleViewer})
	require.NoError(t, err)

	f.mock.ExpectQuery("FROM information_schema.schemata").
		WillReturnRows(sqlmock.NewRows([]string{"schema_name"}).AddRow("public"))
	schemas, err := svc.Schemas(ctx, "bob", f.id)
	require.NoError(t, err)
	require.Equal(t, []string{"public"}, schemas)
}
