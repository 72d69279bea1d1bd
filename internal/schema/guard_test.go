package schema

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/catalogsync/internal/catalog"
)

// fakeInspector applies RENAME, ADD COLUMN and CREATE TABLE statements to
// an in-memory column map so repeated Ensure calls see the result.
type fakeInspector struct {
	mu      sync.Mutex
	tables  map[string][]string
	execErr error
	execed  []string
}

func newFakeInspector() *fakeInspector {
	f := &fakeInspector{tables: make(map[string][]string)}
	for _, spec := range Requirements() {
		for _, c := range spec.Columns {
			f.tables[spec.Name] = append(f.tables[spec.Name], c.Name)
		}
	}
	return f
}

func (f *fakeInspector) Columns(_ context.Context, table string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.tables[table]), nil
}

func (f *fakeInspector) Exec(_ context.Context, sql string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.execErr != nil {
		return f.execErr
	}
	f.execed = append(f.execed, sql)

	fields := strings.Fields(sql)
	switch {
	case strings.HasPrefix(sql, "CREATE TABLE"):
		for _, spec := range Requirements() {
			if spec.Name == fields[5] {
				for _, c := range spec.Columns {
					f.tables[spec.Name] = append(f.tables[spec.Name], c.Name)
				}
			}
		}
	case strings.Contains(sql, "RENAME COLUMN"):
		cols := f.tables[fields[2]]
		if i := slices.Index(cols, fields[5]); i >= 0 {
			cols[i] = fields[7]
		}
	case strings.Contains(sql, "ADD COLUMN"):
		f.tables[fields[2]] = append(f.tables[fields[2]], fields[8])
	}
	return nil
}

func (f *fakeInspector) drop(table, column string) {
	f.tables[table] = slices.DeleteFunc(f.tables[table], func(c string) bool { return c == column })
}

func (f *fakeInspector) rename(table, from, to string) {
	cols := f.tables[table]
	cols[slices.Index(cols, from)] = to
}

func TestEnsure_UpToDate(t *testing.T) {
	insp := newFakeInspector()

	report, err := NewGuard(insp).Ensure(context.Background())

	require.NoError(t, err)
	assert.Empty(t, report.Applied)
	assert.Empty(t, insp.execed)
}

func TestEnsure_MissingCatalogTable(t *testing.T) {
	insp := newFakeInspector()
	delete(insp.tables, "variant")

	_, err := NewGuard(insp).Ensure(context.Background())

	var mismatch *catalog.SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "variant", mismatch.Table)
	assert.Equal(t, catalog.KindSchemaMismatch, catalog.KindOf(err))
	assert.Empty(t, insp.execed)
}

func TestEnsure_MissingRequiredColumn(t *testing.T) {
	insp := newFakeInspector()
	insp.drop("product", "ean")

	_, err := NewGuard(insp).Ensure(context.Background())

	var mismatch *catalog.SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "product", mismatch.Table)
	assert.Equal(t, []string{"ean"}, mismatch.Missing)
}

func TestEnsure_CreatesHealthTable(t *testing.T) {
	insp := newFakeInspector()
	delete(insp.tables, HealthTable)

	report, err := NewGuard(insp).Ensure(context.Background())

	require.NoError(t, err)
	require.Len(t, report.Applied, 1)
	assert.True(t, strings.HasPrefix(report.Applied[0], "CREATE TABLE IF NOT EXISTS sync_health"))
}

func TestEnsure_RenamesAndAdds(t *testing.T) {
	insp := newFakeInspector()
	insp.rename("category", "parent_id", "parent")
	insp.rename(HealthTable, "duration_seconds", "duration")
	insp.rename(HealthTable, "records_processed", "records")
	insp.drop("product", "sync_hash")
	insp.drop(HealthTable, "memory_usage_mb")

	report, err := NewGuard(insp).Ensure(context.Background())

	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"ALTER TABLE category RENAME COLUMN parent TO parent_id",
		"ALTER TABLE product ADD COLUMN IF NOT EXISTS sync_hash text NOT NULL DEFAULT ''",
		"ALTER TABLE sync_health RENAME COLUMN duration TO duration_seconds",
		"ALTER TABLE sync_health RENAME COLUMN records TO records_processed",
		"ALTER TABLE sync_health ADD COLUMN IF NOT EXISTS memory_usage_mb double precision",
	}, report.Applied)

	again, err := NewGuard(insp).Ensure(context.Background())
	require.NoError(t, err)
	assert.Empty(t, again.Applied)
}

func TestEnsure_AddsParentColumn(t *testing.T) {
	insp := newFakeInspector()
	insp.drop("category", "parent_id")

	report, err := NewGuard(insp).Ensure(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{
		"ALTER TABLE category ADD COLUMN IF NOT EXISTS parent_id uuid REFERENCES category(id)",
	}, report.Applied)
}

func TestEnsure_ExecFailure(t *testing.T) {
	insp := newFakeInspector()
	insp.drop("image", "sync_hash")
	insp.execErr = errors.New("permission denied")

	_, err := NewGuard(insp).Ensure(context.Background())

	var mismatch *catalog.SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "image", mismatch.Table)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestRequirements_CoversEveryTable(t *testing.T) {
	var names []string
	for _, spec := range Requirements() {
		names = append(names, spec.Name)
	}
	assert.Equal(t, []string{
		"category", "producer", "unit", "product", "variant", "stock", "price", "image", "sync_health",
	}, names)
}
