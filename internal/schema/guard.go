// Package schema checks that the destination database can hold a catalog
// before a run parses anything, and applies the small set of fixes that
// are safe to make automatically.
package schema

import (
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/catalogsync/internal/catalog"
	"github.com/JonMunkholm/catalogsync/internal/logging"
)

// Inspector reads and alters the destination schema.
type Inspector interface {
	// Columns returns the columns of table, or none when it does not exist.
	Columns(ctx context.Context, table string) ([]string, error)
	Exec(ctx context.Context, sql string) error
}

// Report lists the statements Ensure applied.
type Report struct {
	Applied []string `json:"applied,omitempty"`
}

// Guard verifies the destination schema.
type Guard struct {
	inspector Inspector
	specs     []TableSpec
}

// NewGuard returns a guard checking specs, or Requirements() when none
// are given.
func NewGuard(inspector Inspector, specs ...TableSpec) *Guard {
	if len(specs) == 0 {
		specs = Requirements()
	}
	return &Guard{inspector: inspector, specs: specs}
}

// Ensure inspects every table concurrently, then renames legacy columns,
// adds missing columns that have a definition and creates missing tables
// that have a create statement. Anything else missing is returned as a
// *catalog.SchemaMismatchError. Running Ensure again applies nothing.
func (g *Guard) Ensure(ctx context.Context) (Report, error) {
	logger := logging.FromContext(ctx)
	var report Report

	existing := make([][]string, len(g.specs))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, spec := range g.specs {
		eg.Go(func() error {
			cols, err := g.inspector.Columns(egCtx, spec.Name)
			if err != nil {
				return fmt.Errorf("inspect %s: %w", spec.Name, err)
			}
			existing[i] = cols
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return report, err
	}

	for i, spec := range g.specs {
		stmts, err := plan(spec, existing[i])
		if err != nil {
			return report, err
		}
		for _, stmt := range stmts {
			if err := g.inspector.Exec(ctx, stmt); err != nil {
				return report, &catalog.SchemaMismatchError{Table: spec.Name, Err: err}
			}
			logger.Info("schema updated", "table", spec.Name, "statement", stmt)
			report.Applied = append(report.Applied, stmt)
		}
	}

	if len(report.Applied) == 0 {
		logger.Debug("schema up to date", "tables", len(g.specs))
	}
	return report, nil
}

// plan returns the statements that bring table spec in line with the
// columns it has.
func plan(spec TableSpec, have []string) ([]string, error) {
	if len(have) == 0 {
		if spec.Create == "" {
			return nil, &catalog.SchemaMismatchError{Table: spec.Name}
		}
		return []string{spec.Create}, nil
	}

	var (
		stmts   []string
		missing []string
	)
	for _, col := range spec.Columns {
		if slices.Contains(have, col.Name) {
			continue
		}
		if old := legacyName(col, have); old != "" {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", spec.Name, old, col.Name))
			continue
		}
		if col.Definition != "" {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", spec.Name, col.Name, col.Definition))
			continue
		}
		missing = append(missing, col.Name)
	}

	if len(missing) > 0 {
		return nil, &catalog.SchemaMismatchError{Table: spec.Name, Missing: missing}
	}
	return stmts, nil
}

func legacyName(col ColumnSpec, have []string) string {
	for _, old := range col.Legacy {
		if slices.Contains(have, old) {
			return old
		}
	}
	return ""
}
