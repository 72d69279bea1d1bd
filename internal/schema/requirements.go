package schema

import (
	"github.com/JonMunkholm/catalogsync/internal/loader"
)

// ColumnSpec is one column the destination must have.
type ColumnSpec struct {
	Name string

	// Definition is the type and constraints used to add the column when
	// it is missing. Empty means the column cannot be added automatically.
	Definition string

	// Legacy lists earlier names of the column; a legacy column is renamed.
	Legacy []string
}

// TableSpec is one table the destination must have.
type TableSpec struct {
	Name    string
	Columns []ColumnSpec

	// Create builds the table when it is missing. Empty means a missing
	// table is a schema mismatch.
	Create string
}

// HealthTable is the run audit table.
const HealthTable = "sync_health"

// HealthTableSpec defines the run audit table. It is created when missing
// and its columns are added or renamed as needed.
var HealthTableSpec = TableSpec{
	Name: HealthTable,
	Columns: []ColumnSpec{
		{Name: "id"},
		{Name: "sync_type", Definition: "text NOT NULL DEFAULT 'full'"},
		{Name: "source_file", Definition: "text"},
		{Name: "status", Definition: "text NOT NULL DEFAULT 'running'"},
		{Name: "start_time", Definition: "timestamptz NOT NULL DEFAULT now()"},
		{Name: "end_time", Definition: "timestamptz"},
		{Name: "duration_seconds", Definition: "double precision", Legacy: []string{"duration"}},
		{Name: "records_processed", Definition: "integer NOT NULL DEFAULT 0", Legacy: []string{"records"}},
		{Name: "error_count", Definition: "integer NOT NULL DEFAULT 0"},
		{Name: "details", Definition: "jsonb NOT NULL DEFAULT '{}'::jsonb"},
		{Name: "memory_usage_mb", Definition: "double precision"},
	},
	Create: `CREATE TABLE IF NOT EXISTS sync_health (
	id uuid PRIMARY KEY,
	sync_type text NOT NULL,
	source_file text,
	status text NOT NULL,
	start_time timestamptz NOT NULL,
	end_time timestamptz,
	duration_seconds double precision,
	records_processed integer NOT NULL DEFAULT 0,
	error_count integer NOT NULL DEFAULT 0,
	details jsonb NOT NULL DEFAULT '{}'::jsonb,
	memory_usage_mb double precision
)`,
}

// columnFixes are the catalog columns that may be added or renamed.
// Every other catalog column must already exist.
var columnFixes = map[string]map[string]ColumnSpec{
	loader.TableCategory: {
		"parent_id": {Definition: "uuid REFERENCES category(id)", Legacy: []string{"parent"}},
	},
}

// hashDefinition adds the content hash column to catalog tables.
const hashDefinition = "text NOT NULL DEFAULT ''"

// Requirements returns the catalog tables in write order followed by the
// audit table.
func Requirements() []TableSpec {
	var specs []TableSpec
	for _, t := range loader.Tables() {
		spec := TableSpec{Name: t.Name}
		if t.IDColumn != "" {
			spec.Columns = append(spec.Columns, ColumnSpec{Name: t.IDColumn})
		}
		for _, c := range append(append([]loader.Column{}, t.Key...), t.Columns...) {
			col := columnFixes[t.Name][c.Name]
			col.Name = c.Name
			spec.Columns = append(spec.Columns, col)
		}
		spec.Columns = append(spec.Columns, ColumnSpec{Name: loader.HashColumn, Definition: hashDefinition})
		specs = append(specs, spec)
	}
	return append(specs, HealthTableSpec)
}
