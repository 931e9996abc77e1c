// Package drift detects structural divergence between tenant schemas.
// One tenant acts as the reference; every other tenant is introspected
// and diffed against it table by table. The comparison is structural
// (column shapes, index column sets and uniqueness, constraint
// definitions), not a raw DDL comparison.
package drift

import "time"

// TableStatus classifies one table in a tenant relative to the reference.
type TableStatus string

const (
	TableOK      TableStatus = "ok"
	TableMissing TableStatus = "missing"
	TableExtra   TableStatus = "extra"
	TableDrifted TableStatus = "drifted"
)

// DriftKind classifies one column, index or constraint finding.
type DriftKind string

const (
	DriftMissing            DriftKind = "missing"
	DriftExtra              DriftKind = "extra"
	DriftTypeMismatch       DriftKind = "type_mismatch"
	DriftNullableMismatch   DriftKind = "nullable_mismatch"
	DriftDefaultMismatch    DriftKind = "default_mismatch"
	DriftDefinitionMismatch DriftKind = "definition_mismatch"
)

// Column is one column's structural shape.
type Column struct {
	Name     string
	DataType string
	Nullable bool
	Default  string
	Position int
}

// Index is one index reduced to its structural identity.
type Index struct {
	Name    string
	Unique  bool
	Columns []string
}

// Constraint is one table constraint with its normalized definition.
type Constraint struct {
	Name       string
	Type       string
	Definition string
}

// Table is one table's introspected shape.
type Table struct {
	Name        string
	Columns     map[string]Column
	Indexes     map[string]Index
	Constraints map[string]Constraint
}

// Snapshot is the full introspected shape of one schema.
type Snapshot struct {
	Schema string
	Tables map[string]Table
}

// ColumnDrift is one column-level finding.
type ColumnDrift struct {
	Column    string
	Kind      DriftKind
	Reference string
	Actual    string
}

// IndexDrift is one index-level finding.
type IndexDrift struct {
	Index string
	Kind  DriftKind
}

// ConstraintDrift is one constraint-level finding.
type ConstraintDrift struct {
	Constraint string
	Kind       DriftKind
}

// TableDrift is the diff of one table against the reference.
type TableDrift struct {
	Table       string
	Status      TableStatus
	Columns     []ColumnDrift
	Indexes     []IndexDrift
	Constraints []ConstraintDrift
}

// TenantReport is one tenant's drift verdict.
type TenantReport struct {
	TenantID string
	HasDrift bool
	Tables   []TableDrift
	Err      error
	Skipped  bool
}

// Report aggregates a fleet-wide drift scan.
type Report struct {
	ReferenceTenant string
	NoDrift         int
	WithDrift       int
	Errored         int
	Skipped         int
	Details         []*TenantReport
	Timestamp       time.Time
	Duration        time.Duration
}
