package drift

import "slices"

// Diff compares a target snapshot against the reference. Tables absent
// from the target are missing, tables only the target has are extra,
// and tables present in both are compared column by column.
func Diff(ref, target *Snapshot) []TableDrift {
	var out []TableDrift

	for _, name := range sortedKeys(ref.Tables) {
		refTable := ref.Tables[name]
		targetTable, ok := target.Tables[name]
		if !ok {
			out = append(out, TableDrift{Table: name, Status: TableMissing})
			continue
		}
		d := diffTable(refTable, targetTable)
		out = append(out, d)
	}

	for _, name := range sortedKeys(target.Tables) {
		if _, ok := ref.Tables[name]; !ok {
			out = append(out, TableDrift{Table: name, Status: TableExtra})
		}
	}
	return out
}

func diffTable(ref, target Table) TableDrift {
	d := TableDrift{Table: ref.Name, Status: TableOK}
	d.Columns = diffColumns(ref.Columns, target.Columns)
	d.Indexes = diffIndexes(ref.Indexes, target.Indexes)
	d.Constraints = diffConstraints(ref.Constraints, target.Constraints)
	if len(d.Columns) > 0 || len(d.Indexes) > 0 || len(d.Constraints) > 0 {
		d.Status = TableDrifted
	}
	return d
}

func diffColumns(ref, target map[string]Column) []ColumnDrift {
	var out []ColumnDrift
	for _, name := range sortedKeys(ref) {
		rc := ref[name]
		tc, ok := target[name]
		if !ok {
			out = append(out, ColumnDrift{Column: name, Kind: DriftMissing})
			continue
		}
		switch {
		case rc.DataType != tc.DataType:
			out = append(out, ColumnDrift{
				Column: name, Kind: DriftTypeMismatch,
				Reference: rc.DataType, Actual: tc.DataType,
			})
		case rc.Nullable != tc.Nullable:
			out = append(out, ColumnDrift{
				Column: name, Kind: DriftNullableMismatch,
				Reference: nullability(rc.Nullable), Actual: nullability(tc.Nullable),
			})
		case rc.Default != tc.Default:
			out = append(out, ColumnDrift{
				Column: name, Kind: DriftDefaultMismatch,
				Reference: rc.Default, Actual: tc.Default,
			})
		}
	}
	for _, name := range sortedKeys(target) {
		if _, ok := ref[name]; !ok {
			out = append(out, ColumnDrift{Column: name, Kind: DriftExtra})
		}
	}
	return out
}

func diffIndexes(ref, target map[string]Index) []IndexDrift {
	var out []IndexDrift
	for _, name := range sortedKeys(ref) {
		ri := ref[name]
		ti, ok := target[name]
		if !ok {
			out = append(out, IndexDrift{Index: name, Kind: DriftMissing})
			continue
		}
		if ri.Unique != ti.Unique || !slices.Equal(ri.Columns, ti.Columns) {
			out = append(out, IndexDrift{Index: name, Kind: DriftDefinitionMismatch})
		}
	}
	for _, name := range sortedKeys(target) {
		if _, ok := ref[name]; !ok {
			out = append(out, IndexDrift{Index: name, Kind: DriftExtra})
		}
	}
	return out
}

func diffConstraints(ref, target map[string]Constraint) []ConstraintDrift {
	var out []ConstraintDrift
	for _, name := range sortedKeys(ref) {
		rc := ref[name]
		tc, ok := target[name]
		if !ok {
			out = append(out, ConstraintDrift{Constraint: name, Kind: DriftMissing})
			continue
		}
		if rc.Type != tc.Type || rc.Definition != tc.Definition {
			out = append(out, ConstraintDrift{Constraint: name, Kind: DriftDefinitionMismatch})
		}
	}
	for _, name := range sortedKeys(target) {
		if _, ok := ref[name]; !ok {
			out = append(out, ConstraintDrift{Constraint: name, Kind: DriftExtra})
		}
	}
	return out
}

func nullability(nullable bool) string {
	if nullable {
		return "NULL"
	}
	return "NOT NULL"
}

// hasDrift reports whether any table finding departs from ok.
func hasDrift(tables []TableDrift) bool {
	for _, t := range tables {
		if t.Status != TableOK {
			return true
		}
	}
	return false
}
