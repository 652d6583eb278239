package landscape

import (
	"fmt"
	"sort"
	"strings"
)

// FieldSource distinguishes a field that the plugin author declared up
// front from one the engine observed at runtime (spec §4.2).
type FieldSource string

const (
	FieldSourceDeclared FieldSource = "declared"
	FieldSourceInferred FieldSource = "inferred"
)

// SchemaMode controls how strictly a contract's field set is enforced.
type SchemaMode string

const (
	// SchemaModeFixed rejects any field not in the declared set.
	SchemaModeFixed SchemaMode = "FIXED"
	// SchemaModeFlexible allows extra fields beyond the declared set.
	SchemaModeFlexible SchemaMode = "FLEXIBLE"
	// SchemaModeObserved has no declared fields; the contract is built up
	// entirely from what is observed flowing through the node.
	SchemaModeObserved SchemaMode = "OBSERVED"
)

// FieldType is a minimal type vocabulary sufficient for compatibility
// checking between producer and consumer contracts (spec §4.2). It
// deliberately does not attempt to model a full type system.
type FieldType struct {
	// Name is one of "any", "str", "int", "float", "bool", "datetime",
	// "decimal", "dict", "list", or a caller-defined name.
	Name string
	// Optional marks a `T | None` type on the consumer side.
	Optional bool
	// Union lists the member types when Name == "union"; recursive
	// compatibility checking walks this list (spec §4.2 "Union coercions
	// recurse").
	Union []FieldType
}

func (t FieldType) isAny() bool { return t.Name == "any" || t.Name == "Any" }

// compatibleWith reports whether a value typed as `t` may be consumed
// where `consumer` is expected, applying spec §4.2's rules: exact match;
// Any accepts all; int→float widening; T is compatible with T | None on
// the consumer side; unions recurse (any union member matching is enough).
func (t FieldType) compatibleWith(consumer FieldType) bool {
	if consumer.isAny() {
		return true
	}
	if len(consumer.Union) > 0 {
		for _, m := range consumer.Union {
			if t.compatibleWith(m) {
				return true
			}
		}
		return false
	}
	if len(t.Union) > 0 {
		for _, m := range t.Union {
			if m.compatibleWith(consumer) {
				return true
			}
		}
		return false
	}
	if t.Name == consumer.Name {
		return true
	}
	if t.Name == "int" && consumer.Name == "float" {
		return true
	}
	// T is compatible with T | None: a required producer field satisfies
	// an optional consumer field of the same underlying name.
	if consumer.Optional && t.Name == consumer.Name {
		return true
	}
	return false
}

// FieldContract describes one field in a schema contract.
type FieldContract struct {
	NormalizedName string
	OriginalName   string
	Type           FieldType
	Required       bool
	Source         FieldSource
}

// CompatibilityResult reports the outcome of SchemaContract.IsCompatibleWith.
type CompatibilityResult struct {
	MissingFields  []string
	TypeMismatches map[string][2]FieldType // field -> {producer, consumer}
}

// Compatible reports whether the result contains no missing fields and no
// type mismatches.
func (r CompatibilityResult) Compatible() bool {
	return len(r.MissingFields) == 0 && len(r.TypeMismatches) == 0
}

// SchemaContract is a frozen, locked tuple of FieldContracts with a mode.
// Once constructed via NewSchemaContract it is immutable; all accessors
// are read-only, matching spec §4.2's "frozen, locked tuple".
type SchemaContract struct {
	mode   SchemaMode
	fields []FieldContract
	byNorm map[string]int
	byOrig map[string]int
}

// NewSchemaContract builds a locked contract from a field list. Field
// normalization collisions (two original names resolving to the same
// normalized name) are a construction-time error surfaced to the caller
// via the returned problem list (a nil contract and one message per
// collision), matching the "validation failures list every
// problem" stance in spec §7 rather than panicking.
func NewSchemaContract(mode SchemaMode, fields []FieldContract) (*SchemaContract, []string) {
	var problems []string
	c := &SchemaContract{
		mode:   mode,
		fields: append([]FieldContract(nil), fields...),
		byNorm: make(map[string]int, len(fields)),
		byOrig: make(map[string]int, len(fields)),
	}
	for i, f := range c.fields {
		if existing, ok := c.byNorm[f.NormalizedName]; ok {
			problems = append(problems, fmt.Sprintf("duplicate normalized field name %q: used by both %q and %q",
				f.NormalizedName, c.fields[existing].OriginalName, f.OriginalName))
			continue
		}
		c.byNorm[f.NormalizedName] = i
		c.byOrig[f.OriginalName] = i
	}
	if len(problems) > 0 {
		return nil, problems
	}
	return c, nil
}

// Mode returns the contract's enforcement mode.
func (c *SchemaContract) Mode() SchemaMode { return c.mode }

// Fields returns a defensive copy of the contract's fields.
func (c *SchemaContract) Fields() []FieldContract {
	return append([]FieldContract(nil), c.fields...)
}

// ResolveName maps either the original or normalized spelling of a field
// to its normalized name, per spec §4.2.
func (c *SchemaContract) ResolveName(nameAsWritten string) (string, bool) {
	if i, ok := c.byNorm[nameAsWritten]; ok {
		return c.fields[i].NormalizedName, true
	}
	if i, ok := c.byOrig[nameAsWritten]; ok {
		return c.fields[i].NormalizedName, true
	}
	return "", false
}

// GetField returns the field for a normalized name.
func (c *SchemaContract) GetField(normalized string) (FieldContract, bool) {
	if i, ok := c.byNorm[normalized]; ok {
		return c.fields[i], true
	}
	return FieldContract{}, false
}

// IsCompatibleWith checks this (producer) contract against a consumer
// contract: every required consumer field must exist on the producer with
// a compatible type.
func (c *SchemaContract) IsCompatibleWith(consumer *SchemaContract) CompatibilityResult {
	result := CompatibilityResult{TypeMismatches: map[string][2]FieldType{}}
	for _, cf := range consumer.fields {
		if !cf.Required {
			continue
		}
		pf, ok := c.GetField(cf.NormalizedName)
		if !ok {
			if consumer.mode != SchemaModeObserved {
				result.MissingFields = append(result.MissingFields, cf.NormalizedName)
			}
			continue
		}
		if !pf.Type.compatibleWith(cf.Type) {
			result.TypeMismatches[cf.NormalizedName] = [2]FieldType{pf.Type, cf.Type}
		}
	}
	sort.Strings(result.MissingFields)
	return result
}

// Hash returns an order-independent stable hash of the contract: fields
// are sorted by normalized name before hashing so that two contracts
// built from the same field set in different orders hash identically.
func (c *SchemaContract) Hash() (string, error) {
	sorted := append([]FieldContract(nil), c.fields...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].NormalizedName < sorted[j].NormalizedName
	})
	rep := map[string]any{"mode": string(c.mode), "fields": sorted}
	return StableHash(rep)
}

// UnionFields computes the schema contract whose fields are the union of
// keys across all given contracts, per spec §4.12 rule 4: "the contract's
// fields are the union of keys across all returned valid rows". Type
// conflicts resolve to the widest compatible type (float over int), or to
// "any" when no common type exists.
func UnionFields(contracts []*SchemaContract) (*SchemaContract, []string) {
	seen := map[string]FieldContract{}
	var order []string
	for _, c := range contracts {
		if c == nil {
			continue
		}
		for _, f := range c.fields {
			if existing, ok := seen[f.NormalizedName]; ok {
				seen[f.NormalizedName] = widen(existing, f)
				continue
			}
			seen[f.NormalizedName] = f
			order = append(order, f.NormalizedName)
		}
	}
	sort.Strings(order)
	fields := make([]FieldContract, 0, len(order))
	for _, name := range order {
		fields = append(fields, seen[name])
	}
	return NewSchemaContract(SchemaModeFlexible, fields)
}

func widen(a, b FieldContract) FieldContract {
	if a.Type.Name == b.Type.Name {
		a.Required = a.Required && b.Required
		return a
	}
	if (a.Type.Name == "int" && b.Type.Name == "float") || (a.Type.Name == "float" && b.Type.Name == "int") {
		a.Type = FieldType{Name: "float"}
		a.Required = a.Required && b.Required
		return a
	}
	a.Type = FieldType{Name: "any"}
	a.Required = false
	return a
}

// NormalizeFieldName lower-cases and replaces non-alphanumeric runs with a
// single underscore, matching the normalization scheme typical of the
// plugin registries this contract type is built from.
func NormalizeFieldName(original string) string {
	var b strings.Builder
	prevUnderscore := false
	for _, r := range strings.ToLower(original) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			prevUnderscore = false
			continue
		}
		if !prevUnderscore {
			b.WriteByte('_')
			prevUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}

// PipelineRow carries a row's data dict together with the schema contract
// it was produced under (spec §4.2). Field access by either original or
// normalized name MUST go through ContractAwareRow accessors rather than
// direct map indexing, so that the contract's normalization rules apply
// uniformly.
type PipelineRow struct {
	Data     map[string]any
	Contract *SchemaContract
}

// ContractAwareRow provides field lookup that resolves either the
// original or normalized spelling via the row's contract, falling back to
// a literal key lookup in OBSERVED mode (no contract yet).
type ContractAwareRow struct {
	row *PipelineRow
}

// NewContractAwareRow wraps a row for contract-aware access.
func NewContractAwareRow(row *PipelineRow) ContractAwareRow {
	return ContractAwareRow{row: row}
}

// Get resolves name (original or normalized) through the contract and
// returns the corresponding value from the row's data.
func (r ContractAwareRow) Get(name string) (any, bool) {
	if r.row.Contract != nil {
		if norm, ok := r.row.Contract.ResolveName(name); ok {
			v, ok := r.row.Data[norm]
			if ok {
				return v, true
			}
			// Field declared but absent from this particular row.
			return nil, false
		}
	}
	v, ok := r.row.Data[name]
	return v, ok
}

// Contains reflects the row's actual data, not contract presence, per
// spec §4.2 ("__contains__ reflects actual data, not contract presence").
func (r ContractAwareRow) Contains(name string) bool {
	if r.row.Contract != nil {
		if norm, ok := r.row.Contract.ResolveName(name); ok {
			_, ok := r.row.Data[norm]
			return ok
		}
	}
	_, ok := r.row.Data[name]
	return ok
}
