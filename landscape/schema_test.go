package landscape

import "testing"

func mustContract(t *testing.T, mode SchemaMode, fields []FieldContract) *SchemaContract {
	t.Helper()
	c, problems := NewSchemaContract(mode, fields)
	if len(problems) > 0 {
		t.Fatalf("unexpected problems: %v", problems)
	}
	return c
}

func TestSchemaContractResolveName(t *testing.T) {
	c := mustContract(t, SchemaModeFixed, []FieldContract{
		{NormalizedName: "amount", OriginalName: "Amount ($)", Type: FieldType{Name: "int"}, Required: true},
	})
	if norm, ok := c.ResolveName("Amount ($)"); !ok || norm != "amount" {
		t.Fatalf("expected resolve by original name, got %q ok=%v", norm, ok)
	}
	if norm, ok := c.ResolveName("amount"); !ok || norm != "amount" {
		t.Fatalf("expected resolve by normalized name, got %q ok=%v", norm, ok)
	}
}

func TestSchemaContractDuplicateNormalizedName(t *testing.T) {
	_, problems := NewSchemaContract(SchemaModeFixed, []FieldContract{
		{NormalizedName: "amount", OriginalName: "Amount"},
		{NormalizedName: "amount", OriginalName: "AMOUNT"},
	})
	if len(problems) == 0 {
		t.Fatal("expected collision to be reported")
	}
}

func TestIsCompatibleWithIntFloatWidening(t *testing.T) {
	producer := mustContract(t, SchemaModeFixed, []FieldContract{
		{NormalizedName: "count", Type: FieldType{Name: "int"}, Required: true},
	})
	consumer := mustContract(t, SchemaModeFixed, []FieldContract{
		{NormalizedName: "count", Type: FieldType{Name: "float"}, Required: true},
	})
	result := producer.IsCompatibleWith(consumer)
	if !result.Compatible() {
		t.Fatalf("expected int->float to be compatible, got %+v", result)
	}
}

func TestIsCompatibleWithMissingField(t *testing.T) {
	producer := mustContract(t, SchemaModeFixed, nil)
	consumer := mustContract(t, SchemaModeFixed, []FieldContract{
		{NormalizedName: "id", Type: FieldType{Name: "str"}, Required: true},
	})
	result := producer.IsCompatibleWith(consumer)
	if result.Compatible() || len(result.MissingFields) != 1 || result.MissingFields[0] != "id" {
		t.Fatalf("expected missing field 'id', got %+v", result)
	}
}

func TestIsCompatibleWithAnyAcceptsAll(t *testing.T) {
	producer := mustContract(t, SchemaModeFixed, []FieldContract{
		{NormalizedName: "blob", Type: FieldType{Name: "dict"}, Required: true},
	})
	consumer := mustContract(t, SchemaModeFixed, []FieldContract{
		{NormalizedName: "blob", Type: FieldType{Name: "any"}, Required: true},
	})
	if !producer.IsCompatibleWith(consumer).Compatible() {
		t.Fatal("expected any to accept all types")
	}
}

func TestUnionFieldsTakesKeyUnion(t *testing.T) {
	a := mustContract(t, SchemaModeFlexible, []FieldContract{
		{NormalizedName: "id", Type: FieldType{Name: "int"}, Required: true},
	})
	b := mustContract(t, SchemaModeFlexible, []FieldContract{
		{NormalizedName: "llm_summary", Type: FieldType{Name: "str"}, Required: true},
	})
	union, problems := UnionFields([]*SchemaContract{a, b})
	if len(problems) > 0 {
		t.Fatalf("unexpected problems: %v", problems)
	}
	if _, ok := union.GetField("id"); !ok {
		t.Fatal("expected union to carry 'id'")
	}
	if _, ok := union.GetField("llm_summary"); !ok {
		t.Fatal("expected union to carry 'llm_summary' added by a later transform")
	}
}

func TestContractAwareRowContainsReflectsData(t *testing.T) {
	c := mustContract(t, SchemaModeFixed, []FieldContract{
		{NormalizedName: "optional_field", OriginalName: "Optional Field", Required: false},
	})
	row := &PipelineRow{Data: map[string]any{}, Contract: c}
	car := NewContractAwareRow(row)
	if car.Contains("Optional Field") {
		t.Fatal("expected Contains to reflect missing data despite contract declaring the field")
	}
	row.Data["optional_field"] = "x"
	if !car.Contains("Optional Field") {
		t.Fatal("expected Contains to find data once populated")
	}
}

func TestSchemaContractHashOrderIndependent(t *testing.T) {
	a := mustContract(t, SchemaModeFixed, []FieldContract{
		{NormalizedName: "a", Type: FieldType{Name: "int"}},
		{NormalizedName: "b", Type: FieldType{Name: "str"}},
	})
	b := mustContract(t, SchemaModeFixed, []FieldContract{
		{NormalizedName: "b", Type: FieldType{Name: "str"}},
		{NormalizedName: "a", Type: FieldType{Name: "int"}},
	})
	ha, _ := a.Hash()
	hb, _ := b.Hash()
	if ha != hb {
		t.Fatalf("expected order-independent schema hash, got %s != %s", ha, hb)
	}
}
