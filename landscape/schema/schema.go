// Package schema lets a plugin declare its row contract as a JSON Schema
// document instead of hand-written Go structs (spec §4.2: "a plugin may
// supply a JSON Schema document at registration and Landscape compiles it
// once and derives FieldContract entries from it"). It is a thin adapter
// over github.com/santhosh-tekuri/jsonschema/v5 feeding
// landscape.NewSchemaContract.
package schema

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/landscaperun/landscape/landscape"
)

// Compile parses and compiles a JSON Schema document once, the same
// compile-once pattern the pack uses for reusable tool-call schemas
// (see DESIGN.md). name is the resource URL the compiler registers the
// document under; it need not resolve to anything, it only has to be
// unique within one Compiler's lifetime.
func Compile(name string, document []byte) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, bytes.NewReader(document)); err != nil {
		return nil, fmt.Errorf("schema: add resource %s: %w", name, err)
	}
	compiled, err := c.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("schema: compile %s: %w", name, err)
	}
	return compiled, nil
}

// FieldContracts derives a sorted list of landscape.FieldContract entries
// from compiled's top-level object properties, each marked
// FieldSourceDeclared (spec §4.2). Only schemas with a "properties" map
// are supported — a schema with no object shape has nothing for a row
// contract to declare.
func FieldContracts(compiled *jsonschema.Schema) ([]landscape.FieldContract, error) {
	if len(compiled.Properties) == 0 {
		return nil, fmt.Errorf("schema: %s declares no object properties to derive fields from", compiled.Location)
	}
	required := make(map[string]bool, len(compiled.Required))
	for _, name := range compiled.Required {
		required[name] = true
	}

	fields := make([]landscape.FieldContract, 0, len(compiled.Properties))
	for name, prop := range compiled.Properties {
		fields = append(fields, landscape.FieldContract{
			NormalizedName: landscape.NormalizeFieldName(name),
			OriginalName:   name,
			Type:           fieldType(prop),
			Required:       required[name],
			Source:         landscape.FieldSourceDeclared,
		})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].OriginalName < fields[j].OriginalName })
	return fields, nil
}

// CompileContract is the one-call convenience path: compile document and
// lock the derived fields into a landscape.SchemaContract under mode.
func CompileContract(name string, document []byte, mode landscape.SchemaMode) (*landscape.SchemaContract, error) {
	compiled, err := Compile(name, document)
	if err != nil {
		return nil, err
	}
	fields, err := FieldContracts(compiled)
	if err != nil {
		return nil, err
	}
	contract, problems := landscape.NewSchemaContract(mode, fields)
	if len(problems) > 0 {
		return nil, fmt.Errorf("schema: %s: %v", name, problems)
	}
	return contract, nil
}

// fieldType maps a JSON Schema property's declared type(s) onto
// landscape.FieldType, applying spec §4.2's vocabulary. A property with no
// "type" keyword is treated as "any". A two-member type list of "null"
// and one other type, in either order, becomes the non-null member marked
// Optional, matching JSON
// Schema's conventional way of spelling `T | None`; any other multi-type
// list becomes a Union.
func fieldType(prop *jsonschema.Schema) landscape.FieldType {
	if len(prop.Types) == 0 {
		return landscape.FieldType{Name: "any"}
	}
	if len(prop.Types) == 1 {
		return landscape.FieldType{Name: mapPrimitive(prop.Types[0])}
	}

	hasNull := false
	var nonNull []string
	for _, t := range prop.Types {
		if t == "null" {
			hasNull = true
			continue
		}
		nonNull = append(nonNull, t)
	}
	if len(nonNull) == 1 && hasNull {
		return landscape.FieldType{Name: mapPrimitive(nonNull[0]), Optional: true}
	}

	members := make([]landscape.FieldType, 0, len(nonNull))
	for _, t := range nonNull {
		members = append(members, landscape.FieldType{Name: mapPrimitive(t)})
	}
	return landscape.FieldType{Name: "union", Union: members, Optional: hasNull}
}

func mapPrimitive(jsonType string) string {
	switch jsonType {
	case "integer":
		return "int"
	case "number":
		return "float"
	case "string":
		return "str"
	case "boolean":
		return "bool"
	case "object":
		return "dict"
	case "array":
		return "list"
	default:
		return jsonType
	}
}
