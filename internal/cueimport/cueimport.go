// Package cueimport reads a schema written in CUE and turns it into models
// and fields for the designer.
//
// Every definition is a model; its regular fields become fields. Types are
// inferred from the CUE kind and may be overridden with a @designer
// attribute:
//
//	// People who place orders.
//	#User: {
//		id:    int @designer(unique)
//		email: string @designer(type="email", max_length=254)
//		bio?:  string @designer(type="text")
//	}
//
//	#Order: {
//		id:      int
//		user_id: #User.id @designer(rel="1:M")
//	}
//
// A field whose value refers to a field of another definition gets
// relationship_data pointing at it. Relationships can also be listed
// explicitly:
//
//	relationships: [{from: "Order.user_id", to: "User.id", type: "1:M"}]
package cueimport

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/matthewbaird/schemacanvas/internal/types"
)

// AttrKey is the attribute that carries field overrides.
const AttrKey = "designer"

// Model is one model read from the schema, with its fields in source order.
type Model struct {
	Input  types.ModelInput   `json:"model" yaml:"model"`
	Fields []types.FieldInput `json:"fields" yaml:"fields"`
}

// Schema is the parsed content of a CUE schema.
type Schema struct {
	Models []Model `json:"models" yaml:"models"`
}

// Model returns the model with the given name.
func (s *Schema) Model(name string) (*Model, bool) {
	for i := range s.Models {
		if s.Models[i].Input.Name == name {
			return &s.Models[i], true
		}
	}
	return nil, false
}

// LoadFile parses a .cue file, or every file of the CUE package in a
// directory.
func LoadFile(path string) (Schema, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Schema{}, err
	}
	ctx := cuecontext.New()

	if info.IsDir() {
		insts := load.Instances([]string{"."}, &load.Config{Dir: path})
		if len(insts) == 0 {
			return Schema{}, fmt.Errorf("no CUE instances found in %s", path)
		}
		if insts[0].Err != nil {
			return Schema{}, fmt.Errorf("loading CUE: %w", insts[0].Err)
		}
		val := ctx.BuildInstance(insts[0])
		if val.Err() != nil {
			return Schema{}, fmt.Errorf("building CUE value: %w", val.Err())
		}
		return parseValue(val)
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, err
	}
	return parse(ctx, src, filepath.Base(path))
}

// Parse reads a schema from CUE source.
func Parse(src []byte, filename string) (Schema, error) {
	return parse(cuecontext.New(), src, filename)
}

func parse(ctx *cue.Context, src []byte, filename string) (Schema, error) {
	val := ctx.CompileBytes(src, cue.Filename(filename))
	if val.Err() != nil {
		return Schema{}, fmt.Errorf("compiling %s: %w", filename, val.Err())
	}
	return parseValue(val)
}

func parseValue(val cue.Value) (Schema, error) {
	var s Schema

	iter, err := val.Fields(cue.Definitions(true))
	if err != nil {
		return Schema{}, err
	}
	for iter.Next() {
		sel := iter.Selector()
		if !sel.IsDefinition() {
			continue
		}
		def := iter.Value()
		if def.IncompleteKind() != cue.StructKind {
			continue
		}
		name := strings.TrimPrefix(sel.String(), "#")
		m := Model{Input: types.ModelInput{
			Name:        name,
			Description: docText(def),
			Order:       len(s.Models),
		}}
		fields, err := parseFields(name, def)
		if err != nil {
			return Schema{}, err
		}
		m.Fields = fields
		s.Models = append(s.Models, m)
	}

	if err := parseRelationships(val, &s); err != nil {
		return Schema{}, err
	}
	if err := check(&s); err != nil {
		return Schema{}, err
	}
	return s, nil
}

// parseFields extracts the regular fields of a definition.
func parseFields(model string, def cue.Value) ([]types.FieldInput, error) {
	var out []types.FieldInput

	iter, err := def.Fields(cue.Optional(true))
	if err != nil {
		return nil, err
	}
	for iter.Next() {
		label := strings.TrimSuffix(iter.Selector().String(), "?")
		if strings.HasPrefix(label, "_") {
			continue
		}
		fi, err := classifyField(label, iter.Value(), iter.IsOptional())
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", model, label, err)
		}
		fi.Order = len(out)
		out = append(out, fi)
	}
	return out, nil
}

// classifyField maps a CUE value onto a field input.
func classifyField(name string, val cue.Value, optional bool) (types.FieldInput, error) {
	fi := types.FieldInput{
		Name:     name,
		Null:     optional,
		Blank:    optional,
		HelpText: docText(val),
	}

	if ref, ok := findReference(val); ok {
		fi.RelationshipData = &types.RelationshipData{RelationshipType: types.OneToMany, References: ref}
	}

	kind := val.IncompleteKind()
	switch {
	case isTimeField(val):
		fi.FieldType = types.FieldDateTime
	case kind == cue.StringKind:
		fi.FieldType = types.FieldChar
	case kind == cue.IntKind:
		fi.FieldType = types.FieldInteger
	case kind == cue.FloatKind:
		fi.FieldType = types.FieldFloat
	case kind == cue.NumberKind:
		fi.FieldType = types.FieldDecimal
	case kind == cue.BoolKind:
		fi.FieldType = types.FieldBoolean
	case kind == cue.ListKind, kind == cue.StructKind:
		fi.FieldType = types.FieldJSON
	}

	if d, ok := val.Default(); ok && d.IsConcrete() {
		fi.DefaultValue = concreteString(d)
	}

	if err := applyAttribute(&fi, val); err != nil {
		return types.FieldInput{}, err
	}
	if fi.FieldType == "" {
		return types.FieldInput{}, fmt.Errorf("cannot infer a field type from %v", kind)
	}
	return fi, nil
}

// applyAttribute reads @designer(type=, max_length=, unique, null, rel=, help=).
func applyAttribute(fi *types.FieldInput, val cue.Value) error {
	attr := val.Attribute(AttrKey)
	if attr.Err() != nil {
		// No attribute.
		return nil
	}

	if v, ok, err := attr.Lookup(0, "type"); err != nil {
		return err
	} else if ok {
		ft := types.FieldType(v)
		if !ft.Known() {
			return fmt.Errorf("unknown field type %q", v)
		}
		fi.FieldType = ft
	}
	if v, ok, err := attr.Lookup(0, "max_length"); err != nil {
		return err
	} else if ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("max_length %q is not a positive integer", v)
		}
		fi.MaxLength = &n
	}
	if v, ok, err := attr.Lookup(0, "help"); err != nil {
		return err
	} else if ok {
		fi.HelpText = v
	}
	if v, ok, err := attr.Lookup(0, "rel"); err != nil {
		return err
	} else if ok {
		rt := types.RelationshipType(v)
		if !rt.Valid() {
			return fmt.Errorf("unknown relationship type %q", v)
		}
		if fi.RelationshipData == nil {
			return fmt.Errorf("rel=%q on a field that references nothing", v)
		}
		fi.RelationshipData.RelationshipType = rt
	}
	for _, flag := range []struct {
		key string
		dst *bool
	}{{"unique", &fi.Unique}, {"null", &fi.Null}, {"blank", &fi.Blank}} {
		set, err := attr.Flag(0, flag.key)
		if err != nil {
			return err
		}
		if set {
			*flag.dst = true
		}
	}
	return nil
}

// findReference returns the definition field a value refers to, as in
// `user_id: #User.id`.
func findReference(val cue.Value) (types.Reference, bool) {
	_, path := val.ReferencePath()
	if sels := path.Selectors(); len(sels) >= 2 && sels[0].IsDefinition() {
		return types.Reference{
			Model: strings.TrimPrefix(sels[0].String(), "#"),
			Field: strings.TrimSuffix(sels[len(sels)-1].String(), "?"),
		}, true
	}

	op, args := val.Expr()
	if op == cue.AndOp {
		for _, arg := range args {
			if ref, ok := findReference(arg); ok {
				return ref, true
			}
		}
	}
	return types.Reference{}, false
}

// isTimeField reports whether the value is constrained by time.Time.
func isTimeField(val cue.Value) bool {
	op, args := val.Expr()
	switch op {
	case cue.SelectorOp:
		if len(args) >= 2 {
			if s, err := args[1].String(); err == nil && s == "Time" {
				return true
			}
		}
	case cue.AndOp:
		for _, arg := range args {
			if isTimeField(arg) {
				return true
			}
		}
	case cue.CallOp:
		if len(args) > 0 {
			_, path := args[0].ReferencePath()
			if strings.HasSuffix(path.String(), "Time") {
				return true
			}
		}
	}
	return false
}

// parseRelationships reads the optional top-level relationships list.
func parseRelationships(val cue.Value, s *Schema) error {
	list := val.LookupPath(cue.ParsePath("relationships"))
	if !list.Exists() {
		return nil
	}
	iter, err := list.List()
	if err != nil {
		return fmt.Errorf("relationships: %w", err)
	}
	for i := 0; iter.Next(); i++ {
		rel := iter.Value()
		from, _ := rel.LookupPath(cue.ParsePath("from")).String()
		to, _ := rel.LookupPath(cue.ParsePath("to")).String()
		typ, err := rel.LookupPath(cue.ParsePath("type")).String()
		if err != nil {
			typ = string(types.OneToMany)
		}

		fm, ff, ok1 := strings.Cut(from, ".")
		tm, tf, ok2 := strings.Cut(to, ".")
		if !ok1 || !ok2 {
			return fmt.Errorf("relationships[%d]: from and to must be Model.field", i)
		}
		rt := types.RelationshipType(typ)
		if !rt.Valid() {
			return fmt.Errorf("relationships[%d]: unknown type %q", i, typ)
		}
		m, ok := s.Model(fm)
		if !ok {
			return fmt.Errorf("relationships[%d]: unknown model %q", i, fm)
		}
		found := false
		for j := range m.Fields {
			if m.Fields[j].Name == ff {
				m.Fields[j].RelationshipData = &types.RelationshipData{
					RelationshipType: rt,
					References:       types.Reference{Model: tm, Field: tf},
				}
				found = true
			}
		}
		if !found {
			return fmt.Errorf("relationships[%d]: unknown field %s.%s", i, fm, ff)
		}
	}
	return nil
}

// check validates every reference against the parsed models.
func check(s *Schema) error {
	for _, m := range s.Models {
		for _, f := range m.Fields {
			rd := f.RelationshipData
			if rd == nil {
				continue
			}
			target, ok := s.Model(rd.References.Model)
			if !ok {
				return fmt.Errorf("%s.%s references unknown model %s", m.Input.Name, f.Name, rd.References.Model)
			}
			hit := false
			for _, tf := range target.Fields {
				hit = hit || tf.Name == rd.References.Field
			}
			if !hit {
				return fmt.Errorf("%s.%s references unknown field %s.%s", m.Input.Name, f.Name, rd.References.Model, rd.References.Field)
			}
			if target.Input.Name == m.Input.Name && rd.References.Field == f.Name {
				return fmt.Errorf("%s.%s references itself", m.Input.Name, f.Name)
			}
		}
	}
	return nil
}

func docText(val cue.Value) string {
	var parts []string
	for _, cg := range val.Doc() {
		if t := strings.TrimSpace(cg.Text()); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func concreteString(v cue.Value) string {
	switch v.Kind() {
	case cue.StringKind:
		s, _ := v.String()
		return s
	case cue.BoolKind:
		b, _ := v.Bool()
		return strconv.FormatBool(b)
	case cue.IntKind:
		n, _ := v.Int64()
		return strconv.FormatInt(n, 10)
	case cue.FloatKind, cue.NumberKind:
		f, _ := v.Float64()
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return ""
}
