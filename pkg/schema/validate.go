package schema

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/aretw0/interplay/pkg/domain"
)

// Field is one compiled configuration property.
type Field struct {
	Name        string
	Type        Type
	Required    bool
	Default     any
	Enum        []any
	Description string
}

// Schema is a compiled domain.ConfigSchema, ready to validate module configs.
type Schema struct {
	fields map[string]Field
}

// Compile parses every property type of cs and checks that defaults and enum
// members conform to their declared type. Required keys without a property
// declaration are accepted as type "any".
func Compile(cs domain.ConfigSchema) (*Schema, error) {
	s := &Schema{fields: make(map[string]Field, len(cs.Properties))}
	var errs []error

	for name, prop := range cs.Properties {
		typ, err := ParseType(prop.Type)
		if err != nil {
			errs = append(errs, &ValidationError{Key: name, Reason: err.Error()})
			continue
		}
		f := Field{
			Name:        name,
			Type:        typ,
			Default:     prop.Default,
			Enum:        prop.Enum,
			Description: prop.Description,
		}
		if f.Default != nil {
			if err := typ.Validate(f.Default); err != nil {
				errs = append(errs, &ValidationError{Key: name, Reason: "default: " + err.Error(), Value: f.Default})
			}
		}
		for _, e := range f.Enum {
			if err := typ.Validate(e); err != nil {
				errs = append(errs, &ValidationError{Key: name, Reason: "enum: " + err.Error(), Value: e})
			}
		}
		s.fields[name] = f
	}

	for _, name := range cs.Required {
		f, ok := s.fields[name]
		if !ok {
			f = Field{Name: name, Type: Any()}
		}
		f.Required = true
		s.fields[name] = f
	}

	if len(errs) > 0 {
		sortErrors(errs)
		return nil, &AggregateError{Errors: errs}
	}
	return s, nil
}

// Fields returns the compiled fields sorted by name.
func (s *Schema) Fields() []Field {
	out := make([]Field, 0, len(s.fields))
	for _, f := range s.fields {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Apply validates cfg and returns a copy with schema defaults filled in.
// Keys not declared by the schema are passed through untouched.
// The input map is never mutated.
func (s *Schema) Apply(cfg map[string]any) (domain.ModuleConfig, error) {
	out := domain.ModuleConfig(cfg).Clone()
	if out == nil {
		out = domain.ModuleConfig{}
	}
	if s == nil {
		return out, nil
	}

	var errs []error
	for name, f := range s.fields {
		value, exists := out[name]
		if !exists || value == nil {
			if f.Default != nil {
				out[name] = f.Default
				continue
			}
			delete(out, name)
			if f.Required {
				errs = append(errs, &ValidationError{Key: name, Reason: "required"})
			}
			continue
		}

		if err := f.Type.Validate(value); err != nil {
			errs = append(errs, &ValidationError{Key: name, Reason: err.Error(), Value: value})
			continue
		}
		if len(f.Enum) > 0 && !inEnum(value, f.Enum) {
			errs = append(errs, &ValidationError{
				Key:    name,
				Reason: fmt.Sprintf("must be one of %v", f.Enum),
				Value:  value,
			})
		}
	}

	if len(errs) > 0 {
		sortErrors(errs)
		return nil, &AggregateError{Errors: errs}
	}
	return out, nil
}

func inEnum(value any, enum []any) bool {
	for _, e := range enum {
		if reflect.DeepEqual(value, e) || fmt.Sprint(value) == fmt.Sprint(e) {
			return true
		}
	}
	return false
}

// sortErrors keeps aggregate messages stable across map iteration orders.
func sortErrors(errs []error) {
	sort.SliceStable(errs, func(i, j int) bool {
		return errs[i].Error() < errs[j].Error()
	})
}
