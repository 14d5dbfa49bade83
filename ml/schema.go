package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

type FieldKind string

const (
	Categorical FieldKind = "categorical"
	Numeric     FieldKind = "numeric"
)

// LabelField is the codec key of the predicted species.
const LabelField = "species"

// Field describes one input column. Values is the closed token set of a
// categorical field; Min/Max bound the plausible range of a numeric field.
type Field struct {
	Name   string    `json:"name"`
	Kind   FieldKind `json:"kind"`
	Values []string  `json:"values,omitempty"`
	Min    float64   `json:"min,omitempty"`
	Max    float64   `json:"max,omitempty"`
	Unit   string    `json:"unit,omitempty"`
}

func (f Field) allows(token string) bool {
	for _, v := range f.Values {
		if v == token {
			return true
		}
	}
	return false
}

// Schema is the ordered field list shared by training and inference. The
// classifier is order-sensitive, so the order here is the feature vector order.
type Schema struct {
	fields []Field
	index  map[string]int
}

func NewSchema(fields ...Field) (*Schema, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("schema has no fields")
	}
	s := &Schema{
		fields: make([]Field, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("field %d has no name", i)
		}
		if f.Name == LabelField {
			return nil, fmt.Errorf("field name %s is reserved for the label", LabelField)
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, fmt.Errorf("duplicate field %s", f.Name)
		}
		switch f.Kind {
		case Categorical:
			if len(f.Values) == 0 {
				return nil, fmt.Errorf("categorical field %s has no legal values", f.Name)
			}
		case Numeric:
			if f.Max < f.Min {
				return nil, fmt.Errorf("numeric field %s has min > max", f.Name)
			}
		default:
			return nil, fmt.Errorf("field %s has unknown kind %q", f.Name, f.Kind)
		}
		f.Values = append([]string(nil), f.Values...)
		s.fields[i] = f
		s.index[f.Name] = i
	}
	return s, nil
}

// PlantSchema returns the site-condition schema the recommender is trained on.
func PlantSchema() *Schema {
	levels := []string{"Low", "Medium", "High"}
	s, err := NewSchema(
		Field{Name: "soil_type", Kind: Categorical, Values: []string{"Sandy", "Clay", "Loamy", "Silty"}},
		Field{Name: "light", Kind: Categorical, Values: []string{"High", "Medium", "Low"}},
		Field{Name: "moisture", Kind: Categorical, Values: []string{"High", "Medium", "Low"}},
		Field{Name: "temperature", Kind: Numeric, Min: -10, Max: 60, Unit: "°C"},
		Field{Name: "disturbance", Kind: Categorical, Values: levels},
		Field{Name: "human_interference", Kind: Categorical, Values: levels},
		Field{Name: "ph", Kind: Numeric, Min: 0, Max: 14},
	)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

func (s *Schema) Names() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name
	}
	return names
}

func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

func (s *Schema) Len() int { return len(s.fields) }

// RawInput maps field names to caller-supplied values: strings for
// categorical fields, numbers (or numeric strings) for numeric fields.
type RawInput map[string]interface{}

// Value is one validated field.
type Value struct {
	Name   string
	Kind   FieldKind
	Token  string
	Number float64
}

func (v Value) String() string {
	if v.Kind == Numeric {
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	}
	return v.Token
}

// ValidatedInput holds one record in schema order.
type ValidatedInput struct {
	values []Value
}

func (in ValidatedInput) Values() []Value {
	out := make([]Value, len(in.values))
	copy(out, in.values)
	return out
}

func (in ValidatedInput) Get(name string) (Value, bool) {
	for _, v := range in.values {
		if v.Name == name {
			return v, true
		}
	}
	return Value{}, false
}

// Key is a canonical string for the record, stable across map orderings.
func (in ValidatedInput) Key() string {
	var b strings.Builder
	for i, v := range in.values {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(v.Name)
		b.WriteByte('=')
		b.WriteString(v.String())
	}
	return b.String()
}

func (in ValidatedInput) Raw() RawInput {
	raw := make(RawInput, len(in.values))
	for _, v := range in.values {
		if v.Kind == Numeric {
			raw[v.Name] = v.Number
		} else {
			raw[v.Name] = v.Token
		}
	}
	return raw
}

// Validate checks raw against the schema and returns the record in schema
// order. Token normalization (trimming, casing) is up to the caller.
func (s *Schema) Validate(raw RawInput) (ValidatedInput, error) {
	values := make([]Value, 0, len(s.fields))
	for _, f := range s.fields {
		v, err := f.validate(raw[f.Name])
		if err != nil {
			return ValidatedInput{}, err
		}
		values = append(values, v)
	}

	if len(raw) > len(s.fields) {
		extra := make([]string, 0)
		for name := range raw {
			if _, ok := s.index[name]; !ok {
				extra = append(extra, name)
			}
		}
		sort.Strings(extra)
		return ValidatedInput{}, &SchemaViolation{Field: extra[0], Reason: "unknown field"}
	}
	return ValidatedInput{values: values}, nil
}

// ValidateField checks a single value, including its numeric range, so an
// interactive caller can re-ask for just that field.
func (s *Schema) ValidateField(name string, raw interface{}) (Value, error) {
	f, ok := s.Field(name)
	if !ok {
		return Value{}, &SchemaViolation{Field: name, Reason: "unknown field"}
	}
	v, err := f.validate(raw)
	if err != nil {
		return Value{}, err
	}
	return v, f.checkRange(v)
}

func (f Field) validate(raw interface{}) (Value, error) {
	if raw == nil {
		return Value{}, &SchemaViolation{Field: f.Name, Reason: "required field is missing"}
	}
	switch f.Kind {
	case Categorical:
		token, ok := raw.(string)
		if !ok {
			return Value{}, &SchemaViolation{Field: f.Name, Value: raw, Reason: "must be a string"}
		}
		if !f.allows(token) {
			return Value{}, &SchemaViolation{
				Field:  f.Name,
				Value:  token,
				Reason: "must be one of " + strings.Join(f.Values, ", "),
			}
		}
		return Value{Name: f.Name, Kind: Categorical, Token: token}, nil
	default:
		n, ok := toNumber(raw)
		if !ok {
			return Value{}, &SchemaViolation{Field: f.Name, Value: raw, Reason: "must be a finite number"}
		}
		return Value{Name: f.Name, Kind: Numeric, Number: n}, nil
	}
}

func (f Field) checkRange(v Value) error {
	if v.Kind != Numeric || (v.Number >= f.Min && v.Number <= f.Max) {
		return nil
	}
	return &SchemaViolation{
		Field:  v.Name,
		Value:  v.Number,
		Reason: fmt.Sprintf("must be between %g and %g", f.Min, f.Max),
	}
}

// CheckRanges reports the first numeric value outside its plausible range.
// The classifier itself accepts any number; entry points call this.
func (s *Schema) CheckRanges(in ValidatedInput) error {
	for _, v := range in.values {
		f, ok := s.Field(v.Name)
		if !ok {
			continue
		}
		if err := f.checkRange(v); err != nil {
			return err
		}
	}
	return nil
}

func toNumber(v interface{}) (float64, bool) {
	var n float64
	switch x := v.(type) {
	case float64:
		n = x
	case float32:
		n = float64(x)
	case int:
		n = float64(x)
	case int64:
		n = float64(x)
	case int32:
		n = float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, false
		}
		n = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		n = f
	default:
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}
