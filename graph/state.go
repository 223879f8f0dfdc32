package graph

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// Kind is the value type declared for a state field.
type Kind int

const (
	// KindAny accepts any JSON value.
	KindAny Kind = iota
	// KindString accepts strings.
	KindString
	// KindNumber accepts numbers (stored as float64).
	KindNumber
	// KindBool accepts booleans.
	KindBool
	// KindList accepts lists (stored as []any).
	KindList
	// KindMap accepts string-keyed maps (stored as map[string]any).
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "any"
	}
}

// MergePolicy decides how a partial update combines with the current value.
type MergePolicy int

const (
	// Replace is last-write-wins. A nil value in a delta clears the field.
	Replace MergePolicy = iota

	// Accumulate appends lists and merges map keys. Concurrent updates from a
	// fan-out are applied in spawn order, so accumulated lists are
	// deterministic.
	Accumulate
)

func (p MergePolicy) String() string {
	if p == Accumulate {
		return "accumulate"
	}
	return "replace"
}

// Field declares one state field.
type Field struct {
	Name   string
	Kind   Kind
	Policy MergePolicy
}

// Schema is the ordered set of fields a graph's state may hold.
//
// A schema is declared once when the graph is built and is immutable
// afterwards. Every partial update a node returns is checked against it:
// unknown fields and values of the wrong kind are rejected rather than
// silently stored.
//
// Example:
//
//	schema := graph.MustSchema(
//	    graph.Field{Name: "query", Kind: graph.KindString},
//	    graph.Field{Name: "results", Kind: graph.KindList, Policy: graph.Accumulate},
//	)
type Schema struct {
	fields []Field
	index  map[string]int
}

// NewSchema validates and builds a schema.
//
// Returns error if a field name is empty or repeated, or if Accumulate is
// declared on a field that is not a list or map.
func NewSchema(fields ...Field) (*Schema, error) {
	s := &Schema{
		fields: make([]Field, 0, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for _, f := range fields {
		if f.Name == "" {
			return nil, &EngineError{Message: "schema field name cannot be empty", Code: "INVALID_SCHEMA"}
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, &EngineError{Message: "duplicate schema field: " + f.Name, Code: "INVALID_SCHEMA"}
		}
		if f.Policy == Accumulate && f.Kind != KindList && f.Kind != KindMap {
			return nil, &EngineError{
				Message: fmt.Sprintf("field %s: accumulate requires a list or map, got %s", f.Name, f.Kind),
				Code:    "INVALID_SCHEMA",
			}
		}
		s.index[f.Name] = len(s.fields)
		s.fields = append(s.fields, f)
	}
	return s, nil
}

// MustSchema is like NewSchema but panics on error. Use it for package-level
// schema declarations.
func MustSchema(fields ...Field) *Schema {
	s, err := NewSchema(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Fields returns the declared fields in declaration order.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Field looks up a field by name.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// Has reports whether the schema declares the field.
func (s *Schema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Validate checks that every key in st is declared and holds a value of the
// declared kind.
func (s *Schema) Validate(st State) error {
	norm, err := normalizeState(st)
	if err != nil {
		return err
	}
	for _, k := range norm.Keys() {
		f, ok := s.Field(k)
		if !ok {
			return fmt.Errorf("unknown state field %q", k)
		}
		if err := checkKind(f, norm[k]); err != nil {
			return err
		}
	}
	return nil
}

// Merge applies a partial update to prev and returns the merged state.
//
// prev is never modified. Each key of delta is combined according to its
// field's policy: Replace overwrites (nil deletes), Accumulate appends lists
// or merges maps (nil is a no-op).
func (s *Schema) Merge(prev, delta State) (State, error) {
	norm, err := normalizeState(delta)
	if err != nil {
		return nil, err
	}

	out := make(State, len(prev)+len(norm))
	for k, v := range prev {
		out[k] = v
	}

	for _, k := range norm.Keys() {
		f, ok := s.Field(k)
		if !ok {
			return nil, fmt.Errorf("unknown state field %q", k)
		}
		v := norm[k]
		if err := checkKind(f, v); err != nil {
			return nil, err
		}

		if f.Policy == Replace {
			if v == nil {
				delete(out, k)
			} else {
				out[k] = v
			}
			continue
		}

		if v == nil {
			continue
		}
		switch f.Kind {
		case KindList:
			cur, _ := out[k].([]any)
			merged := make([]any, 0, len(cur)+len(v.([]any)))
			merged = append(merged, cur...)
			merged = append(merged, v.([]any)...)
			out[k] = merged
		case KindMap:
			cur, _ := out[k].(map[string]any)
			merged := make(map[string]any, len(cur)+len(v.(map[string]any)))
			for mk, mv := range cur {
				merged[mk] = mv
			}
			for mk, mv := range v.(map[string]any) {
				merged[mk] = mv
			}
			out[k] = merged
		}
	}

	return out, nil
}

// Project returns a copy of st restricted to the named fields. Fields that
// are not set in st are omitted. Naming a field the schema does not declare
// is an error.
func (s *Schema) Project(st State, fields ...string) (State, error) {
	out := make(State, len(fields))
	for _, f := range fields {
		if !s.Has(f) {
			return nil, fmt.Errorf("unknown state field %q", f)
		}
		if v, ok := st[f]; ok {
			out[f] = v
		}
	}
	return out.Clone(), nil
}

// Restrict drops every key of st that the schema does not declare.
func (s *Schema) Restrict(st State) State {
	out := make(State, len(st))
	for k, v := range st {
		if s.Has(k) {
			out[k] = v
		}
	}
	return out
}

func checkKind(f Field, v any) error {
	if v == nil || f.Kind == KindAny {
		return nil
	}
	ok := false
	switch f.Kind {
	case KindString:
		_, ok = v.(string)
	case KindNumber:
		_, ok = v.(float64)
	case KindBool:
		_, ok = v.(bool)
	case KindList:
		_, ok = v.([]any)
	case KindMap:
		_, ok = v.(map[string]any)
	}
	if !ok {
		return fmt.Errorf("field %q: expected %s, got %T", f.Name, f.Kind, v)
	}
	return nil
}

// State is the record threaded through a graph: field name to value.
//
// Values are held in their JSON shapes (string, float64, bool, []any,
// map[string]any) once they pass through Schema.Merge, which keeps a live
// state and one restored from a checkpoint indistinguishable. Node bodies
// receive their own copy and return a sparse State as their delta.
type State map[string]any

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	if s == nil {
		return State{}
	}
	c, err := normalizeState(s)
	if err != nil {
		// normalizeState only fails on values JSON cannot represent, which
		// never pass Merge; fall back to a shallow copy.
		out := make(State, len(s))
		for k, v := range s {
			out[k] = v
		}
		return out
	}
	return c
}

// Keys returns the field names present in the state, sorted.
func (s State) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether the field is set.
func (s State) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Get returns the raw value of a field.
func (s State) Get(key string) any {
	return s[key]
}

// String returns a string field, or "" if unset or not a string.
func (s State) String(key string) string {
	v, _ := s[key].(string)
	return v
}

// Float returns a numeric field as float64.
func (s State) Float(key string) float64 {
	switch v := s[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// Int returns a numeric field truncated to int.
func (s State) Int(key string) int {
	return int(s.Float(key))
}

// Bool returns a boolean field.
func (s State) Bool(key string) bool {
	v, _ := s[key].(bool)
	return v
}

// List returns a list field.
func (s State) List(key string) []any {
	switch v := s[key].(type) {
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, x := range v {
			out[i] = x
		}
		return out
	}
	return nil
}

// Strings returns the string elements of a list field.
func (s State) Strings(key string) []string {
	if v, ok := s[key].([]string); ok {
		return append([]string(nil), v...)
	}
	list := s.List(key)
	out := make([]string, 0, len(list))
	for _, x := range list {
		if str, ok := x.(string); ok {
			out = append(out, str)
		}
	}
	return out
}

// Map returns a map field.
func (s State) Map(key string) map[string]any {
	v, _ := s[key].(map[string]any)
	return v
}

// Equal reports whether two states hold the same values after
// normalization.
func (s State) Equal(other State) bool {
	a, errA := normalizeState(s)
	b, errB := normalizeState(other)
	if errA != nil || errB != nil {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// normalizeState converts every value to its JSON shape.
func normalizeState(s State) (State, error) {
	if len(s) == 0 {
		return State{}, nil
	}
	data, err := json.Marshal(map[string]any(s))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	var out State
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return out, nil
}
