package skills

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Property types understood by InputSchema.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeArray   = "array"
)

// Property declares one input.
type Property struct {
	Type        string
	Description string
	Enum        []string
	Minimum     *float64
	Maximum     *float64
	Default     any
	// Items is the element type of an array; only scalar items are supported.
	Items *Property
}

// InputSchema is the declared input contract of a skill.
type InputSchema struct {
	Properties map[string]Property
	Required   []string
}

// Bound returns a pointer to v for Minimum/Maximum.
func Bound(v float64) *float64 { return &v }

// Args are validated skill inputs.
type Args map[string]any

// String returns the string at key, or "".
func (a Args) String(key string) string {
	s, _ := a[key].(string)
	return strings.TrimSpace(s)
}

// Int returns the integer at key, or def.
func (a Args) Int(key string, def int) int {
	if f, ok := a[key].(float64); ok {
		return int(f)
	}
	return def
}

// Bool returns the boolean at key, or def.
func (a Args) Bool(key string, def bool) bool {
	if b, ok := a[key].(bool); ok {
		return b
	}
	return def
}

// Strings returns the string list at key.
func (a Args) Strings(key string) []string {
	items, _ := a[key].([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Decode parses raw tool arguments and validates them. Empty input is an
// empty object. Defaults are filled in for absent properties.
func (s InputSchema) Decode(raw json.RawMessage) (Args, error) {
	raw = bytes.TrimSpace(raw)
	args := Args{}
	if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, newError(KindValidation, "arguments must be a JSON object")
		}
	}
	if err := s.Validate(args); err != nil {
		return nil, err
	}
	for name, p := range s.Properties {
		if _, ok := args[name]; !ok && p.Default != nil {
			args[name] = normalizeDefault(p.Default)
		}
	}
	return args, nil
}

// normalizeDefault stores Go ints as float64 so Args accessors see the
// same types JSON decoding produces.
func normalizeDefault(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return v
}

// Validate checks args against the rendered JSON schema: no unknown
// properties, every required property present and non-null, and each value
// of the declared type and within its enum and bounds. A null value counts
// as absent.
func (s InputSchema) Validate(args Args) error {
	sch, err := s.compiled()
	if err != nil {
		return newError(KindExecution, "invalid input schema: %v", err)
	}
	inst := make(map[string]any, len(args))
	for k, v := range args {
		if v != nil {
			inst[k] = v
		}
	}
	err = sch.Validate(inst)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return newError(KindValidation, "%v", err)
	}
	var problems []string
	collectProblems(verr, &problems)
	sort.Strings(problems)
	return newError(KindValidation, "%s", strings.Join(problems, "; "))
}

// schemas caches compiled schemas by their JSON rendering.
var schemas sync.Map

func (s InputSchema) compiled() (*jsonschema.Schema, error) {
	raw := s.JSONSchema()
	if sch, ok := schemas.Load(string(raw)); ok {
		return sch.(*jsonschema.Schema), nil
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("skill.json", doc); err != nil {
		return nil, err
	}
	sch, err := c.Compile("skill.json")
	if err != nil {
		return nil, err
	}
	schemas.Store(string(raw), sch)
	return sch, nil
}

// collectProblems flattens the leaf errors into messages the model can act on.
func collectProblems(verr *jsonschema.ValidationError, out *[]string) {
	if len(verr.Causes) > 0 {
		for _, c := range verr.Causes {
			collectProblems(c, out)
		}
		return
	}
	*out = append(*out, problem(verr.InstanceLocation, verr.ErrorKind)...)
}

func problem(loc []string, k jsonschema.ErrorKind) []string {
	var msgs []string
	switch k := k.(type) {
	case *kind.Required:
		for _, name := range k.Missing {
			msgs = append(msgs, fmt.Sprintf("%q is required", name))
		}
		return msgs
	case *kind.AdditionalProperties:
		for _, name := range k.Properties {
			msgs = append(msgs, fmt.Sprintf("unknown argument %q", name))
		}
		return msgs
	}

	var msg string
	switch k := k.(type) {
	case *kind.Type:
		msg = "must be " + article(k.Want)
	case *kind.Enum:
		want := make([]string, len(k.Want))
		for i, w := range k.Want {
			want[i] = fmt.Sprint(w)
		}
		msg = "must be one of " + strings.Join(want, ", ")
	case *kind.Minimum:
		f, _ := k.Want.Float64()
		msg = fmt.Sprintf("must be >= %g", f)
	case *kind.Maximum:
		f, _ := k.Want.Float64()
		msg = fmt.Sprintf("must be <= %g", f)
	default:
		msg = k.LocalizedString(message.NewPrinter(language.English))
	}
	if len(loc) == 0 {
		return []string{msg}
	}
	subject := fmt.Sprintf("%q", loc[0])
	for _, idx := range loc[1:] {
		subject += " item " + idx
	}
	return []string{subject + " " + msg}
}

// article renders a JSON type list as "a string", "an integer" and so on.
func article(types []string) string {
	out := make([]string, len(types))
	for i, t := range types {
		if strings.IndexAny(t[:1], "aeiou") == 0 {
			out[i] = "an " + t
		} else {
			out[i] = "a " + t
		}
	}
	return strings.Join(out, " or ")
}

// JSONSchema renders the schema as a JSON-schema object.
func (s InputSchema) JSONSchema() json.RawMessage {
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		props[name] = p.jsonSchema()
	}
	doc := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(s.Required) > 0 {
		doc["required"] = s.Required
	}
	b, _ := json.Marshal(doc)
	return b
}

func (p Property) jsonSchema() map[string]any {
	m := map[string]any{"type": p.Type}
	if p.Description != "" {
		m["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		m["enum"] = p.Enum
	}
	if p.Minimum != nil {
		m["minimum"] = *p.Minimum
	}
	if p.Maximum != nil {
		m["maximum"] = *p.Maximum
	}
	if p.Default != nil {
		m["default"] = p.Default
	}
	if p.Items != nil {
		m["items"] = p.Items.jsonSchema()
	}
	return m
}
