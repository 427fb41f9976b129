package erp

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Condition is one domain clause, serialized as the ERP's [field, operator, value] triple.
type Condition struct {
	Field    string
	Operator string
	Value    any
}

// Cond is shorthand for building a Condition.
func Cond(field, op string, value any) Condition {
	return Condition{Field: field, Operator: op, Value: value}
}

func (c Condition) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{c.Field, c.Operator, c.Value})
}

func (c *Condition) UnmarshalJSON(data []byte) error {
	var triple []any
	if err := json.Unmarshal(data, &triple); err != nil {
		return err
	}
	if len(triple) != 3 {
		return fmt.Errorf("domain clause must have 3 elements, got %d", len(triple))
	}
	field, ok1 := triple[0].(string)
	op, ok2 := triple[1].(string)
	if !ok1 || !ok2 {
		return fmt.Errorf("domain clause field and operator must be strings")
	}
	*c = Condition{Field: field, Operator: op, Value: triple[2]}
	return nil
}

func (c Condition) String() string {
	v, _ := json.Marshal(c.Value)
	return fmt.Sprintf("[%q, %q, %s]", c.Field, c.Operator, v)
}

// Domain is a conjunction of conditions. A nil Domain matches every record.
type Domain []Condition

func (d Domain) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Condition(d))
}

// Has reports whether any condition targets field.
func (d Domain) Has(field string) bool {
	for _, c := range d {
		if c.Field == field {
			return true
		}
	}
	return false
}

// Record is one row as returned by the ERP. Values are loosely typed; use
// the accessors instead of asserting directly.
type Record map[string]any

// String returns the string value of key, or "" when absent or not a string.
func (r Record) String(key string) string {
	if s, ok := r[key].(string); ok {
		return s
	}
	return ""
}

// Float returns key as a number. The ERP sends false for empty numerics.
func (r Record) Float(key string) (float64, bool) {
	switch v := r[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

// Int returns key as an integer.
func (r Record) Int(key string) (int, bool) {
	f, ok := r.Float(key)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// Many2One decodes a relational [id, display_name] pair.
func (r Record) Many2One(key string) (int, string, bool) {
	pair, ok := r[key].([]any)
	if !ok || len(pair) != 2 {
		return 0, "", false
	}
	id, ok := pair[0].(float64)
	if !ok {
		return 0, "", false
	}
	name, _ := pair[1].(string)
	return int(id), name, true
}
