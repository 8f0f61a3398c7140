package workitem

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Well-known field names. The store imposes no schema; these are the names
// the import process and the step processors agree on.
const (
	FieldTitle         = "title"
	FieldDescription   = "description"
	FieldSourceURL     = "source_url"
	FieldMediaPath     = "media_path"
	FieldUserPrompt    = "user_prompt"
	FieldDuration      = "duration"
	FieldFormat        = "format"
	FieldResolution    = "resolution"
	FieldTags          = "tags"
	FieldThumbnail     = "thumbnail_path"
	FieldQualityScore  = "quality_score"
	FieldQualityPassed = "quality_passed"
	FieldChildCount    = "child_count"
	FieldAuditLog      = "processing_log"
)

// Fields is an ordered name → value mapping. The record store returns fields
// in a stable order and full-field overwrites must preserve it, so a plain
// map is not enough.
type Fields struct {
	keys   []string
	values map[string]string
}

// NewFields builds an ordered field set from alternating name/value pairs.
func NewFields(pairs ...string) Fields {
	f := Fields{}
	for i := 0; i+1 < len(pairs); i += 2 {
		f.Set(pairs[i], pairs[i+1])
	}
	return f
}

// Get returns the value for name, or empty string when absent.
func (f Fields) Get(name string) string {
	if f.values == nil {
		return ""
	}
	return f.values[name]
}

// Has reports whether the field is present, even if empty.
func (f Fields) Has(name string) bool {
	if f.values == nil {
		return false
	}
	_, ok := f.values[name]
	return ok
}

// Set stores a value, appending the name to the order on first write.
func (f *Fields) Set(name, value string) {
	if f.values == nil {
		f.values = make(map[string]string)
	}
	if _, exists := f.values[name]; !exists {
		f.keys = append(f.keys, name)
	}
	f.values[name] = value
}

// Names returns field names in insertion order.
func (f Fields) Names() []string {
	cp := make([]string, len(f.keys))
	copy(cp, f.keys)
	return cp
}

// Len returns the number of fields.
func (f Fields) Len() int {
	return len(f.keys)
}

// Clone returns a deep copy preserving order.
func (f Fields) Clone() Fields {
	cp := Fields{}
	for _, name := range f.keys {
		cp.Set(name, f.values[name])
	}
	return cp
}

// Map returns an unordered copy of the fields for callers that do not care
// about order.
func (f Fields) Map() map[string]string {
	out := make(map[string]string, len(f.keys))
	for _, name := range f.keys {
		out[name] = f.values[name]
	}
	return out
}

// MarshalJSON emits a JSON object with keys in insertion order.
func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range f.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(f.values[name])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object capturing key order as encountered.
func (f *Fields) UnmarshalJSON(data []byte) error {
	*f = Fields{}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("fields: expected object, got %v", tok)
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("fields: expected string key, got %v", keyTok)
		}
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("fields: value for %q: %w", key, err)
		}
		f.Set(key, coerceFieldValue(raw))
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// coerceFieldValue folds scalar JSON values into strings. The store's import
// process occasionally writes numbers for duration-like fields.
func coerceFieldValue(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}
