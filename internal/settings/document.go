// Package settings holds the cmd-ime settings document.
//
// The document is an opaque JSON object. The runtime understands a handful of
// keys (see View) and preserves every other key untouched, so host
// applications can store their own preferences next to the key mappings.
// Documents are immutable values; every change produces a new Document.
package settings

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"reflect"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalid is returned for text that is not JSON or violates the schema.
var ErrInvalid = errors.New("invalid settings document")

//go:embed schema.json
var schemaJSON string

const schemaURL = "https://cmd-ime.dev/schema/settings.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Document is a validated settings object.
type Document struct {
	values map[string]any
}

// Empty returns the default document, {}.
func Empty() Document {
	return Document{values: map[string]any{}}
}

// Parse decodes and validates a settings document.
// Numbers are kept as json.Number so they re-serialize exactly.
func Parse(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Document{}, fmt.Errorf("%w: trailing data after JSON value", ErrInvalid)
	}

	sch, err := compiledSchema()
	if err != nil {
		return Document{}, err
	}
	if err := sch.Validate(v); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return Document{}, fmt.Errorf("%w: top-level value must be an object", ErrInvalid)
	}
	return Document{values: obj}, nil
}

// ParseString is Parse for strings.
func ParseString(s string) (Document, error) {
	return Parse([]byte(s))
}

// MarshalJSON renders the compact form: sorted keys, no HTML escaping.
func (d Document) MarshalJSON() ([]byte, error) {
	return encode(d.object(), "")
}

// String returns the compact JSON form, or "{}" if encoding fails.
func (d Document) String() string {
	data, err := d.MarshalJSON()
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Indented renders the document for the on-disk file.
func (d Document) Indented() ([]byte, error) {
	return encode(d.object(), "  ")
}

func encode(v any, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (d Document) object() map[string]any {
	if d.values == nil {
		return map[string]any{}
	}
	return d.values
}

// Len returns the number of top-level keys.
func (d Document) Len() int {
	return len(d.values)
}

// Has reports whether key is present.
func (d Document) Has(key string) bool {
	_, ok := d.values[key]
	return ok
}

// Equal reports whether both documents hold the same keys and values.
func (d Document) Equal(other Document) bool {
	return reflect.DeepEqual(d.object(), other.object())
}

// with returns a copy with key set to the JSON form of v.
func (d Document) with(key string, v any) (Document, error) {
	data, err := json.Marshal(map[string]any{key: v})
	if err != nil {
		return Document{}, err
	}
	patch, err := Parse(data)
	if err != nil {
		return Document{}, err
	}

	values := maps.Clone(d.object())
	values[key] = patch.values[key]
	return Document{values: values}, nil
}
