// Package record defines the records served by the registry. Doc is the
// schema-agnostic JSON tree the filter engine and detail formatter operate
// on; Faculty, Asset and ReturnedAsset are typed views used where a screen
// needs named fields.
package record

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// IDField is the identifier key of every backend record.
const IDField = "_id"

// Doc is one decoded JSON object as returned by the records backend.
type Doc map[string]any

// ID returns the record identifier, or "" when absent.
func (d Doc) ID() string {
	s, _ := Text(d[IDField])
	return s
}

// Lookup resolves a dotted path such as "items.itemName". Arrays met along
// the way fan out, so a path through an array of objects collects the field
// from every element, and an array found at the end is flattened into its
// elements. found is false when no step of the path exists.
func (d Doc) Lookup(path string) (values []any, found bool) {
	if d == nil || path == "" {
		return nil, false
	}
	current := []any{map[string]any(d)}
	for _, seg := range strings.Split(path, ".") {
		next := make([]any, 0, len(current))
		for _, v := range current {
			next = appendField(next, v, seg, &found)
		}
		if len(next) == 0 && !found {
			return nil, false
		}
		found = false
		current = next
	}
	out := make([]any, 0, len(current))
	for _, v := range current {
		if arr, ok := v.([]any); ok {
			out = append(out, arr...)
			continue
		}
		out = append(out, v)
	}
	return out, true
}

func appendField(dst []any, v any, key string, found *bool) []any {
	switch node := v.(type) {
	case map[string]any:
		if child, ok := node[key]; ok {
			*found = true
			dst = append(dst, child)
		}
	case Doc:
		return appendField(dst, map[string]any(node), key, found)
	case []any:
		for _, elem := range node {
			dst = appendField(dst, elem, key, found)
		}
	}
	return dst
}

// Strings returns the text form of every scalar reached by path. Nulls,
// objects and nested arrays are skipped.
func (d Doc) Strings(path string) []string {
	values, _ := d.Lookup(path)
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := Text(v); ok {
			out = append(out, s)
		}
	}
	return out
}

// String returns the first scalar reached by path.
func (d Doc) String(path string) (string, bool) {
	values := d.Strings(path)
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// Text renders a JSON scalar as text. ok is false for null, objects and
// arrays.
func Text(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case json.Number:
		return s.String(), true
	case bool:
		return strconv.FormatBool(s), true
	case int:
		return strconv.Itoa(s), true
	case int64:
		return strconv.FormatInt(s, 10), true
	default:
		return "", false
	}
}

// FromValue converts any JSON-encodable value, typically a typed record, into
// a Doc.
func FromValue(v any) (Doc, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	var doc Doc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding record as object: %w", err)
	}
	return doc, nil
}

// Decode converts a Doc into a typed record.
func Decode[T any](d Doc) (T, error) {
	var out T
	data, err := json.Marshal(d)
	if err != nil {
		return out, fmt.Errorf("encoding record: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decoding record: %w", err)
	}
	return out, nil
}

// DecodeAll converts every Doc, stopping at the first failure.
func DecodeAll[T any](docs []Doc) ([]T, error) {
	out := make([]T, 0, len(docs))
	for i, d := range docs {
		v, err := Decode[T](d)
		if err != nil {
			return nil, fmt.Errorf("record %d (%s): %w", i, d.ID(), err)
		}
		out = append(out, v)
	}
	return out, nil
}
