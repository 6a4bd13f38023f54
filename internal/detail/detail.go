// Package detail turns one record into labelled rows for a detail view.
// Nested objects and arrays become nested rows and lists, image fields become
// links under the uploads base URL, and recursion stops at a depth limit.
package detail

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"unicode"

	"github.com/casfos/registry/internal/record"
)

// Placeholder is shown for null and empty values.
const Placeholder = "-"

// DefaultMaxDepth bounds recursion into nested values.
const DefaultMaxDepth = 10

// Kind is the variant held by a Node.
type Kind int

const (
	KindScalar Kind = iota
	KindList
	KindMap
	KindImage
	KindTruncated
)

var kindNames = [...]string{"scalar", "list", "map", "image", "truncated"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Node is a rendered value: a scalar or image carries Text, a list carries
// Items, a map carries Rows.
type Node struct {
	Kind  Kind   `json:"kind"`
	Text  string `json:"text,omitempty"`
	Items []Node `json:"items,omitempty"`
	Rows  []Row  `json:"rows,omitempty"`
}

// Row is one labelled value.
type Row struct {
	Field string `json:"field"`
	Label string `json:"label"`
	Value Node   `json:"value"`
}

// Options control Format.
type Options struct {
	// Exclude lists top-level fields to skip. The identifier field is always
	// skipped, at every level.
	Exclude []string
	// Order lists fields to show first; the rest follow alphabetically.
	Order []string
	// PhotoFields are rendered as image links when their value is a string.
	PhotoFields []string
	// UploadsBase is joined with the file name of a photo path.
	UploadsBase string
	// MaxDepth defaults to DefaultMaxDepth.
	MaxDepth int
}

// FacultyOrder is the field order of the faculty registration form.
var FacultyOrder = []string{
	"name", "photograph", "facultyType", "yearOfAllotment", "email", "mobileNumber",
	"status", "majorDomains", "minorDomains", "domainKnowledge", "areasOfExpertise",
	"institution", "modulesHandled", "sessionsHandled", "awards", "publications",
	"otherResponsibilities",
}

// AssetOrder is the field order of the asset entry forms, top level then
// per item.
var AssetOrder = []string{
	"assetType", "assetCategory", "entryDate", "purchaseDate", "supplierName",
	"supplierAddress", "source", "modeOfPurchase", "billNo", "receivedBy",
	"location", "billPhoto", "items",
	"itemName", "subCategory", "itemDescription", "quantityReceived", "unitPrice",
	"totalPrice", "itemPhoto", "itemIds",
}

// DefaultOptions returns the options used by the faculty and asset detail
// views.
func DefaultOptions(uploadsBase string) Options {
	return Options{
		Exclude:     []string{"__v", "conduct"},
		Order:       slices.Concat(FacultyOrder, AssetOrder),
		PhotoFields: []string{"photograph", "itemPhoto"},
		UploadsBase: uploadsBase,
		MaxDepth:    DefaultMaxDepth,
	}
}

// FormatLabel converts a camel-case field name to Title Case words:
// yearOfAllotment becomes "Year Of Allotment".
func FormatLabel(field string) string {
	var b strings.Builder
	for i, r := range field {
		switch {
		case i == 0:
			b.WriteRune(unicode.ToUpper(r))
		case unicode.IsUpper(r):
			b.WriteByte(' ')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Format renders every field of d not excluded by opts.
func Format(d record.Doc, opts Options) []Row {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	f := formatter{opts: opts}
	skip := func(key string) bool {
		return key == record.IDField || slices.Contains(opts.Exclude, key)
	}
	return f.rows(map[string]any(d), skip, 1)
}

type formatter struct {
	opts Options
}

func (f formatter) rows(m map[string]any, skip func(string) bool, depth int) []Row {
	keys := make([]string, 0, len(m))
	for k := range m {
		if !skip(k) {
			keys = append(keys, k)
		}
	}
	f.sortKeys(keys)
	out := make([]Row, 0, len(keys))
	for _, k := range keys {
		out = append(out, Row{Field: k, Label: FormatLabel(k), Value: f.value(k, m[k], depth)})
	}
	return out
}

func (f formatter) sortKeys(keys []string) {
	rank := func(k string) int {
		if i := slices.Index(f.opts.Order, k); i >= 0 {
			return i
		}
		return len(f.opts.Order)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		ri, rj := rank(keys[i]), rank(keys[j])
		if ri != rj {
			return ri < rj
		}
		return keys[i] < keys[j]
	})
}

func (f formatter) value(field string, v any, depth int) Node {
	if depth > f.opts.MaxDepth {
		return Node{Kind: KindTruncated, Text: "..."}
	}
	if s, ok := v.(string); ok && s != "" && slices.Contains(f.opts.PhotoFields, field) {
		return Node{Kind: KindImage, Text: f.imageURL(s)}
	}
	switch t := v.(type) {
	case []any:
		items := make([]Node, 0, len(t))
		for _, elem := range t {
			items = append(items, f.value(field, elem, depth+1))
		}
		return Node{Kind: KindList, Items: items}
	case map[string]any:
		nestedSkip := func(k string) bool { return k == record.IDField }
		return Node{Kind: KindMap, Rows: f.rows(t, nestedSkip, depth+1)}
	case record.Doc:
		return f.value(field, map[string]any(t), depth)
	}
	s, ok := record.Text(v)
	if !ok || strings.TrimSpace(s) == "" {
		return Node{Kind: KindScalar, Text: Placeholder}
	}
	return Node{Kind: KindScalar, Text: s}
}

func (f formatter) imageURL(path string) string {
	name := path
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		name = path[i+1:]
	}
	base := strings.TrimRight(f.opts.UploadsBase, "/")
	if base == "" {
		return name
	}
	return base + "/" + name
}
