package filter

import (
	"fmt"
	"slices"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/casfos/registry/internal/record"
)

// Sorter orders records by a display key using locale-aware collation.
// A Collator keeps internal buffers, so one is built per call.
type Sorter struct {
	tag language.Tag
}

// NewSorter parses a BCP 47 locale such as "en" or "hi-IN".
func NewSorter(locale string) (*Sorter, error) {
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("parsing sort locale %q: %w", locale, err)
	}
	return &Sorter{tag: tag}, nil
}

// Sort orders records ascending by the first value reached by key, in place
// and stably. Records without the key sort as the empty string.
func (s *Sorter) Sort(records []record.Doc, key string) {
	if key == "" || len(records) < 2 {
		return
	}
	col := collate.New(s.tag, collate.IgnoreCase)
	sortKeys := make([]string, len(records))
	for i, d := range records {
		sortKeys[i], _ = d.String(key)
	}
	idx := make([]int, len(records))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return col.CompareString(sortKeys[a], sortKeys[b])
	})
	sorted := make([]record.Doc, len(records))
	for i, j := range idx {
		sorted[i] = records[j]
	}
	copy(records, sorted)
}

// Apply filters records by s and returns the matches sorted by key. The
// input slice is not modified.
func (s *Sorter) Apply(records []record.Doc, set Set, key string) []record.Doc {
	out := Filter(records, set)
	s.Sort(out, key)
	return out
}
