// Package listing runs a record listing the way the faculty and asset
// screens do: a criteria value is applied either in memory over the full
// record list or by the backend filter endpoint, and only the newest
// request's result is kept.
package listing

import (
	"context"
	"fmt"
	"slices"

	"github.com/casfos/registry/internal/filter"
	"github.com/casfos/registry/internal/record"
	"github.com/casfos/registry/internal/remotefilter"
)

// Mode selects where filtering happens.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// ParseMode accepts "local" or "remote"; empty yields def.
func ParseMode(s string, def Mode) (Mode, error) {
	switch Mode(s) {
	case "":
		return def, nil
	case ModeLocal, ModeRemote:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown mode %q (want local or remote)", s)
	}
}

// Criteria is a filter form that can be turned into a criteria set.
type Criteria interface {
	Set() filter.Set
}

// Source produces the outcome for one criteria value.
type Source[C any] interface {
	Search(ctx context.Context, criteria C) remotefilter.Outcome
	Mode() Mode
}

type funcSource[C any] struct {
	mode Mode
	fn   func(context.Context, C) remotefilter.Outcome
}

func (f funcSource[C]) Mode() Mode { return f.mode }

func (f funcSource[C]) Search(ctx context.Context, c C) remotefilter.Outcome { return f.fn(ctx, c) }

// SourceFunc adapts a function to a Source.
func SourceFunc[C any](mode Mode, fn func(context.Context, C) remotefilter.Outcome) Source[C] {
	return funcSource[C]{mode: mode, fn: fn}
}

// Loader returns the full, unfiltered record list.
type Loader func(ctx context.Context) ([]record.Doc, error)

// LocalSource filters the full list in memory and sorts by SortKey.
type LocalSource[C Criteria] struct {
	Load    Loader
	Sorter  *filter.Sorter
	SortKey string
}

func (s LocalSource[C]) Mode() Mode { return ModeLocal }

func (s LocalSource[C]) Search(ctx context.Context, criteria C) remotefilter.Outcome {
	records, err := s.Load(ctx)
	if err != nil {
		return remotefilter.Failed(err)
	}
	return remotefilter.FromRecords(s.Sorter.Apply(records, criteria.Set(), s.SortKey))
}

// FacultyFilterer is the backend call RemoteSource delegates to.
type FacultyFilterer interface {
	FilterFaculties(ctx context.Context, p remotefilter.Payload) remotefilter.Outcome
}

// RemoteSource sends faculty criteria to the backend filter endpoint. An
// empty criteria set falls back to Load when set, since the endpoint treats
// an empty body as "everything" only on some deployments.
type RemoteSource struct {
	Backend FacultyFilterer
	Load    Loader
	Sorter  *filter.Sorter
	SortKey string
}

func (s RemoteSource) Mode() Mode { return ModeRemote }

func (s RemoteSource) Search(ctx context.Context, criteria filter.FacultyCriteria) remotefilter.Outcome {
	payload := remotefilter.Build(criteria)
	if payload.IsEmpty() && s.Load != nil {
		records, err := s.Load(ctx)
		if err != nil {
			return remotefilter.Failed(err)
		}
		records = slices.Clone(records)
		s.sort(records)
		return remotefilter.FromRecords(records)
	}
	out := s.Backend.FilterFaculties(ctx, payload)
	if out.State == remotefilter.StateResults {
		s.sort(out.Records)
	}
	return out
}

func (s RemoteSource) sort(records []record.Doc) {
	if s.Sorter != nil {
		s.Sorter.Sort(records, s.SortKey)
	}
}
