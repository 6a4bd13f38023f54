package handler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/casfos/registry/internal/audit"
	"github.com/casfos/registry/internal/backend"
	"github.com/casfos/registry/internal/detail"
	"github.com/casfos/registry/internal/filter"
	"github.com/casfos/registry/internal/listing"
	"github.com/casfos/registry/internal/remotefilter"
	"github.com/casfos/registry/internal/taxonomy"
	apperrors "github.com/casfos/registry/pkg/errors"
	"github.com/casfos/registry/pkg/logger"
	"github.com/casfos/registry/pkg/tracing"
)

const (
	collectionFaculty = "faculty"
	collectionAssets  = "assets"
)

// Taxonomy returns every major domain with its minors.
func (h *Handler) Taxonomy(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"majors": taxonomy.All()})
}

// Minors returns the minor domains of one major; unknown majors have none.
func (h *Handler) Minors(w http.ResponseWriter, r *http.Request) {
	major := r.PathValue("major")
	h.writeJSON(w, http.StatusOK, map[string]any{"major": major, "minors": taxonomy.MinorsOf(major)})
}

// SearchFaculty filters faculty profiles by the FacultyCriteria body.
func (h *Handler) SearchFaculty(w http.ResponseWriter, r *http.Request) {
	var c filter.FacultyCriteria
	if err := decode(r, &c); err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.searchFaculty(w, r, c)
}

// QueryFaculty filters faculty profiles by the one-line query in q, e.g.
// q=status:serving major:Environment.
func (h *Handler) QueryFaculty(w http.ResponseWriter, r *http.Request) {
	c, err := filter.ParseQuery(r.URL.Query().Get("q"))
	var qerr *filter.QueryError
	if errors.As(err, &qerr) {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"error": qerr.Error(), "unknown_keys": qerr.UnknownKeys})
		return
	}
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.searchFaculty(w, r, c)
}

func (h *Handler) searchFaculty(w http.ResponseWriter, r *http.Request, c filter.FacultyCriteria) {
	if err := c.Validate(); err != nil {
		h.writeErr(w, r, err)
		return
	}
	mode, err := listing.ParseMode(r.URL.Query().Get("mode"), h.cfg.DefaultMode)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c = c.Normalized()

	start := time.Now()
	out := h.search(r, collectionFaculty, mode, func(ctx context.Context) remotefilter.Outcome {
		return h.faculty[mode].Search(ctx, c)
	})
	h.respond(w, r, collectionFaculty, mode, c.Set().Fields(), out, time.Since(start))
}

// SearchAssets filters permanent and consumable assets in memory.
func (h *Handler) SearchAssets(w http.ResponseWriter, r *http.Request) {
	var c filter.AssetCriteria
	if err := decode(r, &c); err != nil {
		h.writeErr(w, r, err)
		return
	}
	if err := c.Validate(); err != nil {
		h.writeErr(w, r, err)
		return
	}

	start := time.Now()
	out := h.search(r, collectionAssets, listing.ModeLocal, func(ctx context.Context) remotefilter.Outcome {
		return h.assets.Search(ctx, c)
	})
	h.respond(w, r, collectionAssets, listing.ModeLocal, c.Set().Fields(), out, time.Since(start))
}

// search runs fn under a span covering the whole filter request.
func (h *Handler) search(r *http.Request, collection string, mode listing.Mode, fn func(context.Context) remotefilter.Outcome) remotefilter.Outcome {
	ctx, span := tracing.Start(r.Context(), collection+".search")
	defer span.End()
	span.SetAttr("mode", string(mode))

	out := fn(ctx)
	span.SetAttr("state", out.State.String())
	span.SetAttr("count", out.Count)
	if out.Err != nil {
		span.SetError(out.Err)
	}
	return out
}

// respond records the search and writes its outcome. A failed request is
// still an outcome body, with the status of the underlying error.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, collection string, mode listing.Mode, fields []string, out remotefilter.Outcome, took time.Duration) {
	state := out.State.String()
	h.metrics.FilterRequestsTotal.WithLabelValues(collection, string(mode), state).Inc()
	h.metrics.FilterLatency.WithLabelValues(collection, string(mode)).Observe(took.Seconds())
	h.metrics.FilterResultsCount.WithLabelValues(collection).Observe(float64(out.Count))

	if h.filters != nil {
		if fields == nil {
			fields = []string{}
		}
		h.filters.Track(collection, audit.FilterEvent{
			Type:       audit.EventFilter,
			Collection: collection,
			Mode:       string(mode),
			State:      state,
			Fields:     fields,
			Count:      out.Count,
			LatencyMs:  took.Milliseconds(),
			Timestamp:  time.Now().UTC(),
			RequestID:  logger.RequestID(r.Context()),
		})
	}

	status := http.StatusOK
	if out.State == remotefilter.StateRequestFailed {
		status = apperrors.HTTPStatusCode(out.Err)
		logger.FromContext(r.Context()).Error("filter request failed",
			"collection", collection, "mode", mode, "error", out.Err)
	}
	h.writeJSON(w, status, out)
}

// FacultyDetail renders one faculty profile as labelled rows, or as text
// with format=text.
func (h *Handler) FacultyDetail(w http.ResponseWriter, r *http.Request) {
	doc, err := h.backend.Faculty(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	rows := detail.Format(doc, h.detail)

	if r.URL.Query().Get("format") == "text" {
		var buf bytes.Buffer
		if err := detail.Render(&buf, rows); err != nil {
			h.writeErr(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"id": doc.ID(), "rows": rows})
}

// Returns lists returned assets awaiting a condition decision.
func (h *Handler) Returns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	docs, err := h.backend.ReturnedForConditionChange(r.Context(), q.Get("assetType"), q.Get("approved"))
	if err != nil {
		h.writeJSON(w, apperrors.HTTPStatusCode(err), remotefilter.Failed(err))
		return
	}
	h.writeJSON(w, http.StatusOK, remotefilter.FromRecords(docs))
}

// Stock lists the items at one stage of an asset's life: store, returned,
// service or disposed.
func (h *Handler) Stock(w http.ResponseWriter, r *http.Request) {
	stage, err := backend.ParseStage(r.PathValue("stage"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	q := r.URL.Query()
	docs, err := h.backend.Items(r.Context(), stage, backend.ItemQuery{
		AssetType:       q.Get("assetType"),
		ItemType:        q.Get("itemType"),
		AssetCategory:   q.Get("assetCategory"),
		SubCategory:     q.Get("subCategory"),
		ItemDescription: q.Get("itemDescription"),
	})
	if err != nil {
		h.writeJSON(w, apperrors.HTTPStatusCode(err), remotefilter.Failed(err))
		return
	}
	h.writeJSON(w, http.StatusOK, remotefilter.FromRecords(docs))
}
