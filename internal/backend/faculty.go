package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/casfos/registry/internal/record"
	"github.com/casfos/registry/internal/remotefilter"
	apperrors "github.com/casfos/registry/pkg/errors"
)

// AllFaculties fetches every faculty profile.
func (c *Client) AllFaculties(ctx context.Context) ([]record.Doc, error) {
	data, err := c.do(ctx, request{op: "faculty.list", method: http.MethodGet, path: "/api/faculty/getAllFaculties"})
	if err != nil {
		return nil, err
	}
	return remotefilter.Decode(data)
}

// FilterFacultiesRaw sends p to the backend filter endpoint and returns the
// undecoded reply, for callers that normalize it themselves.
func (c *Client) FilterFacultiesRaw(ctx context.Context, p remotefilter.Payload) ([]byte, error) {
	return c.do(ctx, request{op: "faculty.filter", method: http.MethodPost, path: "/api/faculty/filterFaculties", body: p})
}

// FilterFaculties delegates filtering to the backend and normalizes the
// reply. Transport failures are reported in the Outcome, not returned.
func (c *Client) FilterFaculties(ctx context.Context, p remotefilter.Payload) remotefilter.Outcome {
	return remotefilter.Normalize(c.FilterFacultiesRaw(ctx, p))
}

// Faculty fetches one faculty profile.
func (c *Client) Faculty(ctx context.Context, id string) (record.Doc, error) {
	if id == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "faculty id is required")
	}
	data, err := c.do(ctx, request{op: "faculty.get", method: http.MethodGet, path: "/api/faculty/search/" + url.PathEscape(id)})
	if err != nil {
		return nil, err
	}
	return decodeOne(data)
}

// VerifyFaculty marks a faculty profile verified.
func (c *Client) VerifyFaculty(ctx context.Context, id string) error {
	return c.mutate(ctx, request{op: "faculty.verify", method: http.MethodPut, path: "/api/faculty/verifyFaculty/" + url.PathEscape(id)})
}

// RejectFaculty rejects verification with remarks for the data entry staff.
func (c *Client) RejectFaculty(ctx context.Context, id, remarks string) error {
	return c.mutate(ctx, request{
		op:     "faculty.reject",
		method: http.MethodPost,
		path:   "/api/faculty/rejectFacultyVerification/" + url.PathEscape(id),
		body:   map[string]string{"rejectionRemarks": remarks},
	})
}

// NotifyFaculty sends remarks about a profile back to data entry.
func (c *Client) NotifyFaculty(ctx context.Context, id, remarks string) error {
	return c.mutate(ctx, request{
		op:     "faculty.notify",
		method: http.MethodPost,
		path:   "/api/faculty/notify/" + url.PathEscape(id),
		body:   map[string]string{"notifyremarks": remarks},
	})
}

// DeleteFaculty removes a faculty profile.
func (c *Client) DeleteFaculty(ctx context.Context, id string) error {
	return c.mutate(ctx, request{op: "faculty.delete", method: http.MethodDelete, path: "/api/faculty/delete/" + url.PathEscape(id)})
}

func (c *Client) mutate(ctx context.Context, r request) error {
	data, err := c.do(ctx, r)
	if err != nil {
		return err
	}
	return checkAck(data)
}

// decodeOne reads a single record, either bare or wrapped in
// {"success": true, "data": {...}}.
func decodeOne(data []byte) (record.Doc, error) {
	var env struct {
		Success *bool           `json:"success"`
		Data    json.RawMessage `json:"data"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: decoding record: %w", apperrors.ErrUpstreamUnavailable, err)
	}
	if env.Success != nil && !*env.Success {
		return nil, apperrors.New(apperrors.ErrUpstreamRejected, http.StatusUnprocessableEntity, messageOf(data, "request was not successful"))
	}
	raw := bytes.TrimSpace(env.Data)
	if len(raw) == 0 || raw[0] != '{' {
		raw = data
	}
	var doc record.Doc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: decoding record: %w", apperrors.ErrUpstreamUnavailable, err)
	}
	if len(doc) == 0 {
		return nil, apperrors.New(apperrors.ErrRecordNotFound, http.StatusNotFound, "record not found")
	}
	return doc, nil
}
