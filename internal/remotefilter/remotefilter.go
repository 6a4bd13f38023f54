// Package remotefilter builds request payloads for the backend filter
// endpoint and normalizes its responses into a result state.
package remotefilter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/casfos/registry/internal/filter"
	"github.com/casfos/registry/internal/record"
	apperrors "github.com/casfos/registry/pkg/errors"
)

// User-facing messages for the two empty states.
const (
	MessageNoResults     = "No matching records found"
	MessageRequestFailed = "Unable to fetch records"
)

// Payload is the body of POST /api/faculty/filterFaculties. Every key is
// omitted when its criterion is not applied: the endpoint reads an explicit
// empty list as "match nothing".
type Payload struct {
	FacultyType     string   `json:"facultyType,omitempty"`
	Name            string   `json:"name,omitempty"`
	YearOfAllotment string   `json:"yearOfAllotment,omitempty"`
	Email           string   `json:"email,omitempty"`
	DomainKnowledge string   `json:"domainKnowledge,omitempty"`
	AreaOfExpertise string   `json:"areaOfExpertise,omitempty"`
	Institution     string   `json:"institution,omitempty"`
	Status          string   `json:"status,omitempty"`
	ModulesHandled  []string `json:"modulesHandled,omitempty"`
	MajorDomains    []string `json:"majorDomains,omitempty"`
	MinorDomains    []string `json:"minorDomains,omitempty"`
	MobileNumber    string   `json:"mobileNumber,omitempty"`
}

// Build converts criteria into a sparse payload. The free-text module
// criterion is sent as a one-element list.
func Build(c filter.FacultyCriteria) Payload {
	n := c.Normalized()
	p := Payload{
		FacultyType:     n.FacultyType,
		Name:            n.Name,
		YearOfAllotment: n.YearOfAllotment,
		Email:           n.Email,
		DomainKnowledge: n.DomainKnowledge,
		AreaOfExpertise: n.AreaOfExpertise,
		Institution:     n.Institution,
		Status:          n.Status,
		MajorDomains:    n.MajorDomains,
		MinorDomains:    n.MinorDomains,
		MobileNumber:    n.MobileNumber,
	}
	if n.ModulesHandled != "" {
		p.ModulesHandled = []string{n.ModulesHandled}
	}
	return p
}

// IsEmpty reports whether the payload carries no criteria.
func (p Payload) IsEmpty() bool {
	data, _ := json.Marshal(p)
	return string(data) == "{}"
}

// State distinguishes a legitimately empty result from a failed request.
type State int

const (
	StateResults State = iota
	StateNoResults
	StateRequestFailed
)

func (s State) String() string {
	switch s {
	case StateResults:
		return "results"
	case StateNoResults:
		return "no_results"
	case StateRequestFailed:
		return "request_failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "results":
		*s = StateResults
	case "no_results":
		*s = StateNoResults
	case "request_failed":
		*s = StateRequestFailed
	default:
		return fmt.Errorf("unknown result state %q", text)
	}
	return nil
}

// Outcome is the normalized result of one filter request.
type Outcome struct {
	State   State        `json:"state"`
	Message string       `json:"message,omitempty"`
	Count   int          `json:"count"`
	Records []record.Doc `json:"records"`
	Err     error        `json:"-"`
}

// FromRecords builds the outcome of a successful request.
func FromRecords(records []record.Doc) Outcome {
	if len(records) == 0 {
		return Outcome{State: StateNoResults, Message: MessageNoResults, Records: []record.Doc{}}
	}
	return Outcome{State: StateResults, Count: len(records), Records: records}
}

// Failed builds the outcome of a request that did not produce records.
func Failed(err error) Outcome {
	return Outcome{
		State:   StateRequestFailed,
		Message: apperrors.Message(err, MessageRequestFailed),
		Records: []record.Doc{},
		Err:     err,
	}
}

type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// Normalize turns a response body, or the transport error that prevented
// one, into an Outcome. It never panics on malformed input. The body is
// either a bare JSON array of records or an object of the form
// {"success": bool, "data": [...], "message": "..."}.
func Normalize(body []byte, transportErr error) Outcome {
	if transportErr != nil {
		return Failed(transportErr)
	}
	records, err := Decode(body)
	if err != nil {
		return Failed(err)
	}
	return FromRecords(records)
}

// Decode extracts the record list from a response body.
func Decode(body []byte) ([]record.Doc, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty response body", apperrors.ErrUpstreamUnavailable)
	}
	switch body[0] {
	case '[':
		var records []record.Doc
		if err := json.Unmarshal(body, &records); err != nil {
			return nil, fmt.Errorf("%w: decoding record list: %w", apperrors.ErrUpstreamUnavailable, err)
		}
		return records, nil
	case '{':
		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("%w: decoding response: %w", apperrors.ErrUpstreamUnavailable, err)
		}
		if env.Success != nil && !*env.Success {
			msg := env.Message
			if msg == "" {
				msg = "request was not successful"
			}
			return nil, apperrors.New(apperrors.ErrUpstreamRejected, http.StatusUnprocessableEntity, msg)
		}
		data := bytes.TrimSpace(env.Data)
		if len(data) == 0 || bytes.Equal(data, []byte("null")) {
			return []record.Doc{}, nil
		}
		return Decode(data)
	default:
		return nil, fmt.Errorf("%w: unexpected response body", apperrors.ErrUpstreamUnavailable)
	}
}
