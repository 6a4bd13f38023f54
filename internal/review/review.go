// Package review runs the staff actions on faculty profiles and returned
// assets: verification, rejection, notification, deletion, return
// condition updates and purchase entry edits. Every attempt that reaches the backend is published as
// an audit event, and every success as a record change.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/casfos/registry/internal/audit"
	"github.com/casfos/registry/internal/auth/apikey"
	"github.com/casfos/registry/internal/backend"
	"github.com/casfos/registry/internal/record"
	apperrors "github.com/casfos/registry/pkg/errors"
	"github.com/casfos/registry/pkg/logger"
	"github.com/casfos/registry/pkg/metrics"
)

const (
	CollectionFaculty = "faculty"
	CollectionAssets  = "assets"
)

// Backend is the subset of the records backend the actions need.
type Backend interface {
	VerifyFaculty(ctx context.Context, id string) error
	RejectFaculty(ctx context.Context, id, remarks string) error
	NotifyFaculty(ctx context.Context, id, remarks string) error
	DeleteFaculty(ctx context.Context, id string) error
	UpdateReturnCondition(ctx context.Context, id, condition, assetType string) error
	UpdateAsset(ctx context.Context, assetType, id string, fields record.Doc) error
}

// Tracker queues an event for publishing. audit.Collector implements it.
type Tracker interface {
	Track(key string, event any)
}

// Actor is the API key an action is performed with.
type Actor struct {
	KeyID string
	Name  string
	Roles []apikey.Role
}

// ActorOf builds an Actor from validated key metadata.
func ActorOf(k *apikey.KeyInfo) Actor {
	if k == nil {
		return Actor{}
	}
	return Actor{KeyID: k.ID, Name: k.Name, Roles: k.Roles}
}

func (a Actor) has(roles []apikey.Role) bool {
	info := apikey.KeyInfo{Roles: a.Roles}
	return info.Has(roles...)
}

func (a Actor) roleNames() []string {
	out := make([]string, len(a.Roles))
	for i, r := range a.Roles {
		out[i] = string(r)
	}
	return out
}

var policy = map[string][]apikey.Role{
	audit.ActionVerify:          {apikey.RoleVerifier},
	audit.ActionReject:          {apikey.RoleVerifier},
	audit.ActionNotify:          {apikey.RoleHOO, apikey.RolePrincipal},
	audit.ActionDelete:          {apikey.RoleHOO, apikey.RolePrincipal},
	audit.ActionConditionUpdate: {apikey.RoleHOO, apikey.RolePrincipal, apikey.RoleDataEntry},
	audit.ActionAssetUpdate:     {apikey.RoleDataEntry},
}

// RolesFor returns the roles allowed to perform action.
func RolesFor(action string) []apikey.Role {
	return policy[action]
}

// Conditions a returned asset can be assigned.
var Conditions = []string{backend.ConditionGood, backend.ConditionService, backend.ConditionDispose, backend.ConditionExchange}

// FacultyRequest identifies the profile of a verify or delete action.
type FacultyRequest struct {
	ID string `json:"id" validate:"required"`
}

// RejectRequest carries the remarks shown to data entry staff.
type RejectRequest struct {
	ID      string `json:"id" validate:"required"`
	Remarks string `json:"rejectionRemarks" validate:"required,max=2000"`
}

// NotifyRequest carries remarks sent back about a profile.
type NotifyRequest struct {
	ID      string `json:"id" validate:"required"`
	Remarks string `json:"notifyremarks" validate:"required,max=2000"`
}

// ConditionRequest assigns a condition to a returned asset.
type ConditionRequest struct {
	ID        string `json:"id" validate:"required"`
	Condition string `json:"condition" validate:"required,oneof=Good Service Dispose Exchange"`
	AssetType string `json:"assetType" validate:"required,oneof=Permanent Consumable"`
}

// AssetUpdateRequest replaces editable fields of a purchase entry.
type AssetUpdateRequest struct {
	ID        string     `json:"id" validate:"required"`
	AssetType string     `json:"assetType" validate:"required,oneof=Permanent Consumable"`
	Fields    record.Doc `json:"fields" validate:"required,min=1"`
}

// ValidationError lists the fields of a request that failed validation,
// keyed by JSON name. It unwraps to errors.ErrInvalidInput.
type ValidationError struct {
	Fields map[string]string `json:"fields"`
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + ": " + e.Fields[name]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return apperrors.ErrInvalidInput }

type nopTracker struct{}

func (nopTracker) Track(string, any) {}

// Service performs review actions against the backend.
type Service struct {
	backend  Backend
	events   Tracker
	changes  Tracker
	metrics  *metrics.Metrics
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService wires the actions. events receives review events and changes
// receives record-change events; either may be nil.
func NewService(b Backend, events, changes Tracker, m *metrics.Metrics) *Service {
	if events == nil {
		events = nopTracker{}
	}
	if changes == nil {
		changes = nopTracker{}
	}
	if m == nil {
		m = metrics.NewNop()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonName)
	return &Service{
		backend:  b,
		events:   events,
		changes:  changes,
		metrics:  m,
		validate: v,
		logger:   slog.Default().With("component", "review"),
	}
}

// Verify marks a faculty profile verified.
func (s *Service) Verify(ctx context.Context, actor Actor, req FacultyRequest) (audit.ReviewEvent, error) {
	ev := audit.NewReviewEvent(audit.ActionVerify, CollectionFaculty, req.ID)
	return s.run(ctx, actor, ev, req, func() error {
		return s.backend.VerifyFaculty(ctx, req.ID)
	})
}

// Reject rejects a faculty profile's verification.
func (s *Service) Reject(ctx context.Context, actor Actor, req RejectRequest) (audit.ReviewEvent, error) {
	req.Remarks = strings.TrimSpace(req.Remarks)
	ev := audit.NewReviewEvent(audit.ActionReject, CollectionFaculty, req.ID)
	ev.Remarks = req.Remarks
	return s.run(ctx, actor, ev, req, func() error {
		return s.backend.RejectFaculty(ctx, req.ID, req.Remarks)
	})
}

// Notify sends remarks about a faculty profile to data entry.
func (s *Service) Notify(ctx context.Context, actor Actor, req NotifyRequest) (audit.ReviewEvent, error) {
	req.Remarks = strings.TrimSpace(req.Remarks)
	ev := audit.NewReviewEvent(audit.ActionNotify, CollectionFaculty, req.ID)
	ev.Remarks = req.Remarks
	return s.run(ctx, actor, ev, req, func() error {
		return s.backend.NotifyFaculty(ctx, req.ID, req.Remarks)
	})
}

// Delete removes a faculty profile.
func (s *Service) Delete(ctx context.Context, actor Actor, req FacultyRequest) (audit.ReviewEvent, error) {
	ev := audit.NewReviewEvent(audit.ActionDelete, CollectionFaculty, req.ID)
	return s.run(ctx, actor, ev, req, func() error {
		return s.backend.DeleteFaculty(ctx, req.ID)
	})
}

// UpdateCondition assigns a condition to a returned asset.
func (s *Service) UpdateCondition(ctx context.Context, actor Actor, req ConditionRequest) (audit.ReviewEvent, error) {
	ev := audit.NewReviewEvent(audit.ActionConditionUpdate, CollectionAssets, req.ID)
	ev.Condition = req.Condition
	ev.AssetType = req.AssetType
	return s.run(ctx, actor, ev, req, func() error {
		return s.backend.UpdateReturnCondition(ctx, req.ID, req.Condition, req.AssetType)
	})
}

// UpdateAsset edits a permanent or consumable purchase entry.
func (s *Service) UpdateAsset(ctx context.Context, actor Actor, req AssetUpdateRequest) (audit.ReviewEvent, error) {
	delete(req.Fields, record.IDField)
	ev := audit.NewReviewEvent(audit.ActionAssetUpdate, CollectionAssets, req.ID)
	ev.AssetType = req.AssetType
	return s.run(ctx, actor, ev, req, func() error {
		return s.backend.UpdateAsset(ctx, req.AssetType, req.ID, req.Fields)
	})
}

func (s *Service) run(ctx context.Context, actor Actor, ev audit.ReviewEvent, req any, call func() error) (audit.ReviewEvent, error) {
	log := logger.FromContext(ctx).With("component", "review", "action", ev.Action, "record_id", ev.RecordID)
	role := primaryRole(actor)

	if !actor.has(RolesFor(ev.Action)) {
		s.count(ev.Action, role, "forbidden")
		log.Warn("review action forbidden", "actor", actor.Name, "roles", actor.Roles)
		return ev, apperrors.Newf(apperrors.ErrForbidden, http.StatusForbidden,
			"%s requires one of the roles %v", ev.Action, RolesFor(ev.Action))
	}
	if err := s.check(req); err != nil {
		s.count(ev.Action, role, "invalid")
		return ev, err
	}

	ev.ActorKeyID = actor.KeyID
	ev.ActorName = actor.Name
	ev.Roles = actor.roleNames()
	ev.RequestID = logger.RequestID(ctx)

	if err := call(); err != nil {
		ev.Outcome = audit.OutcomeFailed
		if errors.Is(err, apperrors.ErrUpstreamRejected) || errors.Is(err, apperrors.ErrRecordNotFound) {
			ev.Outcome = audit.OutcomeRejected
		}
		s.count(ev.Action, role, ev.Outcome)
		s.events.Track(ev.RecordID, ev)
		log.Error("review action failed", "outcome", ev.Outcome, "error", err)
		return ev, fmt.Errorf("%s %s: %w", ev.Action, ev.RecordID, err)
	}

	s.count(ev.Action, role, audit.OutcomeSuccess)
	s.events.Track(ev.RecordID, ev)
	s.changes.Track(ev.Collection, audit.NewRecordChange(ev.Collection, ev.RecordID, ev.Action))
	log.Info("review action applied", "actor", actor.Name)
	return ev, nil
}

func (s *Service) count(action, role, outcome string) {
	s.metrics.ReviewActionsTotal.WithLabelValues(action, role, outcome).Inc()
}

func (s *Service) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = describe(fe)
	}
	return &ValidationError{Fields: fields}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "failed " + fe.Tag()
	}
}

// primaryRole labels metrics with the first role the actor holds.
func primaryRole(a Actor) string {
	if len(a.Roles) == 0 {
		return "none"
	}
	return string(a.Roles[0])
}

// jsonName reports validation errors under the request's JSON field names.
func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}
