package review_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casfos/registry/internal/audit"
	"github.com/casfos/registry/internal/auth/apikey"
	"github.com/casfos/registry/internal/record"
	"github.com/casfos/registry/internal/review"
	apperrors "github.com/casfos/registry/pkg/errors"
	"github.com/casfos/registry/pkg/logger"
	"github.com/casfos/registry/pkg/metrics"
)

type fakeBackend struct {
	calls []string
	err   error
}

func (f *fakeBackend) record(call string) error {
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeBackend) VerifyFaculty(_ context.Context, id string) error {
	return f.record("verify " + id)
}

func (f *fakeBackend) RejectFaculty(_ context.Context, id, remarks string) error {
	return f.record("reject " + id + " " + remarks)
}

func (f *fakeBackend) NotifyFaculty(_ context.Context, id, remarks string) error {
	return f.record("notify " + id + " " + remarks)
}

func (f *fakeBackend) DeleteFaculty(_ context.Context, id string) error {
	return f.record("delete " + id)
}

func (f *fakeBackend) UpdateReturnCondition(_ context.Context, id, condition, assetType string) error {
	return f.record("condition " + id + " " + condition + " " + assetType)
}

func (f *fakeBackend) UpdateAsset(_ context.Context, assetType, id string, fields record.Doc) error {
	return f.record(fmt.Sprintf("update %s %s %d", assetType, id, len(fields)))
}

type tracked struct {
	key   string
	event any
}

type memTracker struct{ events []tracked }

func (m *memTracker) Track(key string, event any) {
	m.events = append(m.events, tracked{key, event})
}

type fixture struct {
	backend *fakeBackend
	events  *memTracker
	changes *memTracker
	metrics *metrics.Metrics
	svc     *review.Service
}

func newFixture() fixture {
	f := fixture{backend: &fakeBackend{}, events: &memTracker{}, changes: &memTracker{}, metrics: metrics.NewNop()}
	f.svc = review.NewService(f.backend, f.events, f.changes, f.metrics)
	return f
}

var (
	verifier = review.Actor{KeyID: "1", Name: "desk", Roles: []apikey.Role{apikey.RoleVerifier}}
	hoo      = review.Actor{KeyID: "2", Name: "hoo", Roles: []apikey.Role{apikey.RoleHOO}}
	viewer   = review.Actor{KeyID: "3", Name: "guest", Roles: []apikey.Role{apikey.RoleViewer}}
)

func TestVerifyPublishesEvents(t *testing.T) {
	f := newFixture()
	ctx := logger.WithRequestID(context.Background(), "req-1")

	ev, err := f.svc.Verify(ctx, verifier, review.FacultyRequest{ID: "f1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"verify f1"}, f.backend.calls)
	assert.Equal(t, audit.OutcomeSuccess, ev.Outcome)
	assert.Equal(t, []string{"verifier"}, ev.Roles)
	assert.Equal(t, "req-1", ev.RequestID)
	assert.NotEmpty(t, ev.ID)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, "f1", f.events.events[0].key)
	require.Len(t, f.changes.events, 1)
	change := f.changes.events[0].event.(audit.RecordChangeEvent)
	assert.Equal(t, review.CollectionFaculty, change.Collection)
	assert.Equal(t, "f1", change.RecordID)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReviewActionsTotal.WithLabelValues("verify", "verifier", "success")))
}

func TestRoleIsEnforced(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Delete(context.Background(), viewer, review.FacultyRequest{ID: "f1"})
	require.ErrorIs(t, err, apperrors.ErrForbidden)
	assert.Equal(t, http.StatusForbidden, apperrors.HTTPStatusCode(err))
	assert.Empty(t, f.backend.calls)
	assert.Empty(t, f.events.events)

	_, err = f.svc.Delete(context.Background(), hoo, review.FacultyRequest{ID: "f1"})
	require.NoError(t, err)

	_, err = f.svc.Verify(context.Background(), hoo, review.FacultyRequest{ID: "f1"})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestRemarksAreRequired(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Reject(context.Background(), verifier, review.RejectRequest{ID: "f1", Remarks: "   "})

	var verr *review.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "is required", verr.Fields["rejectionRemarks"])
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Equal(t, http.StatusBadRequest, apperrors.HTTPStatusCode(err))
	assert.Empty(t, f.backend.calls)

	_, err = f.svc.Notify(context.Background(), hoo, review.NotifyRequest{ID: "f1"})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "notifyremarks")

	_, err = f.svc.Reject(context.Background(), verifier, review.RejectRequest{ID: "f1", Remarks: " missing photo "})
	require.NoError(t, err)
	assert.Equal(t, []string{"reject f1 missing photo"}, f.backend.calls)
}

func TestConditionValidation(t *testing.T) {
	f := newFixture()
	dataEntry := review.Actor{Roles: []apikey.Role{apikey.RoleDataEntry}}

	_, err := f.svc.UpdateCondition(context.Background(), dataEntry, review.ConditionRequest{ID: "a1", Condition: "Broken", AssetType: "Permanent"})
	var verr *review.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "must be one of Good, Service, Dispose, Exchange", verr.Fields["condition"])

	ev, err := f.svc.UpdateCondition(context.Background(), dataEntry, review.ConditionRequest{ID: "a1", Condition: "Dispose", AssetType: "Consumable"})
	require.NoError(t, err)
	assert.Equal(t, "Dispose", ev.Condition)
	assert.Equal(t, review.CollectionAssets, ev.Collection)
	assert.Equal(t, []string{"condition a1 Dispose Consumable"}, f.backend.calls)
}

func TestUpdateAssetIsDataEntryOnly(t *testing.T) {
	f := newFixture()
	req := review.AssetUpdateRequest{
		ID:        "p1",
		AssetType: record.AssetPermanent,
		Fields:    record.Doc{"_id": "other", "location": "Store 2", "supplierName": "Acme"},
	}

	_, err := f.svc.UpdateAsset(context.Background(), verifier, req)
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	dataEntry := review.Actor{KeyID: "k9", Name: "desk", Roles: []apikey.Role{apikey.RoleDataEntry}}
	_, err = f.svc.UpdateAsset(context.Background(), dataEntry, review.AssetUpdateRequest{ID: "p1", AssetType: "Furniture", Fields: record.Doc{"a": 1}})
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)

	ev, err := f.svc.UpdateAsset(context.Background(), dataEntry, req)
	require.NoError(t, err)
	assert.Equal(t, audit.ActionAssetUpdate, ev.Action)
	assert.Equal(t, record.AssetPermanent, ev.AssetType)
	assert.Equal(t, []string{"update Permanent p1 2"}, f.backend.calls, "the id field is never sent as an edit")
	assert.Len(t, f.changes.events, 1)
}

func TestBackendFailureIsAudited(t *testing.T) {
	f := newFixture()
	f.backend.err = apperrors.New(apperrors.ErrUpstreamRejected, http.StatusUnprocessableEntity, "already verified")

	ev, err := f.svc.Verify(context.Background(), verifier, review.FacultyRequest{ID: "f1"})
	require.Error(t, err)
	assert.Equal(t, "already verified", apperrors.Message(err, ""))
	assert.Equal(t, audit.OutcomeRejected, ev.Outcome)
	require.Len(t, f.events.events, 1, "failed attempts are audited")
	assert.Empty(t, f.changes.events, "nothing changed")

	f.backend.err = errors.New("connection reset")
	ev, _ = f.svc.Verify(context.Background(), verifier, review.FacultyRequest{ID: "f1"})
	assert.Equal(t, audit.OutcomeFailed, ev.Outcome)
}

func TestRolesFor(t *testing.T) {
	assert.ElementsMatch(t, []apikey.Role{apikey.RoleHOO, apikey.RolePrincipal, apikey.RoleDataEntry}, review.RolesFor(audit.ActionConditionUpdate))
	assert.Empty(t, review.RolesFor("launch"))
}

func TestValidationErrorMessage(t *testing.T) {
	err := &review.ValidationError{Fields: map[string]string{"b": "is required", "a": "failed max"}}
	assert.Equal(t, "validation failed: a: failed max; b: is required", err.Error())
}
