package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casfos/registry/internal/auth/apikey"
	"github.com/casfos/registry/internal/backend"
	"github.com/casfos/registry/internal/record"
	"github.com/casfos/registry/internal/remotefilter"
	apperrors "github.com/casfos/registry/pkg/errors"
)

type fakeBackend struct {
	faculty  []record.Doc
	assets   []record.Doc
	payloads []remotefilter.Payload
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	var f fakeBackend
	require.NoError(t, json.Unmarshal([]byte(`[
		{"_id": "f1", "name": "Ravi Kumar", "facultyType": "Internal", "status": "serving",
		 "majorDomains": ["Environment"], "yearOfAllotment": "2004"},
		{"_id": "f2", "name": "Asha Menon", "facultyType": "External", "status": "retired",
		 "majorDomains": ["Environment", "Disaster Management"]}
	]`), &f.faculty))
	require.NoError(t, json.Unmarshal([]byte(`[
		{"_id": "a1", "assetType": "Permanent", "assetCategory": "Furniture", "items": [{"itemName": "Table"}]},
		{"_id": "a2", "assetType": "Consumable", "assetCategory": "Stationery", "items": [{"itemName": "Pen"}]}
	]`), &f.assets))
	return &f
}

func (f *fakeBackend) AllFaculties(context.Context) ([]record.Doc, error) { return f.faculty, nil }

func (f *fakeBackend) FilterFaculties(_ context.Context, p remotefilter.Payload) remotefilter.Outcome {
	f.payloads = append(f.payloads, p)
	return remotefilter.FromRecords(f.faculty[:1])
}

func (f *fakeBackend) Faculty(_ context.Context, id string) (record.Doc, error) {
	for _, d := range f.faculty {
		if d.ID() == id {
			return d, nil
		}
	}
	return nil, apperrors.ErrRecordNotFound
}

func (f *fakeBackend) AllAssets(context.Context) ([]record.Doc, error) { return f.assets, nil }

func (f *fakeBackend) ReturnedForConditionChange(context.Context, string, string) ([]record.Doc, error) {
	return nil, nil
}

func (f *fakeBackend) Items(_ context.Context, stage backend.Stage, q backend.ItemQuery) ([]record.Doc, error) {
	return []record.Doc{{"itemName": "Laptop", "assetCategory": q.AssetCategory, "count": 3}}, nil
}

type fakeKeys struct {
	created []string
	revoked []string
}

func (k *fakeKeys) CreateKey(_ context.Context, name string, roles []apikey.Role, _ int, _ *time.Time) (string, error) {
	k.created = append(k.created, name+"="+string(roles[0]))
	return "raw-" + name, nil
}

func (k *fakeKeys) ListKeys(context.Context) ([]apikey.KeyInfo, error) {
	return []apikey.KeyInfo{{ID: "7", Name: "desk", Roles: []apikey.Role{apikey.RoleHOO, apikey.RoleDataEntry}, RateLimit: 50}}, nil
}

func (k *fakeKeys) RevokeKey(_ context.Context, raw string) error {
	k.revoked = append(k.revoked, raw)
	return nil
}

func run(t *testing.T, b Backend, k KeyStore, in string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := New(WithBackend(b), WithKeyStore(k), WithIO(strings.NewReader(in), &out))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTaxonomyMinors(t *testing.T) {
	out, err := run(t, newFakeBackend(t), nil, "", "taxonomy", "minors", "Environment")
	require.NoError(t, err)
	assert.Contains(t, out, "Climate Change")

	out, err = run(t, newFakeBackend(t), nil, "", "taxonomy", "minors", "Nowhere")
	require.NoError(t, err)
	assert.Contains(t, out, `no minor domains for "Nowhere"`)
}

func TestFacultyListLocal(t *testing.T) {
	b := newFakeBackend(t)
	out, err := run(t, b, nil, "", "faculty", "list", "--mode", "local", "--major", "Environment", "--major", "Disaster Management")
	require.NoError(t, err)
	assert.Contains(t, out, "Asha Menon")
	assert.NotContains(t, out, "Ravi Kumar")
	assert.Contains(t, out, "1 record(s)")
	assert.Empty(t, b.payloads)
}

func TestFacultyListQueryOverlay(t *testing.T) {
	out, err := run(t, newFakeBackend(t), nil, "", "faculty", "list", "--mode", "local", "-q", "status:retired", "--status", "serving")
	require.NoError(t, err)
	assert.Contains(t, out, "Ravi Kumar", "flags win over the query")
	assert.NotContains(t, out, "Asha Menon")

	_, err = run(t, newFakeBackend(t), nil, "", "faculty", "list", "-q", "colour:red")
	assert.Error(t, err)
}

func TestFacultyListNoResultsJSON(t *testing.T) {
	out, err := run(t, newFakeBackend(t), nil, "", "faculty", "list", "--mode", "local", "--name", "zed", "-o", "json")
	require.NoError(t, err)
	var got struct {
		State   string `json:"state"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "no_results", got.State)
	assert.Equal(t, remotefilter.MessageNoResults, got.Message)
}

func TestFacultyListRemote(t *testing.T) {
	b := newFakeBackend(t)
	_, err := run(t, b, nil, "", "faculty", "list", "--mode", "remote", "--status", "serving")
	require.NoError(t, err)
	require.Len(t, b.payloads, 1)
	assert.Equal(t, "serving", b.payloads[0].Status)
}

func TestRejectsUnknownOutput(t *testing.T) {
	_, err := run(t, newFakeBackend(t), nil, "", "taxonomy", "-o", "yaml")
	assert.ErrorContains(t, err, "unknown output format")
}

func TestFacultyShow(t *testing.T) {
	out, err := run(t, newFakeBackend(t), nil, "", "faculty", "show", "f1")
	require.NoError(t, err)
	assert.Contains(t, out, "Year Of Allotment: 2004")
	assert.Contains(t, out, "Name: Ravi Kumar")

	_, err = run(t, newFakeBackend(t), nil, "", "faculty", "show", "missing")
	assert.ErrorIs(t, err, apperrors.ErrRecordNotFound)
}

func TestWatchAppliesOnlyTheSettledQuery(t *testing.T) {
	in := "name:asha\ncolour:red\nname:ravi\n"
	out, err := run(t, newFakeBackend(t), nil, in, "faculty", "watch", "--mode", "local", "--debounce", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "invalid query")
	assert.Contains(t, out, "Ravi Kumar")
	assert.NotContains(t, out, "Asha Menon")
	assert.Equal(t, 1, strings.Count(out, "== filtered by"))
}

func TestAssets(t *testing.T) {
	b := newFakeBackend(t)
	out, err := run(t, b, nil, "", "assets", "list", "--item", "pen")
	require.NoError(t, err)
	assert.Contains(t, out, "Stationery")
	assert.NotContains(t, out, "Furniture")

	_, err = run(t, b, nil, "", "assets", "list", "--type", "Rental")
	assert.Error(t, err)

	out, err = run(t, b, nil, "", "assets", "stock", "store", "--category", "IT")
	require.NoError(t, err)
	assert.Contains(t, out, "Laptop")

	_, err = run(t, b, nil, "", "assets", "stock", "attic")
	assert.Error(t, err)

	out, err = run(t, b, nil, "", "assets", "returns")
	require.NoError(t, err)
	assert.Contains(t, out, remotefilter.MessageNoResults)
}

func TestKeys(t *testing.T) {
	keys := &fakeKeys{}
	out, err := run(t, newFakeBackend(t), keys, "", "keys", "create", "--name", "desk", "--roles", "Verifier")
	require.NoError(t, err)
	assert.Contains(t, out, "raw-desk")
	assert.Equal(t, []string{"desk=verifier"}, keys.created)

	_, err = run(t, newFakeBackend(t), keys, "", "keys", "create", "--name", "desk", "--roles", "janitor")
	assert.Error(t, err)
	_, err = run(t, newFakeBackend(t), keys, "", "keys", "create", "--roles", "viewer")
	assert.Error(t, err)

	out, err = run(t, newFakeBackend(t), keys, "", "keys", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "hoo,dataentry")
	assert.Contains(t, out, "never")

	_, err = run(t, newFakeBackend(t), keys, "", "keys", "revoke", "raw-desk")
	require.NoError(t, err)
	assert.Equal(t, []string{"raw-desk"}, keys.revoked)
}
