package source

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outbound-router/internal/clientconfig"
	"outbound-router/internal/common/errors"
	"outbound-router/internal/common/logging"
)

// fakeRegistrar records calls and fails registrations for ids in reject.
type fakeRegistrar struct {
	mu         sync.Mutex
	registered map[string]clientconfig.Raw
	calls      int
	reject     map[string]bool
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{registered: map[string]clientconfig.Raw{}, reject: map[string]bool{}}
}

func (f *fakeRegistrar) RegisterRaw(raw clientconfig.Raw) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.reject[raw.ID] {
		return errors.FieldError("host_patterns", "rejected", nil)
	}
	f.registered[raw.ID] = raw
	return nil
}

func (f *fakeRegistrar) Unregister(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.registered[id]; !ok {
		return errors.NotFoundError("client configuration " + id)
	}
	delete(f.registered, id)
	return nil
}

func (f *fakeRegistrar) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for id := range f.registered {
		out = append(out, id)
	}
	return out
}

func TestReconciler_SyncRegistersAndRemoves(t *testing.T) {
	reg := newFakeRegistrar()
	r := NewReconciler(reg, logging.NewNopLogger())

	res := r.Sync([]clientconfig.Raw{{ID: "a"}, {ID: "b"}})
	require.NoError(t, res.Err())
	assert.Equal(t, []string{"a", "b"}, res.Registered)
	assert.Equal(t, []string{"a", "b"}, r.Applied())

	res = r.Sync([]clientconfig.Raw{{ID: "a"}, {ID: "c", Rank: "3"}})
	require.NoError(t, res.Err())
	assert.Equal(t, []string{"c"}, res.Registered)
	assert.Equal(t, []string{"a"}, res.Unchanged)
	assert.Equal(t, []string{"b"}, res.Removed)
	assert.ElementsMatch(t, []string{"a", "c"}, reg.ids())
	assert.Equal(t, 3, reg.calls, "unchanged records are not re-registered")
}

func TestReconciler_ChangedRecordReRegisters(t *testing.T) {
	reg := newFakeRegistrar()
	r := NewReconciler(reg, logging.NewNopLogger())

	r.Sync([]clientconfig.Raw{{ID: "a", ConnectTimeout: "10"}})
	res := r.Sync([]clientconfig.Raw{{ID: "a", ConnectTimeout: "20"}})

	assert.Equal(t, []string{"a"}, res.Registered)
	assert.Equal(t, clientconfig.Scalar("20"), reg.registered["a"].ConnectTimeout)
}

func TestReconciler_FailureKeepsPreviousAndRetries(t *testing.T) {
	reg := newFakeRegistrar()
	r := NewReconciler(reg, logging.NewNopLogger())
	r.Sync([]clientconfig.Raw{{ID: "a", Rank: "1"}})

	reg.reject["a"] = true
	res := r.Sync([]clientconfig.Raw{{ID: "a", Rank: "2"}, {ID: "bad"}})
	require.Error(t, res.Err())
	assert.Contains(t, res.Failed, "a")
	assert.NotContains(t, res.Failed, "bad")
	assert.Equal(t, clientconfig.Scalar("1"), reg.registered["a"].Rank)
	assert.Contains(t, r.Applied(), "a", "the running client stays applied")

	delete(reg.reject, "a")
	res = r.Sync([]clientconfig.Raw{{ID: "a", Rank: "2"}, {ID: "bad"}})
	require.NoError(t, res.Err())
	assert.Equal(t, []string{"a"}, res.Registered, "the failed fingerprint was not recorded")
}

func TestReconciler_DuplicateIDs(t *testing.T) {
	reg := newFakeRegistrar()
	r := NewReconciler(reg, logging.NewNopLogger())

	res := r.Sync([]clientconfig.Raw{{ID: "a", Rank: "1"}, {ID: "a", Rank: "2"}})
	require.Error(t, res.Err())
	assert.Equal(t, "id", errors.GetField(res.Failed["a"]))
	assert.Equal(t, clientconfig.Scalar("1"), reg.registered["a"].Rank)
}

func TestReconciler_ApplyAndRemove(t *testing.T) {
	reg := newFakeRegistrar()
	r := NewReconciler(reg, logging.NewNopLogger())

	changed, err := r.Apply(clientconfig.Raw{ID: "x"})
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = r.Apply(clientconfig.Raw{ID: "x"})
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, r.Remove("x"))
	require.NoError(t, r.Remove("x"), "removing an unknown id is a no-op")
	assert.Empty(t, r.Applied())
}

func TestResult_Err(t *testing.T) {
	assert.NoError(t, Result{}.Err())

	err := Result{Failed: map[string]error{
		"b": fmt.Errorf("second"),
		"a": fmt.Errorf("first"),
	}}.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 configuration(s) failed: a: first; b: second")
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint(clientconfig.Raw{ID: "x", Rank: "1"})
	assert.Len(t, a, 64)
	assert.Equal(t, a, Fingerprint(clientconfig.Raw{ID: "x", Rank: "1"}))
	assert.NotEqual(t, a, Fingerprint(clientconfig.Raw{ID: "x", Rank: "2"}))
}
