package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testState struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestAtomicWriteJSON_RoundTrip(t *testing.T) {
	s := New(t.TempDir())

	want := testState{Name: "orchestrator", Count: 3}
	require.NoError(t, s.AtomicWriteJSON("teams.json", want))

	got, err := ReadJSON(s, "teams.json", testState{})
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// No temp files left behind.
	entries, err := os.ReadDir(s.Root())
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp.")
	}
}

func TestReadJSON_MissingFileReturnsDefault(t *testing.T) {
	s := New(t.TempDir())

	def := testState{Name: "default"}
	got, err := ReadJSON(s, "missing.json", def)
	require.NoError(t, err)
	assert.Equal(t, def, got)
}

func TestReadJSON_CorruptFileQuarantined(t *testing.T) {
	s := New(t.TempDir())
	path := s.Path("queue-state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	def := testState{Name: "fallback"}
	got, err := ReadJSON(s, "queue-state.json", def)
	require.NoError(t, err, "corrupt files are recovered, never surfaced as errors")
	assert.Equal(t, def, got)

	// Original bytes preserved under a .corrupt.<timestamp> suffix.
	entries, err := os.ReadDir(s.Root())
	require.NoError(t, err)
	var quarantined string
	for _, e := range entries {
		if strings.Contains(e.Name(), ".corrupt.") {
			quarantined = e.Name()
		}
	}
	require.NotEmpty(t, quarantined, "expected a quarantine copy")
	data, err := os.ReadFile(filepath.Join(s.Root(), quarantined))
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data))
}

func TestAtomicWrite_ConcurrentWritersLeaveOneValue(t *testing.T) {
	s := New(t.TempDir())

	var wg sync.WaitGroup
	values := []testState{{Name: "x", Count: 1}, {Name: "y", Count: 2}}
	for _, v := range values {
		wg.Add(1)
		go func(v testState) {
			defer wg.Done()
			assert.NoError(t, s.AtomicWriteJSON("state.json", v))
		}(v)
	}
	wg.Wait()

	got, err := ReadJSON(s, "state.json", testState{})
	require.NoError(t, err)
	assert.Contains(t, values, got, "file content must equal exactly one committed state")
}

func TestModifyJSON_SerializesMutations(t *testing.T) {
	s := New(t.TempDir())

	const n = 25
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ModifyJSON(s, "counter.json", testState{}, func(v *testState) error {
				v.Count++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := ReadJSON(s, "counter.json", testState{})
	require.NoError(t, err)
	assert.Equal(t, n, got.Count, "read-modify-write cycles must not interleave")
}

func TestModifyJSON_MutatorErrorReleasesLock(t *testing.T) {
	s := New(t.TempDir())

	boom := errors.New("boom")
	_, err := ModifyJSON(s, "state.json", testState{}, func(*testState) error {
		return boom
	})
	require.ErrorIs(t, err, boom)

	// A failed mutator must not leave the operation lock held.
	_, err = ModifyJSON(s, "state.json", testState{}, func(v *testState) error {
		v.Name = "after"
		return nil
	})
	require.NoError(t, err)

	got, err := ReadJSON(s, "state.json", testState{})
	require.NoError(t, err)
	assert.Equal(t, "after", got.Name)
}

func TestModifyJSON_ErrorDoesNotWrite(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.AtomicWriteJSON("state.json", testState{Name: "before"}))

	_, err := ModifyJSON(s, "state.json", testState{}, func(v *testState) error {
		v.Name = "mutated"
		return errors.New("abort")
	})
	require.Error(t, err)

	got, err := ReadJSON(s, "state.json", testState{})
	require.NoError(t, err)
	assert.Equal(t, "before", got.Name)
}
