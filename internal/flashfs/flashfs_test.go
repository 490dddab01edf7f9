package flashfs

import (
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	path   string
	action Action
}

// recorder collects events for assertions. Dispatch is synchronous, so no
// locking is needed as long as the test itself drives all mutations.
type recorder struct {
	events []recorded
}

func (r *recorder) callback(path string, action Action) {
	r.events = append(r.events, recorded{path: path, action: action})
}

func newMemFS() *FlashFS {
	return New(afero.NewMemMapFs())
}

func TestPathNormalization(t *testing.T) {
	fsys := newMemFS()

	require.NoError(t, fsys.Write("config.json", []byte(`{"a":1}`)))

	// The bare and slash-prefixed spellings must observe identical behavior.
	assert.True(t, fsys.Exists("/config.json"))
	assert.True(t, fsys.Exists("config.json"))

	data, err := fsys.Read("/config.json")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))
}

func TestWriteEmitsCreatedThenUpdated(t *testing.T) {
	fsys := newMemFS()
	rec := &recorder{}
	fsys.Subscribe(rec.callback)

	require.NoError(t, fsys.Write("file.txt", []byte("one")))
	require.NoError(t, fsys.Write("/file.txt", []byte("two")))

	require.Len(t, rec.events, 2)
	assert.Equal(t, recorded{"/file.txt", Created}, rec.events[0])
	assert.Equal(t, recorded{"/file.txt", Updated}, rec.events[1])

	data, err := fsys.Read("/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}

func TestWriteFailureEmitsNothing(t *testing.T) {
	backend := afero.NewReadOnlyFs(afero.NewMemMapFs())
	fsys := New(backend)
	rec := &recorder{}
	fsys.Subscribe(rec.callback)

	err := fsys.Write("/file.txt", []byte("data"))
	require.Error(t, err)
	assert.Empty(t, rec.events)
}

func TestMountFailurePropagates(t *testing.T) {
	fsys := NewWithMount(afero.NewMemMapFs(), func() error {
		return errors.New("no volume")
	})

	err := fsys.Write("/file.txt", []byte("data"))
	require.Error(t, err)
	assert.False(t, fsys.Exists("/file.txt"))

	_, err = fsys.Read("/file.txt")
	require.Error(t, err)
}

func TestMountIsIdempotent(t *testing.T) {
	calls := 0
	fsys := NewWithMount(afero.NewMemMapFs(), func() error {
		calls++
		return nil
	})

	require.NoError(t, fsys.Mount())
	require.NoError(t, fsys.Mount())
	require.NoError(t, fsys.Write("/file.txt", nil))
	assert.Equal(t, 1, calls)
}

func TestRemoveSemantics(t *testing.T) {
	fsys := newMemFS()
	rec := &recorder{}
	fsys.Subscribe(rec.callback)

	// Removing a missing file fails and emits nothing.
	require.Error(t, fsys.Remove("/missing.txt"))
	assert.Empty(t, rec.events)

	require.NoError(t, fsys.Write("/file.txt", []byte("data")))
	require.NoError(t, fsys.Remove("file.txt"))

	require.Len(t, rec.events, 2)
	assert.Equal(t, recorded{"/file.txt", Removed}, rec.events[1])
	assert.False(t, fsys.Exists("/file.txt"))
}

func TestRenameReplacesWithoutEvents(t *testing.T) {
	fsys := newMemFS()
	require.NoError(t, fsys.Write("/new.tmp", []byte("fresh")))
	require.NoError(t, fsys.Write("/target.json", []byte("stale")))

	rec := &recorder{}
	fsys.Subscribe(rec.callback)

	require.NoError(t, fsys.Rename("/new.tmp", "/target.json"))

	assert.Empty(t, rec.events, "rename is the silent atomic replace primitive")
	assert.False(t, fsys.Exists("/new.tmp"))
	data, err := fsys.Read("/target.json")
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))
}

func TestList(t *testing.T) {
	fsys := newMemFS()
	require.NoError(t, fsys.Write("/a.txt", []byte("aa")))
	require.NoError(t, fsys.Write("/b.txt", []byte("b")))

	entries, err := fsys.List("/")
	require.NoError(t, err)

	sizes := make(map[string]int64, len(entries))
	for _, e := range entries {
		sizes[e.Name] = e.Size
	}
	assert.Equal(t, int64(2), sizes["a.txt"])
	assert.Equal(t, int64(1), sizes["b.txt"])
}

func TestSubscribeHandlesUniqueAndNonZero(t *testing.T) {
	fsys := newMemFS()

	nop := func(string, Action) {}
	keep := fsys.Subscribe(nop)
	require.NotZero(t, keep)

	seen := map[uint32]bool{keep: true}
	for i := 0; i < 10000; i++ {
		id := fsys.Subscribe(nop)
		require.NotZero(t, id)
		require.False(t, seen[id], "duplicate active handle %d", id)
		seen[id] = true
		if i%2 == 0 {
			require.True(t, fsys.Unsubscribe(id))
			delete(seen, id)
		}
	}
}

func TestSubscribeCounterWraparound(t *testing.T) {
	fsys := newMemFS()
	nop := func(string, Action) {}

	first := fsys.Subscribe(nop) // id 1, stays registered
	require.Equal(t, uint32(1), first)

	fsys.mu.Lock()
	fsys.nextSubID = ^uint32(0)
	fsys.mu.Unlock()

	last := fsys.Subscribe(nop)
	assert.Equal(t, ^uint32(0), last)

	// The counter has wrapped; 0 is never issued and 1 is still active, so
	// the next handle must skip to 2.
	next := fsys.Subscribe(nop)
	assert.Equal(t, uint32(2), next)
}

func TestUnsubscribeUnknownHandle(t *testing.T) {
	fsys := newMemFS()
	assert.False(t, fsys.Unsubscribe(42))
	assert.False(t, fsys.Unsubscribe(0))
}

func TestDispatchOrderFollowsRegistration(t *testing.T) {
	fsys := newMemFS()

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		fsys.Subscribe(func(string, Action) { order = append(order, i) })
	}

	require.NoError(t, fsys.Write("/file.txt", nil))
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestCallbackMayMutateRegistryDuringDispatch(t *testing.T) {
	fsys := newMemFS()

	var calls []string
	var selfID uint32
	selfID = fsys.Subscribe(func(string, Action) {
		calls = append(calls, "self")
		// Mutating the registry mid-dispatch must neither corrupt iteration
		// nor deliver to the newcomer within this dispatch.
		fsys.Unsubscribe(selfID)
		fsys.Subscribe(func(string, Action) { calls = append(calls, "late") })
	})
	fsys.Subscribe(func(string, Action) { calls = append(calls, "other") })

	require.NoError(t, fsys.Write("/file.txt", nil))
	assert.Equal(t, []string{"self", "other"}, calls)

	// The newcomer is live for the next event; "self" is gone.
	require.NoError(t, fsys.Write("/file.txt", []byte("x")))
	assert.Equal(t, []string{"self", "other", "other", "late"}, calls)
}
