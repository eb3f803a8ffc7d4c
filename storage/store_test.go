package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BWeng20/ruFSM/executor"
	"github.com/BWeng20/ruFSM/fsm"
)

func testModel(name string) *fsm.Fsm {
	f := fsm.NewFsm(name, fsm.NullDatamodelName)
	s := f.NewState("s0")
	f.AddChild(f.PseudoRoot, s.Id)
	end := f.NewState("end")
	end.IsFinal = true
	f.AddChild(f.PseudoRoot, end.Id)
	t := f.NewTransition(s.Id)
	t.Events = []string{"go"}
	t.Target = []fsm.StateId{end.Id}
	return f
}

func openTestCache(t *testing.T) *FsmCache {
	t.Helper()
	cache, err := Open(filepath.Join(t.TempDir(), "models.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestPutGetDelete(t *testing.T) {
	cache := openTestCache(t)

	_, hit, err := cache.Get("m")
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, cache.Put("m", testModel("m")))
	loaded, hit, err := cache.Get("m")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, "m", loaded.Name)
	assert.Len(t, loaded.States, 3)

	require.NoError(t, cache.Delete("m"))
	_, hit, err = cache.Get("m")
	require.NoError(t, err)
	assert.False(t, hit)
}

// countingLoader counts pass-through loads.
type countingLoader struct {
	inner *executor.MemoryLoader
	loads int
}

func (l *countingLoader) Load(source string, includePaths []string) (*fsm.Fsm, error) {
	l.loads++
	return l.inner.Load(source, includePaths)
}

func TestCachingLoaderHitsCacheOnSecondLoad(t *testing.T) {
	cache := openTestCache(t)
	inner := executor.NewMemoryLoader()
	inner.Register("m", testModel("m"))
	counting := &countingLoader{inner: inner}
	loader := NewCachingLoader(cache, counting)

	first, err := loader.Load("m", nil)
	require.NoError(t, err)
	second, err := loader.Load("m", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, counting.loads)
	assert.Equal(t, first.Name, second.Name)

	_, err = loader.Load("missing", nil)
	assert.Error(t, err)
}

// A cached model must still run.
func TestCachedModelRuns(t *testing.T) {
	cache := openTestCache(t)
	inner := executor.NewMemoryLoader()
	inner.Register("m", testModel("m"))
	e := executor.New(NewCachingLoader(cache, inner))
	defer e.Shutdown()

	// Twice: second run comes from the cache.
	for i := 0; i < 2; i++ {
		id, err := e.Execute("m", fsm.TraceNone)
		require.NoError(t, err)
		session, have := e.Session(id)
		require.True(t, have)
		require.NoError(t, e.SendToSession(id, fsm.NewSimpleEvent("go")))
		finals := <-session.Finished
		assert.Contains(t, finals, "end")
	}
}
