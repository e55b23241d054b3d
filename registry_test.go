package hapzip

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/hapzip/internal/testutil"
)

func TestRegistryGet(t *testing.T) {
	t.Parallel()

	path := testutil.WriteZip(t, "entry.hap", hapEntries())
	r := NewRegistry()
	defer r.Close()

	a, created, err := r.Get(path)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, r.Len())

	b, created, err := r.Get(path)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, a, b)

	got, err := b.ReadFile("ets/modules.abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("PANDA\x00bytecode"), got)
}

func TestRegistryConcurrentGet(t *testing.T) {
	t.Parallel()

	path := testutil.WriteZip(t, "entry.hap", hapEntries())
	r := NewRegistry()
	defer r.Close()

	const callers = 16
	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		archives [callers]*Archive
		creators [callers]bool
		errs     [callers]error
	)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			archives[i], creators[i], errs[i] = r.Get(path)
		}()
	}
	close(start)
	wg.Wait()

	created := 0
	for i := range callers {
		require.NoError(t, errs[i])
		assert.Same(t, archives[0], archives[i])
		if creators[i] {
			created++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryGetWithoutCreate(t *testing.T) {
	t.Parallel()

	path := testutil.WriteZip(t, "entry.hap", hapEntries())
	r := NewRegistry()
	defer r.Close()

	a, created, err := r.Get(path, GetWithCreate(false))
	require.NoError(t, err)
	assert.Nil(t, a)
	assert.False(t, created)
	assert.Equal(t, 0, r.Len())

	want, _, err := r.Get(path)
	require.NoError(t, err)
	a, created, err = r.Get(path, GetWithCreate(false))
	require.NoError(t, err)
	assert.Same(t, want, a)
	assert.False(t, created)
}

func TestRegistryGetWithoutCache(t *testing.T) {
	t.Parallel()

	path := testutil.WriteZip(t, "entry.hap", hapEntries())
	r := NewRegistry()
	defer r.Close()

	a, created, err := r.Get(path, GetWithCache(false))
	require.NoError(t, err)
	defer a.Close()
	assert.True(t, created)

	b, created, err := r.Get(path, GetWithCache(false))
	require.NoError(t, err)
	defer b.Close()
	assert.True(t, created)

	assert.NotSame(t, a, b)
	assert.Equal(t, 0, r.Len())
}

func TestRegistryEvict(t *testing.T) {
	t.Parallel()

	path := testutil.WriteZip(t, "entry.hap", hapEntries())
	r := NewRegistry()
	defer r.Close()

	assert.Nil(t, r.Evict(path))

	a, _, err := r.Get(path)
	require.NoError(t, err)

	evicted := r.Evict(path)
	require.Same(t, a, evicted)
	assert.Equal(t, 0, r.Len())

	// The evicted archive belongs to the caller and still works.
	assert.True(t, evicted.HasEntry("module.json"))
	require.NoError(t, evicted.Close())

	b, created, err := r.Get(path)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotSame(t, a, b)
}

func TestRegistryOpenError(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "entry.hap")
	r := NewRegistry()
	defer r.Close()

	a, created, err := r.Get(path)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, a)
	assert.False(t, created)
	assert.Equal(t, 0, r.Len())

	// Errors are not cached: the archive opens once it exists.
	testutil.WriteZipAt(t, path, hapEntries())
	a, created, err = r.Get(path)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotNil(t, a)
}

func TestRegistryArchiveOptions(t *testing.T) {
	t.Parallel()

	path := testutil.WriteZip(t, "entry.hap", hapEntries())
	r := NewRegistry(RegistryWithArchiveOptions(WithMarkerName("module.json")))
	defer r.Close()

	a, _, err := r.Get(path)
	require.NoError(t, err)
	assert.False(t, a.IsNewPackagingModel())
	assert.NotNil(t, a.cfg.pool)
	assert.Same(t, r.pool, a.cfg.pool)
}

func TestRegistryClose(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	var archives []*Archive
	for _, name := range []string{"a.hap", "b.hap", "c.hap"} {
		a, _, err := r.Get(testutil.WriteZip(t, name, hapEntries()))
		require.NoError(t, err)
		archives = append(archives, a)
	}
	require.Equal(t, 3, r.Len())

	require.NoError(t, r.Close())
	assert.Equal(t, 0, r.Len())
	for _, a := range archives {
		_, err := a.ReadFile("module.json")
		require.ErrorIs(t, err, ErrClosed)
	}
}
