package hapzip

import (
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/meigma/hapzip/internal/codec"
)

// Registry caches open archives by path so that each archive is opened
// and parsed at most once until it is evicted.
//
// A Registry is safe for concurrent use. The zero value is not usable;
// create one with NewRegistry.
type Registry struct {
	mu          sync.Mutex
	archives    map[string]*Archive
	group       singleflight.Group // zero value is valid
	pool        *codec.DecoderPool
	archiveOpts []Option
	logger      *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		archives: make(map[string]*Archive),
		pool:     codec.NewDecoderPool(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// log returns the logger, falling back to a discard logger if nil.
func (r *Registry) log() *slog.Logger {
	if r.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.logger
}

// Get returns the archive for path and whether this call opened it.
//
// Cached archives are returned as is. On a miss the archive is opened and,
// unless GetWithCache(false) is given, cached. Concurrent misses for the
// same path open the archive once: exactly one caller sees created == true
// and the others receive the same Archive. With GetWithCreate(false) a miss
// returns (nil, false, nil).
//
// Cached archives are owned by the registry and must not be closed by the
// caller; use Evict to take ownership back.
func (r *Registry) Get(path string, opts ...GetOption) (*Archive, bool, error) {
	cfg := getConfig{create: true, cache: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	if a, ok := r.cached(path); ok {
		r.log().Debug("registry hit", "path", path)
		return a, false, nil
	}
	if !cfg.create {
		return nil, false, nil
	}
	if !cfg.cache {
		a, err := r.open(path)
		if err != nil {
			return nil, false, err
		}
		return a, true, nil
	}

	r.log().Debug("registry miss", "path", path)
	created := false
	v, err, _ := r.group.Do(path, func() (any, error) {
		// Double-check under the flight: a previous flight may have
		// finished between our miss and this call.
		if a, ok := r.cached(path); ok {
			return a, nil
		}
		a, err := r.open(path)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.archives[path] = a
		r.mu.Unlock()
		created = true
		return a, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*Archive), created, nil //nolint:errcheck // type assertion always succeeds when err is nil
}

func (r *Registry) cached(path string) (*Archive, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.archives[path]
	return a, ok
}

func (r *Registry) open(path string) (*Archive, error) {
	opts := make([]Option, 0, len(r.archiveOpts)+2)
	opts = append(opts, withDecoderPool(r.pool))
	if r.logger != nil {
		opts = append(opts, WithLogger(r.logger))
	}
	opts = append(opts, r.archiveOpts...)
	return Open(path, opts...)
}

// Evict removes path from the registry and returns its archive, or nil if
// it was not cached. The archive is not closed; the caller now owns it.
func (r *Registry) Evict(path string) *Archive {
	r.mu.Lock()
	a, ok := r.archives[path]
	delete(r.archives, path)
	r.mu.Unlock()
	if ok {
		r.log().Debug("registry evicted", "path", path)
	}
	return a
}

// Len returns the number of cached archives.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.archives)
}

// Close evicts and closes every cached archive. The registry stays usable.
func (r *Registry) Close() error {
	r.mu.Lock()
	archives := r.archives
	r.archives = make(map[string]*Archive)
	r.mu.Unlock()

	var firstErr error
	for _, a := range archives {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
