package hapzip

import "log/slog"

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// RegistryWithLogger sets the logger for cache events.
func RegistryWithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// RegistryWithArchiveOptions sets the options used for every archive the
// registry opens.
func RegistryWithArchiveOptions(opts ...Option) RegistryOption {
	return func(r *Registry) {
		r.archiveOpts = append(r.archiveOpts, opts...)
	}
}

// GetOption configures a single Registry.Get call.
type GetOption func(*getConfig)

type getConfig struct {
	create bool
	cache  bool
}

// GetWithCreate controls whether a missing archive is opened (default: true).
// When false, Get only consults the cache.
func GetWithCreate(create bool) GetOption {
	return func(c *getConfig) {
		c.create = create
	}
}

// GetWithCache controls whether a newly opened archive is kept in the
// registry (default: true). Uncached archives belong to the caller, who
// must close them.
func GetWithCache(cache bool) GetOption {
	return func(c *getConfig) {
		c.cache = cache
	}
}
