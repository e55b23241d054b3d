package hapzip

import (
	"log/slog"

	"github.com/meigma/hapzip/internal/codec"
	"github.com/meigma/hapzip/internal/directory"
)

// Default option values.
const (
	// DefaultMarkerName is the root entry whose presence marks the legacy
	// packaging model.
	DefaultMarkerName = "config.json"

	// DefaultBytecodeExtension is the name suffix required for shared mappings.
	DefaultBytecodeExtension = ".abc"
)

// CachePolicy selects how directory queries are answered.
type CachePolicy = directory.CachePolicy

// Cache policies.
const (
	// CacheAuto builds a directory tree for archives with at least
	// TreeThreshold entries and scans the sorted name list otherwise.
	CacheAuto = directory.CacheAuto

	// CacheNever always scans the sorted name list.
	CacheNever = directory.CacheNever

	// CacheAlways builds the directory tree on first use and keeps it.
	CacheAlways = directory.CacheAlways
)

// TreeThreshold is the entry count at which CacheAuto switches to the tree.
const TreeThreshold = directory.TreeThreshold

type config struct {
	logger      *slog.Logger
	cachePolicy CachePolicy
	verifyCRC   bool
	markerName  string
	bytecodeExt string
	pool        *codec.DecoderPool
}

func defaultConfig() config {
	return config{
		cachePolicy: CacheAuto,
		verifyCRC:   true,
		markerName:  DefaultMarkerName,
		bytecodeExt: DefaultBytecodeExtension,
	}
}

// Option configures an Archive.
type Option func(*config)

// WithLogger sets the logger for archive events.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithCachePolicy selects the directory index strategy (default: CacheAuto).
// The policy is fixed for the lifetime of the archive.
func WithCachePolicy(p CachePolicy) Option {
	return func(c *config) {
		c.cachePolicy = p
	}
}

// WithVerifyCRC controls whether decoded content is checked against the
// entry CRC-32 (default: true). Sizes are always checked.
func WithVerifyCRC(enabled bool) Option {
	return func(c *config) {
		c.verifyCRC = enabled
	}
}

// WithMarkerName sets the root entry probed by IsNewPackagingModel
// (default: DefaultMarkerName).
func WithMarkerName(name string) Option {
	return func(c *config) {
		c.markerName = name
	}
}

// WithBytecodeExtension sets the name suffix that shared mappings require
// (default: DefaultBytecodeExtension).
func WithBytecodeExtension(ext string) Option {
	return func(c *config) {
		c.bytecodeExt = ext
	}
}

// withDecoderPool shares decoders between archives opened by a Registry.
func withDecoderPool(p *codec.DecoderPool) Option {
	return func(c *config) {
		c.pool = p
	}
}

// ExtractOption configures ExtractDir.
type ExtractOption func(*extractConfig)

type extractConfig struct {
	overwrite     bool
	preserveTimes bool
	workers       int
}

// ExtractWithOverwrite allows overwriting existing files.
// By default, existing files are skipped.
func ExtractWithOverwrite(overwrite bool) ExtractOption {
	return func(c *extractConfig) {
		c.overwrite = overwrite
	}
}

// ExtractWithPreserveTimes sets file modification times from the archive.
// By default, files get the current time.
func ExtractWithPreserveTimes(preserve bool) ExtractOption {
	return func(c *extractConfig) {
		c.preserveTimes = preserve
	}
}

// ExtractWithWorkers sets the number of parallel workers.
// Values < 0 force serial extraction. Zero uses GOMAXPROCS.
func ExtractWithWorkers(n int) ExtractOption {
	return func(c *extractConfig) {
		c.workers = n
	}
}
