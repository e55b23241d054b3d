// Package hapzip provides read-only random access to ZIP-format application
// packages (HAP bundles).
//
// An [Archive] parses the central directory once at open and then serves
// entry queries from memory. Entry content is validated against its local
// header before any byte is delivered, and decoded output is checked against
// the declared size and CRC-32.
//
// Only the stored and DEFLATE methods are understood. Multi-disk archives,
// ZIP64 records and archive comments are rejected as corrupt.
//
// # Quick Start
//
// Open an archive and read a file:
//
//	a, err := hapzip.Open("entry.hap")
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//	content, err := a.ReadFile("resources/base/profile/main_pages.json")
//
// Archive implements [fs.FS], [fs.StatFS], [fs.ReadFileFS] and
// [fs.ReadDirFS], so it works with [fs.WalkDir] and friends.
//
// # Mapping
//
// [Archive.Map] exposes the raw payload of an entry as a heap copy or a
// memory mapping. Shared mappings are restricted to stored bytecode entries
// and keep the archive file open until the mapping is closed:
//
//	m, err := a.Map("ets/modules.abc", hapzip.MapShared)
//	if err != nil {
//	    return err
//	}
//	defer m.Close()
//	code := m.Data()
//
// # Registry
//
// A [Registry] caches open archives by path so that each file is parsed
// once. It is an ordinary value owned by the caller:
//
//	reg := hapzip.NewRegistry()
//	defer reg.Close()
//	a, created, err := reg.Get("/data/app/entry.hap")
package hapzip
