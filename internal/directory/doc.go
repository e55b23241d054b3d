// Package directory parses a ZIP central directory and answers name,
// directory and listing queries against it.
//
// The name to entry mapping is immutable once Open returns. Directory
// queries are served by an Index chosen at open time: a sorted-name prefix
// scan for small archives, or a lazily built tree for large ones.
package directory
