package directory

import (
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
)

// CachePolicy selects how directory queries are answered.
type CachePolicy uint8

const (
	// CacheAuto builds the directory tree only for archives with at least
	// TreeThreshold entries and scans names otherwise.
	CacheAuto CachePolicy = iota

	// CacheNever always scans the sorted name list.
	CacheNever

	// CacheAlways always builds and caches the directory tree.
	CacheAlways
)

// TreeThreshold is the entry count at which CacheAuto switches to the tree.
const TreeThreshold = 10000

// String returns the policy name.
func (p CachePolicy) String() string {
	switch p {
	case CacheAuto:
		return "auto"
	case CacheNever:
		return "never"
	case CacheAlways:
		return "always"
	default:
		return "unknown"
	}
}

// Index answers directory queries over an immutable, sorted name list.
// Prefixes are normalized "a/b/" keys; the empty prefix addresses the root.
type Index interface {
	// IsDir reports whether any entry lies below prefix.
	IsDir(prefix string) bool

	// Files returns every non-directory entry name below prefix, sorted.
	Files(prefix string) []string

	// Children returns the distinct immediate child names below prefix, sorted.
	Children(prefix string) []string

	// Release drops cached state.
	Release()
}

// newIndex picks the strategy for policy and entry count.
func newIndex(policy CachePolicy, names []string, logger *slog.Logger) Index {
	switch {
	case policy == CacheAlways,
		policy == CacheAuto && len(names) >= TreeThreshold:
		return &treeIndex{names: names, logger: logger}
	default:
		return &linearIndex{names: names}
	}
}

// linearIndex scans the sorted name list. Names sharing a prefix are
// contiguous, so every query is a binary search plus a bounded scan.
type linearIndex struct {
	names []string
}

// withPrefix calls fn for each name starting with prefix, in sorted order.
func (l *linearIndex) withPrefix(prefix string, fn func(name string)) {
	start := sort.SearchStrings(l.names, prefix)
	for _, name := range l.names[start:] {
		if !strings.HasPrefix(name, prefix) {
			return
		}
		fn(name)
	}
}

func (l *linearIndex) IsDir(prefix string) bool {
	start := sort.SearchStrings(l.names, prefix)
	return start < len(l.names) && strings.HasPrefix(l.names[start], prefix)
}

func (l *linearIndex) Files(prefix string) []string {
	files := make([]string, 0)
	l.withPrefix(prefix, func(name string) {
		if !strings.HasSuffix(name, "/") {
			files = append(files, name)
		}
	})
	return files
}

func (l *linearIndex) Children(prefix string) []string {
	seen := make(map[string]struct{})
	l.withPrefix(prefix, func(name string) {
		if child, ok := firstSegment(name[len(prefix):]); ok {
			seen[child] = struct{}{}
		}
	})
	children := make([]string, 0, len(seen))
	for child := range seen {
		children = append(children, child)
	}
	slices.Sort(children)
	return children
}

func (l *linearIndex) Release() {
	l.names = nil
}

// node is one path segment of the directory tree. dir is set once any entry lies below the node.
type node struct {
	dir      bool
	isFile   bool
	file     string
	children map[string]*node
}

func (n *node) child(name string) *node {
	if n.children == nil {
		n.children = make(map[string]*node)
	}
	c, ok := n.children[name]
	if !ok {
		c = &node{}
		n.children[name] = c
	}
	return c
}

// treeIndex builds the directory tree on first use and keeps it until Release.
type treeIndex struct {
	names  []string
	logger *slog.Logger

	mu     sync.Mutex
	root   *node
	builds int
}

// tree returns the cached tree, building it once.
func (t *treeIndex) tree() *node {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.root != nil {
		return t.root
	}
	root := &node{dir: true}
	for _, name := range t.names {
		dirEntry := strings.HasSuffix(name, "/")
		n := root
		for seg := range strings.SplitSeq(strings.TrimSuffix(name, "/"), "/") {
			n.dir = true
			n = n.child(seg)
		}
		if dirEntry {
			n.dir = true
		} else {
			n.isFile = true
			n.file = name
		}
	}
	t.root = root
	t.builds++
	if t.logger != nil {
		t.logger.Debug("directory tree built", "entries", len(t.names))
	}
	return root
}

// lookup descends to the node for prefix, or nil.
func (t *treeIndex) lookup(prefix string) *node {
	n := t.tree()
	if prefix == "" {
		return n
	}
	for seg := range strings.SplitSeq(strings.TrimSuffix(prefix, "/"), "/") {
		next, ok := n.children[seg]
		if !ok {
			return nil
		}
		n = next
	}
	return n
}

func (t *treeIndex) IsDir(prefix string) bool {
	n := t.lookup(prefix)
	return n != nil && n.dir
}

func (t *treeIndex) Files(prefix string) []string {
	files := make([]string, 0)
	n := t.lookup(prefix)
	if n == nil {
		return files
	}
	var walk func(*node)
	walk = func(n *node) {
		if n.isFile {
			files = append(files, n.file)
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	for _, c := range n.children {
		walk(c)
	}
	slices.Sort(files)
	return files
}

func (t *treeIndex) Children(prefix string) []string {
	n := t.lookup(prefix)
	if n == nil {
		return []string{}
	}
	children := make([]string, 0, len(n.children))
	for name := range n.children {
		if name != "" {
			children = append(children, name)
		}
	}
	slices.Sort(children)
	return children
}

func (t *treeIndex) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root = nil
	t.names = nil
}
