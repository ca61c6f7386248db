// Package pathindex implements the immutable path tree (C1): built once from
// a torrent's file list, it answers list/stat in O(depth). Each lookup
// splits the query path into components, and List also builds a sorted
// name slice, so a query allocates beyond its result.
package pathindex

import (
	"sort"
	"strings"

	"github.com/torrentfs/torrentfsd/internal/apperr"
)

// Entry is a single file entry used to build an Index.
type Entry struct {
	Path      string
	FileIndex int
	Size      int64
}

// EntryType names whether a listing/stat result refers to a file or directory.
type EntryType string

const (
	TypeFile EntryType = "file"
	TypeDir  EntryType = "dir"
)

// ListEntry is one row of a List result.
type ListEntry struct {
	Name string
	Type EntryType
	Size int64
}

// StatResult is the result of a Stat call.
type StatResult struct {
	Type      EntryType
	Size      int64
	FileIndex int // only meaningful when Type == TypeFile
}

type node struct {
	name      string
	isDir     bool
	children  map[string]*node
	fileIndex int
	size      int64
}

// Index is an immutable tree over a torrent's file list. Build constructs it
// once; no method mutates it afterward.
type Index struct {
	root *node
}

// Build constructs an Index from the given file entries. Unlike the
// reference implementation this performs construction in one pass and never
// mutates the result afterward; insertion order does not affect List output
// since List sorts at query time.
func Build(entries []Entry) *Index {
	root := &node{name: "", isDir: true, children: map[string]*node{}}
	for _, e := range entries {
		addFile(root, normalize(e.Path), e.FileIndex, e.Size)
	}
	return &Index{root: root}
}

func normalize(p string) string {
	return strings.Trim(p, "/")
}

func addFile(root *node, path string, fileIndex int, size int64) {
	if path == "" {
		return
	}
	parts := strings.Split(path, "/")
	cur := root
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur.children[part]
		if !ok {
			next = &node{name: part, isDir: true, children: map[string]*node{}}
			cur.children[part] = next
		}
		cur = next
	}
	leafName := parts[len(parts)-1]
	leaf, ok := cur.children[leafName]
	if !ok {
		leaf = &node{name: leafName, children: map[string]*node{}}
		cur.children[leafName] = leaf
	}
	leaf.isDir = false
	leaf.fileIndex = fileIndex
	leaf.size = size
}

func (ix *Index) walk(path string) (*node, error) {
	path = normalize(path)
	if path == "" {
		return ix.root, nil
	}
	cur := ix.root
	for _, part := range strings.Split(path, "/") {
		next, ok := cur.children[part]
		if !ok {
			return nil, apperr.ErrFileNotFound
		}
		cur = next
	}
	return cur, nil
}

// List returns the sorted-by-name children of path. Fails with
// ErrNotADirectory if path names a file, ErrFileNotFound if it names nothing.
func (ix *Index) List(path string) ([]ListEntry, error) {
	n, err := ix.walk(path)
	if err != nil {
		return nil, err
	}
	if !n.isDir {
		return nil, apperr.ErrNotADirectory
	}
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]ListEntry, 0, len(names))
	for _, name := range names {
		child := n.children[name]
		if child.isDir {
			out = append(out, ListEntry{Name: name, Type: TypeDir, Size: 0})
		} else {
			out = append(out, ListEntry{Name: name, Type: TypeFile, Size: child.size})
		}
	}
	return out, nil
}

// Stat returns the type/size/file_index of path. The root path ("") always
// resolves to a directory of size 0.
func (ix *Index) Stat(path string) (StatResult, error) {
	n, err := ix.walk(path)
	if err != nil {
		return StatResult{}, err
	}
	if n.isDir {
		return StatResult{Type: TypeDir, Size: 0}, nil
	}
	return StatResult{Type: TypeFile, Size: n.size, FileIndex: n.fileIndex}, nil
}
