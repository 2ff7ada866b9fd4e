// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mzip

import (
	"bytes"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

var (
	_ fs.FS        = (*archiveFS)(nil)
	_ fs.StatFS    = (*archiveFS)(nil)
	_ fs.ReadDirFS = (*archiveFS)(nil)
)

// FS returns a read-only fs.FS view of the archive. Directories appear
// both for explicit directory entries (names ending in a slash) and
// implicitly for path prefixes of file entries. The view stays valid
// until the archive is closed.
func (a *Archive) FS() fs.FS {
	return &archiveFS{a: a}
}

type archiveFS struct {
	a *Archive
}

func (afs *archiveFS) Open(name string) (fs.File, error) {
	node, err := afs.lookup(name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}

	if node.isDir {
		return &fsDir{node: node, a: afs.a}, nil
	}

	data, err := afs.a.payload(node.entry)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return &fsFile{node: node, r: bytes.NewReader(data)}, nil
}

func (afs *archiveFS) Stat(name string) (fs.FileInfo, error) {
	node, err := afs.lookup(name)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	return fileInfoAdapter{node}, nil
}

func (afs *archiveFS) ReadDir(name string) ([]fs.DirEntry, error) {
	file, err := afs.Open(name)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	defer file.Close()

	dir, ok := file.(fs.ReadDirFile)
	if !ok {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	return dir.ReadDir(-1)
}

// fsNode normalizes an entry for the filesystem view: the name has no
// trailing slash and implicit directories have no backing entry.
type fsNode struct {
	name    string
	isDir   bool
	entry   *Entry // nil for the root and implicit directories
	modTime time.Time
	size    int64
}

// lookup resolves a path to its node, handling the root, explicit
// entries, and implicit directories.
func (afs *archiveFS) lookup(name string) (*fsNode, error) {
	if !fs.ValidPath(name) {
		return nil, fs.ErrInvalid
	}
	if afs.a.closed {
		return nil, fs.ErrClosed
	}

	if name == "." {
		return &fsNode{name: ".", isDir: true}, nil
	}

	if i, ok := afs.a.dir.findByName(name); ok {
		e, _ := afs.a.dir.at(i)
		return nodeFromEntry(e), nil
	}
	if i, ok := afs.a.dir.findByName(name + "/"); ok {
		e, _ := afs.a.dir.at(i)
		return nodeFromEntry(e), nil
	}

	if afs.hasImplicitDir(name) {
		return &fsNode{name: name, isDir: true}, nil
	}

	return nil, fs.ErrNotExist
}

func nodeFromEntry(e *Entry) *fsNode {
	return &fsNode{
		name:    strings.TrimSuffix(e.name, "/"),
		isDir:   e.IsDir(),
		entry:   e,
		modTime: e.modTime,
		size:    int64(e.uncompressedSize),
	}
}

func (afs *archiveFS) hasImplicitDir(name string) bool {
	prefix := name + "/"
	for _, e := range afs.a.dir.entries {
		if strings.HasPrefix(e.name, prefix) {
			return true
		}
	}
	return false
}

// fsFile wraps a decoded payload to satisfy fs.File.
type fsFile struct {
	node *fsNode
	r    *bytes.Reader
}

func (f *fsFile) Stat() (fs.FileInfo, error) { return fileInfoAdapter{f.node}, nil }
func (f *fsFile) Read(b []byte) (int, error) { return f.r.Read(b) }
func (f *fsFile) Close() error               { return nil }

// fsDir wraps a directory node to satisfy fs.ReadDirFile.
type fsDir struct {
	node *fsNode
	a    *Archive
}

func (d *fsDir) Stat() (fs.FileInfo, error) { return fileInfoAdapter{d.node}, nil }
func (d *fsDir) Close() error               { return nil }
func (d *fsDir) Read(b []byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.node.name, Err: fs.ErrInvalid}
}

// ReadDir scans the directory for the node's immediate children.
func (d *fsDir) ReadDir(n int) ([]fs.DirEntry, error) {
	dirPath := d.node.name
	if dirPath == "." {
		dirPath = ""
	} else {
		dirPath += "/"
	}

	seen := make(map[string]bool)
	var entries []fs.DirEntry

	for _, e := range d.a.dir.entries {
		if !strings.HasPrefix(e.name, dirPath) {
			continue
		}

		rel := strings.TrimPrefix(e.name, dirPath)
		rel = strings.TrimSuffix(rel, "/")
		if rel == "" {
			continue
		}

		parts := strings.SplitN(rel, "/", 2)
		childName := parts[0]

		if seen[childName] {
			continue
		}
		seen[childName] = true

		isDir := len(parts) > 1 || e.IsDir()
		node := nodeFromEntry(e)
		if len(parts) > 1 {
			// Implicit directory inferred from a deeper path; it has no
			// backing entry of its own.
			node = &fsNode{name: dirPath + childName, isDir: true}
		}
		entries = append(entries, fsDirEntryAdapter{
			name:  childName,
			isDir: isDir,
			info:  fileInfoAdapter{node},
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	if n <= 0 {
		return entries, nil
	}

	if len(entries) <= n {
		return entries, io.EOF
	}

	return entries[:n], nil
}

type fileInfoAdapter struct{ node *fsNode }

func (i fileInfoAdapter) Name() string { return path.Base(i.node.name) }
func (i fileInfoAdapter) Size() int64  { return i.node.size }
func (i fileInfoAdapter) Mode() fs.FileMode {
	if i.node.isDir {
		return fs.ModeDir | 0755
	}
	return 0644
}
func (i fileInfoAdapter) ModTime() time.Time { return i.node.modTime }
func (i fileInfoAdapter) IsDir() bool        { return i.node.isDir }
func (i fileInfoAdapter) Sys() interface{}   { return nil }

type fsDirEntryAdapter struct {
	name  string
	isDir bool
	info  fs.FileInfo
}

func (e fsDirEntryAdapter) Name() string               { return e.name }
func (e fsDirEntryAdapter) IsDir() bool                { return e.isDir }
func (e fsDirEntryAdapter) Type() fs.FileMode          { return e.info.Mode().Type() }
func (e fsDirEntryAdapter) Info() (fs.FileInfo, error) { return e.info, nil }
