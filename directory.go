// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mzip

// directory is the ordered in-memory table of entries, insertion order
// preserved: the order entries were read from or will be written to the
// central directory. It is owned exclusively by one Archive handle and
// performs no I/O.
type directory struct {
	entries []*Entry
}

func newDirectory(capacity int64) *directory {
	if capacity < 0 || capacity > 1024*1024 {
		capacity = 1024
	}
	return &directory{entries: make([]*Entry, 0, capacity)}
}

func (d *directory) len() int { return len(d.entries) }

func (d *directory) add(e *Entry) int {
	d.entries = append(d.entries, e)
	return len(d.entries) - 1
}

func (d *directory) at(i int) (*Entry, bool) {
	if i < 0 || i >= len(d.entries) {
		return nil, false
	}
	return d.entries[i], true
}

// findByName returns the index of the last entry with the given name.
// Archives read from disk may legally contain duplicate names; the last
// record wins, so an appended replacement shadows the original.
func (d *directory) findByName(name string) (int, bool) {
	for i := len(d.entries) - 1; i >= 0; i-- {
		if d.entries[i].name == name {
			return i, true
		}
	}
	return 0, false
}

// remove deletes every entry with the given name and reports how many
// were deleted.
func (d *directory) remove(name string) int {
	kept := d.entries[:0]
	removed := 0
	for _, e := range d.entries {
		if e.name == name {
			if e.src != nil {
				e.src.release()
				e.src = nil
			}
			removed++
			continue
		}
		kept = append(kept, e)
	}
	d.entries = kept
	return removed
}

// snapshot returns the current entry sequence. The returned slice is a
// copy; mutations to the directory after the call are not reflected.
func (d *directory) snapshot() []*Entry {
	out := make([]*Entry, len(d.entries))
	copy(out, d.entries)
	return out
}
