// Package fs implements the persistent hierarchical file system layered
// over memdisk (§4.7): a Directory/File tree rooted at memdisk's head
// blob, where every subdirectory is itself a lazily-materialized
// on-disk object ("DiskBox", §9). Grounded on
// original_source/kernel/src/filesystem.rs and
// original_source/kernel/src/disk/memory_disk.rs's DiskBox<T>.
package fs

import (
	"sync"

	"caller"
	"mem"
	"memdisk"
	"serial"
)

// pageSize matches the granularity memdisk hands pages out at.
const pageSize = mem.PGSIZE

/// encoderFunc writes obj's fields to w. decoderFunc is its inverse.
/// Both are supplied by the caller at construction/decode time rather
/// than discovered via reflection, per §9's "never reflect at runtime".
type encoderFunc[T any] func(obj *T, w *serial.Writer)
type decoderFunc[T any] func(r *serial.Reader) *T

/// DiskBox is a lazily-materialized on-disk object: {Resident(value),
/// OnDisk(pages,len)} per §9. A freshly constructed box is Resident; a
/// box decoded from a serialized parent starts OnDisk and only loads
/// its value on the first Get.
type DiskBox[T any] struct {
	mu     sync.Mutex
	size   int32
	pages  []int32
	obj    *T
	dirty  bool
	encode encoderFunc[T]
	decode decoderFunc[T]
}

/// NewDiskBox wraps obj as a freshly-created, dirty (unsaved) DiskBox.
func NewDiskBox[T any](obj *T, enc encoderFunc[T], dec decoderFunc[T]) *DiskBox[T] {
	return &DiskBox[T]{obj: obj, dirty: true, encode: enc, decode: dec}
}

/// DecodeDiskBox reads a DiskBox's (size, pages) tuple from r. The
/// wrapped value is not loaded until Get is called.
func DecodeDiskBox[T any](r *serial.Reader, enc encoderFunc[T], dec decoderFunc[T]) *DiskBox[T] {
	size := r.GetI32()
	pages := r.GetI32Slice()
	return &DiskBox[T]{size: size, pages: pages, encode: enc, decode: dec}
}

/// Get returns the wrapped value, loading it from disk on first access.
/// Every return is treated as a potential mutation, matching the
/// original's &mut T accessor: the box is marked dirty so a later
/// Encode writes it back.
func (b *DiskBox[T]) Get() *T {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.obj == nil {
		b.loadLocked()
	}
	b.dirty = true
	return b.obj
}

func (b *DiskBox[T]) loadLocked() {
	md := memdisk.GetMounted()
	data := make([]byte, 0, b.size)
	remaining := int(b.size)
	for _, page := range b.pages {
		n := pageSize
		if remaining < n {
			n = remaining
		}
		data = append(data, md.ReadAt(md.PageAddr(page), n)...)
		remaining -= n
	}
	b.obj = b.decode(serial.NewReader(data))
}

// saveLocked flushes a Resident, dirty value back to its own pages,
// freeing whatever pages it previously held first (§9: "drop writes
// back only if Resident and dirty").
func (b *DiskBox[T]) saveLocked() {
	md := memdisk.GetMounted()
	for _, page := range b.pages {
		md.FreePage(page)
	}
	b.pages = b.pages[:0]

	w := serial.NewWriter()
	b.encode(b.obj, w)
	data := w.Bytes()
	b.size = int32(len(data))

	off := 0
	for off < len(data) {
		n := len(data) - off
		if n > pageSize {
			n = pageSize
		}
		page, err := md.AllocPage()
		if err != 0 {
			caller.Fatal("fs: disk full saving a directory object")
		}
		b.pages = append(b.pages, page)
		md.WriteAt(md.PageAddr(page), data[off:off+n])
		off += n
	}
	b.dirty = false
}

/// Encode writes this box's (size, pages) tuple to w, first flushing any
/// loaded, dirty content back to its own disk pages — the recursive
/// write-back step that lets a single top-level Encode of the root
/// cascade down through every subdirectory touched since mount.
func (b *DiskBox[T]) Encode(w *serial.Writer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.obj != nil && b.dirty {
		b.saveLocked()
	}
	w.PutI32(b.size)
	w.PutI32Slice(b.pages)
}

/// Delete releases every page this box owns without saving. Callers
/// must already have removed the box from its parent's entry list;
/// Delete does not recurse into a Directory's children (callers walk
/// and clear a subtree before deleting the box holding it).
func (b *DiskBox[T]) Delete() {
	b.mu.Lock()
	defer b.mu.Unlock()
	md := memdisk.GetMounted()
	for _, page := range b.pages {
		md.FreePage(page)
	}
	b.pages = nil
	b.obj = nil
}
