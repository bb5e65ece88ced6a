package fs

import (
	"sync"

	"golang.org/x/text/unicode/norm"

	"caller"
	"defs"
	"memdisk"
	"serial"
	"ustr"
)

/// File is a leaf directory entry: a name plus an ordered list of
/// MemoryDisk pages holding its raw byte content and the content's
/// exact length (the last page is usually only partially used).
type File struct {
	name  string
	pages []int32
	size  int32
}

func newFile(name string) *File {
	return &File{name: name}
}

// normalizeName folds name to NFC once, at the point a directory entry
// is named or looked up, so two visually identical names that arrived
// via different combining-sequence representations resolve to the same
// entry (§4.7's "first-writer-wins on duplicate names" only holds if
// "duplicate" doesn't depend on which Unicode form the caller typed).
// serial's wire format stays a lossless pass-through of whatever string
// ends up stored here; the folding happens exactly once, here, not on
// every encode.
func normalizeName(name string) string {
	return norm.NFC.String(name)
}

/// Name returns the file's entry name.
func (f *File) Name() string { return f.name }

/// Read returns the file's full content.
func (f *File) Read() []byte {
	md := memdisk.GetMounted()
	out := make([]byte, 0, f.size)
	remaining := int(f.size)
	for _, page := range f.pages {
		n := pageSize
		if remaining < n {
			n = remaining
		}
		out = append(out, md.ReadAt(md.PageAddr(page), n)...)
		remaining -= n
	}
	return out
}

/// Write replaces the file's entire content with data (§4.7: "whole-file
/// replace"), freeing its previous pages first.
func (f *File) Write(data []byte) {
	md := memdisk.GetMounted()
	for _, page := range f.pages {
		md.FreePage(page)
	}
	f.pages = f.pages[:0]
	f.size = int32(len(data))

	off := 0
	for off < len(data) {
		n := len(data) - off
		if n > pageSize {
			n = pageSize
		}
		page, err := md.AllocPage()
		if err != 0 {
			caller.Fatal("fs: disk full writing file content")
		}
		f.pages = append(f.pages, page)
		md.WriteAt(md.PageAddr(page), data[off:off+n])
		off += n
	}
}

func encodeFile(f *File, w *serial.Writer) {
	w.PutString(f.name)
	w.PutI32(f.size)
	w.PutI32Slice(f.pages)
}

func decodeFile(r *serial.Reader) *File {
	name := r.GetString()
	size := r.GetI32()
	pages := r.GetI32Slice()
	return &File{name: name, pages: pages, size: size}
}

/// Directory carries a name, a list of files, and a list of child
/// directories, each held as its own DiskBox (§3). The root directory's
/// name is the empty string.
type Directory struct {
	name    string
	files   []*File
	subdirs []*DiskBox[Directory]
}

func newDirectory(name string) *Directory {
	return &Directory{name: name}
}

func encodeDirectory(d *Directory, w *serial.Writer) {
	w.PutString(d.name)
	w.PutU64(uint64(len(d.files)))
	for _, f := range d.files {
		encodeFile(f, w)
	}
	w.PutU64(uint64(len(d.subdirs)))
	for _, sd := range d.subdirs {
		sd.Encode(w)
	}
}

func decodeDirectory(r *serial.Reader) *Directory {
	name := r.GetString()
	nf := int(r.GetU64())
	files := make([]*File, nf)
	for i := range files {
		files[i] = decodeFile(r)
	}
	nd := int(r.GetU64())
	subdirs := make([]*DiskBox[Directory], nd)
	for i := range subdirs {
		subdirs[i] = DecodeDiskBox(r, encodeDirectory, decodeDirectory)
	}
	return &Directory{name: name, files: files, subdirs: subdirs}
}

func newDirectoryBox(name string) *DiskBox[Directory] {
	return NewDiskBox(newDirectory(name), encodeDirectory, decodeDirectory)
}

/// GetDirectory returns the immediate child directory named name, or nil.
func (d *Directory) GetDirectory(name string) *Directory {
	name = normalizeName(name)
	for _, sd := range d.subdirs {
		if sub := sd.Get(); sub.name == name {
			return sub
		}
	}
	return nil
}

/// GetFile returns the immediate child file named name, or nil.
func (d *Directory) GetFile(name string) *File {
	name = normalizeName(name)
	for _, f := range d.files {
		if f.name == name {
			return f
		}
	}
	return nil
}

/// CreateDirectory returns the existing child directory named name, or
/// creates and returns a new one. Idempotent (§8).
func (d *Directory) CreateDirectory(name string) *Directory {
	name = normalizeName(name)
	if sub := d.GetDirectory(name); sub != nil {
		return sub
	}
	box := newDirectoryBox(name)
	d.subdirs = append(d.subdirs, box)
	return box.Get()
}

/// CreateFile returns the existing child file named name, or creates and
/// returns a new, empty one.
func (d *Directory) CreateFile(name string) *File {
	name = normalizeName(name)
	if f := d.GetFile(name); f != nil {
		return f
	}
	f := newFile(name)
	d.files = append(d.files, f)
	return f
}

/// DeleteFile removes the named file and releases its content pages.
func (d *Directory) DeleteFile(name string) defs.Err_t {
	name = normalizeName(name)
	for i, f := range d.files {
		if f.name == name {
			md := memdisk.GetMounted()
			for _, page := range f.pages {
				md.FreePage(page)
			}
			d.files = append(d.files[:i], d.files[i+1:]...)
			return 0
		}
	}
	return -defs.ENOENT
}

// clear recursively frees every page owned by d's subtree, without
// freeing d's own backing pages (the caller's DiskBox.Delete does that).
func (d *Directory) clear() {
	for _, f := range d.files {
		md := memdisk.GetMounted()
		for _, page := range f.pages {
			md.FreePage(page)
		}
	}
	d.files = nil
	subdirs := d.subdirs
	d.subdirs = nil
	for _, sd := range subdirs {
		sd.Get().clear()
		sd.Delete()
	}
}

/// DeleteDirectory removes the named child directory and recursively
/// frees every page it and its descendants own.
func (d *Directory) DeleteDirectory(name string) defs.Err_t {
	name = normalizeName(name)
	for i, sd := range d.subdirs {
		if sd.Get().name == name {
			sd.Get().clear()
			sd.Delete()
			d.subdirs = append(d.subdirs[:i], d.subdirs[i+1:]...)
			return 0
		}
	}
	return -defs.ENOENT
}

/// FileSystem is the singleton directory tree mounted on top of the
/// active MemoryDisk (§5: "The file system is a singleton depending on
/// MemoryDisk"). Its root is a DiskBox persisted via memdisk's head
/// blob, so the tree survives unmount/remount.
type FileSystem struct {
	root *DiskBox[Directory]
}

var mounted struct {
	sync.Mutex
	active *FileSystem
}

/// Init mounts the file system on top of the already-mounted MemoryDisk,
/// installing an empty root the first time a disk is used.
func Init() *FileSystem {
	head := memdisk.GetMounted().GetHead()
	var root *DiskBox[Directory]
	if len(head) == 0 {
		root = newDirectoryBox("")
		w := serial.NewWriter()
		root.Encode(w)
		memdisk.GetMounted().SetHead(w.Bytes())
	} else {
		root = DecodeDiskBox(serial.NewReader(head), encodeDirectory, decodeDirectory)
	}
	f := &FileSystem{root: root}
	mounted.Lock()
	mounted.active = f
	mounted.Unlock()
	return f
}

/// Close writes the root back to the head blob and clears the active
/// singleton (the Go stand-in for the original's Drop impl, since this
/// kernel has no destructor to hook unmount to automatically).
func Close() {
	mounted.Lock()
	f := mounted.active
	mounted.active = nil
	mounted.Unlock()
	if f == nil {
		return
	}
	w := serial.NewWriter()
	f.root.Encode(w)
	memdisk.GetMounted().SetHead(w.Bytes())
}

/// Get returns the active FileSystem, panicking if none is mounted.
func Get() *FileSystem {
	mounted.Lock()
	defer mounted.Unlock()
	if mounted.active == nil {
		caller.Fatal("fs: no file system is initialized")
	}
	return mounted.active
}

/// Erase wipes the backing MemoryDisk and installs a fresh, empty root.
func (f *FileSystem) Erase() {
	memdisk.GetMounted().Erase()
	f.root = newDirectoryBox("")
}

func (f *FileSystem) resolveDir(parts []string) *Directory {
	dir := f.root.Get()
	for _, p := range parts {
		dir = dir.GetDirectory(p)
		if dir == nil {
			return nil
		}
	}
	return dir
}

func (f *FileSystem) createDirFull(parts []string) *Directory {
	dir := f.root.Get()
	for _, p := range parts {
		dir = dir.CreateDirectory(p)
	}
	return dir
}

/// GetDirectory resolves path to a Directory, or nil if any component is
/// missing (§4.7).
func (f *FileSystem) GetDirectory(path string) *Directory {
	return f.resolveDir(ustr.SplitPath(path))
}

/// GetFile resolves path to a File, or nil if its directory or the file
/// itself is missing.
func (f *FileSystem) GetFile(path string) *File {
	parts := ustr.SplitPath(path)
	if len(parts) == 0 {
		return nil
	}
	dir := f.resolveDir(parts[:len(parts)-1])
	if dir == nil {
		return nil
	}
	return dir.GetFile(parts[len(parts)-1])
}

/// CreateFile resolves path, creating any missing intermediate
/// directories, and returns the (possibly pre-existing) file at path.
func (f *FileSystem) CreateFile(path string) (*File, defs.Err_t) {
	parts := ustr.SplitPath(path)
	if len(parts) == 0 {
		return nil, -defs.EINVAL
	}
	dir := f.createDirFull(parts[:len(parts)-1])
	return dir.CreateFile(parts[len(parts)-1]), 0
}

/// CreateDirectory resolves path, creating any missing intermediate and
/// final directories, and returns the directory at path.
func (f *FileSystem) CreateDirectory(path string) *Directory {
	return f.createDirFull(ustr.SplitPath(path))
}

/// DeleteFile removes the file at path.
func (f *FileSystem) DeleteFile(path string) defs.Err_t {
	parts := ustr.SplitPath(path)
	if len(parts) == 0 {
		return -defs.EINVAL
	}
	dir := f.resolveDir(parts[:len(parts)-1])
	if dir == nil {
		return -defs.ENOENT
	}
	return dir.DeleteFile(parts[len(parts)-1])
}

/// DeleteDirectory removes the directory at path and everything beneath
/// it.
func (f *FileSystem) DeleteDirectory(path string) defs.Err_t {
	parts := ustr.SplitPath(path)
	if len(parts) == 0 {
		return -defs.EINVAL
	}
	dir := f.resolveDir(parts[:len(parts)-1])
	if dir == nil {
		return -defs.ENOENT
	}
	return dir.DeleteDirectory(parts[len(parts)-1])
}
