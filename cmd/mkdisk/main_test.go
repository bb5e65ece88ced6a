package main

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	corefs "fs"
	"blockdev"
	"mem"
	"memdisk"
	"vm"
)

// TestStampedImageMounts builds an image exactly the way main() does —
// mmap a truncated file, stampHeader it, attach virtio-block, mount — and
// checks the result actually mounts and that a skeleton file written
// through it survives an unmount/remount. This is the regression case for
// stampHeader once having clobbered the head blob's size prefix at byte 0
// of sector 0 with the version string (§6, §9).
func TestStampedImageMounts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disk.img")
	sizeBytes := int64(64) * int64(mem.PGSIZE)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()
	if err := f.Truncate(sizeBytes); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(sizeBytes), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		t.Fatalf("Mmap: %v", err)
	}
	defer unix.Munmap(data)

	stampHeader(data)

	backend := &mmapBackend{data: data}
	dev, ok := blockdev.Attach(newTestRegs(), backend)
	if !ok {
		t.Fatal("blockdev.Attach failed")
	}

	mem.Phys_init(4096)
	as, verr := vm.CreateAddressSpace(vm.Sv39)
	if verr != 0 {
		t.Fatalf("CreateAddressSpace: %v", verr)
	}

	if _, merr := memdisk.Mount(dev, as); merr != 0 {
		t.Fatalf("memdisk.Mount on a stampHeader'd image: %v", merr)
	}
	corefs.Init()

	f1, ferr := corefs.Get().CreateFile("hello")
	if ferr != 0 {
		t.Fatalf("CreateFile: %v", ferr)
	}
	f1.Write([]byte("world"))

	corefs.Close()
	memdisk.Unmount()

	if _, merr := memdisk.Mount(dev, as); merr != 0 {
		t.Fatalf("remount after stampHeader'd image built: %v", merr)
	}
	fs2 := corefs.Init()
	got := fs2.GetFile("hello")
	if got == nil {
		t.Fatal("file written before unmount is missing after remount")
	}
	if string(got.Read()) != "world" {
		t.Fatalf("file content = %q, want %q", got.Read(), "world")
	}
	corefs.Close()
	memdisk.Unmount()
}
