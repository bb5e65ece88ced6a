// Program mkdisk builds an initial disk image for this kernel: a
// head-blob page, a `taken` bitset region, and (optionally) a skeleton
// file tree copied in from a host directory — the direct descendant of
// the teacher's mkfs, rebuilt around this kernel's memdisk/fs layout
// (§6, §9) instead of the teacher's inode-based ufs image.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/mod/semver"
	"golang.org/x/sys/unix"

	corefs "fs"
	"blockdev"
	"defs"
	"mem"
	"memdisk"
	"virtio"
	"vm"
)

// mmapBackend is a blockdev.Backend over an mmap'd host file
// (golang.org/x/sys/unix.Mmap), the production counterpart to the
// in-memory backend the test suite uses: a page fault that memdisk
// resolves through declare_read/declare_write lands on real mmap'd
// pages here, not a slice copy.
type mmapBackend struct {
	data []byte
}

func (b *mmapBackend) Capacity() uint64 { return uint64(len(b.data)) / blockdev.SectorSize }

func (b *mmapBackend) ReadSector(sector uint64) ([blockdev.SectorSize]byte, error) {
	var out [blockdev.SectorSize]byte
	copy(out[:], b.data[sector*blockdev.SectorSize:])
	return out, nil
}

func (b *mmapBackend) WriteSector(sector uint64, data [blockdev.SectorSize]byte) error {
	copy(b.data[sector*blockdev.SectorSize:], data[:])
	return nil
}

func newTestRegs() *virtio.Registers {
	return &virtio.Registers{
		Magic:          virtio.Magic,
		DeviceID:       blockdev.DeviceID,
		VendorID:       blockdev.VendorID,
		DeviceFeatures: 0xffffffff,
		QueueNumMax:    virtio.NUM,
	}
}

func stampHeader(data []byte) {
	if !semver.IsValid(defs.DiskFormatVersion) {
		panic("mkdisk: defs.DiskFormatVersion is not a valid semver string")
	}
	copy(data[defs.VersionOffset:], defs.DiskFormatVersion)

	m := defs.RootDiskMagic
	data[defs.MagicOffset] = byte(m)
	data[defs.MagicOffset+1] = byte(m >> 8)
	data[defs.MagicOffset+2] = byte(m >> 16)
	data[defs.MagicOffset+3] = byte(m >> 24)
}

// addSkeleton walks skelDir on the host and replicates its files and
// directories into the mounted file system.
func addSkeleton(skelDir string) error {
	return filepath.WalkDir(skelDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(skelDir, path)
		if err != nil || rel == "." {
			return err
		}
		if d.IsDir() {
			corefs.Get().CreateDirectory(rel)
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		f, ferr := corefs.Get().CreateFile(rel)
		if ferr != 0 {
			return fmt.Errorf("mkdisk: CreateFile %q: err %d", rel, ferr)
		}
		f.Write(data)
		return nil
	})
}

func main() {
	out := flag.String("o", "disk.img", "output disk image path")
	pages := flag.Int("pages", 4096, "disk capacity in memdisk pages")
	skel := flag.String("skel", "", "host directory tree to copy into the image")
	flag.Parse()

	sizeBytes := int64(*pages) * int64(mem.PGSIZE)

	f, err := os.OpenFile(*out, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkdisk: %v\n", err)
		os.Exit(1)
	}
	if err := f.Truncate(sizeBytes); err != nil {
		fmt.Fprintf(os.Stderr, "mkdisk: %v\n", err)
		os.Exit(1)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(sizeBytes), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkdisk: mmap: %v\n", err)
		os.Exit(1)
	}
	stampHeader(data)

	backend := &mmapBackend{data: data}
	regs := newTestRegs()
	dev, ok := blockdev.Attach(regs, backend)
	if !ok {
		fmt.Fprintln(os.Stderr, "mkdisk: virtio-block attach failed")
		os.Exit(1)
	}

	// Physical frames back page tables and the mapped disk window, not
	// the disk image itself; a generous fixed bootstrap pool is all
	// this offline tool needs, same as the test suite's mem.Phys_init(4096).
	mem.Phys_init(4096)
	as, verr := vm.CreateAddressSpace(vm.Sv39)
	if verr != 0 {
		fmt.Fprintf(os.Stderr, "mkdisk: CreateAddressSpace: %v\n", verr)
		os.Exit(1)
	}

	if _, merr := memdisk.Mount(dev, as); merr != 0 {
		fmt.Fprintf(os.Stderr, "mkdisk: memdisk.Mount: %v\n", merr)
		os.Exit(1)
	}
	corefs.Init()

	if *skel != "" {
		if err := addSkeleton(*skel); err != nil {
			fmt.Fprintf(os.Stderr, "mkdisk: %v\n", err)
			os.Exit(1)
		}
	}

	corefs.Close()
	memdisk.Unmount()

	if err := unix.Munmap(data); err != nil {
		fmt.Fprintf(os.Stderr, "mkdisk: munmap: %v\n", err)
	}
	if err := f.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "mkdisk: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("mkdisk: wrote %s (%d pages, %s)\n", *out, *pages, defs.DiskFormatVersion)
}
