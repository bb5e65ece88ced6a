package defs

// Root-disk identification (§6, §9). The spec's distillation carried two
// incompatible byte orders for the same magic constant forward from two
// different passes over the original; this kernel settles on
// little-endian, matching every other on-disk integer memdisk and serial
// already write (bitset bytes, the head blob's 4-byte size prefix), so a
// disk image never needs a byte-order flip depending on which field of
// sector 0 is being read.
const (
	/// RootDiskMagic identifies a disk image built for this kernel.
	RootDiskMagic uint32 = 0x63726591
	/// TestDiskMagic identifies a disk image built for tests.
	TestDiskMagic uint32 = 0x61732581
	/// MagicOffset is the byte offset of the magic within sector 0.
	MagicOffset = 508
	/// VersionOffset is the byte offset cmd/mkdisk stamps
	/// DiskFormatVersion at. It sits in the second sector of page 0, past
	/// both the magic (MagicOffset, 508..511) and the head blob's 4-byte
	/// size prefix memdisk.GetHead/SetHead read and write at byte 0 of
	/// the same page — a disk with an empty head still only ever touches
	/// those first 4 bytes, so VersionOffset never collides with it.
	VersionOffset = 512
)

/// DiskFormatVersion is the semver string cmd/mkdisk stamps at
/// VersionOffset, so a kernel build can refuse to mount a disk written by
/// an incompatible mkdisk.
const DiskFormatVersion = "v1.0.0"
