package defs

/// File mode bits distinguishing a directory entry's kind (§4.7). This
/// kernel only distinguishes the two entry kinds the file system
/// actually has; there are no symlinks, device-special files, or
/// permission bits. Unconsumed for the same reason stat.Stat_t was
/// dropped: no syscall exposes per-entry mode to a caller (see DESIGN.md's
/// "stat (dropped)" entry).
const (
	I_REGULAR uint = 1 /// a plain File
	I_DIR     uint = 2 /// a Directory
)
