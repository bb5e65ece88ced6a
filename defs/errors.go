package defs

/// Err_t is a syscall-style error code: zero is success, a negative value
/// names the failure. Only the kernel's own call sites ever construct one
/// directly; anything that cannot happen without a programmer error panics
/// instead (see caller.Fatal).
type Err_t int

// Error codes returned across the user/kernel boundary. The numeric values
// are this kernel's own and are not required to match any host OS's errno.
// Call sites return the negation (-EFAULT and so on), so a failing Err_t
// is negative.
const (
	EFAULT       Err_t = 1 /// unmapped or permission-denied user address
	ENOMEM       Err_t = 2 /// no free frame available
	ENOHEAP      Err_t = 3 /// heap allocator exhausted
	EINVAL       Err_t = 4 /// argument out of range
	ENAMETOOLONG Err_t = 5 /// path or string exceeded its buffer
	ENOENT       Err_t = 6 /// no such file or directory
	EEXIST       Err_t = 7 /// name already present in directory
	ENOSPC       Err_t = 8 /// disk has no free pages
	ENOPROC      Err_t = 9 /// process table is full
	EAGAIN       Err_t = 10
	EIO          Err_t = 11 /// device reported a command failure or timeout
)

/// Error implements the error interface so an Err_t can be returned where
/// Go idiom expects one (device probe results, test assertions).
func (e Err_t) Error() string {
	switch -e {
	case 0:
		return "success"
	case EFAULT:
		return "bad address"
	case ENOMEM:
		return "out of physical memory"
	case ENOHEAP:
		return "heap exhausted"
	case EINVAL:
		return "invalid argument"
	case ENAMETOOLONG:
		return "name too long"
	case ENOENT:
		return "no such file or directory"
	case EEXIST:
		return "already exists"
	case ENOSPC:
		return "disk full"
	case ENOPROC:
		return "no free process slot"
	case EAGAIN:
		return "would block"
	case EIO:
		return "device I/O error"
	default:
		return "unknown error"
	}
}

/// Tid_t identifies the hart (thread of execution) that took a trap.
type Tid_t int
