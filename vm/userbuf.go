package vm

import "defs"

/// Userbuf_t walks a contiguous user-memory range page by page, the way
/// the scheduler's syscall handlers copy argument buffers to and from a
/// process without trusting a single mapped range to span the whole
/// length (§4.8).
type Userbuf_t struct {
	as   *Vm_t
	uva  uintptr
	len  int
	off  int
}

/// Ub_init readies ub to transfer len bytes starting at user address uva
/// in address space as.
func (ub *Userbuf_t) Ub_init(as *Vm_t, uva uintptr, len int) {
	ub.as = as
	ub.uva = uva
	ub.len = len
	ub.off = 0
}

/// Remain reports the number of bytes left untransferred.
func (ub *Userbuf_t) Remain() int {
	return ub.len - ub.off
}

/// Totalsz reports the buffer's total length.
func (ub *Userbuf_t) Totalsz() int {
	return ub.len
}

func (ub *Userbuf_t) tx(buf []uint8, write bool) (int, defs.Err_t) {
	ret := 0
	for len(buf) != 0 && ub.off != ub.len {
		va := ub.uva + uintptr(ub.off)
		ubuf, err := ub.as.Userdmap8(va, write)
		if err != 0 {
			return ret, err
		}
		if left := ub.len - ub.off; len(ubuf) > left {
			ubuf = ubuf[:left]
		}
		var c int
		if write {
			c = copy(ubuf, buf)
		} else {
			c = copy(buf, ubuf)
		}
		buf = buf[c:]
		ub.off += c
		ret += c
		if c == 0 {
			// a mapped page yielded zero bytes only if it sits exactly on
			// the end of the range; avoid spinning.
			break
		}
	}
	return ret, 0
}

/// Uioread copies from the user range into dst.
func (ub *Userbuf_t) Uioread(dst []uint8) (int, defs.Err_t) {
	return ub.tx(dst, false)
}

/// Uiowrite copies src into the user range.
func (ub *Userbuf_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	return ub.tx(src, true)
}
