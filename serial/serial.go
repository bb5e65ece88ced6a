// Package serial implements the kernel's on-disk wire format (§6):
// little-endian, unframed, with fixed-width integers and a 32-bit
// Unicode scalar `char` written as raw bytes, sequences as a length
// prefix followed by elements, and tuples/structs as the concatenation
// of their fields in declaration order. Every format here must satisfy
// deserialize(serialize(x)) == x.
package serial

import (
	"encoding/binary"
	"unicode/utf8"
)

/// Writer accumulates a serialized byte stream.
type Writer struct {
	buf []byte
}

/// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

/// Bytes returns the serialized stream so far.
func (w *Writer) Bytes() []byte {
	return w.buf
}

func (w *Writer) PutU8(v uint8)   { w.buf = append(w.buf, v) }
func (w *Writer) PutI8(v int8)    { w.PutU8(uint8(v)) }

func (w *Writer) PutU16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) PutU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) PutI32(v int32) { w.PutU32(uint32(v)) }

func (w *Writer) PutU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) PutI64(v int64) { w.PutU64(uint64(v)) }

/// PutChar writes a single Unicode scalar as a raw 32-bit code point,
/// the format's `char` primitive.
func (w *Writer) PutChar(r rune) { w.PutU32(uint32(r)) }

/// PutBytes writes a byte sequence: a usize length followed by the raw
/// bytes.
func (w *Writer) PutBytes(b []byte) {
	w.PutU64(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

/// PutString writes a sequence of `char`s, each a 32-bit scalar, exactly
/// as s decodes to runes — the format is a lossless pass-through, not a
/// canonicalizer, so deserialize(serialize(x)) == x holds for every s
/// including strings that aren't in Unicode normal form (§6, §8). A
/// decomposed "e" plus a combining accent and its precomposed
/// equivalent are different runes and serialize to different byte
/// streams; folding them together belongs to whatever layer treats two
/// names as "the same", not to the wire format (fs normalizes names to
/// NFC once, at creation, for exactly that reason).
func (w *Writer) PutString(s string) {
	runes := make([]rune, 0, len(s))
	for _, r := range s {
		runes = append(runes, r)
	}
	w.PutU64(uint64(len(runes)))
	for _, r := range runes {
		w.PutChar(r)
	}
}

/// PutI32Slice writes a sequence of i32, the shape DiskBox's page-index
/// list uses.
func (w *Writer) PutI32Slice(v []int32) {
	w.PutU64(uint64(len(v)))
	for _, x := range v {
		w.PutI32(x)
	}
}

/// Reader consumes a serialized byte stream produced by Writer.
type Reader struct {
	buf []byte
	pos int
}

/// NewReader wraps buf for sequential decoding.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

/// Pos reports the current read offset, for callers that decode several
/// values back to back and need to know where the next one starts.
func (r *Reader) Pos() int { return r.pos }

func (r *Reader) need(n int) {
	if r.pos+n > len(r.buf) {
		panic("serial: truncated input")
	}
}

func (r *Reader) GetU8() uint8 {
	r.need(1)
	v := r.buf[r.pos]
	r.pos++
	return v
}

func (r *Reader) GetI8() int8 { return int8(r.GetU8()) }

func (r *Reader) GetU16() uint16 {
	r.need(2)
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v
}

func (r *Reader) GetU32() uint32 {
	r.need(4)
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

func (r *Reader) GetI32() int32 { return int32(r.GetU32()) }

func (r *Reader) GetU64() uint64 {
	r.need(8)
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v
}

func (r *Reader) GetI64() int64 { return int64(r.GetU64()) }

/// GetChar reads one 32-bit Unicode scalar.
func (r *Reader) GetChar() rune { return rune(r.GetU32()) }

/// GetBytes reads a length-prefixed byte sequence.
func (r *Reader) GetBytes() []byte {
	n := int(r.GetU64())
	r.need(n)
	b := make([]byte, n)
	copy(b, r.buf[r.pos:r.pos+n])
	r.pos += n
	return b
}

/// GetString reads a sequence of `char`s back into a string.
func (r *Reader) GetString() string {
	n := int(r.GetU64())
	runes := make([]rune, n)
	for i := range runes {
		runes[i] = r.GetChar()
	}
	out := make([]byte, 0, n)
	var tmp [utf8.UTFMax]byte
	for _, rn := range runes {
		l := utf8.EncodeRune(tmp[:], rn)
		out = append(out, tmp[:l]...)
	}
	return string(out)
}

/// GetI32Slice reads back what PutI32Slice wrote.
func (r *Reader) GetI32Slice() []int32 {
	n := int(r.GetU64())
	v := make([]int32, n)
	for i := range v {
		v[i] = r.GetI32()
	}
	return v
}

/// Remaining reports how many bytes are left unread.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}
