package codec

import "github.com/permazen/objdb/internal/format"

// Reader steps through an encoded byte slice. It never copies; decoded
// values that alias the buffer are copied by the codec that returns them.
type Reader struct {
	buf []byte
	off int
}

// NewReader returns a Reader positioned at the start of buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// ReadByte consumes and returns the next byte.
func (r *Reader) ReadByte() (byte, error) {
	if r.off >= len(r.buf) {
		return 0, format.ErrTruncated
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

// PeekByte returns the next byte without consuming it.
func (r *Reader) PeekByte() (byte, error) {
	if r.off >= len(r.buf) {
		return 0, format.ErrTruncated
	}
	return r.buf[r.off], nil
}

// ReadBytes consumes and returns the next n bytes. The returned slice
// aliases the underlying buffer.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if r.off+n > len(r.buf) {
		return nil, format.ErrTruncated
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// Skip advances past n bytes.
func (r *Reader) Skip(n int) error {
	if r.off+n > len(r.buf) {
		return format.ErrTruncated
	}
	r.off += n
	return nil
}

// Remaining returns the number of unconsumed bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

// Offset returns the current position within the buffer.
func (r *Reader) Offset() int {
	return r.off
}

// Writer accumulates encoded bytes.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// WriteByte appends a single byte.
func (w *Writer) WriteByte(b byte) {
	w.buf = append(w.buf, b)
}

// Write appends p.
func (w *Writer) Write(p []byte) {
	w.buf = append(w.buf, p...)
}

// Bytes returns the accumulated encoding.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}
