// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package wire implements the byte-level codec shared by both sides of a
// call: compact integers and strings, the parameter block layout, and the
// CALL, INDEX_ADVERTISEMENT and ERROR messages.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MaxNameLength is the longest function name a compact string may carry.
const MaxNameLength = 512

var (
	ErrShortBuffer  = errors.New("wire: short buffer")
	ErrOverflow     = errors.New("wire: varint overflows 64 bits")
	ErrNameTooLong  = errors.New("wire: name too long")
	ErrUnknownKind  = errors.New("wire: unknown message kind")
	ErrTrailingData = errors.New("wire: trailing bytes after message")

	// ErrParamsTooLarge reports a declared parameter block above the
	// local limit.
	ErrParamsTooLarge = errors.New("wire: parameter block too large")
)

// Writer appends wire primitives to a growing buffer.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with room for size bytes.
func NewWriter(size int) *Writer {
	return &Writer{buf: make([]byte, 0, size)}
}

// Bytes returns the bytes written so far.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) WriteByte(b byte) error {
	w.buf = append(w.buf, b)
	return nil
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
		return
	}
	w.buf = append(w.buf, 0)
}

// WriteUvarint writes v in the compact variable-length form.
func (w *Writer) WriteUvarint(v uint64) {
	w.buf = binary.AppendUvarint(w.buf, v)
}

func (w *Writer) WriteUint64(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

func (w *Writer) WriteUint32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

// WriteString writes s as a compact string.
func (w *Writer) WriteString(s string) error {
	if len(s) > MaxNameLength {
		return fmt.Errorf("%w: %d bytes", ErrNameTooLong, len(s))
	}
	w.WriteUvarint(uint64(len(s)))
	w.buf = append(w.buf, s...)
	return nil
}

// WriteBytes appends raw bytes with no length prefix.
func (w *Writer) WriteBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// Reader consumes wire primitives from a buffer. Every method checks the
// remaining length before reading; nothing panics on truncated input.
type Reader struct {
	buf []byte
	off int
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) ReadByte() (byte, error) {
	if r.Remaining() < 1 {
		return 0, ErrShortBuffer
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func (r *Reader) ReadUvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.off:])
	switch {
	case n == 0:
		return 0, ErrShortBuffer
	case n < 0:
		return 0, ErrOverflow
	}
	r.off += n
	return v, nil
}

func (r *Reader) ReadUint64() (uint64, error) {
	if r.Remaining() < 8 {
		return 0, ErrShortBuffer
	}
	v := binary.BigEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	if r.Remaining() < 4 {
		return 0, ErrShortBuffer
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

// ReadString reads a compact string.
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadUvarint()
	if err != nil {
		return "", err
	}
	if n > MaxNameLength {
		return "", fmt.Errorf("%w: %d bytes", ErrNameTooLong, n)
	}
	b, err := r.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadBytes returns the next n bytes. The result aliases the underlying
// buffer.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, ErrShortBuffer
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}
