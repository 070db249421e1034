// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// ParamFlags describes how a parameter was produced on the sending side.
type ParamFlags uint8

const (
	FlagFloat ParamFlags = 1 << iota // native float32 or float64
	FlagSwap                         // payload is in network (big-endian) order
	FlagRef                          // passed by reference (pointer or large value)
	FlagText                         // string bytes, length is the string length
)

const (
	// ParamHeaderSize is the encoded size of one ParamHeader: a big-endian
	// uint32 length followed by the flag byte.
	ParamHeaderSize = 5

	// MaxParams is the most parameters one call can carry; the count is a
	// single byte.
	MaxParams = 255
)

var ErrTooManyParams = errors.New("wire: too many parameters")

func (f ParamFlags) Has(flag ParamFlags) bool { return f&flag != 0 }

func (f ParamFlags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, x := range []struct {
		flag ParamFlags
		name string
	}{{FlagFloat, "float"}, {FlagSwap, "swap"}, {FlagRef, "ref"}, {FlagText, "text"}} {
		if f.Has(x.flag) {
			parts = append(parts, x.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParamHeader is the per-parameter descriptor written ahead of the
// payload block.
type ParamHeader struct {
	Length uint32
	Flags  ParamFlags
}

func (h ParamHeader) String() string {
	return fmt.Sprintf("(len=%d flags=%s)", h.Length, h.Flags)
}

// HeaderBlockLen returns the size of the count byte plus n headers.
func HeaderBlockLen(n int) int {
	return 1 + n*ParamHeaderSize
}

// AppendParamBlock appends the two-block parameter layout to dst: the
// count, every header back to back, then every payload in the same order.
func AppendParamBlock(dst []byte, headers []ParamHeader, payloads [][]byte) ([]byte, error) {
	if len(headers) > MaxParams {
		return dst, fmt.Errorf("%w: %d", ErrTooManyParams, len(headers))
	}
	if len(headers) != len(payloads) {
		return dst, fmt.Errorf("wire: %d headers for %d payloads", len(headers), len(payloads))
	}
	dst = append(dst, byte(len(headers)))
	for _, h := range headers {
		dst = binary.BigEndian.AppendUint32(dst, h.Length)
		dst = append(dst, byte(h.Flags))
	}
	for _, p := range payloads {
		dst = append(dst, p...)
	}
	return dst, nil
}

// ParamCount reads the count byte of a parameter block.
func ParamCount(block []byte) (int, error) {
	if len(block) < 1 {
		return 0, ErrShortBuffer
	}
	return int(block[0]), nil
}

// ParamHeaderAt decodes header i. The caller must have checked that the
// block holds HeaderBlockLen(count) bytes.
func ParamHeaderAt(block []byte, i int) ParamHeader {
	off := 1 + i*ParamHeaderSize
	return ParamHeader{
		Length: binary.BigEndian.Uint32(block[off:]),
		Flags:  ParamFlags(block[off+4]),
	}
}
