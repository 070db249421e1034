// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package abi

import (
	"encoding/binary"
	"fmt"

	"github.com/luxfi/autorpc/wire"
)

// ArgClass says where an argument's value lives in a Frame.
type ArgClass uint8

const (
	// ClassWord values occupy one or more generic words.
	ClassWord ArgClass = iota
	// ClassFloat values occupy a float slot, plus a shadow word on
	// profiles that duplicate floats.
	ClassFloat
	// ClassRef values live in the scratch buffer; their generic word holds
	// the scratch offset.
	ClassRef
	// ClassContext is the trailing invocation context word.
	ClassContext
)

func (c ArgClass) String() string {
	switch c {
	case ClassWord:
		return "word"
	case ClassFloat:
		return "float"
	case ClassRef:
		return "ref"
	case ClassContext:
		return "context"
	default:
		return fmt.Sprintf("class(%d)", uint8(c))
	}
}

// Arg records where one argument was placed in a Frame.
type Arg struct {
	Class ArgClass
	Size  int
	Flags wire.ParamFlags

	// Word is the first generic slot, -1 when the argument has none.
	Word  int
	Words int

	// Float is the float slot, -1 when the argument has none.
	Float int

	// Memory forces the argument's words onto the stack even when
	// integer registers remain.
	Memory bool
}

// Frame is an argument list laid out for native dispatch.
type Frame struct {
	// Words are the generic argument slots in call order. Only the low
	// WordSize bytes of each are meaningful.
	Words []uint64

	// Floats are raw float bits, bounded by the profile's float registers.
	// float32 values occupy the low 32 bits.
	Floats []uint64

	// Scratch holds by-value copies of reference and text arguments at
	// RefAlign offsets. Its capacity is fixed when the frame is built.
	Scratch []byte

	// Args has one entry per parameter followed by the context entry.
	Args []Arg
}

// Params returns the argument records of the call's parameters.
func (f *Frame) Params() []Arg {
	if len(f.Args) == 0 {
		return nil
	}
	return f.Args[:len(f.Args)-1]
}

// Context returns the invocation context word.
func (f *Frame) Context() uint64 {
	if len(f.Args) == 0 {
		return 0
	}
	a := f.Args[len(f.Args)-1]
	return f.Words[a.Word]
}

// packWords spreads payload over generic words of size ws. Values of a
// native integer width are zero-extended into one word; anything else is
// copied byte for byte into as many words as it needs.
func packWords(payload []byte, ws int) []uint64 {
	n := len(payload)
	if n <= ws {
		switch n {
		case 1:
			return []uint64{uint64(payload[0])}
		case 2:
			return []uint64{uint64(binary.NativeEndian.Uint16(payload))}
		case 4:
			return []uint64{uint64(binary.NativeEndian.Uint32(payload))}
		case 8:
			return []uint64{binary.NativeEndian.Uint64(payload)}
		}
	}
	k := (n + ws - 1) / ws
	buf := make([]byte, k*ws)
	copy(buf, payload)
	words := make([]uint64, k)
	for i := range words {
		if ws == 4 {
			words[i] = uint64(binary.NativeEndian.Uint32(buf[i*4:]))
		} else {
			words[i] = binary.NativeEndian.Uint64(buf[i*8:])
		}
	}
	return words
}

// unpackWords is the inverse of packWords for a value of n bytes.
func unpackWords(words []uint64, n, ws int) ([]byte, error) {
	if n <= ws {
		switch n {
		case 1:
			return []byte{byte(words[0])}, nil
		case 2:
			return binary.NativeEndian.AppendUint16(nil, uint16(words[0])), nil
		case 4:
			return binary.NativeEndian.AppendUint32(nil, uint32(words[0])), nil
		case 8:
			return binary.NativeEndian.AppendUint64(nil, words[0]), nil
		}
	}
	if len(words)*ws < n {
		return nil, fmt.Errorf("%w: %d words cannot hold %d bytes", ErrPlacement, len(words), n)
	}
	buf := make([]byte, 0, len(words)*ws)
	for _, w := range words {
		if ws == 4 {
			buf = binary.NativeEndian.AppendUint32(buf, uint32(w))
		} else {
			buf = binary.NativeEndian.AppendUint64(buf, w)
		}
	}
	return buf[:n], nil
}

// floatBits returns the raw bits of a 4 or 8 byte float payload.
func floatBits(payload []byte) uint64 {
	if len(payload) == 4 {
		return uint64(binary.NativeEndian.Uint32(payload))
	}
	return binary.NativeEndian.Uint64(payload)
}

// floatBytes is the inverse of floatBits.
func floatBytes(bits uint64, n int) []byte {
	if n == 4 {
		return binary.NativeEndian.AppendUint32(nil, uint32(bits))
	}
	return binary.NativeEndian.AppendUint64(nil, bits)
}
