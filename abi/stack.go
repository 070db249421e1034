// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package abi

import (
	"encoding/binary"
	"fmt"

	"github.com/luxfi/autorpc/params"
)

// stackBackend pushes every generic word, in order, onto one stack region.
type stackBackend struct{}

type stackFrame struct {
	ws     int
	n      int
	stack  []byte
	floats []uint64
}

func (stackBackend) place(p *Profile, f *Frame) (placement, error) {
	ws := p.WordSize
	stack := make([]byte, 0, params.AlignUp(len(f.Words)*ws, p.StackAlign))
	for _, w := range f.Words {
		stack = appendWord(stack, w, ws)
	}
	return &stackFrame{
		ws:     ws,
		n:      len(f.Words),
		stack:  stack[:cap(stack)],
		floats: f.Floats,
	}, nil
}

func (s *stackFrame) words(a Arg) ([]uint64, error) {
	if err := checkWords(a, s.n); err != nil {
		return nil, err
	}
	return readWords(s.stack, a.Word*s.ws, a.Words, s.ws), nil
}

func (s *stackFrame) float(a Arg, _ int) (uint64, error) {
	if a.Float < 0 || a.Float >= len(s.floats) {
		return 0, fmt.Errorf("%w: float slot %d", ErrPlacement, a.Float)
	}
	return s.floats[a.Float], nil
}

func appendWord(b []byte, w uint64, ws int) []byte {
	if ws == 4 {
		return binary.NativeEndian.AppendUint32(b, uint32(w))
	}
	return binary.NativeEndian.AppendUint64(b, w)
}

func readWords(b []byte, off, n, ws int) []uint64 {
	out := make([]uint64, n)
	for i := range out {
		p := b[off+i*ws:]
		if ws == 4 {
			out[i] = uint64(binary.NativeEndian.Uint32(p))
		} else {
			out[i] = binary.NativeEndian.Uint64(p)
		}
	}
	return out
}
