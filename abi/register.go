// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package abi

import (
	"fmt"

	"github.com/luxfi/autorpc/params"
)

// registerBackend fills integer and float argument registers first and
// spills the remaining words to the stack above the shadow space.
type registerBackend struct{}

type wordLoc struct {
	reg int // -1 on the stack
	off int
}

type registerFrame struct {
	ws     int
	ints   []uint64
	floats []uint64
	stack  []byte

	// locs is indexed by an argument's first word.
	locs []wordLoc
	// floatRegs is indexed by argument position, -1 when not in a register.
	floatRegs []int
}

func (registerBackend) place(p *Profile, f *Frame) (placement, error) {
	ws := p.WordSize
	rf := &registerFrame{
		ws:        ws,
		ints:      make([]uint64, p.IntRegs),
		floats:    make([]uint64, p.FloatRegs),
		stack:     make([]byte, p.ShadowSpace, p.ShadowSpace+len(f.Words)*ws),
		locs:      make([]wordLoc, len(f.Words)),
		floatRegs: make([]int, len(f.Args)),
	}
	next := 0
	for pos, a := range f.Args {
		rf.floatRegs[pos] = -1
		if a.Class == ClassFloat {
			r := a.Float
			if p.Positional {
				r = pos
			}
			if a.Float < 0 || a.Float >= len(f.Floats) || r >= len(rf.floats) {
				return nil, fmt.Errorf("%w: float argument %d has no register", ErrPlacement, pos)
			}
			rf.floats[r] = f.Floats[a.Float]
			rf.floatRegs[pos] = r
		}
		if a.Word < 0 {
			continue
		}
		if err := checkWords(a, len(f.Words)); err != nil {
			return nil, err
		}
		words := f.Words[a.Word : a.Word+a.Words]

		reg := -1
		switch {
		case p.Positional:
			if pos < p.IntRegs && a.Words == 1 {
				reg = pos
			}
		case !a.Memory && next+a.Words <= p.IntRegs:
			reg = next
			next += a.Words
		}
		if reg >= 0 {
			copy(rf.ints[reg:], words)
			rf.locs[a.Word] = wordLoc{reg: reg}
			continue
		}
		rf.locs[a.Word] = wordLoc{reg: -1, off: len(rf.stack)}
		for _, w := range words {
			rf.stack = appendWord(rf.stack, w, ws)
		}
	}
	n := params.AlignUp(len(rf.stack), p.StackAlign)
	rf.stack = append(rf.stack, make([]byte, n-len(rf.stack))...)
	return rf, nil
}

func (rf *registerFrame) words(a Arg) ([]uint64, error) {
	if err := checkWords(a, len(rf.locs)); err != nil {
		return nil, err
	}
	loc := rf.locs[a.Word]
	if loc.reg >= 0 {
		out := make([]uint64, a.Words)
		copy(out, rf.ints[loc.reg:])
		return out, nil
	}
	return readWords(rf.stack, loc.off, a.Words, rf.ws), nil
}

func (rf *registerFrame) float(a Arg, pos int) (uint64, error) {
	if pos < 0 || pos >= len(rf.floatRegs) || rf.floatRegs[pos] < 0 {
		return 0, fmt.Errorf("%w: argument %d is not in a float register", ErrPlacement, pos)
	}
	return rf.floats[rf.floatRegs[pos]], nil
}

// inRegister reports whether the argument starting at word is passed in an
// integer register.
func (rf *registerFrame) inRegister(word int) bool {
	return word >= 0 && word < len(rf.locs) && rf.locs[word].reg >= 0
}
