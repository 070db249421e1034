// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package abi

import "fmt"

// shapeBackend calls through the smallest precompiled shape that holds every
// generic word, plus a bitmap of which leading positions are floats.
type shapeBackend struct{}

type shapeFrame struct {
	shape    int
	slots    []uint64
	floatMap uint8
	floats   []uint64
	// floatRegs is indexed by argument position, -1 when not a float.
	floatRegs []int
}

// ShapeFor returns the smallest shape of p holding n words.
func ShapeFor(p Profile, n int) (int, error) {
	for _, s := range p.Shapes {
		if s >= n {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %d words", ErrNoShape, n)
}

func (shapeBackend) place(p *Profile, f *Frame) (placement, error) {
	shape, err := ShapeFor(*p, len(f.Words))
	if err != nil {
		return nil, err
	}
	sf := &shapeFrame{
		shape:     shape,
		slots:     make([]uint64, shape),
		floats:    make([]uint64, max(p.FloatRegs, p.FloatMapBits)),
		floatRegs: make([]int, len(f.Args)),
	}
	copy(sf.slots, f.Words)
	for pos, a := range f.Args {
		sf.floatRegs[pos] = -1
		if a.Class != ClassFloat {
			continue
		}
		if pos >= p.FloatMapBits {
			return nil, fmt.Errorf("%w: float argument %d outside the float map", ErrPlacement, pos)
		}
		r := a.Float
		if p.Positional {
			r = pos
		}
		if a.Float < 0 || a.Float >= len(f.Floats) || r >= len(sf.floats) {
			return nil, fmt.Errorf("%w: float argument %d has no register", ErrPlacement, pos)
		}
		sf.floatMap |= 1 << pos
		sf.floats[r] = f.Floats[a.Float]
		sf.floatRegs[pos] = r
	}
	return sf, nil
}

func (sf *shapeFrame) words(a Arg) ([]uint64, error) {
	if err := checkWords(a, len(sf.slots)); err != nil {
		return nil, err
	}
	return append([]uint64(nil), sf.slots[a.Word:a.Word+a.Words]...), nil
}

func (sf *shapeFrame) float(a Arg, pos int) (uint64, error) {
	if pos >= 8 || sf.floatMap&(1<<pos) == 0 {
		return 0, fmt.Errorf("%w: argument %d is not in the float map", ErrPlacement, pos)
	}
	return sf.floats[sf.floatRegs[pos]], nil
}
