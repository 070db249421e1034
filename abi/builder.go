// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package abi

import (
	"errors"
	"fmt"

	"github.com/luxfi/autorpc/params"
	"github.com/luxfi/autorpc/wire"
)

var (
	ErrMalformed        = errors.New("abi: malformed parameter block")
	ErrTooManySlots     = errors.New("abi: too many argument slots")
	ErrScratchExhausted = errors.New("abi: scratch buffer exhausted")
	ErrParamTooLarge    = errors.New("abi: parameter exceeds size limit")
)

// Default capacities.
const (
	DefaultMaxSlots        = 64
	DefaultScratchCapacity = DefaultMaxSlots * params.RefAlign
)

// Limits are the hard capacities of one call frame.
type Limits struct {
	// MaxSlots bounds the generic words, including the context word.
	MaxSlots int
	// ScratchCapacity bounds the reference copy buffer in bytes.
	ScratchCapacity int
	// MaxParamSize bounds any single parameter. Zero means unlimited.
	MaxParamSize int
}

// DefaultLimits returns the capacities used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxSlots:        DefaultMaxSlots,
		ScratchCapacity: DefaultScratchCapacity,
	}
}

// Builder validates a received parameter block and lays it out as a Frame
// for one profile.
type Builder struct {
	Profile Profile
	Limits  Limits
}

// NewBuilder returns a Builder for p with the given limits.
func NewBuilder(p Profile, l Limits) *Builder {
	return &Builder{Profile: p, Limits: l}
}

type frameBuilder struct {
	*Builder
	f *Frame
}

// Build decodes block and appends context as the trailing word, truncated
// to the profile's word size. Payloads
// flagged for swapping are reversed in place, so block must not be shared.
// Any error leaves nothing half built: the frame is only returned whole.
func (b *Builder) Build(block []byte, context uint64) (*Frame, error) {
	count, err := wire.ParamCount(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	data := wire.HeaderBlockLen(count)
	if len(block) < data {
		return nil, fmt.Errorf("%w: %d headers need %d bytes, have %d", ErrMalformed, count, data, len(block))
	}

	fb := frameBuilder{
		Builder: b,
		f: &Frame{
			Words:   make([]uint64, 0, min(b.Limits.MaxSlots, 2*count+1)),
			Scratch: make([]byte, 0, b.Limits.ScratchCapacity),
			Args:    make([]Arg, 0, count+1),
		},
	}
	for i := 0; i < count; i++ {
		h := wire.ParamHeaderAt(block, i)
		if h.Length == 0 && !h.Flags.Has(wire.FlagText) {
			return nil, fmt.Errorf("%w: param %d has zero length", ErrMalformed, i)
		}
		if uint64(data)+uint64(h.Length) > uint64(len(block)) {
			return nil, fmt.Errorf("%w: param %d %s overruns the block", ErrMalformed, i, h)
		}
		n := int(h.Length)
		if b.Limits.MaxParamSize > 0 && n > b.Limits.MaxParamSize {
			return nil, fmt.Errorf("%w: param %d is %d bytes, limit %d", ErrParamTooLarge, i, n, b.Limits.MaxParamSize)
		}
		payload := block[data : data+n]
		data += n
		if params.NeedsSwap(h.Flags) {
			params.Reverse(payload)
		}
		if err := fb.classify(i, h, payload); err != nil {
			return nil, fmt.Errorf("param %d: %w", i, err)
		}
	}
	if data != len(block) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(block)-data)
	}

	if ws := fb.Profile.WordSize; ws < 8 {
		context &= 1<<(8*ws) - 1
	}
	word, err := fb.pushWords([]uint64{context}, true)
	if err != nil {
		return nil, err
	}
	fb.f.Args = append(fb.f.Args, Arg{Class: ClassContext, Size: fb.Profile.WordSize, Word: word, Words: 1, Float: -1})
	return fb.f, nil
}

func (fb *frameBuilder) classify(pos int, h wire.ParamHeader, payload []byte) error {
	p := &fb.Profile
	n := len(payload)
	a := Arg{Size: n, Flags: h.Flags, Word: -1, Float: -1}

	switch {
	case h.Flags.Has(wire.FlagRef) || h.Flags.Has(wire.FlagText) || (p.RefThreshold > 0 && n > p.RefThreshold):
		off := len(fb.f.Scratch)
		next := off + params.AlignUp(n, params.RefAlign)
		if next > cap(fb.f.Scratch) {
			return fmt.Errorf("%w: need %d bytes, capacity %d", ErrScratchExhausted, next, cap(fb.f.Scratch))
		}
		word, err := fb.pushWords([]uint64{uint64(off)}, false)
		if err != nil {
			return err
		}
		fb.f.Scratch = append(fb.f.Scratch, payload...)
		fb.f.Scratch = fb.f.Scratch[:next]
		a.Class, a.Word, a.Words = ClassRef, word, 1

	case h.Flags.Has(wire.FlagFloat):
		if n != 4 && n != 8 {
			return fmt.Errorf("%w: illegal float size %d", ErrMalformed, n)
		}
		if fb.floatBudget(pos) {
			a.Class = ClassFloat
			a.Float = len(fb.f.Floats)
			fb.f.Floats = append(fb.f.Floats, floatBits(payload))
			if p.ShadowFloats {
				word, err := fb.pushWords(packWords(payload, p.WordSize), false)
				if err != nil {
					return err
				}
				a.Word, a.Words = word, len(fb.f.Words)-word
			}
			break
		}
		words := packWords(payload, p.WordSize)
		word, err := fb.pushWords(words, false)
		if err != nil {
			return err
		}
		a.Class, a.Word, a.Words = ClassWord, word, len(words)
		a.Memory = p.FloatsToMemory

	default:
		words := packWords(payload, p.WordSize)
		word, err := fb.pushWords(words, false)
		if err != nil {
			return err
		}
		a.Class, a.Word, a.Words = ClassWord, word, len(words)
		a.Memory = p.MemoryAggregate > 0 && n > p.MemoryAggregate
	}
	fb.f.Args = append(fb.f.Args, a)
	return nil
}

// floatBudget reports whether the parameter at pos may use a float slot.
func (fb *frameBuilder) floatBudget(pos int) bool {
	p := &fb.Profile
	if p.Positional {
		return pos < p.FloatRegs
	}
	return len(fb.f.Floats) < p.FloatRegs
}

// pushWords appends words and returns the index of the first. Unless last
// is set one slot stays reserved for the context word.
func (fb *frameBuilder) pushWords(words []uint64, last bool) (int, error) {
	limit := fb.Limits.MaxSlots
	if !last {
		limit--
	}
	if len(fb.f.Words)+len(words) > limit {
		return 0, fmt.Errorf("%w: limit %d", ErrTooManySlots, fb.Limits.MaxSlots)
	}
	first := len(fb.f.Words)
	fb.f.Words = append(fb.f.Words, words...)
	return first, nil
}
