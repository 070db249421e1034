// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package params

import (
	"fmt"
	"reflect"

	"github.com/luxfi/autorpc/wire"
)

// Encoder serializes parameter lists into a parameter block. The zero
// value applies no limits and honors every swap request.
type Encoder struct {
	// RefThreshold marks values larger than this many bytes as references.
	// Zero disables the threshold.
	RefThreshold int

	// NativeEndian never sets the swap flag; payloads stay in host order.
	NativeEndian bool

	// MaxPayload bounds the encoded block. Zero means unlimited.
	MaxPayload int

	// ScratchCapacity bounds the 16-byte aligned total of reference and
	// text parameters, which the receiver copies into its scratch buffer.
	// Zero means unlimited.
	ScratchCapacity int

	// MaxParamSize bounds any single parameter. Zero means unlimited.
	MaxParamSize int
}

// Encode serializes args. Each arg is either a Param or a bare value, which
// is treated as Arg(value).
func (e Encoder) Encode(args ...any) ([]byte, error) {
	if len(args) > wire.MaxParams {
		return nil, fmt.Errorf("%w: %d", wire.ErrTooManyParams, len(args))
	}
	headers := make([]wire.ParamHeader, len(args))
	payloads := make([][]byte, len(args))
	total := wire.HeaderBlockLen(len(args))
	scratch := 0
	for i, a := range args {
		p, ok := a.(Param)
		if !ok {
			p = Arg(a)
		}
		h, b, err := e.encodeParam(p)
		if err != nil {
			return nil, fmt.Errorf("param %d: %w", i, err)
		}
		headers[i], payloads[i] = h, b
		total += len(b)
		if h.Flags.Has(wire.FlagRef) || h.Flags.Has(wire.FlagText) {
			scratch += AlignUp(len(b), RefAlign)
		}
	}
	if e.MaxPayload > 0 && total > e.MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, total, e.MaxPayload)
	}
	if e.ScratchCapacity > 0 && scratch > e.ScratchCapacity {
		return nil, fmt.Errorf("%w: %d reference bytes, scratch capacity %d", ErrPayloadTooLarge, scratch, e.ScratchCapacity)
	}
	return wire.AppendParamBlock(make([]byte, 0, total), headers, payloads)
}

func (e Encoder) encodeParam(p Param) (wire.ParamHeader, []byte, error) {
	if p.Value == nil {
		return wire.ParamHeader{}, nil, fmt.Errorf("%w: nil", ErrUnsupportedType)
	}
	v := reflect.ValueOf(p.Value)
	spec, err := SpecOf(v.Type())
	if err != nil {
		return wire.ParamHeader{}, nil, err
	}
	b, err := EncodeValue(v)
	if err != nil {
		return wire.ParamHeader{}, nil, err
	}
	if e.MaxParamSize > 0 && len(b) > e.MaxParamSize {
		return wire.ParamHeader{}, nil, fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(b), e.MaxParamSize)
	}

	var flags wire.ParamFlags
	if spec.Float {
		flags |= wire.FlagFloat
	}
	if spec.Text {
		flags |= wire.FlagText
	}
	if spec.Ref || (e.RefThreshold > 0 && !spec.Text && len(b) > e.RefThreshold) {
		flags |= wire.FlagRef
	}
	if p.Swap && !e.NativeEndian && !spec.Text {
		flags |= wire.FlagSwap
		if !HostBigEndian {
			Reverse(b)
		}
	}
	return wire.ParamHeader{Length: uint32(len(b)), Flags: flags}, b, nil
}
