// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package abi

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/luxfi/autorpc/params"
	"github.com/luxfi/autorpc/wire"
)

var (
	ErrNoShape    = errors.New("abi: no call shape fits")
	ErrSignature  = errors.New("abi: target signature does not match arguments")
	ErrPlacement  = errors.New("abi: inconsistent argument placement")
	ErrBadContext = errors.New("abi: invocation context does not match target")
)

// placement is a frame as one backend laid it out for the callee.
type placement interface {
	// words returns the generic words of a as the callee sees them.
	words(a Arg) ([]uint64, error)
	// float returns the float bits of the argument at position pos.
	float(a Arg, pos int) (uint64, error)
}

type backend interface {
	place(p *Profile, f *Frame) (placement, error)
}

var backends = [...]backend{
	AllOnStack:       stackBackend{},
	RegisterOverflow: registerBackend{},
	FixedShape:       shapeBackend{},
}

// Dispatcher invokes callables on frames built for its profile.
type Dispatcher struct {
	profile     Profile
	contextType reflect.Type
	backend     backend
}

// NewDispatcher returns a Dispatcher for p. Targets may take one trailing
// parameter of contextType to receive the invocation context; a nil
// contextType disables that.
func NewDispatcher(p Profile, contextType reflect.Type) (*Dispatcher, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if int(p.Convention) >= len(backends) {
		return nil, fmt.Errorf("abi: profile %s: unknown convention %s", p.Name, p.Convention)
	}
	return &Dispatcher{
		profile:     p,
		contextType: contextType,
		backend:     backends[p.Convention],
	}, nil
}

func (d *Dispatcher) Profile() Profile { return d.profile }

// CheckSignature reports whether t can be a dispatch target: no results, not
// variadic, and every parameter a supported wire type except an optional
// trailing context parameter.
func (d *Dispatcher) CheckSignature(t reflect.Type) error {
	if t.Kind() != reflect.Func {
		return fmt.Errorf("%w: %s", ErrNotFunc, t)
	}
	if err := checkShape(t); err != nil {
		return err
	}
	n := t.NumIn()
	if d.takesContext(t, n-1) {
		n--
	}
	for i := 0; i < n; i++ {
		if _, err := params.SpecOf(t.In(i)); err != nil {
			return fmt.Errorf("%w: param %d: %v", ErrSignature, i, err)
		}
	}
	return nil
}

func (d *Dispatcher) takesContext(t reflect.Type, i int) bool {
	return d.contextType != nil && i >= 0 && i < t.NumIn() && t.In(i) == d.contextType
}

// Invoke calls c with the arguments in f. receiver is the resolved target
// object for methods and ignored otherwise. ctx is passed as the trailing
// context parameter when the target declares one. Nothing is called unless
// every argument decodes.
func (d *Dispatcher) Invoke(f *Frame, c Callable, receiver any, ctx any) error {
	fn, err := c.Bind(receiver)
	if err != nil {
		return err
	}
	t := fn.Type()
	args := f.Params()
	withCtx := false
	switch {
	case t.NumIn() == len(args):
	case t.NumIn() == len(args)+1 && d.takesContext(t, len(args)):
		withCtx = true
	default:
		return fmt.Errorf("%w: %s takes %d params, call has %d", ErrSignature, t, t.NumIn(), len(args))
	}

	pl, err := d.backend.place(&d.profile, f)
	if err != nil {
		return err
	}
	if err := checkContext(pl, f); err != nil {
		return err
	}

	in := make([]reflect.Value, t.NumIn())
	for i, a := range args {
		if err := matchArg(t.In(i), a); err != nil {
			return fmt.Errorf("param %d: %w", i, err)
		}
		b, err := d.argBytes(pl, f, a, i)
		if err != nil {
			return fmt.Errorf("param %d: %w", i, err)
		}
		v, err := params.DecodeValue(t.In(i), b)
		if err != nil {
			return fmt.Errorf("param %d: %w", i, err)
		}
		in[i] = v
	}
	if withCtx {
		cv := reflect.ValueOf(ctx)
		if !cv.IsValid() {
			cv = reflect.Zero(d.contextType)
		}
		if !cv.Type().AssignableTo(d.contextType) {
			return fmt.Errorf("%w: have %s, want %s", ErrBadContext, cv.Type(), d.contextType)
		}
		in[len(args)] = cv
	}
	fn.Call(in)
	return nil
}

// matchArg checks one wire argument against the target's parameter type.
func matchArg(t reflect.Type, a Arg) error {
	spec, err := params.SpecOf(t)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignature, err)
	}
	text := a.Flags.Has(wire.FlagText)
	switch {
	case spec.Text != text:
		return fmt.Errorf("%w: %s against %s argument", ErrSignature, t, a.Flags)
	case !spec.Text && spec.Size != a.Size:
		return fmt.Errorf("%w: %s is %d bytes, argument is %d", ErrSignature, t, spec.Size, a.Size)
	case spec.Float != a.Flags.Has(wire.FlagFloat):
		return fmt.Errorf("%w: %s against %s argument", ErrSignature, t, a.Flags)
	}
	return nil
}

// argBytes reads an argument back out of its placement as native-order
// bytes.
func (d *Dispatcher) argBytes(pl placement, f *Frame, a Arg, pos int) ([]byte, error) {
	switch a.Class {
	case ClassRef:
		w, err := pl.words(a)
		if err != nil {
			return nil, err
		}
		off := w[0]
		if off > uint64(len(f.Scratch)) || uint64(a.Size) > uint64(len(f.Scratch))-off {
			return nil, fmt.Errorf("%w: scratch offset %d", ErrPlacement, off)
		}
		return append([]byte(nil), f.Scratch[off:off+uint64(a.Size)]...), nil
	case ClassFloat:
		bits, err := pl.float(a, pos)
		if err != nil {
			return nil, err
		}
		return floatBytes(bits, a.Size), nil
	case ClassWord:
		w, err := pl.words(a)
		if err != nil {
			return nil, err
		}
		return unpackWords(w, a.Size, d.profile.WordSize)
	default:
		return nil, fmt.Errorf("%w: %s argument in parameter list", ErrPlacement, a.Class)
	}
}

func checkContext(pl placement, f *Frame) error {
	if len(f.Args) == 0 {
		return fmt.Errorf("%w: frame has no context word", ErrPlacement)
	}
	w, err := pl.words(f.Args[len(f.Args)-1])
	if err != nil {
		return err
	}
	if w[0] != f.Context() {
		return fmt.Errorf("%w: context word %#x, frame has %#x", ErrPlacement, w[0], f.Context())
	}
	return nil
}

// checkWords validates that a's word range lies within n words.
func checkWords(a Arg, n int) error {
	if a.Word < 0 || a.Words <= 0 || a.Word+a.Words > n {
		return fmt.Errorf("%w: words [%d,+%d) of %d", ErrPlacement, a.Word, a.Words, n)
	}
	return nil
}
