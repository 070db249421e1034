// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package abi

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	ErrNotFunc        = errors.New("abi: target is not a function")
	ErrHasResults     = errors.New("abi: target returns values")
	ErrVariadic       = errors.New("abi: target is variadic")
	ErrNoReceiver     = errors.New("abi: method call without a receiver")
	ErrMethodNotFound = errors.New("abi: receiver has no such method")
	ErrTombstone      = errors.New("abi: callable is unregistered")
)

// CallableKind distinguishes free functions from methods bound at call time.
type CallableKind uint8

const (
	// Tombstone marks an unregistered slot. It is the zero kind.
	Tombstone CallableKind = iota
	FreeFunction
	BoundMethod
)

func (k CallableKind) String() string {
	switch k {
	case Tombstone:
		return "tombstone"
	case FreeFunction:
		return "function"
	case BoundMethod:
		return "method"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Callable is an invocable target. The zero value is a tombstone.
type Callable struct {
	kind     CallableKind
	fn       reflect.Value
	selector string
}

// Func wraps a free function. fn must return nothing and must not be
// variadic.
func Func(fn any) (Callable, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return Callable{}, fmt.Errorf("%w: %T", ErrNotFunc, fn)
	}
	if err := checkShape(v.Type()); err != nil {
		return Callable{}, err
	}
	return Callable{kind: FreeFunction, fn: v}, nil
}

// Method names a method to look up on the target object of each call.
func Method(selector string) (Callable, error) {
	if selector == "" {
		return Callable{}, fmt.Errorf("%w: empty selector", ErrMethodNotFound)
	}
	return Callable{kind: BoundMethod, selector: selector}, nil
}

func (c Callable) Kind() CallableKind { return c.kind }

// IsTombstone reports whether c no longer refers to a target.
func (c Callable) IsTombstone() bool { return c.kind == Tombstone }

// IsMethod reports whether c needs a receiver.
func (c Callable) IsMethod() bool { return c.kind == BoundMethod }

func (c Callable) String() string {
	switch c.kind {
	case FreeFunction:
		return c.fn.Type().String()
	case BoundMethod:
		return "method " + c.selector
	default:
		return c.kind.String()
	}
}

type binder func(c Callable, receiver any) (reflect.Value, error)

var binders = [...]binder{
	Tombstone:    bindTombstone,
	FreeFunction: bindFree,
	BoundMethod:  bindMethod,
}

// Bind resolves c to a function value for one invocation.
func (c Callable) Bind(receiver any) (reflect.Value, error) {
	if int(c.kind) >= len(binders) {
		return reflect.Value{}, fmt.Errorf("abi: unknown callable %s", c.kind)
	}
	return binders[c.kind](c, receiver)
}

func bindTombstone(Callable, any) (reflect.Value, error) {
	return reflect.Value{}, ErrTombstone
}

func bindFree(c Callable, _ any) (reflect.Value, error) {
	return c.fn, nil
}

func bindMethod(c Callable, receiver any) (reflect.Value, error) {
	if receiver == nil {
		return reflect.Value{}, ErrNoReceiver
	}
	m := reflect.ValueOf(receiver).MethodByName(c.selector)
	if !m.IsValid() {
		return reflect.Value{}, fmt.Errorf("%w: %T.%s", ErrMethodNotFound, receiver, c.selector)
	}
	if err := checkShape(m.Type()); err != nil {
		return reflect.Value{}, fmt.Errorf("%T.%s: %w", receiver, c.selector, err)
	}
	return m, nil
}

func checkShape(t reflect.Type) error {
	if t.NumOut() != 0 {
		return fmt.Errorf("%w: %s", ErrHasResults, t)
	}
	if t.IsVariadic() {
		return fmt.Errorf("%w: %s", ErrVariadic, t)
	}
	return nil
}
