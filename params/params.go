// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package params turns Go values into call parameters and back.
//
// A parameter is any fixed-size Go value (booleans, sized integers, floats,
// arrays and structs of those), a pointer to one (sent by value, flagged as
// a reference), or a string (sent as text). int, uint and uintptr travel as
// eight bytes so peers of different word sizes agree on the layout.
package params

import (
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"
)

// RefAlign is the alignment of reference copies in the receiver's scratch
// buffer. Sender-side capacity checks use the same rounding.
const RefAlign = 16

var (
	ErrUnsupportedType = errors.New("params: unsupported parameter type")
	ErrNilPointer      = errors.New("params: nil pointer parameter")
	ErrPayloadTooLarge = errors.New("params: payload too large")
	ErrSizeMismatch    = errors.New("params: payload size does not match type")
)

// Param is one call parameter plus its endian-swap request.
type Param struct {
	Value any
	Swap  bool
}

// Arg wraps v with the default swap request.
func Arg(v any) Param {
	return Param{Value: v, Swap: true}
}

// NoSwap wraps v so its bytes travel in the sender's native order.
func NoSwap(v any) Param {
	return Param{Value: v}
}

// Spec is the wire shape of a Go type.
type Spec struct {
	// Size is the payload length, or -1 for text whose length depends on
	// the value.
	Size  int
	Float bool
	Ref   bool
	Text  bool
}

// SpecOf reports how values of type t travel. Pointers report the shape of
// their element with Ref set.
func SpecOf(t reflect.Type) (Spec, error) {
	if t.Kind() == reflect.Pointer {
		elem := t.Elem()
		if elem.Kind() == reflect.Pointer || elem.Kind() == reflect.String {
			return Spec{}, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
		}
		s, err := SpecOf(elem)
		if err != nil {
			return Spec{}, err
		}
		s.Ref = true
		return s, nil
	}
	switch t.Kind() {
	case reflect.String:
		return Spec{Size: -1, Text: true}, nil
	case reflect.Float32, reflect.Float64:
		return Spec{Size: int(t.Size()), Float: true}, nil
	case reflect.Int, reflect.Uint, reflect.Uintptr:
		return Spec{Size: 8}, nil
	case reflect.Bool,
		reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Complex64, reflect.Complex128:
		return Spec{Size: int(t.Size())}, nil
	case reflect.Array, reflect.Struct:
		if !settable(t) {
			return Spec{}, fmt.Errorf("%w: %s has unexported fields", ErrUnsupportedType, t)
		}
		n := binary.Size(reflect.Zero(t).Interface())
		if n <= 0 {
			return Spec{}, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
		}
		return Spec{Size: n}, nil
	}
	return Spec{}, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
}

// settable reports whether binary decoding can fill every field of t.
func settable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Array:
		return settable(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.Name != "_" && !f.IsExported() {
				return false
			}
			if !settable(f.Type) {
				return false
			}
		}
	}
	return true
}

// EncodeValue returns the native-order bytes of v. Pointers are
// dereferenced; the address itself never leaves the process.
func EncodeValue(v reflect.Value) ([]byte, error) {
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, ErrNilPointer
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.String:
		return []byte(v.String()), nil
	case reflect.Int:
		return binary.NativeEndian.AppendUint64(nil, uint64(v.Int())), nil
	case reflect.Uint, reflect.Uintptr:
		return binary.NativeEndian.AppendUint64(nil, v.Uint()), nil
	}
	b, err := binary.Append(nil, binary.NativeEndian, v.Interface())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedType, v.Type(), err)
	}
	return b, nil
}

// DecodeValue rebuilds a value of type t from native-order bytes produced
// by EncodeValue.
func DecodeValue(t reflect.Type, b []byte) (reflect.Value, error) {
	if t.Kind() == reflect.Pointer {
		elem, err := DecodeValue(t.Elem(), b)
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(elem)
		return p, nil
	}
	switch t.Kind() {
	case reflect.String:
		return reflect.ValueOf(string(b)).Convert(t), nil
	case reflect.Int:
		if len(b) != 8 {
			return reflect.Value{}, fmt.Errorf("%w: %s needs 8 bytes, got %d", ErrSizeMismatch, t, len(b))
		}
		v := reflect.New(t).Elem()
		v.SetInt(int64(binary.NativeEndian.Uint64(b)))
		return v, nil
	case reflect.Uint, reflect.Uintptr:
		if len(b) != 8 {
			return reflect.Value{}, fmt.Errorf("%w: %s needs 8 bytes, got %d", ErrSizeMismatch, t, len(b))
		}
		v := reflect.New(t).Elem()
		v.SetUint(binary.NativeEndian.Uint64(b))
		return v, nil
	}
	p := reflect.New(t)
	n, err := binary.Decode(b, binary.NativeEndian, p.Interface())
	if err != nil {
		return reflect.Value{}, fmt.Errorf("%w: %s: %v", ErrSizeMismatch, t, err)
	}
	if n != len(b) {
		return reflect.Value{}, fmt.Errorf("%w: %s used %d of %d bytes", ErrSizeMismatch, t, n, len(b))
	}
	return p.Elem(), nil
}

// AlignUp rounds n up to a multiple of align, which must be a power of two.
func AlignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}
