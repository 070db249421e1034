// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package params

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/autorpc/wire"
)

type vec3 struct {
	X, Y, Z float32
}

type hidden struct {
	a int32
}

func TestSpecOf(t *testing.T) {
	tests := []struct {
		v    any
		spec Spec
	}{
		{int8(0), Spec{Size: 1}},
		{uint16(0), Spec{Size: 2}},
		{true, Spec{Size: 1}},
		{0, Spec{Size: 8}},
		{uint(0), Spec{Size: 8}},
		{float32(0), Spec{Size: 4, Float: true}},
		{0.0, Spec{Size: 8, Float: true}},
		{"", Spec{Size: -1, Text: true}},
		{vec3{}, Spec{Size: 12}},
		{[4]uint16{}, Spec{Size: 8}},
		{&vec3{}, Spec{Size: 12, Ref: true}},
		{new(float64), Spec{Size: 8, Float: true, Ref: true}},
	}
	for _, tt := range tests {
		got, err := SpecOf(reflect.TypeOf(tt.v))
		require.NoError(t, err, "%T", tt.v)
		require.Equal(t, tt.spec, got, "%T", tt.v)
	}

	for _, v := range []any{[]int{}, map[int]int{}, hidden{}, new(*int), new(string), struct{ S string }{}} {
		_, err := SpecOf(reflect.TypeOf(v))
		require.ErrorIs(t, err, ErrUnsupportedType, "%T", v)
	}
}

func TestValueRoundTrip(t *testing.T) {
	values := []any{
		int8(-1), uint32(7), int64(-1 << 40), -5, uint(9), float32(0.5), 3.25, true,
		"text", vec3{1, 2, 3}, [2]int16{-1, 1}, &vec3{4, 5, 6},
	}
	for _, v := range values {
		b, err := EncodeValue(reflect.ValueOf(v))
		require.NoError(t, err, "%T", v)
		got, err := DecodeValue(reflect.TypeOf(v), b)
		require.NoError(t, err, "%T", v)
		require.Equal(t, v, got.Interface(), "%T", v)
	}

	_, err := EncodeValue(reflect.ValueOf((*vec3)(nil)))
	require.ErrorIs(t, err, ErrNilPointer)
	_, err = DecodeValue(reflect.TypeOf(int32(0)), []byte{1, 2})
	require.ErrorIs(t, err, ErrSizeMismatch)
	_, err = DecodeValue(reflect.TypeOf(0), []byte{1, 2, 3, 4})
	require.ErrorIs(t, err, ErrSizeMismatch)
}

func TestEncodeFlags(t *testing.T) {
	block, err := Encoder{RefThreshold: 8}.Encode(
		int32(1), NoSwap(int32(2)), 1.5, "name", &vec3{}, [4]uint32{})
	require.NoError(t, err)

	n, err := wire.ParamCount(block)
	require.NoError(t, err)
	require.Equal(t, 6, n)

	want := []wire.ParamHeader{
		{Length: 4, Flags: wire.FlagSwap},
		{Length: 4},
		{Length: 8, Flags: wire.FlagFloat | wire.FlagSwap},
		{Length: 4, Flags: wire.FlagText},
		{Length: 12, Flags: wire.FlagRef | wire.FlagSwap},
		{Length: 16, Flags: wire.FlagRef | wire.FlagSwap},
	}
	for i, h := range want {
		require.Equal(t, h, wire.ParamHeaderAt(block, i), "param %d", i)
	}
}

func TestEncodeNativeEndian(t *testing.T) {
	block, err := Encoder{NativeEndian: true}.Encode(uint16(0x0102))
	require.NoError(t, err)
	h := wire.ParamHeaderAt(block, 0)
	require.False(t, h.Flags.Has(wire.FlagSwap))
	b, err := EncodeValue(reflect.ValueOf(uint16(0x0102)))
	require.NoError(t, err)
	require.Equal(t, b, block[wire.HeaderBlockLen(1):])
}

func TestEncodeSwapOrder(t *testing.T) {
	block, err := Encoder{}.Encode(uint32(0x0a0b0c0d))
	require.NoError(t, err)
	require.Equal(t, []byte{0x0a, 0x0b, 0x0c, 0x0d}, block[wire.HeaderBlockLen(1):])
}

func TestEncodeLimits(t *testing.T) {
	_, err := Encoder{}.Encode(make([]any, wire.MaxParams+1)...)
	require.ErrorIs(t, err, wire.ErrTooManyParams)

	_, err = Encoder{MaxPayload: 8}.Encode(uint64(1))
	require.ErrorIs(t, err, ErrPayloadTooLarge)

	_, err = Encoder{ScratchCapacity: 16}.Encode("a", "b")
	require.ErrorIs(t, err, ErrPayloadTooLarge)
	_, err = Encoder{ScratchCapacity: 32}.Encode("a", "b")
	require.NoError(t, err)

	_, err = Encoder{MaxParamSize: 4}.Encode(uint64(1))
	require.ErrorIs(t, err, ErrPayloadTooLarge)

	_, err = Encoder{}.Encode(nil)
	require.ErrorIs(t, err, ErrUnsupportedType)
	_, err = Encoder{}.Encode((*int32)(nil))
	require.ErrorIs(t, err, ErrNilPointer)
}

func TestAlignUp(t *testing.T) {
	require.Equal(t, 0, AlignUp(0, RefAlign))
	require.Equal(t, 16, AlignUp(1, RefAlign))
	require.Equal(t, 16, AlignUp(16, RefAlign))
	require.Equal(t, 32, AlignUp(17, RefAlign))
}
