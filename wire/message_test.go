// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCallRoundTrip(t *testing.T) {
	block, err := AppendParamBlock(nil, []ParamHeader{{Length: 2, Flags: FlagSwap}}, [][]byte{{0xab, 0xcd}})
	require.NoError(t, err)

	tests := []Call{
		{Name: "Ping", Params: []byte{0}},
		{HasIndex: true, Index: 300, Params: block},
		{
			HasTimestamp: true,
			Timestamp:    1 << 40,
			ExtraBits:    12,
			ExtraData:    []byte{0xff, 0x0f},
			HasObject:    true,
			ObjectID:     99,
			Name:         "Move",
			Params:       block,
		},
	}
	for _, want := range tests {
		msg, err := want.MarshalBinary()
		require.NoError(t, err)
		kind, err := Kind(msg)
		require.NoError(t, err)
		require.Equal(t, MsgCall, kind)

		var got Call
		require.NoError(t, got.UnmarshalBinary(msg, 1024))
		if want.ExtraBits == 0 {
			want.ExtraBits = uint64(len(want.ExtraData)) * 8
		}
		if len(want.ExtraData) == 0 {
			want.ExtraData = got.ExtraData
		}
		require.Equal(t, want, got)
	}
}

func TestCallLayout(t *testing.T) {
	c := Call{HasIndex: true, Index: 5, Params: []byte{0}}
	msg, err := c.MarshalBinary()
	require.NoError(t, err)
	// kind, no timestamp, 0 extra bits, no object, has index, 5, 1 byte, count 0
	require.Equal(t, []byte{0x01, 0, 0, 0, 1, 5, 1, 0}, msg)
}

func TestCallRejects(t *testing.T) {
	valid, err := (&Call{Name: "f", Params: []byte{0, 0, 0, 0}}).MarshalBinary()
	require.NoError(t, err)

	var c Call
	require.ErrorIs(t, c.UnmarshalBinary(valid, 2), ErrParamsTooLarge)
	require.ErrorIs(t, c.UnmarshalBinary(append(valid, 0), 1024), ErrTrailingData)
	require.ErrorIs(t, c.UnmarshalBinary(valid[:len(valid)-1], 1024), ErrShortBuffer)
	require.ErrorIs(t, c.UnmarshalBinary([]byte{byte(MsgError), 0}, 1024), ErrUnknownKind)

	huge := []byte{byte(MsgCall), 0, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01}
	require.ErrorIs(t, c.UnmarshalBinary(huge, 1024), ErrShortBuffer)

	_, err = (&Call{Name: strings.Repeat("x", MaxNameLength+1)}).MarshalBinary()
	require.ErrorIs(t, err, ErrNameTooLong)
	_, err = (&Call{ExtraBits: 20, ExtraData: []byte{1}}).MarshalBinary()
	require.Error(t, err)
}

func TestIndexAdvertisementRoundTrip(t *testing.T) {
	want := IndexAdvertisement{IsInstanceMethod: true, Index: 70000, Name: "Actor.Move"}
	msg, err := want.MarshalBinary()
	require.NoError(t, err)
	var got IndexAdvertisement
	require.NoError(t, got.UnmarshalBinary(msg))
	require.Equal(t, want, got)

	require.ErrorIs(t, got.UnmarshalBinary(msg[:len(msg)-1]), ErrShortBuffer)
}

func TestErrorMessage(t *testing.T) {
	msg := MarshalError(DecodeFailure)
	require.Equal(t, []byte{0x03, 8}, msg)
	code, err := UnmarshalError(msg)
	require.NoError(t, err)
	require.Equal(t, DecodeFailure, code)
	require.ErrorIs(t, error(code), DecodeFailure)

	_, err = UnmarshalError([]byte{0x03})
	require.ErrorIs(t, err, ErrShortBuffer)
	_, err = UnmarshalError([]byte{0x03, 1, 2})
	require.ErrorIs(t, err, ErrTrailingData)
}

func TestErrorCodeOrder(t *testing.T) {
	codes := []ErrorCode{
		ObjectRegistryUnavailable,
		TargetObjectNotFound,
		FunctionIndexOutOfRange,
		FunctionNotRegistered,
		FunctionNoLongerRegistered,
		CallingInstanceMethodAsStatic,
		CallingStaticAsInstanceMethod,
		PayloadTooLargeForScratch,
		DecodeFailure,
	}
	for i, c := range codes {
		require.Equal(t, ErrorCode(i), c)
		require.True(t, c.Valid())
	}
	require.False(t, ErrorCode(len(codes)).Valid())
}

func TestParamBlock(t *testing.T) {
	headers := []ParamHeader{{Length: 1, Flags: FlagFloat | FlagRef}, {Length: 3, Flags: FlagText}}
	block, err := AppendParamBlock(nil, headers, [][]byte{{9}, []byte("abc")})
	require.NoError(t, err)
	require.Equal(t, HeaderBlockLen(2)+4, len(block))

	n, err := ParamCount(block)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	for i, h := range headers {
		require.Equal(t, h, ParamHeaderAt(block, i))
	}
	require.Equal(t, []byte{9, 'a', 'b', 'c'}, block[HeaderBlockLen(2):])
	require.Equal(t, "float|ref", headers[0].Flags.String())

	_, err = AppendParamBlock(nil, make([]ParamHeader, MaxParams+1), make([][]byte, MaxParams+1))
	require.ErrorIs(t, err, ErrTooManyParams)
}

func TestUvarint(t *testing.T) {
	w := NewWriter(0)
	values := []uint64{0, 1, 127, 128, 300, 1<<32 + 1, ^uint64(0)}
	for _, v := range values {
		w.WriteUvarint(v)
	}
	r := NewReader(w.Bytes())
	for _, v := range values {
		got, err := r.ReadUvarint()
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
	require.Zero(t, r.Remaining())
}
