// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import "fmt"

// MessageKind identifies a message by its first byte.
type MessageKind uint8

const (
	MsgCall               MessageKind = 0x01
	MsgIndexAdvertisement MessageKind = 0x02
	MsgError              MessageKind = 0x03
)

func (k MessageKind) String() string {
	switch k {
	case MsgCall:
		return "CALL"
	case MsgIndexAdvertisement:
		return "INDEX_ADVERTISEMENT"
	case MsgError:
		return "ERROR"
	default:
		return fmt.Sprintf("kind(0x%02x)", uint8(k))
	}
}

// Kind returns the kind byte of an encoded message.
func Kind(msg []byte) (MessageKind, error) {
	if len(msg) == 0 {
		return 0, ErrShortBuffer
	}
	return MessageKind(msg[0]), nil
}

// Call is the envelope of one remote invocation.
type Call struct {
	HasTimestamp bool
	Timestamp    uint64

	// ExtraBits is the length of ExtraData in bits. Zero means use
	// len(ExtraData)*8.
	ExtraBits uint64
	ExtraData []byte

	HasObject bool
	ObjectID  uint64

	// HasIndex selects the compact form: Index names the function in the
	// receiver's registry. Otherwise Name is sent.
	HasIndex bool
	Index    uint32
	Name     string

	// Params is the raw parameter block (count, headers, payloads).
	Params []byte
}

// AppendBinary appends the encoded CALL message to dst.
func (c *Call) AppendBinary(dst []byte) ([]byte, error) {
	w := &Writer{buf: dst}
	w.WriteByte(byte(MsgCall))
	w.WriteBool(c.HasTimestamp)
	if c.HasTimestamp {
		w.WriteUint64(c.Timestamp)
	}
	bits := c.ExtraBits
	if bits == 0 {
		bits = uint64(len(c.ExtraData)) * 8
	}
	if need := (bits + 7) / 8; need != uint64(len(c.ExtraData)) {
		return dst, fmt.Errorf("wire: extra data is %d bytes, bit length %d needs %d", len(c.ExtraData), bits, need)
	}
	w.WriteUvarint(bits)
	w.WriteBytes(c.ExtraData)
	w.WriteBool(c.HasObject)
	if c.HasObject {
		w.WriteUvarint(c.ObjectID)
	}
	w.WriteBool(c.HasIndex)
	if c.HasIndex {
		w.WriteUvarint(uint64(c.Index))
	} else if err := w.WriteString(c.Name); err != nil {
		return dst, err
	}
	w.WriteUvarint(uint64(len(c.Params)))
	w.WriteBytes(c.Params)
	return w.Bytes(), nil
}

// MarshalBinary encodes the CALL message.
func (c *Call) MarshalBinary() ([]byte, error) {
	return c.AppendBinary(make([]byte, 0, 32+len(c.ExtraData)+len(c.Name)+len(c.Params)))
}

// UnmarshalBinary decodes a CALL message. maxParams bounds the declared
// parameter byte count; a larger declaration returns ErrParamsTooLarge
// without reading the bytes. The decoded slices alias msg.
func (c *Call) UnmarshalBinary(msg []byte, maxParams int) error {
	r := NewReader(msg)
	kind, err := r.ReadByte()
	if err != nil {
		return err
	}
	if MessageKind(kind) != MsgCall {
		return fmt.Errorf("%w: want %s, got %s", ErrUnknownKind, MsgCall, MessageKind(kind))
	}
	*c = Call{}
	if c.HasTimestamp, err = r.ReadBool(); err != nil {
		return err
	}
	if c.HasTimestamp {
		if c.Timestamp, err = r.ReadUint64(); err != nil {
			return err
		}
	}
	if c.ExtraBits, err = r.ReadUvarint(); err != nil {
		return err
	}
	if c.ExtraBits > uint64(r.Remaining())*8 {
		return ErrShortBuffer
	}
	if c.ExtraData, err = r.ReadBytes(int((c.ExtraBits + 7) / 8)); err != nil {
		return err
	}
	if c.HasObject, err = r.ReadBool(); err != nil {
		return err
	}
	if c.HasObject {
		if c.ObjectID, err = r.ReadUvarint(); err != nil {
			return err
		}
	}
	if c.HasIndex, err = r.ReadBool(); err != nil {
		return err
	}
	if c.HasIndex {
		idx, err := r.ReadUvarint()
		if err != nil {
			return err
		}
		if idx > uint64(^uint32(0)) {
			return ErrOverflow
		}
		c.Index = uint32(idx)
	} else if c.Name, err = r.ReadString(); err != nil {
		return err
	}
	n, err := r.ReadUvarint()
	if err != nil {
		return err
	}
	if n > uint64(maxParams) {
		return fmt.Errorf("%w: %d bytes declared, limit %d", ErrParamsTooLarge, n, maxParams)
	}
	if c.Params, err = r.ReadBytes(int(n)); err != nil {
		return err
	}
	if r.Remaining() != 0 {
		return ErrTrailingData
	}
	return nil
}

// IndexAdvertisement tells a peer which compact index names a function.
type IndexAdvertisement struct {
	IsInstanceMethod bool
	Index            uint32
	Name             string
}

func (a *IndexAdvertisement) MarshalBinary() ([]byte, error) {
	w := NewWriter(8 + len(a.Name))
	w.WriteByte(byte(MsgIndexAdvertisement))
	w.WriteBool(a.IsInstanceMethod)
	w.WriteUvarint(uint64(a.Index))
	if err := w.WriteString(a.Name); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func (a *IndexAdvertisement) UnmarshalBinary(msg []byte) error {
	r := NewReader(msg)
	kind, err := r.ReadByte()
	if err != nil {
		return err
	}
	if MessageKind(kind) != MsgIndexAdvertisement {
		return fmt.Errorf("%w: want %s, got %s", ErrUnknownKind, MsgIndexAdvertisement, MessageKind(kind))
	}
	if a.IsInstanceMethod, err = r.ReadBool(); err != nil {
		return err
	}
	idx, err := r.ReadUvarint()
	if err != nil {
		return err
	}
	if idx > uint64(^uint32(0)) {
		return ErrOverflow
	}
	a.Index = uint32(idx)
	if a.Name, err = r.ReadString(); err != nil {
		return err
	}
	if r.Remaining() != 0 {
		return ErrTrailingData
	}
	return nil
}

// MarshalError encodes an ERROR message.
func MarshalError(code ErrorCode) []byte {
	return []byte{byte(MsgError), byte(code)}
}

// UnmarshalError decodes an ERROR message.
func UnmarshalError(msg []byte) (ErrorCode, error) {
	if len(msg) < 2 {
		return 0, ErrShortBuffer
	}
	if MessageKind(msg[0]) != MsgError {
		return 0, fmt.Errorf("%w: want %s, got %s", ErrUnknownKind, MsgError, MessageKind(msg[0]))
	}
	if len(msg) != 2 {
		return 0, ErrTrailingData
	}
	return ErrorCode(msg[1]), nil
}
