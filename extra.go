// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package autorpc

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("autorpc: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// EncodeExtraData serializes v as canonical CBOR for CallOptions.ExtraData.
// The engine never interprets extra data; this is one convenient format.
func EncodeExtraData(v any) ([]byte, error) {
	b, err := cborEncMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("autorpc: marshal extra data: %w", err)
	}
	return b, nil
}

// DecodeExtraData is the inverse of EncodeExtraData.
func DecodeExtraData(data []byte, v any) error {
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("autorpc: unmarshal extra data: %w", err)
	}
	return nil
}
