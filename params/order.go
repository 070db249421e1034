// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package params

import (
	"golang.org/x/sys/cpu"

	"github.com/luxfi/autorpc/wire"
)

// HostBigEndian reports the byte order of this process. Swapped payloads
// travel big-endian, so only little-endian hosts reverse them.
var HostBigEndian = cpu.IsBigEndian

// NeedsSwap reports whether a payload carrying flags must be reversed to
// convert between wire order and host order.
func NeedsSwap(flags wire.ParamFlags) bool {
	return flags.Has(wire.FlagSwap) && !HostBigEndian
}

// Reverse reverses b in place.
func Reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
