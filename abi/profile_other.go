// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

//go:build !amd64 && !386 && !arm64 && !ppc64 && !ppc64le

package abi

// Native returns the placement profile of the build target. Targets
// without a register profile call through the fixed shape table.
func Native() Profile { return Shapes }
