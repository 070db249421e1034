// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

//go:build ppc64 || ppc64le

package abi

// Native returns the placement profile of the build target.
func Native() Profile { return PPC64 }
