// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package abi

// Native returns the placement profile of the build target.
func Native() Profile { return Win64 }
