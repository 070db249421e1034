// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package abi

import (
	"fmt"
	"sort"
	"strings"
)

// Convention selects the dispatcher backend for a profile.
type Convention uint8

const (
	// AllOnStack pushes every generic word, in order, onto the call stack.
	AllOnStack Convention = iota
	// RegisterOverflow fills integer and float argument registers first
	// and spills the rest to the stack.
	RegisterOverflow
	// FixedShape calls through a table of precompiled word-count shapes
	// plus a bitmap of floating-point positions.
	FixedShape
)

func (c Convention) String() string {
	switch c {
	case AllOnStack:
		return "all-on-stack"
	case RegisterOverflow:
		return "register-overflow"
	case FixedShape:
		return "fixed-shape"
	default:
		return fmt.Sprintf("convention(%d)", uint8(c))
	}
}

// Profile is the argument placement rule set of one platform.
type Profile struct {
	Name       string
	Convention Convention

	// WordSize is the natural word, 4 or 8 bytes.
	WordSize int

	IntRegs   int
	FloatRegs int

	// RefThreshold passes values larger than this many bytes by
	// reference. Zero disables it.
	RefThreshold int

	// ShadowFloats also emits every register float as a generic word.
	ShadowFloats bool

	// Positional assigns argument n to register n of either file rather
	// than counting each file separately.
	Positional bool

	// ShadowSpace is reserved at the bottom of the stack for register
	// arguments.
	ShadowSpace int

	StackAlign int

	// MemoryAggregate sends aggregates larger than this many bytes to the
	// stack even when registers remain. Zero disables it.
	MemoryAggregate int

	// FloatsToMemory sends floats past the float budget to the stack.
	FloatsToMemory bool

	// Shapes lists the word counts of the precompiled call shapes, in
	// increasing order. FixedShape only.
	Shapes []int

	// FloatMapBits is how many leading positions the float bitmap covers.
	// FixedShape only.
	FloatMapBits int
}

var (
	IA32 = Profile{
		Name:       "ia32",
		Convention: AllOnStack,
		WordSize:   4,
		StackAlign: 16,
	}

	SysVAMD64 = Profile{
		Name:            "sysv-amd64",
		Convention:      RegisterOverflow,
		WordSize:        8,
		IntRegs:         6,
		FloatRegs:       8,
		StackAlign:      16,
		MemoryAggregate: 16,
		FloatsToMemory:  true,
	}

	Win64 = Profile{
		Name:         "win64",
		Convention:   RegisterOverflow,
		WordSize:     8,
		IntRegs:      4,
		FloatRegs:    4,
		RefThreshold: 8,
		ShadowFloats: true,
		Positional:   true,
		ShadowSpace:  32,
		StackAlign:   16,
	}

	PPC64 = Profile{
		Name:         "ppc64",
		Convention:   RegisterOverflow,
		WordSize:     8,
		IntRegs:      8,
		FloatRegs:    13,
		ShadowFloats: true,
		ShadowSpace:  64,
		StackAlign:   16,
	}

	ARM64 = Profile{
		Name:         "arm64",
		Convention:   RegisterOverflow,
		WordSize:     8,
		IntRegs:      8,
		FloatRegs:    8,
		RefThreshold: 16,
		StackAlign:   16,
	}

	Shapes = Profile{
		Name:         "shapes",
		Convention:   FixedShape,
		WordSize:     8,
		FloatRegs:    4,
		ShadowFloats: true,
		Positional:   true,
		StackAlign:   16,
		Shapes:       []int{3, 6, 9, 12, 32, 64},
		FloatMapBits: 4,
	}
)

var profiles = map[string]Profile{
	IA32.Name:      IA32,
	SysVAMD64.Name: SysVAMD64,
	Win64.Name:     Win64,
	PPC64.Name:     PPC64,
	ARM64.Name:     ARM64,
	Shapes.Name:    Shapes,
}

// ProfileByName returns a built-in profile. The empty name and "native"
// select the profile of the build target.
func ProfileByName(name string) (Profile, error) {
	if name == "" || name == "native" {
		return Native(), nil
	}
	p, ok := profiles[strings.ToLower(name)]
	if !ok {
		return Profile{}, fmt.Errorf("abi: unknown profile %q (have %s)", name, strings.Join(ProfileNames(), ", "))
	}
	return p, nil
}

// ProfileNames lists the built-in profiles.
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that p is internally consistent.
func (p Profile) Validate() error {
	if p.WordSize != 4 && p.WordSize != 8 {
		return fmt.Errorf("abi: profile %s: word size %d", p.Name, p.WordSize)
	}
	if p.IntRegs < 0 || p.FloatRegs < 0 || p.RefThreshold < 0 || p.ShadowSpace < 0 {
		return fmt.Errorf("abi: profile %s: negative register or threshold count", p.Name)
	}
	if p.StackAlign <= 0 || p.StackAlign&(p.StackAlign-1) != 0 {
		return fmt.Errorf("abi: profile %s: stack alignment %d is not a power of two", p.Name, p.StackAlign)
	}
	if p.Convention == FixedShape {
		if len(p.Shapes) == 0 {
			return fmt.Errorf("abi: profile %s: no call shapes", p.Name)
		}
		if !sort.IntsAreSorted(p.Shapes) {
			return fmt.Errorf("abi: profile %s: shapes must be increasing", p.Name)
		}
		if p.FloatMapBits > 8 {
			return fmt.Errorf("abi: profile %s: float map wider than 8 bits", p.Name)
		}
	}
	return nil
}
