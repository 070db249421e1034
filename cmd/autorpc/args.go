// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"
	"strconv"
	"strings"
)

type argParser func(s string) (any, error)

func intParser[T int8 | int16 | int32 | int64](bits int) argParser {
	return func(s string) (any, error) {
		v, err := strconv.ParseInt(s, 0, bits)
		return T(v), err
	}
}

func uintParser[T uint8 | uint16 | uint32 | uint64](bits int) argParser {
	return func(s string) (any, error) {
		v, err := strconv.ParseUint(s, 0, bits)
		return T(v), err
	}
}

var argParsers = map[string]argParser{
	"i8":  intParser[int8](8),
	"i16": intParser[int16](16),
	"i32": intParser[int32](32),
	"i64": intParser[int64](64),
	"u8":  uintParser[uint8](8),
	"u16": uintParser[uint16](16),
	"u32": uintParser[uint32](32),
	"u64": uintParser[uint64](64),
	"f32": func(s string) (any, error) {
		v, err := strconv.ParseFloat(s, 32)
		return float32(v), err
	},
	"f64": func(s string) (any, error) {
		return strconv.ParseFloat(s, 64)
	},
	"bool": func(s string) (any, error) {
		return strconv.ParseBool(s)
	},
	"str": func(s string) (any, error) { return s, nil },
}

// parseArg converts TYPE:VALUE into a typed value. Without a known type
// prefix the whole argument is a string.
func parseArg(arg string) (any, error) {
	prefix, value, ok := strings.Cut(arg, ":")
	if !ok {
		return arg, nil
	}
	parse, ok := argParsers[prefix]
	if !ok {
		return arg, nil
	}
	v, err := parse(value)
	if err != nil {
		return nil, fmt.Errorf("argument %q: %w", arg, err)
	}
	return v, nil
}

func parseArgs(args []string) ([]any, error) {
	out := make([]any, len(args))
	for i, a := range args {
		v, err := parseArg(a)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
