// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package autorpc

import (
	"context"
	"reflect"
)

// Call describes the invocation in progress. A target that declares a
// trailing *Call parameter receives it after its wire arguments:
//
//	func Move(x, y float32, call *autorpc.Call) { ... }
//
// The value is only valid during the call.
type Call struct {
	Engine *Engine

	// Function is the identifier name of the running target.
	Function string
	Sender   string

	HasTimestamp bool
	Timestamp    uint64

	HasObject bool
	ObjectID  uint64

	ExtraData []byte
	ExtraBits uint64

	// Token is the invocation context word placed after the arguments.
	Token uint64
}

var callType = reflect.TypeOf((*Call)(nil))

// Call0 calls a remote function that takes no parameters.
func Call0(ctx context.Context, e *Engine, name string) error {
	return e.Call(ctx, name)
}

// Call1 calls a remote function of one parameter.
func Call1[A any](ctx context.Context, e *Engine, name string, a A) error {
	return e.Call(ctx, name, a)
}

func Call2[A, B any](ctx context.Context, e *Engine, name string, a A, b B) error {
	return e.Call(ctx, name, a, b)
}

func Call3[A, B, C any](ctx context.Context, e *Engine, name string, a A, b B, c C) error {
	return e.Call(ctx, name, a, b, c)
}

func Call4[A, B, C, D any](ctx context.Context, e *Engine, name string, a A, b B, c C, d D) error {
	return e.Call(ctx, name, a, b, c, d)
}

func Call5[A, B, C, D, E any](ctx context.Context, e *Engine, name string, a A, b B, c C, d D, f E) error {
	return e.Call(ctx, name, a, b, c, d, f)
}

func Call6[A, B, C, D, E, F any](ctx context.Context, e *Engine, name string, a A, b B, c C, d D, f E, g F) error {
	return e.Call(ctx, name, a, b, c, d, f, g)
}

func Call7[A, B, C, D, E, F, G any](ctx context.Context, e *Engine, name string, a A, b B, c C, d D, f E, g F, h G) error {
	return e.Call(ctx, name, a, b, c, d, f, g, h)
}

func Call8[A, B, C, D, E, F, G, H any](ctx context.Context, e *Engine, name string, a A, b B, c C, d D, f E, g F, h G, i H) error {
	return e.Call(ctx, name, a, b, c, d, f, g, h, i)
}
