// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package autorpc calls ordinary Go functions on remote peers by name.
//
// A sender serializes its arguments into a parameter block: a count, one
// five-byte header per parameter (length plus float, swap, reference and
// text flags) and the raw payloads. The receiver looks the function up,
// lays the payloads out the way a native call would for the configured
// placement profile, reads each argument back and invokes the function.
// Neither side declares an interface definition.
//
// # Transport Selection
//
// The engine talks through a transport.Transport. TCP is the default:
//
//	t, err := transport.Listen(ctx, "tcp", ":9000")   // length-prefixed frames
//	t, err := transport.Listen(ctx, "grpc", ":9000")  // unary gRPC Deliver calls, raw codec
//	t, err := transport.Listen(ctx, "json", ":9000")  // JSON-RPC 2.0 over HTTP
//
// Peers reply to the address a transport reports as LocalAddr. A wildcard
// listen like ":9000" needs transport.WithAdvertiseAddr with a routable
// host. transport.NewHub connects endpoints in memory for tests.
//
// # Usage
//
// Receiver:
//
//	e, err := autorpc.New(t, autorpc.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//	e.RegisterFunction("Ping", func(n int32, call *autorpc.Call) {
//	    log.Info("ping", zap.Int32("n", n), zap.String("from", call.Sender))
//	})
//	return e.Serve(ctx)
//
// Sender:
//
//	err := autorpc.Call1(ctx, e, "Ping", int32(42))
//
// The first call to a peer carries the function name. The peer answers
// with an index advertisement, and later calls carry the compact index
// instead. Disconnects drop the cached indices for that peer.
//
// # Placement Profiles
//
// The profile decides which arguments land in integer words, float slots,
// the stack or the scratch copy buffer:
//
//	ia32        all on stack, 4-byte words
//	sysv-amd64  6 integer / 8 float registers, aggregates over 16 bytes in memory
//	win64       4 positional registers, references above 8 bytes
//	ppc64       8 integer / 13 float registers, shadowed floats
//	arm64       8 integer / 8 float registers, references above 16 bytes
//	shapes      fixed 3/6/9/12/32/64 word shapes with a float bitmap
//
// The default matches the build target. Peers may use different profiles;
// only the wire format is shared.
package autorpc
