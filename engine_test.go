// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package autorpc

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/luxfi/autorpc/params"
	"github.com/luxfi/autorpc/transport"
	"github.com/luxfi/autorpc/wire"
)

func newPeer(t *testing.T, hub *transport.Hub, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	e, err := New(hub.Endpoint(), opts...)
	require.NoError(t, err)
	return e
}

func withConfig(f func(*Config)) Option {
	cfg := DefaultConfig()
	f(&cfg)
	return WithConfig(cfg)
}

func endpoint(e *Engine) *transport.Endpoint {
	return e.Transport().(*transport.Endpoint)
}

func recv(t *testing.T, e *Engine) transport.Packet {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p, err := e.Transport().Recv(ctx)
	require.NoError(t, err)
	return p
}

// pump handles one queued packet and returns the handling error.
func pump(t *testing.T, e *Engine) error {
	t.Helper()
	return e.HandlePacket(context.Background(), recv(t, e))
}

// drain handles every queued packet, requiring success.
func drain(t *testing.T, e *Engine) {
	t.Helper()
	for endpoint(e).Len() > 0 {
		require.NoError(t, pump(t, e))
	}
}

func decodeCall(t *testing.T, p transport.Packet) wire.Call {
	t.Helper()
	var c wire.Call
	require.NoError(t, c.UnmarshalBinary(append([]byte(nil), p.Data...), 1<<20))
	return c
}

func TestPingScenario(t *testing.T) {
	ctx := context.Background()
	hub := transport.NewHub()
	caller := newPeer(t, hub, withConfig(func(c *Config) { c.NativeEndian = true }))

	got := map[string][]int32{}
	peers := []*Engine{newPeer(t, hub), newPeer(t, hub)}
	for _, p := range peers {
		addr := p.Transport().LocalAddr()
		require.NoError(t, p.RegisterFunction("Ping", func(v int32, call *Call) {
			require.NotNil(t, call)
			assert.Equal(t, caller.Transport().LocalAddr(), call.Sender)
			assert.Equal(t, "Ping", call.Function)
			got[addr] = append(got[addr], v)
		}))
	}

	require.NoError(t, caller.Call(ctx, "Ping", int32(42)))
	for _, p := range peers {
		pkt := recv(t, p)
		c := decodeCall(t, pkt)
		require.False(t, c.HasIndex)
		require.Equal(t, "Ping", c.Name)
		n, err := wire.ParamCount(c.Params)
		require.NoError(t, err)
		require.Equal(t, 1, n)
		require.Equal(t, wire.ParamHeader{Length: 4}, wire.ParamHeaderAt(c.Params, 0))

		require.NoError(t, p.HandlePacket(ctx, pkt))
		require.Equal(t, []int32{42}, got[p.Transport().LocalAddr()])
	}

	for range peers {
		pkt := recv(t, caller)
		kind, err := wire.Kind(pkt.Data)
		require.NoError(t, err)
		require.Equal(t, wire.MsgIndexAdvertisement, kind)
		require.NoError(t, caller.HandlePacket(ctx, pkt))
	}
	for _, p := range peers {
		idx, ok := caller.CachedIndex(p.Transport().LocalAddr(), "Ping", false)
		require.True(t, ok)
		require.Equal(t, uint32(0), idx)
	}

	require.NoError(t, caller.Call(ctx, "Ping", int32(7)))
	for _, p := range peers {
		pkt := recv(t, p)
		c := decodeCall(t, pkt)
		require.True(t, c.HasIndex)
		require.Equal(t, uint32(0), c.Index)
		require.Empty(t, c.Name)
		require.NoError(t, p.HandlePacket(ctx, pkt))
		require.Equal(t, []int32{42, 7}, got[p.Transport().LocalAddr()])
		require.Zero(t, endpoint(caller).Len(), "no second advertisement")
	}
}

type vec2 struct {
	X, Y float32
}

func TestRoundTripArities(t *testing.T) {
	ctx := context.Background()
	hub := transport.NewHub()
	a, b := newPeer(t, hub), newPeer(t, hub)

	var got []any
	record := func(v ...any) { got = v }
	require.NoError(t, b.RegisterFunction("f0", func() { record() }))
	require.NoError(t, b.RegisterFunction("f1", func(a int8) { record(a) }))
	require.NoError(t, b.RegisterFunction("f2", func(a uint16, b float32) { record(a, b) }))
	require.NoError(t, b.RegisterFunction("f3", func(a int32, b float64, c bool) { record(a, b, c) }))
	require.NoError(t, b.RegisterFunction("f4", func(a uint64, b string, c vec2, d *vec2) { record(a, b, c, *d) }))
	require.NoError(t, b.RegisterFunction("f5", func(a, b, c, d, e float64) { record(a, b, c, d, e) }))
	require.NoError(t, b.RegisterFunction("f6", func(a int, b uint, c [3]int16, d float32, e int64, f string) {
		record(a, b, c, d, e, f)
	}))
	require.NoError(t, b.RegisterFunction("f7", func(a, b, c, d, e, f, g int64, call *Call) {
		record(a, b, c, d, e, f, g)
	}))
	require.NoError(t, b.RegisterFunction("f8", func(a float32, b int8, c float64, d uint32, e [2]float64, f bool, g *int64, h string) {
		record(a, b, c, d, e, f, *g, h)
	}))

	seven := int64(-7)
	calls := []struct {
		send func() error
		want []any
	}{
		{func() error { return Call0(ctx, a, "f0") }, nil},
		{func() error { return Call1(ctx, a, "f1", int8(-1)) }, []any{int8(-1)}},
		{func() error { return Call2(ctx, a, "f2", uint16(65535), float32(0.25)) }, []any{uint16(65535), float32(0.25)}},
		{func() error { return Call3(ctx, a, "f3", int32(-9), 1e300, true) }, []any{int32(-9), 1e300, true}},
		{
			func() error { return Call4(ctx, a, "f4", uint64(1<<63), "hi", vec2{1, 2}, &vec2{3, 4}) },
			[]any{uint64(1 << 63), "hi", vec2{1, 2}, vec2{3, 4}},
		},
		{func() error { return Call5(ctx, a, "f5", 1.0, 2.0, 3.0, 4.0, 5.0) }, []any{1.0, 2.0, 3.0, 4.0, 5.0}},
		{
			func() error { return Call6(ctx, a, "f6", -1, uint(2), [3]int16{-3, 0, 3}, float32(4), int64(5), "six") },
			[]any{-1, uint(2), [3]int16{-3, 0, 3}, float32(4), int64(5), "six"},
		},
		{
			func() error {
				return Call7(ctx, a, "f7", int64(1), int64(2), int64(3), int64(4), int64(5), int64(6), int64(7))
			},
			[]any{int64(1), int64(2), int64(3), int64(4), int64(5), int64(6), int64(7)},
		},
		{
			func() error {
				return Call8(ctx, a, "f8", float32(1.5), int8(2), 3.5, uint32(4), [2]float64{5, 6}, false, &seven, "eight")
			},
			[]any{float32(1.5), int8(2), 3.5, uint32(4), [2]float64{5, 6}, false, int64(-7), "eight"},
		},
	}
	// Twice: first by name, then by the advertised index.
	for round := 0; round < 2; round++ {
		for i, c := range calls {
			got = []any{"unset"}
			require.NoError(t, c.send(), "arity %d", i)
			require.NoError(t, pump(t, b), "arity %d", i)
			require.Equal(t, c.want, got, "arity %d round %d", i, round)
			drain(t, a)
		}
	}
	for i := range calls {
		_, ok := a.CachedIndex(b.Transport().LocalAddr(), "f"+string(rune('0'+i)), false)
		require.True(t, ok)
	}
}

func TestSwapOptOut(t *testing.T) {
	ctx := context.Background()
	hub := transport.NewHub()
	a, b := newPeer(t, hub), newPeer(t, hub)
	var got [2]uint32
	require.NoError(t, b.RegisterFunction("pair", func(x, y uint32) { got = [2]uint32{x, y} }))

	require.NoError(t, a.Call(ctx, "pair", uint32(0x01020304), params.NoSwap(uint32(0x05060708))))
	pkt := recv(t, b)
	c := decodeCall(t, pkt)
	require.True(t, wire.ParamHeaderAt(c.Params, 0).Flags.Has(wire.FlagSwap))
	require.False(t, wire.ParamHeaderAt(c.Params, 1).Flags.Has(wire.FlagSwap))
	require.NoError(t, b.HandlePacket(ctx, pkt))
	require.Equal(t, [2]uint32{0x01020304, 0x05060708}, got)
}

type actor struct {
	X, Y float32
	name string
}

func (a *actor) Move(dx, dy float32, call *Call) {
	a.X += dx
	a.Y += dy
}

func (a *actor) Rename(n string) { a.name = n }

func TestInstanceMethods(t *testing.T) {
	ctx := context.Background()
	hub := transport.NewHub()
	objects := NewObjectTable()
	hero := &actor{}
	id := objects.Add(hero)

	a := newPeer(t, hub)
	b := newPeer(t, hub, WithObjects(objects))
	require.NoError(t, b.RegisterMethod("Move", "Move"))
	require.NoError(t, b.RegisterMethod("Rename", "Rename"))

	opts := a.OutgoingOptions().On(id)
	require.NoError(t, a.CallWith(ctx, opts, "Move", float32(1), float32(2)))
	require.NoError(t, pump(t, b))
	require.NoError(t, a.CallWith(ctx, opts, "Move", float32(0.5), float32(0.5)))
	drain(t, a)
	require.NoError(t, pump(t, b))
	require.Equal(t, float32(1.5), hero.X)
	require.Equal(t, float32(2.5), hero.Y)

	require.NoError(t, a.CallWith(ctx, opts, "Rename", "zed"))
	require.NoError(t, pump(t, b))
	require.Equal(t, "zed", hero.name)

	_, ok := a.CachedIndex(b.Transport().LocalAddr(), "Move", true)
	require.True(t, ok)
}

func TestRemoteErrors(t *testing.T) {
	ctx := context.Background()
	objects := NewObjectTable()
	objects.Set(1, &actor{})

	tests := []struct {
		name  string
		setup func(t *testing.T, b *Engine)
		send  func(a *Engine, to string) error
		objs  bool
		code  wire.ErrorCode
	}{
		{
			name: "not registered",
			send: func(a *Engine, to string) error { return a.CallWith(ctx, a.OutgoingOptions().To(to), "Nope") },
			code: wire.FunctionNotRegistered,
		},
		{
			name: "no object registry",
			setup: func(t *testing.T, b *Engine) {
				require.NoError(t, b.RegisterMethod("Move", "Move"))
			},
			send: func(a *Engine, to string) error {
				return a.CallWith(ctx, a.OutgoingOptions().To(to).On(1), "Move", float32(1), float32(1))
			},
			code: wire.ObjectRegistryUnavailable,
		},
		{
			name: "object not found",
			objs: true,
			setup: func(t *testing.T, b *Engine) {
				require.NoError(t, b.RegisterMethod("Move", "Move"))
			},
			send: func(a *Engine, to string) error {
				return a.CallWith(ctx, a.OutgoingOptions().To(to).On(99), "Move", float32(1), float32(1))
			},
			code: wire.TargetObjectNotFound,
		},
		{
			name: "instance method as static",
			setup: func(t *testing.T, b *Engine) {
				require.NoError(t, b.RegisterMethod("Move", "Move"))
			},
			send: func(a *Engine, to string) error {
				return a.CallWith(ctx, a.OutgoingOptions().To(to), "Move", float32(1), float32(1))
			},
			code: wire.CallingInstanceMethodAsStatic,
		},
		{
			name: "static as instance method",
			objs: true,
			setup: func(t *testing.T, b *Engine) {
				require.NoError(t, b.RegisterFunction("Ping", func(int32) {}))
			},
			send: func(a *Engine, to string) error {
				return a.CallWith(ctx, a.OutgoingOptions().To(to).On(1), "Ping", int32(1))
			},
			code: wire.CallingStaticAsInstanceMethod,
		},
		{
			name: "index out of range",
			send: func(a *Engine, to string) error {
				msg, err := (&wire.Call{HasIndex: true, Index: 50, Params: []byte{0}}).MarshalBinary()
				if err != nil {
					return err
				}
				return a.Transport().Send(ctx, to, msg, transport.SendOptions{})
			},
			code: wire.FunctionIndexOutOfRange,
		},
		{
			name: "no longer registered",
			setup: func(t *testing.T, b *Engine) {
				require.NoError(t, b.RegisterFunction("Ping", func(int32) {}))
				require.NoError(t, b.UnregisterFunction("Ping", false))
			},
			send: func(a *Engine, to string) error {
				return a.CallWith(ctx, a.OutgoingOptions().To(to), "Ping", int32(1))
			},
			code: wire.FunctionNoLongerRegistered,
		},
		{
			name: "signature mismatch",
			setup: func(t *testing.T, b *Engine) {
				require.NoError(t, b.RegisterFunction("Ping", func(int32) {}))
			},
			send: func(a *Engine, to string) error {
				return a.CallWith(ctx, a.OutgoingOptions().To(to), "Ping", "not a number")
			},
			code: wire.DecodeFailure,
		},
		{
			name: "method signature mismatch",
			objs: true,
			setup: func(t *testing.T, b *Engine) {
				require.NoError(t, b.RegisterMethod("Move", "Move"))
			},
			send: func(a *Engine, to string) error {
				return a.CallWith(ctx, a.OutgoingOptions().To(to).On(1), "Move", int64(1))
			},
			code: wire.DecodeFailure,
		},
		{
			name: "truncated block",
			setup: func(t *testing.T, b *Engine) {
				require.NoError(t, b.RegisterFunction("Ping", func(int32) {}))
			},
			send: func(a *Engine, to string) error {
				msg, err := (&wire.Call{Name: "Ping", Params: []byte{1, 0, 0, 0, 4, 0, 0xaa}}).MarshalBinary()
				if err != nil {
					return err
				}
				return a.Transport().Send(ctx, to, msg, transport.SendOptions{})
			},
			code: wire.DecodeFailure,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := transport.NewHub()
			var (
				gotPeer string
				gotCode wire.ErrorCode
				calls   int
			)
			a := newPeer(t, hub, WithRemoteErrorHandler(func(peer string, code wire.ErrorCode) {
				gotPeer, gotCode = peer, code
				calls++
			}))
			var opts []Option
			if tt.objs {
				opts = append(opts, WithObjects(objects))
			}
			b := newPeer(t, hub, opts...)
			if tt.setup != nil {
				tt.setup(t, b)
			}
			to := b.Transport().LocalAddr()

			require.NoError(t, tt.send(a, to))
			err := pump(t, b)
			require.ErrorIs(t, err, tt.code)

			// Calls by name that fail after resolution are still advertised.
			drain(t, a)
			require.Equal(t, 1, calls)
			require.Equal(t, to, gotPeer)
			require.Equal(t, tt.code, gotCode)
		})
	}
}

func TestCachedIndexAfterUnregister(t *testing.T) {
	ctx := context.Background()
	hub := transport.NewHub()
	var codes []wire.ErrorCode
	a := newPeer(t, hub, WithRemoteErrorHandler(func(_ string, code wire.ErrorCode) { codes = append(codes, code) }))
	b := newPeer(t, hub)
	require.NoError(t, b.RegisterFunction("Ping", func(int32) {}))

	require.NoError(t, a.Call(ctx, "Ping", int32(1)))
	require.NoError(t, pump(t, b))
	drain(t, a)

	require.NoError(t, b.UnregisterFunction("Ping", false))
	require.NoError(t, a.Call(ctx, "Ping", int32(2)))
	pkt := recv(t, b)
	require.True(t, decodeCall(t, pkt).HasIndex)
	require.ErrorIs(t, b.HandlePacket(ctx, pkt), wire.FunctionNoLongerRegistered)
	drain(t, a)
	require.Equal(t, []wire.ErrorCode{wire.FunctionNoLongerRegistered}, codes)

	// Re-registering revives the same index, so the cached one works again.
	called := false
	require.NoError(t, b.RegisterFunction("Ping", func(int32) { called = true }))
	require.NoError(t, a.Call(ctx, "Ping", int32(3)))
	require.NoError(t, pump(t, b))
	require.True(t, called)
}

func TestDisconnectPurge(t *testing.T) {
	ctx := context.Background()
	hub := transport.NewHub()
	a, b := newPeer(t, hub), newPeer(t, hub)
	require.NoError(t, b.RegisterFunction("Ping", func(int32) {}))
	bAddr := b.Transport().LocalAddr()

	require.NoError(t, a.Call(ctx, "Ping", int32(1)))
	require.NoError(t, pump(t, b))
	drain(t, a)
	_, ok := a.CachedIndex(bAddr, "Ping", false)
	require.True(t, ok)

	require.NoError(t, a.HandlePacket(ctx, transport.Packet{From: bAddr, Kind: transport.PacketDisconnected}))
	_, ok = a.CachedIndex(bAddr, "Ping", false)
	require.False(t, ok)

	require.NoError(t, a.Call(ctx, "Ping", int32(2)))
	pkt := recv(t, b)
	c := decodeCall(t, pkt)
	require.False(t, c.HasIndex, "falls back to the name")
	require.Equal(t, "Ping", c.Name)
	require.NoError(t, b.HandlePacket(ctx, pkt))

	// A real disconnect from the transport purges the same way.
	drain(t, a)
	require.NoError(t, b.Transport().Close())
	drain(t, a)
	_, ok = a.CachedIndex(bAddr, "Ping", false)
	require.False(t, ok)
}

func TestCapacityBoundary(t *testing.T) {
	ctx := context.Background()

	t.Run("sender", func(t *testing.T) {
		hub := transport.NewHub()
		a := newPeer(t, hub, withConfig(func(c *Config) { c.ScratchCapacity = 16 }))
		newPeer(t, hub)
		require.NoError(t, a.Call(ctx, "f", "fits"))
		err := a.Call(ctx, "f", "one", "two")
		require.ErrorIs(t, err, params.ErrPayloadTooLarge)
		require.ErrorIs(t, err, wire.PayloadTooLargeForScratch)
	})

	t.Run("same limits both ends", func(t *testing.T) {
		hub := transport.NewHub()
		small := withConfig(func(c *Config) { c.ScratchCapacity = 16 })
		a, b := newPeer(t, hub, small), newPeer(t, hub, small)
		var got string
		require.NoError(t, b.RegisterFunction("f", func(s string) { got = s }))

		require.NoError(t, a.Call(ctx, "f", "sixteen bytes ok"))
		require.NoError(t, pump(t, b))
		require.Equal(t, "sixteen bytes ok", got)
		require.ErrorIs(t, a.Call(ctx, "f", "seventeen bytes!!"), wire.PayloadTooLargeForScratch)
		require.Zero(t, endpoint(b).Len())
	})

	t.Run("zero scratch", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ScratchCapacity = 0
		_, err := New(transport.NewHub().Endpoint(), WithConfig(cfg))
		require.ErrorContains(t, err, "scratch-capacity")
	})

	t.Run("receiver scratch", func(t *testing.T) {
		hub := transport.NewHub()
		var code wire.ErrorCode
		a := newPeer(t, hub, WithRemoteErrorHandler(func(_ string, c wire.ErrorCode) { code = c }))
		b := newPeer(t, hub, withConfig(func(c *Config) { c.ScratchCapacity = 16 }))
		called := false
		require.NoError(t, b.RegisterFunction("f", func(x, y string) { called = true }))

		require.NoError(t, a.Call(ctx, "f", "one", "two"))
		require.ErrorIs(t, pump(t, b), wire.PayloadTooLargeForScratch)
		require.False(t, called)
		drain(t, a)
		require.Equal(t, wire.PayloadTooLargeForScratch, code)
	})

	t.Run("receiver payload", func(t *testing.T) {
		hub := transport.NewHub()
		a := newPeer(t, hub)
		b := newPeer(t, hub, withConfig(func(c *Config) { c.MaxPayload = 32 }))
		require.NoError(t, b.RegisterFunction("f", func([64]byte) {}))
		require.NoError(t, a.Call(ctx, "f", [64]byte{}))
		require.ErrorIs(t, pump(t, b), wire.PayloadTooLargeForScratch)
	})

	t.Run("receiver slots", func(t *testing.T) {
		hub := transport.NewHub()
		a := newPeer(t, hub)
		b := newPeer(t, hub, withConfig(func(c *Config) { c.MaxSlots = 3 }))
		require.NoError(t, b.RegisterFunction("f", func(x, y, z int64) {}))
		require.NoError(t, a.Call(ctx, "f", int64(1), int64(2), int64(3)))
		require.ErrorIs(t, pump(t, b), wire.DecodeFailure)
	})
}

func TestIncomingState(t *testing.T) {
	ctx := context.Background()
	hub := transport.NewHub()
	a := newPeer(t, hub, WithClock(func() uint64 { return 1234 }))
	b := newPeer(t, hub)

	type meta struct {
		Trace string `cbor:"trace"`
		Hops  int    `cbor:"hops"`
	}
	extra, err := EncodeExtraData(meta{Trace: "abc", Hops: 2})
	require.NoError(t, err)

	var inside struct {
		current string
		sender  string
		ts      uint64
		hasTS   bool
		extra   meta
	}
	require.NoError(t, b.RegisterFunction("Tick", func(call *Call) {
		e := call.Engine
		inside.current = e.CurrentExecution()
		inside.sender = e.LastSenderAddress()
		inside.ts, inside.hasTS = e.LastSenderTimestamp()
		data, bits := e.IncomingExtraData()
		assert.Equal(t, uint64(len(data))*8, bits)
		assert.NoError(t, DecodeExtraData(data, &inside.extra))
	}))

	opts := a.OutgoingOptions()
	opts.Timestamp = true
	opts.ExtraData = extra
	a.SetOutgoingOptions(opts)
	require.NoError(t, a.Call(ctx, "Tick"))
	require.NoError(t, pump(t, b))

	require.Equal(t, "Tick", inside.current)
	require.Equal(t, a.Transport().LocalAddr(), inside.sender)
	require.True(t, inside.hasTS)
	require.Equal(t, uint64(1234), inside.ts)
	require.Equal(t, meta{Trace: "abc", Hops: 2}, inside.extra)
	require.Empty(t, b.CurrentExecution())
}

func TestSendOptionsAndRecipients(t *testing.T) {
	ctx := context.Background()
	hub := transport.NewHub()
	a, b, c := newPeer(t, hub), newPeer(t, hub), newPeer(t, hub)
	bAddr := b.Transport().LocalAddr()

	opts := CallOptions{Priority: transport.PriorityLow, Reliability: transport.Unreliable, Channel: 4}
	require.ErrorIs(t, a.CallWith(ctx, opts, "f"), ErrNoRecipient)

	require.NoError(t, a.CallWith(ctx, opts.To(bAddr), "f"))
	require.Equal(t, 1, endpoint(b).Len())
	require.Zero(t, endpoint(c).Len())
	require.Equal(t, []transport.SendOptions{{Priority: transport.PriorityLow, Reliability: transport.Unreliable, Channel: 4}},
		endpoint(a).SentOptions())

	opts.Broadcast, opts.Recipient = true, bAddr
	require.NoError(t, a.CallWith(ctx, opts, "f"))
	require.Equal(t, 1, endpoint(b).Len(), "broadcast skips the recipient")
	require.Equal(t, 1, endpoint(c).Len())
}

func TestRegisterChecks(t *testing.T) {
	e := newPeer(t, transport.NewHub())
	require.NoError(t, e.RegisterFunction("f", func(int32) {}))
	require.Error(t, e.RegisterFunction("f", func(int32) {}))
	require.Error(t, e.RegisterFunction("g", func() int { return 0 }))
	require.Error(t, e.RegisterFunction("h", func(map[string]int) {}))
	require.Error(t, e.RegisterFunction("i", 42))
	long := make([]byte, wire.MaxNameLength+1)
	for i := range long {
		long[i] = 'x'
	}
	require.ErrorIs(t, e.RegisterFunction(string(long), func() {}), ErrNameTooLong)
	require.ErrorIs(t, e.Call(context.Background(), string(long)), ErrNameTooLong)
	require.Error(t, e.UnregisterFunction("nope", false))
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	hub := transport.NewHub()
	reg := prometheus.NewRegistry()
	a := newPeer(t, hub, WithMetrics(reg))
	b := newPeer(t, hub)
	require.NoError(t, b.RegisterFunction("Ping", func(int32) {}))

	require.NoError(t, a.Call(ctx, "Ping", int32(1)))
	require.NoError(t, pump(t, b))
	drain(t, a)
	require.NoError(t, a.Call(ctx, "Ping", int32(2)))
	require.NoError(t, pump(t, b))
	require.NoError(t, a.Call(ctx, "Nope"))
	require.Error(t, pump(t, b))
	drain(t, a)
	require.NoError(t, a.HandlePacket(ctx, transport.Packet{From: b.Transport().LocalAddr(), Kind: transport.PacketDisconnected}))

	require.Equal(t, 2.0, testutil.ToFloat64(a.metrics.callsSent.WithLabelValues("name")))
	require.Equal(t, 1.0, testutil.ToFloat64(a.metrics.callsSent.WithLabelValues("index")))
	require.Equal(t, 1.0, testutil.ToFloat64(a.metrics.advertisements.WithLabelValues("received")))
	require.Equal(t, 1.0, testutil.ToFloat64(a.metrics.remoteErrors.WithLabelValues(wire.FunctionNotRegistered.String())))
	require.Equal(t, 1.0, testutil.ToFloat64(a.metrics.cachePurges))
	require.Equal(t, 3.0, testutil.ToFloat64(b.metrics.callsReceived))
	require.Equal(t, 1.0, testutil.ToFloat64(b.metrics.callFailures.WithLabelValues(wire.FunctionNotRegistered.String())))

	n, err := testutil.GatherAndCount(reg, "autorpc_calls_sent_total")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestServe(t *testing.T) {
	hub := transport.NewHub()
	a, b := newPeer(t, hub), newPeer(t, hub)
	done := make(chan struct{}, 1)
	require.NoError(t, b.RegisterFunction("Ping", func(int32) { done <- struct{}{} }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- b.Serve(ctx) }()

	require.NoError(t, a.Call(ctx, "Ping", int32(1)))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Ping was not dispatched")
	}
	require.NoError(t, b.Transport().Close())
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestTokenBeyondWordSize(t *testing.T) {
	ctx := context.Background()
	hub := transport.NewHub()
	a := newPeer(t, hub)
	b := newPeer(t, hub, withConfig(func(c *Config) { c.Profile = "ia32" }))
	var tokens []uint64
	require.NoError(t, b.RegisterFunction("Ping", func(v int32, call *Call) { tokens = append(tokens, call.Token) }))

	b.token = 1<<32 + 4
	for i := 0; i < 2; i++ {
		require.NoError(t, a.Call(ctx, "Ping", int32(i)))
		require.NoError(t, pump(t, b))
	}
	require.Equal(t, []uint64{5, 6}, tokens)
}

func TestAdvertiseTombstonedName(t *testing.T) {
	ctx := context.Background()
	hub := transport.NewHub()
	var codes []wire.ErrorCode
	a := newPeer(t, hub, WithRemoteErrorHandler(func(_ string, code wire.ErrorCode) { codes = append(codes, code) }))
	b := newPeer(t, hub)
	bAddr := b.Transport().LocalAddr()
	require.NoError(t, b.RegisterFunction("Ping", func(int32) {}))
	require.NoError(t, b.UnregisterFunction("Ping", false))

	require.NoError(t, a.Call(ctx, "Ping", int32(1)))
	require.ErrorIs(t, pump(t, b), wire.FunctionNoLongerRegistered)

	pkt := recv(t, a)
	kind, err := wire.Kind(pkt.Data)
	require.NoError(t, err)
	require.Equal(t, wire.MsgIndexAdvertisement, kind, "the index is advertised before the error")
	require.NoError(t, a.HandlePacket(ctx, pkt))
	drain(t, a)
	require.Equal(t, []wire.ErrorCode{wire.FunctionNoLongerRegistered}, codes)

	idx, ok := a.CachedIndex(bAddr, "Ping", false)
	require.True(t, ok)
	require.Equal(t, uint32(0), idx)

	called := false
	require.NoError(t, b.RegisterFunction("Ping", func(int32) { called = true }))
	require.NoError(t, a.Call(ctx, "Ping", int32(2)))
	pkt = recv(t, b)
	require.True(t, decodeCall(t, pkt).HasIndex)
	require.NoError(t, b.HandlePacket(ctx, pkt))
	require.True(t, called)
}
