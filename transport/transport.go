// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package transport moves opaque call messages between peers. The engine
// only needs Transport; reliability, ordering and channels are whatever the
// implementation provides.
//
// Four implementations are included:
//
//   - Hub: in-process endpoints, used by tests and single-binary demos
//   - TCP: length-prefixed frames over plain TCP (the default)
//   - GRPC: unary gRPC calls carrying raw bytes
//   - JSONRPC: JSON-RPC 2.0 over HTTP
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrClosed      = errors.New("transport: closed")
	ErrUnknownPeer = errors.New("transport: unknown peer")
	ErrTooLarge    = errors.New("transport: frame too large")
)

// Transport kinds
const (
	KindTCP  = "tcp"  // length-prefixed TCP frames, default
	KindGRPC = "grpc" // gRPC unary calls
	KindJSON = "json" // JSON-RPC over HTTP
)

// DefaultKind is the transport used when none is configured.
const DefaultKind = KindTCP

// Priority is a send priority hint.
type Priority uint8

const (
	PriorityImmediate Priority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
)

// Reliability is a delivery guarantee hint.
type Reliability uint8

const (
	Unreliable Reliability = iota
	UnreliableSequenced
	Reliable
	ReliableOrdered
	ReliableSequenced
)

// SendOptions are per-message delivery hints. Implementations that cannot
// honor a hint ignore it.
type SendOptions struct {
	Priority    Priority
	Reliability Reliability
	Channel     uint8
}

// PacketKind distinguishes data from connection notifications.
type PacketKind uint8

const (
	PacketData PacketKind = iota
	PacketDisconnected
)

func (k PacketKind) String() string {
	switch k {
	case PacketData:
		return "data"
	case PacketDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("packet(%d)", uint8(k))
	}
}

// Packet is one received message or notification. Data is owned by the
// receiver.
type Packet struct {
	From string
	Data []byte
	Kind PacketKind
}

// Transport is the collaborator the engine sends and receives through.
type Transport interface {
	io.Closer

	// LocalAddr is the address peers know this endpoint by.
	LocalAddr() string

	// Peers lists the currently connected peers.
	Peers() []string

	// Send delivers data to one peer. data may be reused once Send
	// returns.
	Send(ctx context.Context, to string, data []byte, opts SendOptions) error

	// Recv blocks for the next packet.
	Recv(ctx context.Context) (Packet, error)
}

// Dialer is implemented by transports that connect to peers by address.
type Dialer interface {
	Connect(ctx context.Context, addr string) error
}

// Option configures a transport.
type Option func(*options)

type options struct {
	log       *zap.Logger
	maxFrame  int
	advertise string
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMaxFrame bounds a single message in bytes.
func WithMaxFrame(n int) Option {
	return func(o *options) { o.maxFrame = n }
}

// WithAdvertiseAddr sets the address peers know this endpoint by. A bare
// host takes the bound port. Without it the bound address is used, which
// is not dialable from other hosts for a wildcard listen such as ":9000".
func WithAdvertiseAddr(addr string) Option {
	return func(o *options) { o.advertise = addr }
}

// DefaultMaxFrame is the default message bound.
const DefaultMaxFrame = 64 * 1024 * 1024

func newOptions(opts []Option) *options {
	o := &options{
		log:      zap.NewNop(),
		maxFrame: DefaultMaxFrame,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// localAddr returns the address peers use for a listener on bound.
func (o *options) localAddr(bound net.Addr) string {
	if o.advertise == "" {
		return bound.String()
	}
	if _, _, err := net.SplitHostPort(o.advertise); err == nil {
		return o.advertise
	}
	_, port, err := net.SplitHostPort(bound.String())
	if err != nil {
		return o.advertise
	}
	return net.JoinHostPort(o.advertise, port)
}

type listenFunc func(ctx context.Context, addr string, opts ...Option) (Transport, error)

var (
	transportsMu sync.RWMutex
	transports   = map[string]listenFunc{
		KindTCP: func(ctx context.Context, addr string, opts ...Option) (Transport, error) {
			t, err := ListenTCP(ctx, addr, opts...)
			if err != nil {
				return nil, err
			}
			return t, nil
		},
	}
)

// registerTransport makes a transport kind available to Listen.
func registerTransport(name string, listen listenFunc) {
	transportsMu.Lock()
	defer transportsMu.Unlock()
	transports[name] = listen
}

// Listen opens a transport of the given kind bound to addr.
func Listen(ctx context.Context, kind, addr string, opts ...Option) (Transport, error) {
	if kind == "" {
		kind = DefaultKind
	}
	transportsMu.RLock()
	listen, ok := transports[kind]
	transportsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown transport: %s", kind)
	}
	return listen(ctx, addr, opts...)
}

// AvailableTransports returns the registered transport kinds.
func AvailableTransports() []string {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	result := make([]string, 0, len(transports))
	for name := range transports {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// HasTransport checks if a transport kind is available.
func HasTransport(name string) bool {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	_, ok := transports[name]
	return ok
}
