// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package autorpc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/luxfi/autorpc/transport"
	"github.com/luxfi/autorpc/wire"
)

// CallOptions control how one outgoing call is addressed and delivered.
type CallOptions struct {
	// Timestamp attaches the send time, readable by the receiver through
	// LastSenderTimestamp.
	Timestamp bool

	Priority    transport.Priority
	Reliability transport.Reliability
	Channel     uint8

	// Recipient is the target peer, or the peer to skip when Broadcast is
	// set.
	Recipient string
	Broadcast bool

	// HasObject makes the call an instance-method call on the receiver's
	// object with ObjectID.
	HasObject bool
	ObjectID  uint64

	// ExtraData travels opaquely with the call. ExtraBits is its length in
	// bits; zero means every bit of ExtraData.
	ExtraData []byte
	ExtraBits uint64
}

// To returns o addressed to one peer.
func (o CallOptions) To(peer string) CallOptions {
	o.Recipient, o.Broadcast = peer, false
	return o
}

// On returns o addressed to the object with id.
func (o CallOptions) On(id uint64) CallOptions {
	o.HasObject, o.ObjectID = true, id
	return o
}

func (o CallOptions) sendOptions() transport.SendOptions {
	return transport.SendOptions{
		Priority:    o.Priority,
		Reliability: o.Reliability,
		Channel:     o.Channel,
	}
}

// RemoteErrorHandler receives every ERROR message a peer sends back.
type RemoteErrorHandler func(peer string, code wire.ErrorCode)

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	log           *zap.Logger
	registerer    prometheus.Registerer
	config        Config
	objects       ObjectResolver
	onRemoteError RemoteErrorHandler
	clock         func() uint64
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *engineOptions) { o.log = l }
}

// WithMetrics registers the engine's counters with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *engineOptions) { o.registerer = reg }
}

// WithConfig replaces DefaultConfig.
func WithConfig(c Config) Option {
	return func(o *engineOptions) { o.config = c }
}

// WithObjects sets the resolver for instance-method targets. Without one,
// instance-method calls fail with ObjectRegistryUnavailable.
func WithObjects(r ObjectResolver) Option {
	return func(o *engineOptions) { o.objects = r }
}

// WithRemoteErrorHandler sets the callback for ERROR messages.
func WithRemoteErrorHandler(h RemoteErrorHandler) Option {
	return func(o *engineOptions) { o.onRemoteError = h }
}

// WithClock sets the source of outgoing timestamps, in milliseconds.
func WithClock(now func() uint64) Option {
	return func(o *engineOptions) { o.clock = now }
}

func newEngineOptions(opts []Option) *engineOptions {
	o := &engineOptions{
		log:    zap.NewNop(),
		config: DefaultConfig(),
		clock:  func() uint64 { return uint64(time.Now().UnixMilli()) },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
