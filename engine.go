// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package autorpc

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"github.com/luxfi/autorpc/abi"
	"github.com/luxfi/autorpc/params"
	"github.com/luxfi/autorpc/registry"
	"github.com/luxfi/autorpc/transport"
	"github.com/luxfi/autorpc/wire"
)

var (
	ErrNoRecipient = errors.New("autorpc: call has no recipient")
	ErrNameTooLong = errors.New("autorpc: name too long")
)

// Engine registers local functions, sends calls to peers and dispatches
// the calls peers send back.
//
// Engine is not safe for concurrent use. Targets run synchronously on the
// goroutine that calls Poll, Serve or HandlePacket.
type Engine struct {
	t       transport.Transport
	log     *zap.Logger
	metrics *metrics
	cfg     Config

	builder    *abi.Builder
	dispatcher *abi.Dispatcher
	encoder    params.Encoder

	registry *registry.Registry
	cache    *registry.RemoteCache[string]

	objects       ObjectResolver
	onRemoteError RemoteErrorHandler
	clock         func() uint64
	defaults      CallOptions

	// Incoming call state, updated when a call is accepted.
	lastSender    string
	hasTimestamp  bool
	lastTimestamp uint64
	extraData     []byte
	extraBits     uint64
	current       string
	token         uint64
}

// New returns an Engine sending and receiving through t.
func New(t transport.Transport, opts ...Option) (*Engine, error) {
	o := newEngineOptions(opts)
	cfg := o.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	profile, err := abi.ProfileByName(cfg.Profile)
	if err != nil {
		return nil, err
	}
	dispatcher, err := abi.NewDispatcher(profile, callType)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		t:          t,
		log:        o.log,
		metrics:    newMetrics(o.registerer),
		cfg:        cfg,
		builder:    abi.NewBuilder(profile, cfg.limits()),
		dispatcher: dispatcher,
		encoder: params.Encoder{
			RefThreshold:    profile.RefThreshold,
			NativeEndian:    cfg.NativeEndian,
			MaxPayload:      cfg.MaxPayload,
			ScratchCapacity: cfg.ScratchCapacity,
			MaxParamSize:    cfg.MaxParamSize,
		},
		registry:      registry.New(),
		cache:         registry.NewRemoteCache[string](),
		objects:       o.objects,
		onRemoteError: o.onRemoteError,
		clock:         o.clock,
		defaults:      cfg.defaultCallOptions(),
	}
	e.log.Info("engine started",
		zap.String("local", t.LocalAddr()),
		zap.String("profile", profile.Name),
		zap.Stringer("convention", profile.Convention),
	)
	return e, nil
}

// Profile returns the placement profile used for incoming calls.
func (e *Engine) Profile() abi.Profile { return e.dispatcher.Profile() }

// Transport returns the transport the engine was built with.
func (e *Engine) Transport() transport.Transport { return e.t }

// RegisterFunction makes fn callable by name. fn must return nothing and
// take only supported parameter types, optionally followed by *Call.
func (e *Engine) RegisterFunction(name string, fn any) error {
	if err := e.checkName(name); err != nil {
		return err
	}
	c, err := abi.Func(fn)
	if err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	if err := e.dispatcher.CheckSignature(reflect.TypeOf(fn)); err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	if err := e.registry.Register(registry.Identifier{Name: name}, c); err != nil {
		return err
	}
	e.log.Debug("function registered", zap.String("name", name))
	return nil
}

// RegisterMethod makes the method selector callable as name on objects
// resolved from the call's object id. The signature is checked per call.
func (e *Engine) RegisterMethod(name, selector string) error {
	if err := e.checkName(name); err != nil {
		return err
	}
	c, err := abi.Method(selector)
	if err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	if err := e.registry.Register(registry.Identifier{Name: name, IsInstanceMethod: true}, c); err != nil {
		return err
	}
	e.log.Debug("method registered", zap.String("name", name), zap.String("selector", selector))
	return nil
}

// UnregisterFunction tombstones a registration. Its compact index stays
// reserved, so peers that cached it get FunctionNoLongerRegistered.
func (e *Engine) UnregisterFunction(name string, isInstanceMethod bool) error {
	id := registry.Identifier{Name: name, IsInstanceMethod: isInstanceMethod}
	if err := e.registry.Unregister(id); err != nil {
		return err
	}
	e.log.Debug("function unregistered", zap.Stringer("id", id))
	return nil
}

func (e *Engine) checkName(name string) error {
	if len(name) > e.cfg.MaxNameLength {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrNameTooLong, len(name), e.cfg.MaxNameLength)
	}
	return nil
}

// SetOutgoingOptions replaces the options Call uses.
func (e *Engine) SetOutgoingOptions(o CallOptions) { e.defaults = o }

// OutgoingOptions returns the options Call uses.
func (e *Engine) OutgoingOptions() CallOptions { return e.defaults }

// Call sends a call to name with the outgoing options.
func (e *Engine) Call(ctx context.Context, name string, args ...any) error {
	return e.CallWith(ctx, e.defaults, name, args...)
}

// CallWith sends a call to name addressed by opts. Each arg is a value, a
// pointer to one, a string, or a params.Param. The parameters are encoded
// once; per peer the envelope carries the compact index that peer
// advertised, or the name. Failures to individual peers are joined.
func (e *Engine) CallWith(ctx context.Context, opts CallOptions, name string, args ...any) error {
	if err := e.checkName(name); err != nil {
		return err
	}
	block, err := e.encoder.Encode(args...)
	if errors.Is(err, params.ErrPayloadTooLarge) {
		return fmt.Errorf("call %s: %w: %w", name, wire.PayloadTooLargeForScratch, err)
	}
	if err != nil {
		return fmt.Errorf("call %s: %w", name, err)
	}

	var peers []string
	if opts.Broadcast {
		for _, p := range e.t.Peers() {
			if p != opts.Recipient {
				peers = append(peers, p)
			}
		}
	} else {
		if opts.Recipient == "" {
			return fmt.Errorf("call %s: %w", name, ErrNoRecipient)
		}
		peers = []string{opts.Recipient}
	}
	if len(peers) == 0 {
		e.log.Debug("call has no peers", zap.String("name", name))
		return nil
	}

	msg := wire.Call{
		HasObject: opts.HasObject,
		ObjectID:  opts.ObjectID,
		ExtraData: opts.ExtraData,
		ExtraBits: opts.ExtraBits,
		Params:    block,
	}
	if opts.Timestamp {
		msg.HasTimestamp, msg.Timestamp = true, e.clock()
	}
	id := registry.Identifier{Name: name, IsInstanceMethod: opts.HasObject}
	sendOpts := opts.sendOptions()

	var errs []error
	for _, peer := range peers {
		form := "name"
		msg.HasIndex, msg.Index, msg.Name = false, 0, name
		if idx, ok := e.cache.Lookup(peer, id); ok {
			form = "index"
			msg.HasIndex, msg.Index, msg.Name = true, idx, ""
		}
		data, err := msg.MarshalBinary()
		if err != nil {
			return fmt.Errorf("call %s: %w", name, err)
		}
		if err := e.t.Send(ctx, peer, data, sendOpts); err != nil {
			errs = append(errs, fmt.Errorf("call %s to %s: %w", name, peer, err))
			continue
		}
		e.metrics.callsSent.WithLabelValues(form).Inc()
		e.log.Debug("call sent",
			zap.String("name", name),
			zap.String("peer", peer),
			zap.String("form", form),
			zap.Int("params", len(args)),
		)
	}
	return errors.Join(errs...)
}

// Poll receives and handles one packet.
func (e *Engine) Poll(ctx context.Context) error {
	p, err := e.t.Recv(ctx)
	if err != nil {
		return err
	}
	return e.HandlePacket(ctx, p)
}

// Serve handles packets until ctx is done or the transport closes. Errors
// handling individual packets are logged and do not stop the loop.
func (e *Engine) Serve(ctx context.Context) error {
	for {
		p, err := e.t.Recv(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := e.HandlePacket(ctx, p); err != nil {
			e.log.Debug("packet rejected", zap.String("peer", p.From), zap.Error(err))
		}
	}
}

// HandlePacket processes one packet from the transport. A rejected call has
// already been answered with an ERROR message when this returns its error.
func (e *Engine) HandlePacket(ctx context.Context, p transport.Packet) error {
	if p.Kind == transport.PacketDisconnected {
		n := e.cache.Purge(p.From)
		e.metrics.cachePurges.Inc()
		e.log.Debug("peer disconnected", zap.String("peer", p.From), zap.Int("purged", n))
		return nil
	}
	kind, err := wire.Kind(p.Data)
	if err != nil {
		return err
	}
	switch kind {
	case wire.MsgCall:
		return e.handleCall(ctx, p.From, p.Data)
	case wire.MsgIndexAdvertisement:
		return e.handleAdvertisement(p.From, p.Data)
	case wire.MsgError:
		return e.handleError(p.From, p.Data)
	default:
		return fmt.Errorf("%w: %s from %s", wire.ErrUnknownKind, kind, p.From)
	}
}

func (e *Engine) handleCall(ctx context.Context, from string, data []byte) error {
	var c wire.Call
	if err := c.UnmarshalBinary(data, e.cfg.MaxPayload); err != nil {
		if errors.Is(err, wire.ErrParamsTooLarge) {
			return e.reject(ctx, from, wire.PayloadTooLargeForScratch, err)
		}
		return e.reject(ctx, from, wire.DecodeFailure, err)
	}
	e.metrics.callsReceived.Inc()

	var receiver any
	if c.HasObject {
		if e.objects == nil {
			return e.reject(ctx, from, wire.ObjectRegistryUnavailable, nil)
		}
		obj, ok := e.objects.ResolveByID(c.ObjectID)
		if !ok {
			return e.reject(ctx, from, wire.TargetObjectNotFound, fmt.Errorf("object %d", c.ObjectID))
		}
		receiver = obj
	}

	index, code, err := e.resolve(&c)
	if err != nil {
		return e.reject(ctx, from, code, err)
	}
	entry, err := e.registry.Entry(index)
	if err != nil {
		return e.reject(ctx, from, wire.FunctionIndexOutOfRange, err)
	}
	if !c.HasIndex {
		e.advertise(ctx, from, entry.ID, index)
	}
	if entry.Callable.IsTombstone() {
		return e.reject(ctx, from, wire.FunctionNoLongerRegistered, fmt.Errorf("%s", entry.ID))
	}

	e.token++
	frame, err := e.builder.Build(c.Params, e.token)
	if err != nil {
		code := wire.DecodeFailure
		if errors.Is(err, abi.ErrScratchExhausted) || errors.Is(err, abi.ErrParamTooLarge) {
			code = wire.PayloadTooLargeForScratch
		}
		return e.reject(ctx, from, code, err)
	}

	e.lastSender = from
	e.hasTimestamp, e.lastTimestamp = c.HasTimestamp, c.Timestamp
	e.extraData, e.extraBits = c.ExtraData, c.ExtraBits
	call := &Call{
		Engine:       e,
		Function:     entry.ID.Name,
		Sender:       from,
		HasTimestamp: c.HasTimestamp,
		Timestamp:    c.Timestamp,
		HasObject:    c.HasObject,
		ObjectID:     c.ObjectID,
		ExtraData:    c.ExtraData,
		ExtraBits:    c.ExtraBits,
		Token:        frame.Context(),
	}

	e.current = entry.ID.Name
	err = e.dispatcher.Invoke(frame, entry.Callable, receiver, call)
	e.current = ""
	if err != nil {
		return e.reject(ctx, from, wire.DecodeFailure, err)
	}
	e.log.Debug("call dispatched", zap.String("peer", from), zap.Stringer("id", entry.ID))
	return nil
}

// resolve finds the registry index a call names.
func (e *Engine) resolve(c *wire.Call) (int, wire.ErrorCode, error) {
	if c.HasIndex {
		if uint64(c.Index) >= uint64(e.registry.Len()) {
			return 0, wire.FunctionIndexOutOfRange, fmt.Errorf("index %d of %d", c.Index, e.registry.Len())
		}
		index := int(c.Index)
		entry, err := e.registry.Entry(index)
		if err != nil {
			return 0, wire.FunctionIndexOutOfRange, err
		}
		if code, ok := kindMismatch(entry.ID.IsInstanceMethod, c.HasObject); !ok {
			return 0, code, fmt.Errorf("index %d is %s", index, entry.ID)
		}
		return index, 0, nil
	}

	id := registry.Identifier{Name: c.Name, IsInstanceMethod: c.HasObject}
	if index, ok := e.registry.IndexOf(id); ok {
		return index, 0, nil
	}
	if e.registry.HasName(c.Name, !c.HasObject) {
		code, _ := kindMismatch(!c.HasObject, c.HasObject)
		return 0, code, fmt.Errorf("%q", c.Name)
	}
	return 0, wire.FunctionNotRegistered, fmt.Errorf("%q", c.Name)
}

// kindMismatch reports the error for a call whose object id presence does
// not match the registered kind. ok is true when they match.
func kindMismatch(registeredInstance, callHasObject bool) (wire.ErrorCode, bool) {
	switch {
	case registeredInstance && !callHasObject:
		return wire.CallingInstanceMethodAsStatic, false
	case !registeredInstance && callHasObject:
		return wire.CallingStaticAsInstanceMethod, false
	}
	return 0, true
}

// advertise tells the caller which compact index names id here.
func (e *Engine) advertise(ctx context.Context, to string, id registry.Identifier, index int) {
	msg, err := (&wire.IndexAdvertisement{
		IsInstanceMethod: id.IsInstanceMethod,
		Index:            uint32(index),
		Name:             id.Name,
	}).MarshalBinary()
	if err != nil {
		e.log.Warn("cannot encode index advertisement", zap.Stringer("id", id), zap.Error(err))
		return
	}
	if err := e.t.Send(ctx, to, msg, e.defaults.sendOptions()); err != nil {
		e.log.Debug("index advertisement not sent", zap.String("peer", to), zap.Error(err))
		return
	}
	e.metrics.advertisements.WithLabelValues("sent").Inc()
}

// reject answers a call with an ERROR message and returns the local error.
func (e *Engine) reject(ctx context.Context, to string, code wire.ErrorCode, cause error) error {
	e.metrics.callFailures.WithLabelValues(code.String()).Inc()
	e.log.Debug("call rejected", zap.String("peer", to), zap.Stringer("code", code), zap.Error(cause))
	if err := e.t.Send(ctx, to, wire.MarshalError(code), e.defaults.sendOptions()); err != nil {
		e.log.Debug("error message not sent", zap.String("peer", to), zap.Error(err))
	}
	if cause == nil {
		return fmt.Errorf("call from %s: %w", to, code)
	}
	return fmt.Errorf("call from %s: %w: %w", to, code, cause)
}

func (e *Engine) handleAdvertisement(from string, data []byte) error {
	var a wire.IndexAdvertisement
	if err := a.UnmarshalBinary(data); err != nil {
		return fmt.Errorf("index advertisement from %s: %w", from, err)
	}
	id := registry.Identifier{Name: a.Name, IsInstanceMethod: a.IsInstanceMethod}
	stored := e.cache.Advertise(from, id, a.Index)
	e.metrics.advertisements.WithLabelValues("received").Inc()
	e.log.Debug("index advertised",
		zap.String("peer", from),
		zap.Stringer("id", id),
		zap.Uint32("index", a.Index),
		zap.Bool("stored", stored),
	)
	return nil
}

func (e *Engine) handleError(from string, data []byte) error {
	code, err := wire.UnmarshalError(data)
	if err != nil {
		return fmt.Errorf("error message from %s: %w", from, err)
	}
	e.metrics.remoteErrors.WithLabelValues(code.String()).Inc()
	e.log.Warn("peer rejected call", zap.String("peer", from), zap.Stringer("code", code))
	if e.onRemoteError != nil {
		e.onRemoteError(from, code)
	}
	return nil
}

// LastSenderTimestamp returns the timestamp of the most recent accepted
// call, and whether it carried one.
func (e *Engine) LastSenderTimestamp() (uint64, bool) {
	return e.lastTimestamp, e.hasTimestamp
}

// LastSenderAddress returns the peer of the most recent accepted call.
func (e *Engine) LastSenderAddress() string { return e.lastSender }

// IncomingExtraData returns the extra data of the most recent accepted call
// and its length in bits. The bytes are only valid until the next call.
func (e *Engine) IncomingExtraData() ([]byte, uint64) {
	return e.extraData, e.extraBits
}

// CurrentExecution returns the name of the running target, or "" outside a
// call.
func (e *Engine) CurrentExecution() string { return e.current }

// CachedIndex returns the compact index peer advertised for name.
func (e *Engine) CachedIndex(peer, name string, isInstanceMethod bool) (uint32, bool) {
	return e.cache.Lookup(peer, registry.Identifier{Name: name, IsInstanceMethod: isInstanceMethod})
}
