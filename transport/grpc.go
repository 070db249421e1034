// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
)

const (
	peerServiceName = "autorpc.Peer"
	rawCodecName    = "autorpc-raw"
	fromMetadataKey = "autorpc-from"
)

func init() {
	encoding.RegisterCodec(rawCodec{})
	registerTransport(KindGRPC, func(ctx context.Context, addr string, opts ...Option) (Transport, error) {
		t, err := ListenGRPC(ctx, addr, opts...)
		if err != nil {
			return nil, err
		}
		return t, nil
	})
}

// rawCodec passes message bytes through unchanged.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case *[]byte:
		return *b, nil
	}
	return nil, fmt.Errorf("transport: raw codec cannot marshal %T", v)
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("transport: raw codec cannot unmarshal into %T", v)
	}
	*b = append((*b)[:0], data...)
	return nil
}

func (rawCodec) Name() string { return rawCodecName }

// peerHandler is served under autorpc.Peer. Every method takes and returns
// raw bytes; the caller's listen address travels in metadata.
type peerHandler interface {
	hello(from string)
	deliver(from string, data []byte)
	goodbye(from string)
}

var peerServiceDesc = grpc.ServiceDesc{
	ServiceName: peerServiceName,
	HandlerType: (*peerHandler)(nil),
	Methods: []grpc.MethodDesc{
		peerMethod("Hello", func(h peerHandler, from string, _ []byte) { h.hello(from) }),
		peerMethod("Deliver", func(h peerHandler, from string, data []byte) { h.deliver(from, data) }),
		peerMethod("Goodbye", func(h peerHandler, from string, _ []byte) { h.goodbye(from) }),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "autorpc/peer.proto",
}

var errNoSender = errors.New("transport: missing sender address")

func peerMethod(name string, call func(h peerHandler, from string, data []byte)) grpc.MethodDesc {
	fullMethod := "/" + peerServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			var in []byte
			if err := dec(&in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				md, _ := metadata.FromIncomingContext(ctx)
				from := md.Get(fromMetadataKey)
				if len(from) == 0 || from[0] == "" {
					return nil, errNoSender
				}
				call(srv.(peerHandler), from[0], req.([]byte))
				return []byte{}, nil
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// GRPC sends each message as a unary autorpc.Peer/Deliver call.
type GRPC struct {
	server   *grpc.Server
	listener net.Listener
	addr     string
	in       *inbox
	log      *zap.Logger
	maxFrame int

	mu     sync.Mutex
	peers  map[string]*grpc.ClientConn // nil until first dialed
	closed atomic.Bool
}

// ListenGRPC binds addr and starts serving autorpc.Peer.
func ListenGRPC(_ context.Context, addr string, opts ...Option) (*GRPC, error) {
	o := newOptions(opts)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen: %w", err)
	}
	t := &GRPC{
		listener: listener,
		addr:     o.localAddr(listener.Addr()),
		in:       newInbox(),
		log:      o.log.With(zap.String("transport", KindGRPC), zap.Stringer("bound", listener.Addr())),
		maxFrame: o.maxFrame,
		peers:    make(map[string]*grpc.ClientConn),
	}
	t.server = grpc.NewServer(grpc.MaxRecvMsgSize(o.maxFrame))
	t.server.RegisterService(&peerServiceDesc, t)
	go func() {
		if err := t.server.Serve(listener); err != nil && !t.closed.Load() {
			t.log.Warn("grpc serve stopped", zap.Error(err))
		}
	}()
	return t, nil
}

func (t *GRPC) LocalAddr() string { return t.addr }

func (t *GRPC) Peers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	peers := make([]string, 0, len(t.peers))
	for p := range t.peers {
		peers = append(peers, p)
	}
	sort.Strings(peers)
	return peers
}

// Connect dials addr and introduces this endpoint to it.
func (t *GRPC) Connect(ctx context.Context, addr string) error {
	if t.closed.Load() {
		return ErrClosed
	}
	conn, err := t.client(addr)
	if err != nil {
		return err
	}
	return t.invoke(ctx, conn, "Hello", nil)
}

func (t *GRPC) Send(ctx context.Context, to string, data []byte, _ SendOptions) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if len(data) > t.maxFrame {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	t.mu.Lock()
	_, known := t.peers[to]
	t.mu.Unlock()
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, to)
	}
	conn, err := t.client(to)
	if err != nil {
		return err
	}
	return t.invoke(ctx, conn, "Deliver", data)
}

func (t *GRPC) Recv(ctx context.Context) (Packet, error) {
	return t.in.pop(ctx)
}

// Close says goodbye to every dialed peer and stops the server.
func (t *GRPC) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.mu.Lock()
	conns := make([]*grpc.ClientConn, 0, len(t.peers))
	for _, c := range t.peers {
		if c != nil {
			conns = append(conns, c)
		}
	}
	t.peers = make(map[string]*grpc.ClientConn)
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var errs []error
	for _, c := range conns {
		_ = t.invoke(ctx, c, "Goodbye", nil)
		errs = append(errs, c.Close())
	}
	t.server.Stop()
	t.in.close()
	return errors.Join(errs...)
}

// client returns the connection to addr, dialing it on first use.
func (t *GRPC) client(addr string) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c := t.peers[addr]; c != nil {
		return c, nil
	}
	c, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(rawCodecName),
			grpc.MaxCallSendMsgSize(t.maxFrame),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	t.peers[addr] = c
	return c, nil
}

func (t *GRPC) invoke(ctx context.Context, conn *grpc.ClientConn, method string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	ctx = metadata.AppendToOutgoingContext(ctx, fromMetadataKey, t.addr)
	var reply []byte
	if err := conn.Invoke(ctx, "/"+peerServiceName+"/"+method, data, &reply); err != nil {
		return fmt.Errorf("grpc %s: %w", method, err)
	}
	return nil
}

func (t *GRPC) hello(from string) {
	t.mu.Lock()
	_, ok := t.peers[from]
	if !ok {
		t.peers[from] = nil
	}
	t.mu.Unlock()
	if !ok {
		t.log.Debug("peer connected", zap.String("peer", from))
	}
}

func (t *GRPC) deliver(from string, data []byte) {
	t.hello(from)
	t.in.push(Packet{From: from, Data: data})
}

func (t *GRPC) goodbye(from string) {
	t.mu.Lock()
	c, ok := t.peers[from]
	delete(t.peers, from)
	t.mu.Unlock()
	if !ok {
		return
	}
	if c != nil {
		c.Close()
	}
	t.log.Debug("peer disconnected", zap.String("peer", from))
	t.in.push(Packet{From: from, Kind: PacketDisconnected})
}
