// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// frameType identifies a TCP frame.
type frameType uint8

const (
	frameHello   frameType = 0x01 // payload is the sender's listen address
	frameData    frameType = 0x02
	frameGoodbye frameType = 0x03
)

// TCP carries messages as [4 len][1 type][payload] frames. Each connection
// opens with a hello frame naming the dialer's listen address, which is the
// address both sides use for the peer.
type TCP struct {
	listener net.Listener
	addr     string
	in       *inbox
	log      *zap.Logger
	maxFrame int

	mu     sync.Mutex
	conns  map[string]*tcpConn
	closed atomic.Bool
}

type tcpConn struct {
	conn    net.Conn
	peer    string
	writeMu sync.Mutex
}

// ListenTCP binds addr and starts accepting peers.
func ListenTCP(_ context.Context, addr string, opts ...Option) (*TCP, error) {
	o := newOptions(opts)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp listen: %w", err)
	}
	t := &TCP{
		listener: listener,
		addr:     o.localAddr(listener.Addr()),
		in:       newInbox(),
		log:      o.log.With(zap.String("transport", KindTCP), zap.Stringer("bound", listener.Addr())),
		maxFrame: o.maxFrame,
		conns:    make(map[string]*tcpConn),
	}
	go t.acceptLoop()
	return t, nil
}

func (t *TCP) LocalAddr() string { return t.addr }

func (t *TCP) Peers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	peers := make([]string, 0, len(t.conns))
	for p := range t.conns {
		peers = append(peers, p)
	}
	sort.Strings(peers)
	return peers
}

// Connect dials a peer's listen address. Connecting to an already connected
// peer is a no-op.
func (t *TCP) Connect(ctx context.Context, addr string) error {
	if t.closed.Load() {
		return ErrClosed
	}
	t.mu.Lock()
	_, ok := t.conns[addr]
	t.mu.Unlock()
	if ok {
		return nil
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("tcp dial: %w", err)
	}
	c := &tcpConn{conn: conn, peer: addr}
	if err := c.write(ctx, frameHello, []byte(t.addr)); err != nil {
		conn.Close()
		return fmt.Errorf("tcp hello: %w", err)
	}
	t.addConn(c)
	go t.readLoop(c)
	return nil
}

func (t *TCP) Send(ctx context.Context, to string, data []byte, _ SendOptions) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if len(data)+1 > t.maxFrame {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	t.mu.Lock()
	c, ok := t.conns[to]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, to)
	}
	if err := c.write(ctx, frameData, data); err != nil {
		return fmt.Errorf("tcp write: %w", err)
	}
	return nil
}

func (t *TCP) Recv(ctx context.Context) (Packet, error) {
	return t.in.pop(ctx)
}

// Close says goodbye to every peer and stops the listener.
func (t *TCP) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	err := t.listener.Close()
	t.mu.Lock()
	conns := make([]*tcpConn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, c := range conns {
		_ = c.write(ctx, frameGoodbye, nil)
		c.conn.Close()
	}
	t.in.close()
	return err
}

func (t *TCP) acceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if t.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			t.log.Warn("accept failed", zap.Error(err))
			continue
		}
		go t.handshake(conn)
	}
}

func (t *TCP) handshake(conn net.Conn) {
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	typ, payload, err := readFrame(conn, t.maxFrame)
	if err != nil || typ != frameHello || len(payload) == 0 {
		t.log.Debug("handshake failed", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})
	c := &tcpConn{conn: conn, peer: string(payload)}
	t.addConn(c)
	t.readLoop(c)
}

func (t *TCP) addConn(c *tcpConn) {
	t.mu.Lock()
	t.conns[c.peer] = c
	t.mu.Unlock()
	t.log.Debug("peer connected", zap.String("peer", c.peer))
}

func (t *TCP) readLoop(c *tcpConn) {
	defer t.dropConn(c)
	for {
		typ, payload, err := readFrame(c.conn, t.maxFrame)
		if err != nil {
			if !errors.Is(err, io.EOF) && !t.closed.Load() {
				t.log.Debug("read failed", zap.String("peer", c.peer), zap.Error(err))
			}
			return
		}
		switch typ {
		case frameData:
			t.in.push(Packet{From: c.peer, Data: payload})
		case frameGoodbye:
			return
		}
	}
}

// dropConn forgets c and reports the disconnect, unless a newer connection
// to the same peer has replaced it.
func (t *TCP) dropConn(c *tcpConn) {
	c.conn.Close()
	t.mu.Lock()
	current := t.conns[c.peer] == c
	if current {
		delete(t.conns, c.peer)
	}
	t.mu.Unlock()
	if current && !t.closed.Load() {
		t.log.Debug("peer disconnected", zap.String("peer", c.peer))
		t.in.push(Packet{From: c.peer, Kind: PacketDisconnected})
	}
}

func (c *tcpConn) write(ctx context.Context, typ frameType, payload []byte) error {
	msgLen := 1 + len(payload)
	buf := make([]byte, 4+msgLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(msgLen))
	buf[4] = byte(typ)
	copy(buf[5:], payload)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
	} else {
		c.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	}
	_, err := c.conn.Write(buf)
	return err
}

func readFrame(r io.Reader, maxFrame int) (frameType, []byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	msgLen := binary.BigEndian.Uint32(header)
	if msgLen == 0 {
		return 0, nil, errors.New("transport: empty frame")
	}
	if uint64(msgLen) > uint64(maxFrame) {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, msgLen)
	}
	msg := make([]byte, msgLen)
	if _, err := io.ReadFull(r, msg); err != nil {
		return 0, nil, err
	}
	return frameType(msg[0]), msg[1:], nil
}
