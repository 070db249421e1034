// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Hub connects in-process endpoints in a full mesh. Every endpoint sees
// every other open endpoint as a peer.
type Hub struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint
	log       *zap.Logger
}

func NewHub(opts ...Option) *Hub {
	o := newOptions(opts)
	return &Hub{
		endpoints: make(map[string]*Endpoint),
		log:       o.log,
	}
}

// Endpoint is one peer attached to a Hub.
type Endpoint struct {
	hub  *Hub
	addr string
	in   *inbox

	sentMu sync.Mutex
	sent   []SendOptions
}

// Endpoint attaches a new peer with a random address.
func (h *Hub) Endpoint() *Endpoint {
	return h.EndpointAt(uuid.NewString())
}

// EndpointAt attaches a new peer at addr, replacing any open endpoint with
// the same address.
func (h *Hub) EndpointAt(addr string) *Endpoint {
	e := &Endpoint{hub: h, addr: addr, in: newInbox()}
	h.mu.Lock()
	old := h.endpoints[addr]
	h.endpoints[addr] = e
	h.mu.Unlock()
	if old != nil {
		old.in.close()
	}
	h.log.Debug("endpoint attached", zap.String("addr", addr))
	return e
}

func (h *Hub) lookup(addr string) (*Endpoint, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.endpoints[addr]
	return e, ok
}

func (e *Endpoint) LocalAddr() string { return e.addr }

func (e *Endpoint) Peers() []string {
	e.hub.mu.RLock()
	defer e.hub.mu.RUnlock()
	peers := make([]string, 0, len(e.hub.endpoints))
	for addr := range e.hub.endpoints {
		if addr != e.addr {
			peers = append(peers, addr)
		}
	}
	sort.Strings(peers)
	return peers
}

func (e *Endpoint) Send(ctx context.Context, to string, data []byte, opts SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := e.hub.lookup(e.addr); !ok {
		return ErrClosed
	}
	peer, ok := e.hub.lookup(to)
	if !ok {
		return ErrUnknownPeer
	}
	if !peer.in.push(Packet{From: e.addr, Data: append([]byte(nil), data...)}) {
		return ErrUnknownPeer
	}
	e.sentMu.Lock()
	e.sent = append(e.sent, opts)
	e.sentMu.Unlock()
	return nil
}

func (e *Endpoint) Recv(ctx context.Context) (Packet, error) {
	return e.in.pop(ctx)
}

// Len returns the number of queued packets.
func (e *Endpoint) Len() int { return e.in.len() }

// SentOptions returns the options of every successful Send so far.
func (e *Endpoint) SentOptions() []SendOptions {
	e.sentMu.Lock()
	defer e.sentMu.Unlock()
	return append([]SendOptions(nil), e.sent...)
}

// Close detaches the endpoint and notifies every remaining peer.
func (e *Endpoint) Close() error {
	h := e.hub
	h.mu.Lock()
	if h.endpoints[e.addr] != e {
		h.mu.Unlock()
		return nil
	}
	delete(h.endpoints, e.addr)
	peers := make([]*Endpoint, 0, len(h.endpoints))
	for _, p := range h.endpoints {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	e.in.close()
	for _, p := range peers {
		p.in.push(Packet{From: e.addr, Kind: PacketDisconnected})
	}
	h.log.Debug("endpoint detached", zap.String("addr", e.addr))
	return nil
}
