// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	rpc "github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
	"go.uber.org/zap"
)

const (
	jsonPath      = "/rpc"
	maxRetries    = 3
	retryBaseWait = 100 * time.Millisecond
)

func init() {
	registerTransport(KindJSON, func(ctx context.Context, addr string, opts ...Option) (Transport, error) {
		t, err := ListenJSONRPC(ctx, addr, opts...)
		if err != nil {
			return nil, err
		}
		return t, nil
	})
}

// PeerArgs identifies the calling peer by its listen address.
type PeerArgs struct {
	From string `json:"from"`
}

// DeliverArgs carries one message. Data is base64 in JSON.
type DeliverArgs struct {
	From string `json:"from"`
	Data []byte `json:"data"`
}

// Ack is the empty reply of every Peer method.
type Ack struct{}

// PeerService is registered as "Peer" on the JSON-RPC server.
type PeerService struct {
	t *JSONRPC
}

func (s *PeerService) Hello(_ *http.Request, args *PeerArgs, _ *Ack) error {
	if args.From == "" {
		return errNoSender
	}
	s.t.hello(args.From)
	return nil
}

func (s *PeerService) Deliver(_ *http.Request, args *DeliverArgs, _ *Ack) error {
	if args.From == "" {
		return errNoSender
	}
	if len(args.Data) > s.t.maxFrame {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(args.Data))
	}
	s.t.hello(args.From)
	s.t.in.push(Packet{From: args.From, Data: args.Data})
	return nil
}

func (s *PeerService) Goodbye(_ *http.Request, args *PeerArgs, _ *Ack) error {
	s.t.goodbye(args.From)
	return nil
}

// JSONRPC sends each message as a Peer.Deliver JSON-RPC 2.0 request over
// HTTP. Peers are addressed by their host:port.
type JSONRPC struct {
	listener net.Listener
	server   *http.Server
	client   *http.Client
	addr     string
	in       *inbox
	log      *zap.Logger
	maxFrame int

	mu     sync.Mutex
	peers  map[string]struct{}
	closed atomic.Bool
}

// ListenJSONRPC binds addr and serves the Peer service at /rpc.
func ListenJSONRPC(_ context.Context, addr string, opts ...Option) (*JSONRPC, error) {
	o := newOptions(opts)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("json listen: %w", err)
	}
	t := &JSONRPC{
		listener: listener,
		client:   newHTTPClient(),
		addr:     o.localAddr(listener.Addr()),
		in:       newInbox(),
		log:      o.log.With(zap.String("transport", KindJSON), zap.Stringer("bound", listener.Addr())),
		maxFrame: o.maxFrame,
		peers:    make(map[string]struct{}),
	}

	s := rpc.NewServer()
	s.RegisterCodec(json2.NewCodec(), "application/json")
	if err := s.RegisterService(&PeerService{t: t}, "Peer"); err != nil {
		listener.Close()
		return nil, fmt.Errorf("json register: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle(jsonPath, s)
	t.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := t.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.log.Warn("json serve stopped", zap.Error(err))
		}
	}()
	return t, nil
}

func (t *JSONRPC) LocalAddr() string { return t.addr }

func (t *JSONRPC) Peers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	peers := make([]string, 0, len(t.peers))
	for p := range t.peers {
		peers = append(peers, p)
	}
	sort.Strings(peers)
	return peers
}

// Connect introduces this endpoint to the peer at addr.
func (t *JSONRPC) Connect(ctx context.Context, addr string) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if err := t.sendJSONRequest(ctx, addr, "Peer.Hello", &PeerArgs{From: t.addr}); err != nil {
		return err
	}
	t.hello(addr)
	return nil
}

func (t *JSONRPC) Send(ctx context.Context, to string, data []byte, _ SendOptions) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if len(data) > t.maxFrame {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	t.mu.Lock()
	_, ok := t.peers[to]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, to)
	}
	return t.sendJSONRequest(ctx, to, "Peer.Deliver", &DeliverArgs{From: t.addr, Data: data})
}

func (t *JSONRPC) Recv(ctx context.Context) (Packet, error) {
	return t.in.pop(ctx)
}

// Close says goodbye to every peer and shuts the HTTP server down.
func (t *JSONRPC) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	peers := t.Peers()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, p := range peers {
		if err := t.sendOnce(ctx, p, "Peer.Goodbye", &PeerArgs{From: t.addr}); err != nil {
			t.log.Debug("goodbye failed", zap.String("peer", p), zap.Error(err))
		}
	}
	err := t.server.Shutdown(ctx)
	t.in.close()
	return err
}

func (t *JSONRPC) hello(from string) {
	t.mu.Lock()
	_, ok := t.peers[from]
	t.peers[from] = struct{}{}
	t.mu.Unlock()
	if !ok {
		t.log.Debug("peer connected", zap.String("peer", from))
	}
}

func (t *JSONRPC) goodbye(from string) {
	t.mu.Lock()
	_, ok := t.peers[from]
	delete(t.peers, from)
	t.mu.Unlock()
	if ok {
		t.log.Debug("peer disconnected", zap.String("peer", from))
		t.in.push(Packet{From: from, Kind: PacketDisconnected})
	}
}

// newHTTPClient creates an HTTP client with connection reuse disabled.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DisableKeepAlives: true,
		},
	}
}

// cleanlyCloseBody drains and closes an HTTP response body.
func cleanlyCloseBody(body io.ReadCloser) error {
	if body == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, body)
	return body.Close()
}

// isRetryableError checks if an error is transient and worth retrying
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	if errors.Is(err, io.EOF) || strings.Contains(errStr, "EOF") {
		return true
	}
	return strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "broken pipe")
}

// sendJSONRequest issues a JSON-RPC call to the peer at addr, retrying
// transient failures with exponential backoff.
func (t *JSONRPC) sendJSONRequest(ctx context.Context, addr, method string, args any) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			waitTime := retryBaseWait * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitTime):
			}
		}
		err := t.sendOnce(ctx, addr, method, args)
		if err == nil {
			if attempt > 0 {
				t.log.Debug("request succeeded after retry", zap.String("method", method), zap.Int("attempt", attempt+1))
			}
			return nil
		}
		lastErr = err
		retry := isRetryableError(err)
		t.log.Debug("request attempt failed",
			zap.String("method", method),
			zap.String("peer", addr),
			zap.Int("attempt", attempt+1),
			zap.Bool("retryable", retry),
			zap.Error(err),
		)
		if !retry {
			return err
		}
	}
	return fmt.Errorf("failed to issue request after %d retries: %w", maxRetries, lastErr)
}

func (t *JSONRPC) sendOnce(ctx context.Context, addr, method string, args any) error {
	body, err := json2.EncodeClientRequest(method, args)
	if err != nil {
		return fmt.Errorf("failed to encode client params: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+addr+jsonPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(request)
	if err != nil {
		return fmt.Errorf("failed to issue request: %w", err)
	}
	defer cleanlyCloseBody(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("received status code: %d", resp.StatusCode)
	}
	var reply Ack
	if err := json2.DecodeClientResponse(resp.Body, &reply); err != nil {
		return fmt.Errorf("failed to decode client response: %w", err)
	}
	return nil
}
