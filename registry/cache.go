// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package registry

// RemoteCache remembers, per peer, the compact index each identifier has in
// that peer's registry. The first advertisement for an identifier wins;
// later ones are ignored until the peer is purged.
//
// RemoteCache is not safe for concurrent use.
type RemoteCache[P comparable] struct {
	peers map[P]map[Identifier]uint32
}

func NewRemoteCache[P comparable]() *RemoteCache[P] {
	return &RemoteCache[P]{peers: make(map[P]map[Identifier]uint32)}
}

// Advertise records index for id at peer unless one is already known. It
// reports whether the entry was stored. Empty names are ignored.
func (c *RemoteCache[P]) Advertise(peer P, id Identifier, index uint32) bool {
	if id.Name == "" {
		return false
	}
	m, ok := c.peers[peer]
	if !ok {
		m = make(map[Identifier]uint32)
		c.peers[peer] = m
	}
	if _, ok := m[id]; ok {
		return false
	}
	m[id] = index
	return true
}

// Lookup returns the index peer advertised for id.
func (c *RemoteCache[P]) Lookup(peer P, id Identifier) (uint32, bool) {
	i, ok := c.peers[peer][id]
	return i, ok
}

// Purge forgets everything peer advertised and returns how many entries
// were dropped.
func (c *RemoteCache[P]) Purge(peer P) int {
	n := len(c.peers[peer])
	delete(c.peers, peer)
	return n
}

// Peers returns the peers with at least one cached index.
func (c *RemoteCache[P]) Peers() []P {
	out := make([]P, 0, len(c.peers))
	for p := range c.peers {
		out = append(out, p)
	}
	return out
}

// Len returns the number of indices cached for peer.
func (c *RemoteCache[P]) Len(peer P) int {
	return len(c.peers[peer])
}
