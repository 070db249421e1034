// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package registry maps function identifiers to callables and remembers the
// compact indices peers have advertised for them.
package registry

import (
	"errors"
	"fmt"

	"github.com/luxfi/autorpc/abi"
)

var (
	ErrAlreadyRegistered = errors.New("registry: identifier already registered")
	ErrNotRegistered     = errors.New("registry: identifier not registered")
	ErrIndexOutOfRange   = errors.New("registry: index out of range")
	ErrEmptyName         = errors.New("registry: empty name")
)

// Identifier names a remotely callable function.
type Identifier struct {
	Name             string
	IsInstanceMethod bool
}

func (id Identifier) String() string {
	if id.IsInstanceMethod {
		return id.Name + " (method)"
	}
	return id.Name
}

// Entry is one registry slot. A tombstoned entry keeps its identifier and
// index but has a zero Callable.
type Entry struct {
	ID       Identifier
	Callable abi.Callable
}

// Registry is an append-only table of callables. The position of an
// identifier is its compact index and never changes, so indices already
// advertised to peers stay valid after an unregister.
//
// Registry is not safe for concurrent use.
type Registry struct {
	entries []Entry
	index   map[Identifier]int
}

func New() *Registry {
	return &Registry{index: make(map[Identifier]int)}
}

// Register binds id to c. A tombstoned identifier is revived in its old
// slot.
func (r *Registry) Register(id Identifier, c abi.Callable) error {
	if id.Name == "" {
		return ErrEmptyName
	}
	if c.IsTombstone() {
		return fmt.Errorf("registry: %s: %w", id, abi.ErrTombstone)
	}
	if i, ok := r.index[id]; ok {
		if !r.entries[i].Callable.IsTombstone() {
			return fmt.Errorf("%w: %s", ErrAlreadyRegistered, id)
		}
		r.entries[i].Callable = c
		return nil
	}
	r.index[id] = len(r.entries)
	r.entries = append(r.entries, Entry{ID: id, Callable: c})
	return nil
}

// Unregister tombstones id. Its index is kept.
func (r *Registry) Unregister(id Identifier) error {
	i, ok := r.index[id]
	if !ok || r.entries[i].Callable.IsTombstone() {
		return fmt.Errorf("%w: %s", ErrNotRegistered, id)
	}
	r.entries[i].Callable = abi.Callable{}
	return nil
}

// IndexOf returns the compact index of id, including tombstoned slots.
func (r *Registry) IndexOf(id Identifier) (int, bool) {
	i, ok := r.index[id]
	return i, ok
}

// Entry returns the slot at index.
func (r *Registry) Entry(index int) (Entry, error) {
	if index < 0 || index >= len(r.entries) {
		return Entry{}, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(r.entries))
	}
	return r.entries[index], nil
}

// Len returns the number of slots, tombstones included.
func (r *Registry) Len() int { return len(r.entries) }

// HasName reports whether name is registered, live or not, with the given
// method kind.
func (r *Registry) HasName(name string, isInstanceMethod bool) bool {
	_, ok := r.index[Identifier{Name: name, IsInstanceMethod: isInstanceMethod}]
	return ok
}
