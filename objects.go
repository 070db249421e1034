// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package autorpc

import "sync"

// ObjectResolver finds the target object of an instance-method call.
type ObjectResolver interface {
	ResolveByID(id uint64) (any, bool)
}

// ObjectTable is an ObjectResolver backed by a map. It is safe for
// concurrent use.
type ObjectTable struct {
	mu      sync.RWMutex
	objects map[uint64]any
	nextID  uint64
}

func NewObjectTable() *ObjectTable {
	return &ObjectTable{objects: make(map[uint64]any)}
}

// Add stores obj under a fresh id.
func (t *ObjectTable) Add(obj any) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		t.nextID++
		if _, ok := t.objects[t.nextID]; !ok {
			break
		}
	}
	t.objects[t.nextID] = obj
	return t.nextID
}

// Set stores obj under id, replacing any previous object.
func (t *ObjectTable) Set(id uint64, obj any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.objects[id] = obj
}

func (t *ObjectTable) Remove(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.objects, id)
}

func (t *ObjectTable) ResolveByID(id uint64) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	obj, ok := t.objects[id]
	return obj, ok
}
