package kproc

import (
	"sync"
	"sync/atomic"
)

// SlabCache is the allocator collaborator's fixed-object cache contract,
// realized over sync.Pool: Get hands out a recycled or fresh object, Put
// returns one. Callers are responsible for resetting recycled objects; the
// cache does not zero them.
type SlabCache[T any] struct {
	pool   sync.Pool
	name   string
	allocs atomic.Int64
	frees  atomic.Int64
}

// NewSlabCache constructs a named cache of T objects.
func NewSlabCache[T any](name string) *SlabCache[T] {
	return &SlabCache[T]{
		name: name,
		pool: sync.Pool{New: func() any { return new(T) }},
	}
}

// Name returns the cache's diagnostic name.
func (x *SlabCache[T]) Name() string { return x.name }

// Get returns an object from the cache, allocating if empty.
func (x *SlabCache[T]) Get() *T {
	x.allocs.Add(1)
	return x.pool.Get().(*T)
}

// Put returns an object to the cache. The object must not be referenced
// after Put.
func (x *SlabCache[T]) Put(v *T) {
	x.frees.Add(1)
	x.pool.Put(v)
}

// Stats returns the cumulative Get and Put counts.
func (x *SlabCache[T]) Stats() (allocs, frees int64) {
	return x.allocs.Load(), x.frees.Load()
}
