package kproc

import (
	"github.com/joeycumines/kproc/errno"
	"github.com/joeycumines/kproc/intrusive"
)

type (
	// Waiter describes one suspended caller: its process, an error slot, a
	// 64-bit data payload, and the queue linkage. Waiters are short-lived;
	// the wait primitives allocate them on the caller's stack.
	//
	// A waiter is enqueued iff exactly one of its queue back-pointers is
	// non-nil. The error slot is preset to EINTR before suspension so that
	// asynchronous wake-ups (signals, direct channel wakes) are reported
	// without the waker's involvement.
	Waiter struct {
		listNode intrusive.ListNode[*Waiter]
		treeNode intrusive.TreeNode[uint64, *Waiter]
		fifo     *WaitQueue
		keyed    *KeyedWaitQueue
		proc     *Proc
		err      errno.Errno
		rdata    uint64
	}

	// WaitQueue is the FIFO wait queue: wake-ups pop the waiter that
	// suspended earliest. Mutation requires the serialization lock named at
	// Init; the queue itself carries no locking.
	WaitQueue struct {
		name string
		lock *SpinLock // caller-owned serialization lock, may be nil
		list intrusive.List[*Waiter]
	}

	// KeyedWaitQueue is the key-ordered wait queue: a red-black tree keyed
	// by a caller-supplied uint64 priority with the waiter's address as
	// tiebreaker, yielding ascending-key wake order. Same locking contract
	// as WaitQueue.
	KeyedWaitQueue struct {
		name string
		lock *SpinLock
		tree intrusive.Tree[uint64, *Waiter]
	}
)

func (x *Waiter) init(p *Proc) {
	x.listNode.Value = x
	x.treeNode.Value = x
	x.proc = p
	x.err = errno.EINTR
	x.rdata = 0
}

// Enqueued reports whether the waiter is currently on a queue.
func (x *Waiter) Enqueued() bool { return x.fifo != nil || x.keyed != nil }

// Init names the queue and records the spin lock that serializes it. The
// lock stays caller-owned; it is the lock passed to the wait primitives and
// asserted held by the wake-up paths when non-nil.
func (x *WaitQueue) Init(name string, lock *SpinLock) {
	x.name = name
	x.lock = lock
}

// Len returns the number of enqueued waiters.
func (x *WaitQueue) Len() int { return x.list.Len() }

func (x *WaitQueue) assertSerialized(c *CPU) {
	if x.lock != nil && !x.lock.Holding(c) {
		panic(`kproc: waitqueue: ` + x.name + `: operation without serialization lock`)
	}
}

func (x *WaitQueue) push(w *Waiter) {
	if w.Enqueued() {
		panic(`kproc: waitqueue: ` + x.name + `: waiter already enqueued`)
	}
	x.list.PushBack(&w.listNode)
	w.fifo = x
}

func (x *WaitQueue) pop() *Waiter {
	n := x.list.PopFront()
	if n == nil {
		return nil
	}
	w := n.Value
	w.fifo = nil
	return w
}

func (x *WaitQueue) remove(w *Waiter) {
	if w.fifo != x {
		panic(`kproc: waitqueue: ` + x.name + `: remove of waiter not enqueued here`)
	}
	x.list.Remove(&w.listNode)
	w.fifo = nil
}

// BulkMove splices every waiter of src onto the back of x in O(1), then
// fixes the moved waiters' back-pointers in O(n). x must be empty.
func (x *WaitQueue) BulkMove(src *WaitQueue) {
	if x.Len() != 0 {
		panic(`kproc: waitqueue: bulk move into non-empty queue`)
	}
	x.list.TakeAll(&src.list)
	for n := x.list.Front(); n != nil; n = x.list.Next(n) {
		n.Value.fifo = x
	}
}

// WaitInState is the core race-free sleep primitive. It enqueues a waiter
// bound to p, flips p to the requested suspended state, and switches out,
// releasing lock (if non-nil) only after the state flip so a concurrent
// wake-up cannot be lost. On return the lock is held again.
//
// Returns 0 on a normal wake-up by WakeupOne (payload copied to rdata if
// non-nil), EINTR on an asynchronous wake (signal or direct channel wake),
// or whatever negative code the waker supplied.
func (x *WaitQueue) WaitInState(p *Proc, lock *SpinLock, rdata *uint64, state ProcState) errno.Errno {
	var w Waiter
	w.init(p)
	p.suspendOn(lock, state, func() { x.push(&w) })
	c := p.cpu
	if lock != nil {
		lock.Lock(c)
	}
	if w.fifo != nil {
		// Asynchronous wake-up: nobody popped us, so dequeue ourselves.
		x.remove(&w)
	}
	if rdata != nil {
		*rdata = w.rdata
	}
	return w.err
}

// WakeupOne pops the earliest waiter, stores the error code and payload
// into it, and marks its process runnable. Returns the woken process, or
// nil if the queue was empty. The caller must hold the serialization lock.
func (x *WaitQueue) WakeupOne(c *CPU, err errno.Errno, rdata uint64) *Proc {
	x.assertSerialized(c)
	w := x.pop()
	if w == nil {
		return nil
	}
	w.err = err
	w.rdata = rdata
	p := w.proc
	p.kern.Wakeup(c, p)
	return p
}

// WakeupAll drains the queue by repeated WakeupOne, returning the number of
// processes woken.
func (x *WaitQueue) WakeupAll(c *CPU, err errno.Errno, rdata uint64) int {
	n := 0
	for x.WakeupOne(c, err, rdata) != nil {
		n++
	}
	return n
}

// Init names the queue and records its serialization lock, as for
// WaitQueue.Init.
func (x *KeyedWaitQueue) Init(name string, lock *SpinLock) {
	x.name = name
	x.lock = lock
}

// Len returns the number of enqueued waiters.
func (x *KeyedWaitQueue) Len() int { return x.tree.Len() }

func (x *KeyedWaitQueue) assertSerialized(c *CPU) {
	if x.lock != nil && !x.lock.Holding(c) {
		panic(`kproc: waitqueue: ` + x.name + `: operation without serialization lock`)
	}
}

func (x *KeyedWaitQueue) push(w *Waiter, key uint64) {
	if w.Enqueued() {
		panic(`kproc: waitqueue: ` + x.name + `: waiter already enqueued`)
	}
	w.treeNode.Key = key
	x.tree.Insert(&w.treeNode)
	w.keyed = x
}

func (x *KeyedWaitQueue) remove(w *Waiter) {
	if w.keyed != x {
		panic(`kproc: waitqueue: ` + x.name + `: remove of waiter not enqueued here`)
	}
	x.tree.Delete(&w.treeNode)
	w.keyed = nil
}

// First returns the minimum-key waiter without dequeuing it, or nil.
func (x *KeyedWaitQueue) First() *Waiter {
	n := x.tree.Min()
	if n == nil {
		return nil
	}
	return n.Value
}

// MinKey peeks the minimum key. The second result is false when the queue
// is empty.
func (x *KeyedWaitQueue) MinKey() (uint64, bool) {
	n := x.tree.Min()
	if n == nil {
		return 0, false
	}
	return n.Key, true
}

// WaitKeyed is WaitInState for the tree variant: the waiter is ordered by
// key rather than arrival.
func (x *KeyedWaitQueue) WaitKeyed(p *Proc, lock *SpinLock, key uint64, rdata *uint64, state ProcState) errno.Errno {
	var w Waiter
	w.init(p)
	p.suspendOn(lock, state, func() { x.push(&w, key) })
	c := p.cpu
	if lock != nil {
		lock.Lock(c)
	}
	if w.keyed != nil {
		x.remove(&w)
	}
	if rdata != nil {
		*rdata = w.rdata
	}
	return w.err
}

func (x *KeyedWaitQueue) wake(c *CPU, w *Waiter, err errno.Errno, rdata uint64) *Proc {
	x.remove(w)
	w.err = err
	w.rdata = rdata
	p := w.proc
	p.kern.Wakeup(c, p)
	return p
}

// WakeupOne wakes the minimum-key waiter, ties broken by address. Returns
// the woken process, or nil if the queue was empty.
func (x *KeyedWaitQueue) WakeupOne(c *CPU, err errno.Errno, rdata uint64) *Proc {
	x.assertSerialized(c)
	w := x.First()
	if w == nil {
		return nil
	}
	return x.wake(c, w, err, rdata)
}

// WakeupOneKey wakes the minimum-address waiter whose key equals key.
// Returns the woken process, or nil if no waiter holds the key.
func (x *KeyedWaitQueue) WakeupOneKey(c *CPU, key uint64, err errno.Errno, rdata uint64) *Proc {
	x.assertSerialized(c)
	n := x.tree.FirstKey(key)
	if n == nil {
		return nil
	}
	return x.wake(c, n.Value, err, rdata)
}

// WakeupKey wakes every waiter whose key equals key, in ascending address
// order, returning the count.
func (x *KeyedWaitQueue) WakeupKey(c *CPU, key uint64, err errno.Errno, rdata uint64) int {
	n := 0
	for x.WakeupOneKey(c, key, err, rdata) != nil {
		n++
	}
	return n
}

// WakeupAll wakes every waiter in ascending key order, returning the count.
func (x *KeyedWaitQueue) WakeupAll(c *CPU, err errno.Errno, rdata uint64) int {
	x.assertSerialized(c)
	n := 0
	for {
		w := x.First()
		if w == nil {
			return n
		}
		x.wake(c, w, err, rdata)
		n++
	}
}

// wakeExpired wakes every waiter with key <= now, in ascending key order,
// delivering err. Used by the timer tick over the sleeper queue.
func (x *KeyedWaitQueue) wakeExpired(c *CPU, now uint64, err errno.Errno) int {
	x.assertSerialized(c)
	n := 0
	for {
		w := x.First()
		if w == nil || w.treeNode.Key > now {
			return n
		}
		x.wake(c, w, err, 0)
		n++
	}
}
