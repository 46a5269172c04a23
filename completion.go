package kproc

import (
	"math"

	"github.com/joeycumines/kproc/errno"
)

// Completion is a one-to-many completion event: waiters suspend until a
// completer signals. Complete releases exactly one waiter; CompleteAll
// latches the completion so every current and future waiter passes until
// Reinit.
type Completion struct {
	done uint64
	lock SpinLock
	wq   WaitQueue
}

// Init names the completion's internal locking.
func (x *Completion) Init(name string) {
	x.lock.Init(`completion:` + name)
	x.wq.Init(`completion:`+name, &x.lock)
}

// Wait suspends until the completion is signalled, consuming one done
// count (unless latched by CompleteAll). Returns EINTR if interrupted by a
// signal.
func (x *Completion) Wait(p *Proc) errno.Errno {
	c := p.cpu
	x.lock.Lock(c)
	for x.done == 0 {
		r := x.wq.WaitInState(p, &x.lock, nil, Sleeping)
		c = p.cpu
		if r != 0 {
			x.lock.Unlock(c)
			return r
		}
	}
	if x.done != math.MaxUint64 {
		x.done--
	}
	x.lock.Unlock(c)
	return 0
}

// Done reports whether a waiter would pass without suspending.
func (x *Completion) Done(c *CPU) bool {
	x.lock.Lock(c)
	d := x.done != 0
	x.lock.Unlock(c)
	return d
}

// Complete signals the completion once, waking one waiter.
func (x *Completion) Complete(c *CPU) {
	x.lock.Lock(c)
	if x.done != math.MaxUint64 {
		x.done++
	}
	x.wq.WakeupOne(c, 0, 0)
	x.lock.Unlock(c)
}

// CompleteAll wakes every waiter and latches done so future waiters return
// immediately until Reinit.
func (x *Completion) CompleteAll(c *CPU) {
	x.lock.Lock(c)
	x.done = math.MaxUint64
	x.wq.WakeupAll(c, 0, 0)
	x.lock.Unlock(c)
}

// Reinit resets the completion for reuse. Must not race with waiters.
func (x *Completion) Reinit(c *CPU) {
	x.lock.Lock(c)
	if x.wq.Len() != 0 {
		panic(`kproc: completion: reinit with waiters queued`)
	}
	x.done = 0
	x.lock.Unlock(c)
}
