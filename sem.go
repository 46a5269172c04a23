package kproc

import (
	"math"

	"github.com/joeycumines/kproc/errno"
)

// SemValueMax is the maximum initial and running semaphore value.
const SemValueMax = 2_147_483_640

// Sem is a counting semaphore built on the FIFO wait queue. The value is
// the token count; a non-positive value's magnitude equals the number of
// blocked waiters, one-to-one.
type Sem struct {
	value int64
	lock  SpinLock
	wq    WaitQueue
	name  string
}

// Init sets the semaphore's name and initial value. A value outside
// [0, SemValueMax] returns EINVAL.
func (x *Sem) Init(name string, value int64) errno.Errno {
	if value < 0 || value > SemValueMax {
		return errno.EINVAL
	}
	x.name = name
	x.value = value
	x.lock.Init(`sem:` + name)
	x.wq.Init(`sem:`+name, &x.lock)
	return 0
}

// Value returns the current value, for diagnostics and tests.
func (x *Sem) Value(c *CPU) int64 {
	x.lock.Lock(c)
	v := x.value
	x.lock.Unlock(c)
	return v
}

// Wait acquires one token, suspending the caller when none is available.
// A waiter reserves its token by driving the value negative before
// sleeping; a normal wake-up means a post matched the reservation.
//
// Returns 0 on success, EINTR if a signal interrupted the wait (the
// reservation is undone and one further waiter is woken to re-examine the
// queue, so a token that raced in is not lost), and EOVERFLOW if the
// waiter count itself would overflow.
func (x *Sem) Wait(p *Proc) errno.Errno {
	c := p.cpu
	x.lock.Lock(c)
	for x.value <= 0 {
		if x.value == math.MinInt64 {
			x.lock.Unlock(c)
			return errno.EOVERFLOW
		}
		x.value--
		r := x.wq.WaitInState(p, &x.lock, nil, Sleeping)
		c = p.cpu
		if r != 0 {
			x.value++
			x.wq.WakeupOne(c, 0, 0)
			x.lock.Unlock(c)
			return r
		}
		// Woken by a post: the reservation consumed the token.
		x.lock.Unlock(c)
		return 0
	}
	x.value--
	x.lock.Unlock(c)
	return 0
}

// TryWait acquires a token without blocking, or returns EAGAIN.
func (x *Sem) TryWait(c *CPU) errno.Errno {
	x.lock.Lock(c)
	if x.value <= 0 {
		x.lock.Unlock(c)
		return errno.EAGAIN
	}
	x.value--
	x.lock.Unlock(c)
	return 0
}

// Post releases one token, waking the earliest waiter if any are blocked.
// Returns EOVERFLOW at SemValueMax.
func (x *Sem) Post(c *CPU) errno.Errno {
	x.lock.Lock(c)
	if x.value == SemValueMax {
		x.lock.Unlock(c)
		return errno.EOVERFLOW
	}
	x.value++
	if x.value <= 0 {
		x.wq.WakeupOne(c, 0, 0)
	}
	x.lock.Unlock(c)
	return 0
}
