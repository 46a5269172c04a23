package kproc

import "github.com/joeycumines/kproc/errno"

// Mutex is the sleeping mutual exclusion primitive: contended acquirers
// suspend on a FIFO wait queue instead of spinning. Not recursive; the
// holder pid is recorded for diagnostics only.
type Mutex struct {
	locked bool
	holder int
	lock   SpinLock
	wq     WaitQueue
	name   string
}

// Init sets the mutex's diagnostic name.
func (x *Mutex) Init(name string) {
	x.name = name
	x.lock.Init(`mutex:` + name)
	x.wq.Init(`mutex:`+name, &x.lock)
}

// Lock acquires the mutex, suspending the caller while it is held
// elsewhere. Returns EINTR if a signal interrupted the wait. Acquiring a
// sleeping mutex while holding any spin lock is fatal (detected at the
// suspension point).
func (x *Mutex) Lock(p *Proc) errno.Errno {
	c := p.cpu
	x.lock.Lock(c)
	for x.locked {
		r := x.wq.WaitInState(p, &x.lock, nil, Sleeping)
		c = p.cpu
		if r != 0 {
			x.lock.Unlock(c)
			return r
		}
	}
	x.locked = true
	x.holder = p.pid
	x.lock.Unlock(c)
	return 0
}

// TryLock acquires the mutex without blocking, or returns EAGAIN.
func (x *Mutex) TryLock(p *Proc) errno.Errno {
	c := p.cpu
	x.lock.Lock(c)
	if x.locked {
		x.lock.Unlock(c)
		return errno.EAGAIN
	}
	x.locked = true
	x.holder = p.pid
	x.lock.Unlock(c)
	return 0
}

// Unlock releases the mutex and wakes the earliest waiter, which claims
// ownership on its way out of the wait. Unlocking a mutex that is not
// locked is fatal.
func (x *Mutex) Unlock(c *CPU) {
	x.lock.Lock(c)
	if !x.locked {
		panic(`kproc: mutex: ` + x.name + `: unlock of unlocked mutex`)
	}
	x.locked = false
	x.holder = 0
	x.wq.WakeupOne(c, 0, 0)
	x.lock.Unlock(c)
}

// Holder returns the pid recorded by the current owner, or 0. Diagnostic
// only; racing with Unlock is inherent.
func (x *Mutex) Holder(c *CPU) int {
	x.lock.Lock(c)
	h := x.holder
	x.lock.Unlock(c)
	return h
}
