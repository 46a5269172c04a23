package kproc

import (
	"time"

	"github.com/joeycumines/kproc/errno"
	"github.com/joeycumines/kproc/intrusive"
)

// Timer is a one-shot tick-driven timer node, ordered in a deadline-keyed
// red-black tree. Expiry runs the wake callback from the tick context with
// tickLock held; callbacks are limited to wake-up work.
type Timer struct {
	node intrusive.TreeNode[uint64, *Timer]
	wake func(*CPU)
}

// NewTimer constructs a timer that runs wake on expiry.
func NewTimer(wake func(*CPU)) *Timer {
	t := &Timer{wake: wake}
	t.node.Value = t
	return t
}

// Pending reports whether the timer is armed.
func (x *Timer) Pending() bool { return x.node.Attached() }

// TimerSet arms t to expire after ticks timer ticks. Arming an armed timer
// is fatal; TimerDone it first.
func (x *Kernel) TimerSet(c *CPU, t *Timer, ticks uint64) {
	x.tickLock.Lock(c)
	t.node.Key = x.ticks + ticks
	x.timers.Insert(&t.node)
	x.tickLock.Unlock(c)
}

// TimerDone disarms t if it is still pending. Idempotent.
func (x *Kernel) TimerDone(c *CPU, t *Timer) {
	x.tickLock.Lock(c)
	if t.node.Attached() {
		x.timers.Delete(&t.node)
	}
	x.tickLock.Unlock(c)
}

// TimerTick advances the monotonic tick counter and delivers expiry: timer
// callbacks fire and expired sleepers wake with ETIMEDOUT, both in
// ascending deadline order. Driven by the kernel's tick source; tests may
// call it directly from IRQ context.
func (x *Kernel) TimerTick(c *CPU) {
	x.tickLock.Lock(c)
	x.ticks++
	now := x.ticks
	for {
		n := x.timers.Min()
		if n == nil || n.Key > now {
			break
		}
		t := n.Value
		x.timers.Delete(n)
		t.wake(c)
	}
	x.sleepers.wakeExpired(c, now, errno.ETIMEDOUT)
	x.tickLock.Unlock(c)
}

// Ticks returns the current tick counter.
func (x *Kernel) Ticks(c *CPU) uint64 {
	x.tickLock.Lock(c)
	t := x.ticks
	x.tickLock.Unlock(c)
	return t
}

// SleepTicks suspends the calling process for n timer ticks. Returns 0 on
// deadline expiry and EINTR if a signal woke the process early.
func (x *Proc) SleepTicks(n uint64) errno.Errno {
	k := x.kern
	c := x.cpu
	k.tickLock.Lock(c)
	deadline := k.ticks + n
	r := k.sleepers.WaitKeyed(x, &k.tickLock, deadline, nil, Sleeping)
	k.tickLock.Unlock(x.cpu)
	x.checkSignals()
	if r == errno.ETIMEDOUT {
		return 0
	}
	return r
}

// Sleep is the sleep(ms) syscall: suspend for at least d, rounded up to
// whole ticks. Returns EINTR if interrupted by a signal.
func (x *Proc) Sleep(d time.Duration) errno.Errno {
	iv := x.kern.cfg.TickInterval
	n := uint64((d + iv - 1) / iv)
	if n == 0 {
		n = 1
	}
	return x.SleepTicks(n)
}
