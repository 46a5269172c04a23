package kproc

import "sync/atomic"

// SpinLock is the kernel's basic mutual exclusion primitive. Acquisition
// disables interrupts on the acquiring CPU (nested, via pushOff/popOff) and
// spins on a test-and-set word. Holding any spin lock prohibits blocking,
// scheduling, or acquiring a sleeping mutex on the same CPU; those
// violations are detected at the suspension points and are fatal.
//
// Init attaches a diagnostic name and clears the recorded holder CPU; call
// it before first use. In a zero value the recorded holder reads as CPU 0,
// so Holding can report true for CPU 0 in the moment between another CPU's
// acquisition and its recording of the holder.
type SpinLock struct {
	locked atomic.Bool
	cpu    atomic.Int32 // holder CPU id, -1 when free
	name   string
}

// Init sets the lock's diagnostic name.
func (x *SpinLock) Init(name string) {
	x.name = name
	x.cpu.Store(-1)
}

// Name returns the diagnostic name.
func (x *SpinLock) Name() string { return x.name }

// Lock acquires the lock for the calling context on c. Re-acquiring a lock
// already held by this CPU is fatal.
func (x *SpinLock) Lock(c *CPU) {
	c.pushOff()
	if x.Holding(c) {
		panic(`kproc: spinlock: recursive acquire: ` + x.name)
	}
	for !x.locked.CompareAndSwap(false, true) {
		spinPause()
	}
	x.cpu.Store(int32(c.id))
}

// Unlock releases the lock. Releasing a lock this CPU does not hold is
// fatal.
func (x *SpinLock) Unlock(c *CPU) {
	if !x.Holding(c) {
		panic(`kproc: spinlock: release of lock not held: ` + x.name)
	}
	x.cpu.Store(-1)
	x.locked.Store(false)
	c.popOff()
}

// Holding reports whether this CPU holds the lock. Meaningful only with
// interrupts disabled on the calling context.
func (x *SpinLock) Holding(c *CPU) bool {
	return x.locked.Load() && x.cpu.Load() == int32(c.id)
}
