package kproc

import "github.com/joeycumines/kproc/intrusive"

// schedulerRun is the per-CPU scheduler loop: scan the arena for a
// Runnable process, dispatch it under its PCB lock, and idle in wfi when a
// full scan dispatches nothing. The scheduler is never preempted; it holds
// the CPU until it chooses to dispatch.
func (x *Kernel) schedulerRun(c *CPU) {
	defer x.schedWG.Done()
	for {
		// Interrupts on between scans so wake-ups can land.
		c.intena = true
		seq := x.wakeSeq.Load()
		dispatched := false
		for _, p := range x.snapshotProcs() {
			if x.stopping.Load() {
				return
			}
			p.lock.Lock(c)
			if p.state == Runnable {
				// Hand the CPU to the process; the PCB lock travels with
				// it and comes back held when the process switches out.
				p.state = Running
				p.cpu = c
				c.current = p
				swtch(&c.ctx, &p.ctx, 0)
				if p.state == Running {
					panic(`kproc: scheduler: process yielded while running`)
				}
				c.current = nil
				dispatched = true
			}
			p.lock.Unlock(c)
		}
		if x.stopping.Load() {
			return
		}
		if !dispatched {
			x.wfi(seq)
		}
	}
}

// Yield relinquishes the CPU, optionally releasing lock atomically during
// the switch. The process is immediately runnable again.
func (x *Proc) Yield(lock *SpinLock) {
	c := x.cpu
	if lock != nil && !lock.Holding(c) {
		panic(`kproc: sched: yield without holding lock`)
	}
	x.lock.Lock(c)
	x.state = Runnable
	if lock != nil {
		lock.Unlock(c)
	}
	x.sched()
	x.lock.Unlock(x.cpu)
	if lock != nil {
		lock.Lock(x.cpu)
	}
}

// Wakeup marks p runnable. Idempotent on an already Runnable or Running
// process; also the transition that makes a freshly initialized (Used)
// process eligible for dispatch.
func (x *Kernel) Wakeup(c *CPU, p *Proc) {
	p.lock.Lock(c)
	x.wakeupLocked(p)
	p.lock.Unlock(c)
}

// wakeupLocked is Wakeup with the PCB lock already held.
func (x *Kernel) wakeupLocked(p *Proc) {
	switch p.state {
	case Used, Sleeping, Uninterruptible:
		p.state = Runnable
		x.kick()
	}
}

// sleepOnChan is the legacy channel-based sleep: record ch as the rendezvous
// token, mark Sleeping, and switch out, releasing lock atomically after the
// state flip. Used where the waker does not know the wait queue, e.g. Wait.
// On return the lock is held again.
func (x *Proc) sleepOnChan(ch any, lock *SpinLock) {
	c := x.cpu
	if lock != nil && !lock.Holding(c) {
		panic(`kproc: sched: sleep without holding lock`)
	}
	x.lock.Lock(c)
	x.wchan = ch
	x.state = Sleeping
	if lock != nil {
		lock.Unlock(c)
	}
	x.sched()
	c = x.cpu
	x.wchan = nil
	x.lock.Unlock(c)
	if lock != nil {
		lock.Lock(c)
	}
}

// wakeupOnChan scans the pid hash read-side and flips every process
// sleeping on ch to Runnable. The caller's own process (if any) is skipped.
func (x *Kernel) wakeupOnChan(c *CPU, ch any) {
	woke := 0
	ticket := x.pids.ReadEnter()
	x.pids.Iterate(func(n *intrusive.EpochNode[int, *Proc]) bool {
		p := n.Value
		if p == nil || p == c.current {
			return true
		}
		p.lock.Lock(c)
		if p.state == Sleeping && p.wchan != nil && p.wchan == ch {
			p.state = Runnable
			woke++
		}
		p.lock.Unlock(c)
		return true
	})
	x.pids.ReadExit(ticket)
	if woke != 0 {
		x.kick()
	}
}
