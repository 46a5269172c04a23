package kproc

import (
	"runtime"
	"sync/atomic"

	"github.com/joeycumines/kproc/errno"
	"github.com/joeycumines/kproc/intrusive"
)

type (
	// Proc is the process control block. Field access is partitioned:
	//
	//   - state, wchan, killed, xstate, cpu, and the signal sets require
	//     the PCB's lock;
	//   - parent, children, and sibling require the kernel's waitLock;
	//   - name, entry, aspace, ofile, cwd, and root are owned exclusively
	//     by the process while it runs (fork and exit touch them only from
	//     the owning carrier);
	//   - pid, slot, and kern are fixed between allocProc and freeProc; gen
	//     is bumped at free and read racily by Deref.
	Proc struct {
		lock SpinLock

		state  ProcState
		wchan  any // sleep channel, nil when not channel-sleeping
		killed bool
		xstate int // exit status staged for the reaping parent
		cpu    *CPU
		sig    sigState

		parent   *Proc
		children intrusive.List[*Proc]
		sibling  intrusive.ListNode[*Proc]

		name   string
		entry  func(*Proc)
		aspace AddressSpace
		ofile  [NOFILE]FileRef
		cwd    FileRef
		root   FileRef

		pid  int
		slot int
		kern *Kernel
		gen  atomic.Uint64
		ctx  kcontext // saved execution context between dispatches
	}

	// ProcRef is a generation-validated reference to a PCB slot, usable
	// outside any lock. Deref returns nil once the process it named has
	// been reaped, even if the slot was recycled.
	ProcRef struct {
		slot int
		gen  uint64
	}
)

// Getpid returns the process identifier.
func (x *Proc) Getpid() int { return x.pid }

// Name returns the diagnostic process name.
func (x *Proc) Name() string { return x.name }

// Kernel returns the owning kernel.
func (x *Proc) Kernel() *Kernel { return x.kern }

// CPU returns the CPU the process is currently dispatched on. Only
// meaningful when called by the process itself.
func (x *Proc) CPU() *CPU { return x.cpu }

// State returns the current lifecycle state, taking the PCB lock. Callers
// on an execution carrier should prefer their own knowledge; this is a
// diagnostic accessor for external contexts.
func (x *Proc) State(c *CPU) ProcState {
	x.lock.Lock(c)
	s := x.state
	x.lock.Unlock(c)
	return s
}

// Killed reports whether a terminating signal has been committed to this
// process.
func (x *Proc) Killed() bool {
	c := x.cpu
	x.lock.Lock(c)
	k := x.killed
	x.lock.Unlock(c)
	return k
}

// Ref returns a generation-validated reference to this PCB.
func (x *Proc) Ref() ProcRef {
	return ProcRef{slot: x.slot, gen: x.gen.Load()}
}

// Deref resolves r to its PCB, or nil if the process has since been reaped
// (the slot generation advanced).
func (x *Kernel) Deref(r ProcRef) *Proc {
	x.procsMu.RLock()
	var p *Proc
	if r.slot >= 0 && r.slot < len(x.procs) {
		p = x.procs[r.slot]
	}
	x.procsMu.RUnlock()
	if p == nil || p.gen.Load() != r.gen {
		return nil
	}
	return p
}

// suspendOn implements the shared core of the wait primitives: under the
// PCB lock it runs enqueue, flips the process into the requested suspended
// state, releases lock (if non-nil) after the state flip, and switches out.
// On return the PCB lock has been released again; the caller reacquires
// lock itself.
func (x *Proc) suspendOn(lock *SpinLock, state ProcState, enqueue func()) {
	if !state.suspended() {
		panic(`kproc: proc: suspend to non-suspended state ` + state.String())
	}
	c := x.cpu
	if lock != nil && !lock.Holding(c) {
		panic(`kproc: proc: suspend without holding serialization lock`)
	}
	x.lock.Lock(c)
	enqueue()
	x.state = state
	if lock != nil {
		lock.Unlock(c)
	}
	x.sched()
	x.lock.Unlock(x.cpu)
}

// sched switches to the current CPU's scheduler context. The caller must
// hold exactly the PCB's own lock and must already have left the Running
// state; both are fatal otherwise. Returns once the scheduler dispatches
// the process again, holding the PCB lock, possibly on a different CPU.
func (x *Proc) sched() {
	c := x.cpu
	if !x.lock.Holding(c) {
		panic(`kproc: proc: sched without pcb lock`)
	}
	if c.noff != 1 {
		panic(`kproc: proc: sched with spinlocks held`)
	}
	if x.state == Running {
		panic(`kproc: proc: sched while running`)
	}
	if c.intena {
		panic(`kproc: proc: sched with interrupts enabled`)
	}
	intsave := c.intsave
	swtch(&x.ctx, &c.ctx, 0)
	// Resumed, possibly on a different CPU; restore the saved
	// interrupt-enable intent there.
	x.cpu.intsave = intsave
}

// schedExit is the final switch of an exiting process: signal the
// scheduler and terminate the carrier instead of parking. Never returns.
func (x *Proc) schedExit() {
	c := x.cpu
	if !x.lock.Holding(c) {
		panic(`kproc: proc: exit switch without pcb lock`)
	}
	if c.noff != 1 {
		panic(`kproc: proc: exit switch with spinlocks held`)
	}
	handoff(&c.ctx, 0)
	runtime.Goexit()
}

// carrierAbort is the switch word that tells a never-dispatched carrier to
// unwind: its PCB failed initialization and is being freed.
const carrierAbort uintptr = 1

// carrier is the goroutine body backing one process lifecycle. It parks
// until the first dispatch, then enters forkret.
func (x *Proc) carrier() {
	if w := <-x.ctx.gate; w == carrierAbort {
		return
	}
	x.forkret()
}

// forkret is the first-dispatch entry: the scheduler acquired the PCB lock
// before switching here, so release it, deliver any boot-time signals, and
// enter the process body. A returning body is an implicit Exit(0).
func (x *Proc) forkret() {
	x.lock.Unlock(x.cpu)
	x.kern.logger.Debug().
		Int(`pid`, x.pid).
		Str(`name`, x.name).
		Log(`process started`)
	x.checkSignals()
	x.entry(x)
	x.exit1(0)
}

// allocProc allocates and publishes a PCB: under pidLock it claims an
// Unused arena slot (or takes a fresh PCB from the slab), probes nextPid
// until the pid is free in the hash, and publishes the PCB. Returns with
// the PCB's lock held and the process in the Used state, or EAGAIN when
// the process limit is reached.
func (x *Kernel) allocProc(c *CPU, name string, entry func(*Proc)) (*Proc, errno.Errno) {
	x.pidLock.Lock(c)
	if x.nproc >= x.cfg.MaxProcs {
		x.pidLock.Unlock(c)
		x.logger.Warning().Str(`name`, name).Log(`process limit reached`)
		return nil, errno.EAGAIN
	}

	var p *Proc
	for _, q := range x.procs {
		q.lock.Lock(c)
		if q.state == Unused {
			q.state = Used
			q.lock.Unlock(c)
			p = q
			break
		}
		q.lock.Unlock(c)
	}
	if p == nil {
		p = x.procSlab.Get()
		p.lock.Init(`proc`)
		p.state = Used
		p.slot = len(x.procs)
		x.procsMu.Lock()
		x.procs = append(x.procs, p)
		x.procsMu.Unlock()
	}

	for {
		x.nextPid++
		if x.nextPid <= 0 {
			x.nextPid = 1
		}
		if x.pids.Lookup(x.nextPid) == nil {
			break
		}
	}

	p.pid = x.nextPid
	p.kern = x
	p.name = name
	p.entry = entry
	p.killed = false
	p.wchan = nil
	p.xstate = 0
	p.cpu = nil
	p.sig.reset()
	p.ofile = [NOFILE]FileRef{}
	p.cwd = nil
	p.root = nil
	p.aspace = nil
	p.ctx = newContext()

	node := x.nodeSlab.Get()
	node.Key = p.pid
	node.Value = p
	if x.pids.Insert(node) != nil {
		panic(`kproc: proc: pid already published`)
	}
	x.nproc++

	p.lock.Lock(c)
	x.pidLock.Unlock(c)

	go p.carrier()

	x.logger.Debug().
		Int(`pid`, p.pid).
		Str(`name`, name).
		Int(`slot`, p.slot).
		Log(`allocated process`)
	return p, 0
}

// freeProc tears a PCB down to Unused: drops the address space, unpublishes
// the pid, bumps the slot generation, and recycles the hash node after its
// grace period. Caller holds pidLock. Freeing a process that is neither a
// Zombie nor a failed-init Used PCB is fatal.
func (x *Kernel) freeProc(c *CPU, p *Proc) {
	p.lock.Lock(c)
	if p.state != Zombie && p.state != Used {
		panic(`kproc: proc: free of live process in state ` + p.state.String())
	}
	if p.state == Used {
		// Never dispatched; unwind the parked carrier.
		handoff(&p.ctx, carrierAbort)
	}
	if p.aspace != nil {
		p.aspace.Free()
		p.aspace = nil
	}
	pid := p.pid
	x.pids.Remove(pid, func(n *intrusive.EpochNode[int, *Proc]) {
		n.Key = 0
		n.Value = nil
		x.nodeSlab.Put(n)
	})
	p.pid = 0
	p.name = ``
	p.entry = nil
	p.wchan = nil
	p.killed = false
	p.xstate = 0
	p.gen.Add(1)
	p.state = Unused
	p.lock.Unlock(c)
	x.pids.Synchronize()
	x.nproc--
	x.logger.Debug().Int(`pid`, pid).Int(`slot`, p.slot).Log(`freed process`)
}
