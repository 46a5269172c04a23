package kproc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/joeycumines/kproc/errno"
	"github.com/joeycumines/kproc/intrusive"
	"github.com/joeycumines/logiface"
)

type (
	// Config models optional kernel construction parameters, for New. A nil
	// Config, or any zero field, selects the documented default.
	Config struct {
		// NCPU is the number of scheduler CPUs. Defaults to 2.
		NCPU int

		// MaxProcs caps the number of live processes; allocProc fails with
		// EAGAIN beyond it. Defaults to 64.
		MaxProcs int

		// PidBuckets is the pid hash bucket count, ideally prime.
		// Defaults to 31.
		PidBuckets int

		// TickInterval is the timer tick period driven off Clock.
		// Defaults to 1ms.
		TickInterval time.Duration

		// Clock supplies time to the tick source. Defaults to the real
		// clock; tests inject a mock to drive ticks deterministically.
		Clock clock.Clock

		// Logger receives structured kernel diagnostics. Nil disables
		// logging.
		Logger *logiface.Logger[logiface.Event]

		// Init is the body of the pid-1 process. Defaults to a reaper loop
		// that waits for orphans reparented to it.
		Init func(*Proc)
	}

	// Kernel is the process-control singleton: the process table, the
	// CPUs, and the global locks, constructed once at boot and passed by
	// reference to every operation.
	//
	// Lock order, strictly: pidLock → waitLock → per-PCB lock. tickLock is
	// acquired only by the timer paths, which take PCB locks while holding
	// it (to suspend or wake a sleeper): tickLock → per-PCB lock.
	Kernel struct {
		cfg    Config
		logger *logiface.Logger[logiface.Event]
		clk    clock.Clock

		pidLock  SpinLock
		waitLock SpinLock

		// pid hash: wait-free read-side lookups, mutated only under
		// pidLock.
		pids *intrusive.EpochHashList[int, *Proc]

		// procs is the PCB arena. Appends happen under pidLock; procsMu
		// additionally guards the slice header for lock-free contexts
		// (scheduler snapshots, Deref).
		procsMu sync.RWMutex
		procs   []*Proc

		nextPid  int
		nproc    int // live PCBs, guarded by pidLock
		initProc *Proc

		procSlab *SlabCache[Proc]
		nodeSlab *SlabCache[intrusive.EpochNode[int, *Proc]]

		cpus   []*CPU
		irqCPU *CPU
		irqMu  sync.Mutex

		// Idle machinery: kick bumps wakeSeq and broadcasts; an idle
		// scheduler re-checks the sequence it sampled before scanning, so
		// wake-ups between scan and wait are never lost.
		wfiMu    sync.Mutex
		wfiCond  *sync.Cond
		wakeSeq  atomic.Uint64
		stopping atomic.Bool
		schedWG  sync.WaitGroup

		// Timer state: monotonic tick counter and the deadline-ordered
		// sleeper queue, both under tickLock.
		tickLock   SpinLock
		ticks      uint64
		sleepers   KeyedWaitQueue
		timers     intrusive.Tree[uint64, *Timer]
		tickCancel func()

		started atomic.Bool
	}
)

// New constructs a Kernel from cfg (nil for all defaults). The kernel is
// inert until Start.
func New(cfg *Config) *Kernel {
	x := &Kernel{}
	if cfg != nil {
		x.cfg = *cfg
	}
	if x.cfg.NCPU <= 0 {
		x.cfg.NCPU = 2
	}
	if x.cfg.MaxProcs <= 0 {
		x.cfg.MaxProcs = 64
	}
	if x.cfg.PidBuckets <= 0 {
		x.cfg.PidBuckets = intrusive.DefaultHashBuckets
	}
	if x.cfg.TickInterval <= 0 {
		x.cfg.TickInterval = time.Millisecond
	}
	if x.cfg.Clock == nil {
		x.cfg.Clock = clock.New()
	}
	if x.cfg.Init == nil {
		x.cfg.Init = initMain
	}
	x.logger = x.cfg.Logger
	x.clk = x.cfg.Clock

	x.pidLock.Init(`pid`)
	x.waitLock.Init(`wait`)
	x.tickLock.Init(`tick`)
	x.pids = intrusive.NewEpochHashList[int, *Proc](x.cfg.PidBuckets, func(pid int) uint64 {
		return intrusive.HashUint64(uint64(pid))
	})
	x.procSlab = NewSlabCache[Proc](`proc`)
	x.nodeSlab = NewSlabCache[intrusive.EpochNode[int, *Proc]](`pidnode`)
	x.sleepers.Init(`sleepers`, &x.tickLock)
	x.wfiCond = sync.NewCond(&x.wfiMu)

	for i := 0; i < x.cfg.NCPU; i++ {
		x.cpus = append(x.cpus, &CPU{id: i, kern: x, ctx: newContext()})
	}
	// The interrupt pseudo-CPU serializes external contexts (tick sources,
	// tests) behind irqMu; it never runs the scheduler loop.
	x.irqCPU = &CPU{id: len(x.cpus), kern: x}
	return x
}

// Logger returns the kernel's structured logger (possibly nil).
func (x *Kernel) Logger() *logiface.Logger[logiface.Event] { return x.logger }

// NCPU returns the number of scheduler CPUs.
func (x *Kernel) NCPU() int { return len(x.cpus) }

// InitProc returns the pid-1 process, set once at boot and immutable
// thereafter.
func (x *Kernel) InitProc() *Proc { return x.initProc }

// Start boots the kernel: creates the init process (pid 1), starts the
// per-CPU scheduler loops, and arms the tick source. Starting twice is
// fatal.
func (x *Kernel) Start() {
	if !x.started.CompareAndSwap(false, true) {
		panic(`kproc: kernel: started twice`)
	}

	x.IRQ(func(c *CPU) {
		p, r := x.allocProc(c, `init`, x.cfg.Init)
		if r != 0 {
			panic(`kproc: kernel: init allocation failed: ` + r.String())
		}
		x.initProc = p
		x.wakeupLocked(p)
		p.lock.Unlock(c)
	})

	for _, c := range x.cpus {
		x.schedWG.Add(1)
		go x.schedulerRun(c)
	}

	ticker := x.clk.Ticker(x.cfg.TickInterval)
	done := make(chan struct{})
	x.tickCancel = func() {
		ticker.Stop()
		close(done)
	}
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				x.IRQ(x.TimerTick)
			}
		}
	}()

	x.logger.Info().
		Int(`ncpu`, len(x.cpus)).
		Int(`maxprocs`, x.cfg.MaxProcs).
		Dur(`tick`, x.cfg.TickInterval).
		Log(`kernel started`)
}

// Shutdown stops the tick source and the scheduler loops, waiting for them
// to park. Processes that are still live keep their carriers suspended;
// they are never dispatched again. Returns ctx.Err if ctx expires first.
func (x *Kernel) Shutdown(ctx context.Context) error {
	if x.stopping.CompareAndSwap(false, true) {
		if x.tickCancel != nil {
			x.tickCancel()
		}
		x.kick()
	}
	done := make(chan struct{})
	go func() {
		x.schedWG.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		x.logger.Info().Log(`kernel stopped`)
		return nil
	}
}

// IRQ runs fn on the interrupt pseudo-CPU, the execution context for
// anything that is not a process: tick delivery, boot, and external test
// drivers. Serialized; fn must not block through the scheduler.
func (x *Kernel) IRQ(fn func(*CPU)) {
	x.irqMu.Lock()
	defer x.irqMu.Unlock()
	c := x.irqCPU
	c.intena = false
	c.intsave = false
	fn(c)
	if c.noff != 0 {
		panic(`kproc: kernel: irq context with unbalanced push off`)
	}
}

// kick publishes a runnability change to idle schedulers.
func (x *Kernel) kick() {
	x.wakeSeq.Add(1)
	x.wfiMu.Lock()
	x.wfiCond.Broadcast()
	x.wfiMu.Unlock()
}

// wfi parks an idle scheduler until a kick newer than seq arrives.
func (x *Kernel) wfi(seq uint64) {
	x.wfiMu.Lock()
	for x.wakeSeq.Load() == seq && !x.stopping.Load() {
		x.wfiCond.Wait()
	}
	x.wfiMu.Unlock()
}

// snapshotProcs copies the arena slice for a scheduler scan.
func (x *Kernel) snapshotProcs() []*Proc {
	x.procsMu.RLock()
	s := make([]*Proc, len(x.procs))
	copy(s, x.procs)
	x.procsMu.RUnlock()
	return s
}

// withProc resolves pid via the hash's wait-free read side and runs fn
// under the target's PCB lock, rechecking liveness after acquisition.
// Returns ESRCH for a pid that is not live.
func (x *Kernel) withProc(c *CPU, pid int, fn func(*Proc) errno.Errno) errno.Errno {
	ticket := x.pids.ReadEnter()
	var p *Proc
	if n := x.pids.Lookup(pid); n != nil {
		p = n.Value
	}
	x.pids.ReadExit(ticket)
	if p == nil {
		return errno.ESRCH
	}
	p.lock.Lock(c)
	// The PCB may have been reaped and recycled between lookup and lock.
	if p.pid != pid || p.state == Unused || p.state == Used {
		p.lock.Unlock(c)
		return errno.ESRCH
	}
	r := fn(p)
	p.lock.Unlock(c)
	return r
}

// ProcDump logs one line per live PCB, a diagnostic aid in the spirit of
// the console dump of traditional kernels.
func (x *Kernel) ProcDump() {
	for _, p := range x.snapshotProcs() {
		x.IRQ(func(c *CPU) {
			p.lock.Lock(c)
			if p.state != Unused {
				b := x.logger.Info().
					Int(`pid`, p.pid).
					Str(`name`, p.name).
					Stringer(`state`, p.state)
				if p.wchan != nil {
					b = b.Bool(`chansleep`, true)
				}
				b.Log(`procdump`)
			}
			p.lock.Unlock(c)
		})
	}
}
