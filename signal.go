package kproc

import (
	"math/bits"

	"github.com/joeycumines/kproc/errno"
)

// Signal is a POSIX-style signal number, 1-based.
type Signal int

// Signal numbers follow the common RISC-V / x86 Linux layout.
const (
	SIGHUP   Signal = 1
	SIGINT   Signal = 2
	SIGQUIT  Signal = 3
	SIGILL   Signal = 4
	SIGTRAP  Signal = 5
	SIGABRT  Signal = 6
	SIGBUS   Signal = 7
	SIGFPE   Signal = 8
	SIGKILL  Signal = 9
	SIGUSR1  Signal = 10
	SIGSEGV  Signal = 11
	SIGUSR2  Signal = 12
	SIGPIPE  Signal = 13
	SIGALRM  Signal = 14
	SIGTERM  Signal = 15
	SIGCHLD  Signal = 17
	SIGCONT  Signal = 18
	SIGSTOP  Signal = 19
	SIGTSTP  Signal = 20
	SIGTTIN  Signal = 21
	SIGTTOU  Signal = 22
	SIGURG   Signal = 23
	SIGWINCH Signal = 28

	// NSIG bounds valid signal numbers: 1 <= sig < NSIG.
	NSIG = 32
)

// Valid reports whether the signal number is deliverable.
func (x Signal) Valid() bool { return x >= 1 && x < NSIG }

// SigSet is a signal bit set; bit sig-1 represents signal sig.
type SigSet uint64

// SigMandatory are the signals that can be neither blocked nor ignored.
const SigMandatory = SigSet(1<<(SIGKILL-1) | 1<<(SIGSTOP-1))

// Add returns the set with sig added.
func (x SigSet) Add(sig Signal) SigSet { return x | 1<<(sig-1) }

// Del returns the set with sig removed.
func (x SigSet) Del(sig Signal) SigSet { return x &^ (1 << (sig - 1)) }

// Has reports whether sig is in the set.
func (x SigSet) Has(sig Signal) bool { return x&(1<<(sig-1)) != 0 }

// lowest returns the lowest-numbered signal in the set, or 0 if empty.
func (x SigSet) lowest() Signal {
	if x == 0 {
		return 0
	}
	return Signal(bits.TrailingZeros64(uint64(x)) + 1)
}

// How values for Sigprocmask.
const (
	SIG_BLOCK = iota
	SIG_UNBLOCK
	SIG_SETMASK
)

// sigDisp is a signal's default disposition.
type sigDisp uint8

const (
	sigDispTerm sigDisp = iota
	sigDispIgn
	sigDispStop
	sigDispCont
)

func defaultDisp(sig Signal) sigDisp {
	switch sig {
	case SIGCHLD, SIGURG, SIGWINCH:
		return sigDispIgn
	case SIGSTOP, SIGTSTP, SIGTTIN, SIGTTOU:
		return sigDispStop
	case SIGCONT:
		return sigDispCont
	default:
		return sigDispTerm
	}
}

// SigHandler is a registered signal handler, run on the receiving
// process's carrier at its next return toward user code. The delivery mask
// installed for its duration is restored by the implicit sigreturn when it
// returns.
type SigHandler func(*Proc, Signal)

// Sigaction describes one signal's configured action.
type Sigaction struct {
	// Handler runs on delivery; nil selects the default disposition unless
	// Ignore is set.
	Handler SigHandler
	// Ignore discards the signal at delivery.
	Ignore bool
	// Mask is added to the blocked set while Handler runs.
	Mask SigSet
}

// sigState is the per-process signal record.
type sigState struct {
	actions   [NSIG]Sigaction
	blocked   SigSet
	ignored   SigSet // summary of signals whose current disposition ignores them
	pending   SigSet
	termMask  SigSet // summary of signals whose current disposition terminates
	savedMask SigSet // mask captured at delivery, restored by Sigreturn
	saved     bool   // a delivery context is active
}

func (x *sigState) reset() {
	*x = sigState{}
	x.recomputeSummaries()
}

// inherit copies dispositions and the blocked mask across fork; pending
// signals do not propagate.
func (x *sigState) inherit(from *sigState) {
	x.actions = from.actions
	x.blocked = from.blocked
	x.recomputeSummaries()
}

func (x *sigState) recomputeSummaries() {
	x.ignored = 0
	x.termMask = 0
	for sig := Signal(1); sig < NSIG; sig++ {
		a := &x.actions[sig]
		switch {
		case SigMandatory.Has(sig):
			if sig == SIGKILL {
				x.termMask = x.termMask.Add(sig)
			}
		case a.Ignore:
			x.ignored = x.ignored.Add(sig)
		case a.Handler == nil && defaultDisp(sig) == sigDispTerm:
			x.termMask = x.termMask.Add(sig)
		case a.Handler == nil && defaultDisp(sig) == sigDispIgn:
			x.ignored = x.ignored.Add(sig)
		}
	}
}

// SignalSend posts sig to the process identified by pid. Targets that are
// unused, exiting, or zombies are rejected with ESRCH. If the target is in
// an interruptible sleep it is woken so it observes the signal on its way
// back toward user code; a signal whose disposition terminates also
// commits the killed flag.
func (x *Kernel) SignalSend(c *CPU, pid int, sig Signal) errno.Errno {
	if !sig.Valid() {
		return errno.EINVAL
	}
	r := x.withProc(c, pid, func(p *Proc) errno.Errno {
		if p.state == Exiting || p.state == Zombie {
			return errno.ESRCH
		}
		if p == x.initProc {
			// init is immune to signals, same as pid 1 everywhere.
			return errno.EPERM
		}
		p.sig.pending = p.sig.pending.Add(sig)
		if p.sig.termMask.Has(sig) && !p.sig.blocked.Has(sig) {
			p.killed = true
		}
		if sig == SIGCONT || sig == SIGKILL || (!p.sig.blocked.Has(sig) && !p.sig.ignored.Has(sig)) {
			if p.state == Sleeping {
				p.state = Runnable
				x.kick()
			}
		}
		return 0
	})
	if r == 0 {
		x.logger.Debug().
			Int(`pid`, pid).
			Int(`sig`, int(sig)).
			Log(`signal sent`)
	}
	return r
}

// signalTake selects the lowest-numbered deliverable signal (pending, not
// blocked, not ignored; SIGKILL and SIGSTOP bypass both), clears it from
// the pending set, installs the delivery mask, and returns its action.
// Returns ok false when nothing is deliverable.
func (x *Proc) signalTake() (sig Signal, act Sigaction, ok bool) {
	c := x.cpu
	x.lock.Lock(c)
	defer x.lock.Unlock(c)
	deliverable := x.sig.pending & ^(x.sig.blocked &^ SigMandatory) & ^(x.sig.ignored &^ SigMandatory)
	sig = deliverable.lowest()
	if sig == 0 {
		return 0, Sigaction{}, false
	}
	x.sig.pending = x.sig.pending.Del(sig)
	act = x.sig.actions[sig]
	if act.Handler != nil && !SigMandatory.Has(sig) {
		// New delivery mask: the old mask, the action's mask, and the
		// signal itself.
		x.sig.savedMask = x.sig.blocked
		x.sig.saved = true
		x.sig.blocked = (x.sig.blocked | act.Mask).Add(sig) &^ SigMandatory
	}
	return sig, act, true
}

// checkSignals delivers pending signals at the return-to-user-code
// boundary: handlers run inline, ignored signals are discarded, a
// terminating disposition exits the process, and a stop disposition parks
// it until SIGCONT. Called from forkret and the blocking syscall returns.
func (x *Proc) checkSignals() {
	for {
		sig, act, ok := x.signalTake()
		if !ok {
			return
		}
		switch {
		case SigMandatory.Has(sig):
			if sig == SIGKILL {
				x.exit1(termStatus(sig))
			}
			x.stopSelf()
		case act.Ignore:
			// discarded
		case act.Handler != nil:
			act.Handler(x, sig)
			x.Sigreturn()
		default:
			switch defaultDisp(sig) {
			case sigDispTerm:
				x.exit1(termStatus(sig))
			case sigDispStop:
				x.stopSelf()
			case sigDispIgn, sigDispCont:
				// discarded; continuation is handled at send time
			}
		}
	}
}

// termStatus is the exit status conveying death by signal, following the
// shell convention.
func termStatus(sig Signal) int { return 128 + int(sig) }

// stopSelf parks the process until SIGCONT or SIGKILL arrives. The PCB
// lock closes the race with a concurrent send.
func (x *Proc) stopSelf() {
	c := x.cpu
	x.lock.Lock(c)
	for !x.sig.pending.Has(SIGCONT) && !x.killed {
		x.wchan = x
		x.state = Sleeping
		x.sched()
		x.wchan = nil
	}
	x.sig.pending = x.sig.pending.Del(SIGCONT)
	x.lock.Unlock(x.cpu)
}

// Sigaction installs act for sig, returning the previous action through
// old if non-nil. Configuring SIGKILL or SIGSTOP returns EINVAL.
func (x *Proc) Sigaction(sig Signal, act *Sigaction, old *Sigaction) errno.Errno {
	if !sig.Valid() || (act != nil && SigMandatory.Has(sig)) {
		return errno.EINVAL
	}
	c := x.cpu
	x.lock.Lock(c)
	if old != nil {
		*old = x.sig.actions[sig]
	}
	if act != nil {
		x.sig.actions[sig] = *act
		x.sig.recomputeSummaries()
	}
	x.lock.Unlock(c)
	return 0
}

// Sigprocmask adjusts the blocked set per how (SIG_BLOCK, SIG_UNBLOCK,
// SIG_SETMASK), returning the previous mask through old if non-nil.
// SIGKILL and SIGSTOP are silently excluded from the result.
func (x *Proc) Sigprocmask(how int, set *SigSet, old *SigSet) errno.Errno {
	c := x.cpu
	x.lock.Lock(c)
	defer x.lock.Unlock(c)
	if old != nil {
		*old = x.sig.blocked
	}
	if set == nil {
		return 0
	}
	switch how {
	case SIG_BLOCK:
		x.sig.blocked |= *set
	case SIG_UNBLOCK:
		x.sig.blocked &^= *set
	case SIG_SETMASK:
		x.sig.blocked = *set
	default:
		return errno.EINVAL
	}
	x.sig.blocked &^= SigMandatory
	return 0
}

// Sigpending stores the pending set through set.
func (x *Proc) Sigpending(set *SigSet) errno.Errno {
	c := x.cpu
	x.lock.Lock(c)
	*set = x.sig.pending
	x.lock.Unlock(c)
	return 0
}

// Sigreturn restores the signal mask captured at the last handler
// delivery. Without an active delivery context it returns EINVAL.
func (x *Proc) Sigreturn() errno.Errno {
	c := x.cpu
	x.lock.Lock(c)
	defer x.lock.Unlock(c)
	if !x.sig.saved {
		return errno.EINVAL
	}
	x.sig.blocked = x.sig.savedMask
	x.sig.saved = false
	return 0
}
