package kproc

import "runtime"

type (
	// kcontext is a saved execution context: the rendezvous gate an
	// execution carrier parks on between dispatches. swtch plays the role
	// of the hardware context switch, conveying one opaque word.
	kcontext struct {
		gate chan uintptr
	}

	// CPU models one hart: the currently running process, the scheduler's
	// own context, and the interrupt-disable nesting state. All fields are
	// only ever touched by code executing on this CPU, so none of them need
	// atomic access.
	CPU struct {
		id      int
		kern    *Kernel
		current *Proc    // dispatched process, nil while in the scheduler
		ctx     kcontext // scheduler context, target of every yield/sleep

		// Interrupt-disable bookkeeping. noff counts nested pushOff calls;
		// intena is the live interrupt-enable flag; intsave remembers the
		// flag from before the outermost pushOff.
		noff    int
		intena  bool
		intsave bool
	}
)

func newContext() kcontext {
	// Capacity 1: the switcher signals the target and only then parks, so a
	// send never blocks (a context has at most one switcher at a time).
	return kcontext{gate: make(chan uintptr, 1)}
}

// swtch transfers control to next and parks the caller on own, returning
// the word passed by whichever carrier eventually switches back.
func swtch(own, next *kcontext, word uintptr) uintptr {
	next.gate <- word
	return <-own.gate
}

// handoff transfers control to next without parking: the final switch of an
// exiting process, whose carrier returns instead of waiting for redispatch.
func handoff(next *kcontext, word uintptr) {
	next.gate <- word
}

// ID returns the CPU number. Valid only while interrupts are disabled on
// the calling context, matching the cpuid contract.
func (x *CPU) ID() int {
	if x.intena {
		panic(`kproc: cpu: id read with interrupts enabled`)
	}
	return x.id
}

// Current returns the process dispatched on this CPU, or nil.
func (x *CPU) Current() *Proc { return x.current }

// pushOff disables interrupts on this CPU, counting nesting depth. The
// matching popOff restores the pre-disable state only when the depth
// returns to zero.
func (x *CPU) pushOff() {
	old := x.intena
	x.intena = false
	if x.noff == 0 {
		x.intsave = old
	}
	x.noff++
}

func (x *CPU) popOff() {
	if x.intena {
		panic(`kproc: cpu: pop off with interrupts enabled`)
	}
	if x.noff < 1 {
		panic(`kproc: cpu: pop off without push off`)
	}
	x.noff--
	if x.noff == 0 && x.intsave {
		x.intena = true
	}
}

// spinPause yields the carrier's underlying goroutine briefly while
// spinning on contended atomics. Purely a host-model concession; it has no
// kernel-visible effect.
func spinPause() { runtime.Gosched() }
