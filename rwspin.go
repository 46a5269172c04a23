package kproc

import (
	"sync/atomic"
	"time"
)

// RW spin lock word layout, LSB to MSB: bits 0-7 are rwWriter iff a writer
// holds the lock; bit 8 is the soft writer-waiting hint; bits 9-63 count
// readers, biased by rwReaderBias.
const (
	rwWriter     uint64 = 0xFF
	rwWriterWait uint64 = 1 << 8
	rwReaderBias uint64 = 1 << 9

	// writerExpediteAfter is how long a blocking writer spins politely
	// before claiming soft priority via the writer-waiting hint.
	writerExpediteAfter = 4 * time.Millisecond
)

// RWSpin is a readers-writer spin lock encoding its entire state in one
// atomic word, plus the holding writer's CPU id for write→read recursion.
//
// Invariants: a positive reader count implies the writer bits are clear,
// unless the sole reader is the writer's own CPU; the read→write upgrade
// succeeds only for a sole reader with no writer waiting. Writer release
// stores zero outright, which may transiently drop the writer-waiting
// hint; spinning writers re-assert it.
type RWSpin struct {
	word atomic.Uint64
	wcpu atomic.Int32 // writer-holding CPU id, -1 when none
	name string
}

// Init sets the lock's diagnostic name.
func (x *RWSpin) Init(name string) {
	x.name = name
	x.wcpu.Store(-1)
}

// TryRLock attempts one read acquisition: it succeeds unless a writer
// holds the lock or is waiting for it, with one exception: the CPU that
// holds the write side may recurse into a read lock.
func (x *RWSpin) TryRLock(c *CPU) bool {
	for {
		v := x.word.Load()
		if v&(rwWriter|rwWriterWait) != 0 && x.wcpu.Load() != int32(c.id) {
			return false
		}
		if x.word.CompareAndSwap(v, v+rwReaderBias) {
			return true
		}
	}
}

// TryWLock attempts one write acquisition: it succeeds only with no
// readers, no writer, and either no writer-waiting hint or expedite set.
// Acquisition clears the hint. On failure in expedite mode the hint is
// OR-ed into the word so arriving readers back off.
func (x *RWSpin) TryWLock(c *CPU, expedite bool) bool {
	for {
		v := x.word.Load()
		if v>>9 == 0 && v&rwWriter == 0 && (v&rwWriterWait == 0 || expedite) {
			if !x.word.CompareAndSwap(v, rwWriter) {
				continue
			}
			x.wcpu.Store(int32(c.id))
			return true
		}
		if !expedite || v&rwWriterWait != 0 {
			return false
		}
		if x.word.CompareAndSwap(v, v|rwWriterWait) {
			return false
		}
	}
}

// TryUpdate attempts the read→write upgrade: it succeeds only when the
// caller is the sole reader and no writer holds or waits.
func (x *RWSpin) TryUpdate(c *CPU) bool {
	if !x.word.CompareAndSwap(rwReaderBias, rwWriter) {
		return false
	}
	x.wcpu.Store(int32(c.id))
	return true
}

// RUnlock releases one read acquisition.
func (x *RWSpin) RUnlock() {
	if x.word.Add(^(rwReaderBias - 1))>>9 == ^uint64(0)>>9 {
		panic(`kproc: rwspin: ` + x.name + `: read release without readers`)
	}
}

// WUnlock releases the write acquisition by storing zero. A concurrently
// set writer-waiting hint is dropped with it; that is accepted, spinning
// writers re-set the hint.
func (x *RWSpin) WUnlock(c *CPU) {
	if x.word.Load()&rwWriter == 0 || x.wcpu.Load() != int32(c.id) {
		panic(`kproc: rwspin: ` + x.name + `: write release without holding`)
	}
	x.wcpu.Store(-1)
	x.word.Store(0)
}

// RLock blocks until a read acquisition succeeds, with interrupts disabled
// on c for the duration.
func (x *RWSpin) RLock(c *CPU) {
	c.pushOff()
	for !x.TryRLock(c) {
		spinPause()
	}
}

// RUnlockRestore pairs with RLock, releasing the read side and the
// interrupt-disable nesting.
func (x *RWSpin) RUnlockRestore(c *CPU) {
	x.RUnlock()
	c.popOff()
}

// WLock blocks until the write acquisition succeeds, switching to expedite
// mode after writerExpediteAfter to prevent starvation under read-heavy
// load. Interrupts stay disabled on c for the duration.
func (x *RWSpin) WLock(c *CPU) {
	c.pushOff()
	start := time.Now()
	expedite := false
	for !x.TryWLock(c, expedite) {
		if !expedite && time.Since(start) >= writerExpediteAfter {
			expedite = true
		}
		spinPause()
	}
}

// WUnlockRestore pairs with WLock.
func (x *RWSpin) WUnlockRestore(c *CPU) {
	x.WUnlock(c)
	c.popOff()
}

// Readers returns the current reader count, for diagnostics and tests.
func (x *RWSpin) Readers() int { return int(x.word.Load() >> 9) }

// WriterWaiting reports whether the writer-waiting hint is set.
func (x *RWSpin) WriterWaiting() bool { return x.word.Load()&rwWriterWait != 0 }

// WriterHeld reports whether a writer holds the lock.
func (x *RWSpin) WriterHeld() bool { return x.word.Load()&rwWriter != 0 }
