package kproc

import (
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/joeycumines/kproc/errno"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigSet_Ops(t *testing.T) {
	var s SigSet
	s = s.Add(SIGTERM).Add(SIGUSR1)
	assert.True(t, s.Has(SIGTERM))
	assert.True(t, s.Has(SIGUSR1))
	assert.False(t, s.Has(SIGINT))
	s = s.Del(SIGTERM)
	assert.False(t, s.Has(SIGTERM))
	assert.Equal(t, SIGUSR1, s.lowest())
	assert.Equal(t, Signal(0), SigSet(0).lowest())
}

// TestSignal_MaskRoundTrip is the sigprocmask round-trip property: setting
// a mask and restoring the saved one recovers it exactly, and SIGKILL and
// SIGSTOP never end up blocked.
func TestSignal_MaskRoundTrip(t *testing.T) {
	k := newTestKernel(t, nil)
	spawnWait(t, k, `masker`, func(p *Proc) {
		attempt := SigSet(0).Add(SIGTERM).Add(SIGUSR1).Add(SIGKILL).Add(SIGSTOP)

		var initial SigSet
		if r := p.Sigprocmask(SIG_SETMASK, &attempt, &initial); r != 0 {
			t.Errorf(`setmask: %v`, r)
			return
		}
		var installed SigSet
		if r := p.Sigprocmask(SIG_SETMASK, &initial, &installed); r != 0 {
			t.Errorf(`restore: %v`, r)
			return
		}
		// The mandatory signals were stripped; everything else stuck.
		want := attempt &^ SigMandatory
		if diff := cmp.Diff(want, installed); diff != `` {
			t.Errorf(`installed mask mismatch (-want +got):\n%s`, diff)
		}
		var final SigSet
		if r := p.Sigprocmask(SIG_BLOCK, nil, &final); r != 0 {
			t.Errorf(`readback: %v`, r)
			return
		}
		if diff := cmp.Diff(initial, final); diff != `` {
			t.Errorf(`mask not restored (-want +got):\n%s`, diff)
		}
	})
}

func TestSignal_SigactionValidation(t *testing.T) {
	k := newTestKernel(t, nil)
	spawnWait(t, k, `validator`, func(p *Proc) {
		act := Sigaction{Ignore: true}
		if r := p.Sigaction(SIGKILL, &act, nil); r != errno.EINVAL {
			t.Errorf(`sigaction SIGKILL: %v`, r)
		}
		if r := p.Sigaction(SIGSTOP, &act, nil); r != errno.EINVAL {
			t.Errorf(`sigaction SIGSTOP: %v`, r)
		}
		if r := p.Sigaction(Signal(0), &act, nil); r != errno.EINVAL {
			t.Errorf(`sigaction 0: %v`, r)
		}
		var old Sigaction
		if r := p.Sigaction(SIGTERM, &act, &old); r != 0 {
			t.Errorf(`sigaction SIGTERM: %v`, r)
		}
		if old.Ignore || old.Handler != nil {
			t.Errorf(`unexpected previous action: %+v`, old)
		}
	})
}

// TestSignal_HandlerDelivery installs a handler and verifies it runs at
// the return-to-user boundary with the mask restored afterwards.
func TestSignal_HandlerDelivery(t *testing.T) {
	k := newTestKernel(t, nil)

	var delivered atomic.Int64
	var hold Completion
	hold.Init(`hold`)

	pid, done := spawn(t, k, `handled`, func(p *Proc) {
		act := Sigaction{Handler: func(hp *Proc, sig Signal) {
			if sig == SIGUSR1 {
				delivered.Add(1)
			}
		}}
		if r := p.Sigaction(SIGUSR1, &act, nil); r != 0 {
			t.Errorf(`sigaction: %v`, r)
			return
		}
		// Block in an interruptible wait; the signal wakes it with EINTR
		// and the handler runs at the next delivery point.
		hold.Wait(p)
		p.SleepTicks(1)
		var blocked SigSet
		p.Sigprocmask(SIG_BLOCK, nil, &blocked)
		if blocked != 0 {
			t.Errorf(`mask not restored after handler: %v`, blocked)
		}
		p.Exit(0)
	})

	waitFor(t, `waiter queued`, func() (ok bool) {
		k.IRQ(func(c *CPU) {
			hold.lock.Lock(c)
			ok = hold.wq.Len() == 1
			hold.lock.Unlock(c)
		})
		return
	})
	require.EqualValues(t, 0, sendSignal(k, pid, SIGUSR1))

	waitFor(t, `handler ran`, func() bool {
		tick(k, 1)
		return delivered.Load() == 1
	})
	waitDone(t, `handled`, done)
}

// TestSignal_PendingWhileBlocked: a blocked signal stays pending and is
// delivered on unblock.
func TestSignal_PendingWhileBlocked(t *testing.T) {
	k := newTestKernel(t, nil)
	var delivered atomic.Int64

	ready := make(chan int, 1)
	var gate Completion
	gate.Init(`gate`)
	_, done := spawn(t, k, `blocker`, func(p *Proc) {
		act := Sigaction{Handler: func(*Proc, Signal) { delivered.Add(1) }}
		if r := p.Sigaction(SIGUSR2, &act, nil); r != 0 {
			t.Errorf(`sigaction: %v`, r)
			return
		}
		mask := SigSet(0).Add(SIGUSR2)
		p.Sigprocmask(SIG_BLOCK, &mask, nil)
		ready <- p.Getpid()
		gate.Wait(p)

		var pending SigSet
		p.Sigpending(&pending)
		if !pending.Has(SIGUSR2) {
			t.Error(`blocked signal not pending`)
		}
		if delivered.Load() != 0 {
			t.Error(`blocked signal delivered early`)
		}
		p.Sigprocmask(SIG_UNBLOCK, &mask, nil)
		// The next blocking call delivers it.
		p.SleepTicks(1)
		p.Exit(0)
	})
	pid := <-ready
	waitFor(t, `proc parked`, func() (ok bool) {
		k.IRQ(func(c *CPU) {
			gate.lock.Lock(c)
			ok = gate.wq.Len() == 1
			gate.lock.Unlock(c)
		})
		return
	})
	require.EqualValues(t, 0, sendSignal(k, pid, SIGUSR2))
	k.IRQ(func(c *CPU) { gate.CompleteAll(c) })
	waitFor(t, `delivery after unblock`, func() bool {
		tick(k, 1)
		return delivered.Load() == 1
	})
	waitDone(t, `blocker`, done)
}

// TestSignal_DefaultTerminate: an unhandled SIGTERM kills a sleeping
// process, and its parent observes the conventional status.
func TestSignal_DefaultTerminate(t *testing.T) {
	k := newTestKernel(t, nil)
	statusCh := make(chan int, 1)
	childPidCh := make(chan int, 1)
	spawn(t, k, `parent`, func(p *Proc) {
		pid, r := p.Fork(func(child *Proc) {
			// Sleep forever; the terminating signal interrupts the sleep
			// and is delivered on the way out of it.
			for {
				child.SleepTicks(1 << 30)
			}
		})
		if r != 0 {
			t.Errorf(`fork: %v`, r)
			return
		}
		childPidCh <- pid
		var status int
		if _, r := p.Wait(&status); r != 0 {
			t.Errorf(`wait: %v`, r)
			return
		}
		statusCh <- status
		p.Exit(0)
	})
	childPid := <-childPidCh
	waitFor(t, `child sleeping`, func() (ok bool) {
		k.IRQ(func(c *CPU) {
			ok = k.withProc(c, childPid, func(cp *Proc) errno.Errno {
				if cp.state == Sleeping {
					return 0
				}
				return errno.EAGAIN
			}) == 0
		})
		return
	})
	require.EqualValues(t, 0, sendSignal(k, childPid, SIGTERM))
	assert.Equal(t, 128+int(SIGTERM), <-statusCh)
}

// TestSignal_StopCont parks a process with SIGSTOP and resumes it with
// SIGCONT; SIGKILL then terminates it even while stopped.
func TestSignal_StopCont(t *testing.T) {
	k := newTestKernel(t, nil)
	var progress atomic.Int64
	procCh := make(chan *Proc, 1)
	pid, done := spawn(t, k, `stoppee`, func(p *Proc) {
		procCh <- p
		for {
			progress.Add(1)
			p.SleepTicks(1)
		}
	})
	p := <-procCh

	tick(k, 3)
	waitFor(t, `initial progress`, func() bool { tick(k, 1); return progress.Load() > 1 })

	require.EqualValues(t, 0, sendSignal(k, pid, SIGSTOP))
	// The stop lands at the next delivery point; the process then stays
	// parked, making no further progress.
	waitFor(t, `stopped`, func() (ok bool) {
		tick(k, 1)
		k.IRQ(func(c *CPU) {
			p.lock.Lock(c)
			ok = p.state == Sleeping && p.wchan == any(p)
			p.lock.Unlock(c)
		})
		return
	})
	before := progress.Load()
	tick(k, 5)
	assert.Equal(t, before, progress.Load())

	require.EqualValues(t, 0, sendSignal(k, pid, SIGCONT))
	waitFor(t, `resumed`, func() bool { tick(k, 1); return progress.Load() > before })

	require.EqualValues(t, 0, sendSignal(k, pid, SIGKILL))
	waitFor(t, `terminated`, func() bool { tick(k, 1); return procState(k, p) == Zombie || procState(k, p) == Unused })
	waitDone(t, `stoppee`, done)
}
