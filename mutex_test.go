package kproc

import (
	"fmt"
	"testing"

	"github.com/joeycumines/kproc/errno"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutex_MutualExclusion(t *testing.T) {
	k := newTestKernel(t, nil)
	var m Mutex
	m.Init(`t`)

	// A plain int guarded only by the sleeping mutex, incremented with a
	// yield inside the critical section to force interleaving.
	var counter int
	const perProc, procs = 50, 3
	dones := make([]<-chan struct{}, procs)
	for i := 0; i < procs; i++ {
		_, done := spawn(t, k, fmt.Sprintf(`m%d`, i), func(p *Proc) {
			for j := 0; j < perProc; j++ {
				if r := m.Lock(p); r != 0 {
					t.Errorf(`lock: %v`, r)
					break
				}
				v := counter
				p.Yield(nil)
				counter = v + 1
				m.Unlock(p.CPU())
			}
			p.Exit(0)
		})
		dones[i] = done
	}
	for i, done := range dones {
		waitDone(t, fmt.Sprintf(`m%d`, i), done)
	}
	assert.Equal(t, perProc*procs, counter)
}

func TestMutex_HolderDiagnostics(t *testing.T) {
	k := newTestKernel(t, nil)
	var m Mutex
	m.Init(`t`)

	locked := make(chan int, 1)
	spawnWait(t, k, `holder`, func(p *Proc) {
		require.EqualValues(t, 0, m.Lock(p))
		locked <- p.Getpid()
		// Hold across a yield so the outside can observe.
		p.Yield(nil)
	})
	pid := <-locked
	k.IRQ(func(c *CPU) {
		assert.Equal(t, pid, m.Holder(c))
		m.Unlock(c)
		assert.Equal(t, 0, m.Holder(c))
	})
}

func TestMutex_TryLock(t *testing.T) {
	k := newTestKernel(t, nil)
	var m Mutex
	m.Init(`t`)
	spawnWait(t, k, `t`, func(p *Proc) {
		require.EqualValues(t, 0, m.TryLock(p))
		assert.Equal(t, errno.EAGAIN, m.TryLock(p))
		m.Unlock(p.CPU())
		assert.EqualValues(t, 0, m.TryLock(p))
		m.Unlock(p.CPU())
	})
}

func TestMutex_SignalInterrupt(t *testing.T) {
	k := newTestKernel(t, nil)
	var m Mutex
	m.Init(`t`)

	var hold Completion
	hold.Init(`hold`)
	spawn(t, k, `owner`, func(p *Proc) {
		require.EqualValues(t, 0, m.Lock(p))
		hold.Wait(p) // keep it held until released below
		m.Unlock(p.CPU())
		p.Exit(0)
	})
	waitFor(t, `owner holds`, func() (ok bool) {
		k.IRQ(func(c *CPU) { ok = m.Holder(c) != 0 })
		return
	})

	result := make(chan errno.Errno, 1)
	pid, _ := spawn(t, k, `blocked`, func(p *Proc) {
		result <- m.Lock(p)
		p.Exit(0)
	})
	waitFor(t, `waiter queued`, func() (ok bool) {
		k.IRQ(func(c *CPU) {
			m.lock.Lock(c)
			ok = m.wq.Len() == 1
			m.lock.Unlock(c)
		})
		return
	})

	require.EqualValues(t, 0, sendSignal(k, pid, SIGTERM))
	assert.Equal(t, errno.EINTR, <-result)
	k.IRQ(func(c *CPU) { hold.Complete(c) })
}

func TestMutex_UnlockUnlockedFatal(t *testing.T) {
	k := newTestKernel(t, nil)
	var m Mutex
	m.Init(`t`)
	assert.Panics(t, func() {
		k.IRQ(func(c *CPU) { m.Unlock(c) })
	})
}
