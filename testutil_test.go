package kproc

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/joeycumines/kproc/errno"
)

// countingFile is a reference-counted FileRef fake for the VFS
// collaborator contract.
type countingFile struct{ refs atomic.Int64 }

func (x *countingFile) Dup() FileRef { x.refs.Add(1); return x }
func (x *countingFile) Close()       { x.refs.Add(-1) }

const testTimeout = 10 * time.Second

// newTestKernel boots a kernel on a mock clock (so timer ticks only happen
// when a test drives them) and tears it down with the test.
func newTestKernel(t *testing.T, cfg *Config) *Kernel {
	t.Helper()
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewMock()
	}
	k := New(cfg)
	k.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		if err := k.Shutdown(ctx); err != nil {
			t.Errorf(`shutdown: %v`, err)
		}
	})
	return k
}

// waitFor polls cond until it holds or the test deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf(`timed out waiting for %s`, what)
		}
		time.Sleep(time.Millisecond)
	}
}

// spawn starts fn as a process, failing the test on spawn errors. Returns
// the pid and a channel closed once fn has returned (or exited).
func spawn(t *testing.T, k *Kernel, name string, fn func(*Proc)) (int, <-chan struct{}) {
	t.Helper()
	done := make(chan struct{})
	pid, r := k.Spawn(name, func(p *Proc) {
		defer close(done)
		fn(p)
	})
	if r != 0 {
		t.Fatalf(`spawn %s: %v`, name, r)
	}
	return pid, done
}

// spawnWait runs fn as a process and blocks until it finishes.
func spawnWait(t *testing.T, k *Kernel, name string, fn func(*Proc)) {
	t.Helper()
	_, done := spawn(t, k, name, fn)
	waitDone(t, name, done)
}

func waitDone(t *testing.T, name string, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(testTimeout):
		t.Fatalf(`process %s did not finish`, name)
	}
}

// sendSignal delivers sig from the interrupt context.
func sendSignal(k *Kernel, pid int, sig Signal) errno.Errno {
	var r errno.Errno
	k.IRQ(func(c *CPU) { r = k.SignalSend(c, pid, sig) })
	return r
}

// procState samples a PCB's state from the interrupt context.
func procState(k *Kernel, p *Proc) ProcState {
	var s ProcState
	k.IRQ(func(c *CPU) { s = p.State(c) })
	return s
}

// tick drives n timer ticks from the interrupt context.
func tick(k *Kernel, n int) {
	for i := 0; i < n; i++ {
		k.IRQ(k.TimerTick)
	}
}
