package kproc

import (
	"fmt"
	"testing"

	"github.com/joeycumines/kproc/errno"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// queueLen samples a FIFO queue length under its serialization lock.
func queueLen(k *Kernel, lk *SpinLock, length func() int) (n int) {
	k.IRQ(func(c *CPU) {
		lk.Lock(c)
		n = length()
		lk.Unlock(c)
	})
	return
}

// TestWaitQueue_FIFOOrder verifies that successive wake-ups pop waiters in
// suspension order.
func TestWaitQueue_FIFOOrder(t *testing.T) {
	k := newTestKernel(t, nil)
	var lk SpinLock
	lk.Init(`t`)
	var q WaitQueue
	q.Init(`t`, &lk)

	var pids [3]int
	for i := 0; i < 3; i++ {
		pid, _ := spawn(t, k, fmt.Sprintf(`w%d`, i), func(p *Proc) {
			c := p.CPU()
			lk.Lock(c)
			r := q.WaitInState(p, &lk, nil, Sleeping)
			lk.Unlock(p.CPU())
			if r != 0 {
				t.Errorf(`waiter returned %v`, r)
			}
			p.Exit(0)
		})
		pids[i] = pid
		want := i + 1
		waitFor(t, `enqueue`, func() bool { return queueLen(k, &lk, q.Len) == want })
	}

	var woken []int
	k.IRQ(func(c *CPU) {
		lk.Lock(c)
		for {
			p := q.WakeupOne(c, 0, 0)
			if p == nil {
				break
			}
			woken = append(woken, p.Getpid())
		}
		lk.Unlock(c)
	})
	assert.Equal(t, pids[:], woken)
}

// TestKeyedWaitQueue_TreeOrder verifies minimum-key-first wake order for
// keys enqueued as 10, 5, 7.
func TestKeyedWaitQueue_TreeOrder(t *testing.T) {
	k := newTestKernel(t, nil)
	var lk SpinLock
	lk.Init(`t`)
	var q KeyedWaitQueue
	q.Init(`t`, &lk)

	pidKey := make(map[int]uint64)
	for _, key := range []uint64{10, 5, 7} {
		key := key
		pid, _ := spawn(t, k, fmt.Sprintf(`k%d`, key), func(p *Proc) {
			c := p.CPU()
			lk.Lock(c)
			r := q.WaitKeyed(p, &lk, key, nil, Sleeping)
			lk.Unlock(p.CPU())
			if r != 0 {
				t.Errorf(`waiter %d returned %v`, key, r)
			}
			p.Exit(0)
		})
		pidKey[pid] = key
	}
	waitFor(t, `enqueue`, func() bool { return queueLen(k, &lk, q.Len) == 3 })

	var keys []uint64
	k.IRQ(func(c *CPU) {
		lk.Lock(c)
		min, ok := q.MinKey()
		assert.True(t, ok)
		assert.Equal(t, uint64(5), min)
		for {
			p := q.WakeupOne(c, 0, 0)
			if p == nil {
				break
			}
			keys = append(keys, pidKey[p.Getpid()])
		}
		lk.Unlock(c)
	})
	assert.Equal(t, []uint64{5, 7, 10}, keys)
}

// TestKeyedWaitQueue_WakeupKey covers equal-key wake-ups.
func TestKeyedWaitQueue_WakeupKey(t *testing.T) {
	k := newTestKernel(t, nil)
	var lk SpinLock
	lk.Init(`t`)
	var q KeyedWaitQueue
	q.Init(`t`, &lk)

	results := make(chan errno.Errno, 3)
	for i, key := range []uint64{7, 7, 9} {
		key := key
		spawn(t, k, fmt.Sprintf(`k%d-%d`, key, i), func(p *Proc) {
			c := p.CPU()
			lk.Lock(c)
			r := q.WaitKeyed(p, &lk, key, nil, Sleeping)
			lk.Unlock(p.CPU())
			results <- r
			p.Exit(0)
		})
	}
	waitFor(t, `enqueue`, func() bool { return queueLen(k, &lk, q.Len) == 3 })

	var woken int
	k.IRQ(func(c *CPU) {
		lk.Lock(c)
		woken = q.WakeupKey(c, 7, 0, 0)
		lk.Unlock(c)
	})
	assert.Equal(t, 2, woken)
	assert.EqualValues(t, 0, <-results)
	assert.EqualValues(t, 0, <-results)
	assert.Equal(t, 1, queueLen(k, &lk, q.Len))

	k.IRQ(func(c *CPU) {
		lk.Lock(c)
		assert.Nil(t, q.WakeupOneKey(c, 7, 0, 0))
		assert.NotNil(t, q.WakeupOneKey(c, 9, 0, 0))
		lk.Unlock(c)
	})
	assert.EqualValues(t, 0, <-results)
}

// TestWaitQueue_Payload verifies the waker's error code and payload arrive
// in the waiter's slots.
func TestWaitQueue_Payload(t *testing.T) {
	k := newTestKernel(t, nil)
	var lk SpinLock
	lk.Init(`t`)
	var q WaitQueue
	q.Init(`t`, &lk)

	type outcome struct {
		r     errno.Errno
		rdata uint64
	}
	got := make(chan outcome, 2)
	for i := 0; i < 2; i++ {
		spawn(t, k, fmt.Sprintf(`w%d`, i), func(p *Proc) {
			c := p.CPU()
			var rdata uint64
			lk.Lock(c)
			r := q.WaitInState(p, &lk, &rdata, Sleeping)
			lk.Unlock(p.CPU())
			got <- outcome{r, rdata}
			p.Exit(0)
		})
	}
	waitFor(t, `enqueue`, func() bool { return queueLen(k, &lk, q.Len) == 2 })

	k.IRQ(func(c *CPU) {
		lk.Lock(c)
		q.WakeupOne(c, 0, 42)
		q.WakeupOne(c, errno.ENOSPC, 7)
		lk.Unlock(c)
	})
	a, b := <-got, <-got
	if a.r != 0 {
		a, b = b, a
	}
	assert.Equal(t, outcome{0, 42}, a)
	assert.Equal(t, outcome{errno.ENOSPC, 7}, b)
}

// TestWaitQueue_BulkMove exercises the O(1) splice plus back-pointer fix.
func TestWaitQueue_BulkMove(t *testing.T) {
	var src, dst WaitQueue
	src.Init(`src`, nil)
	dst.Init(`dst`, nil)

	w1, w2 := &Waiter{}, &Waiter{}
	w1.init(nil)
	w2.init(nil)
	src.push(w1)
	src.push(w2)

	dst.BulkMove(&src)
	require.Equal(t, 0, src.Len())
	require.Equal(t, 2, dst.Len())
	assert.Same(t, &dst, w1.fifo)
	assert.Same(t, &dst, w2.fifo)
	assert.Same(t, w1, dst.pop())
	assert.Same(t, w2, dst.pop())
	assert.False(t, w1.Enqueued())
}

func TestWaitQueue_BulkMoveNonEmptyDstFatal(t *testing.T) {
	var src, dst WaitQueue
	src.Init(`src`, nil)
	dst.Init(`dst`, nil)
	w := &Waiter{}
	w.init(nil)
	dst.push(w)
	assert.Panics(t, func() { dst.BulkMove(&src) })
}

func TestWaitQueue_DoubleEnqueueFatal(t *testing.T) {
	var q WaitQueue
	q.Init(`t`, nil)
	w := &Waiter{}
	w.init(nil)
	q.push(w)
	assert.Panics(t, func() { q.push(w) })
}
