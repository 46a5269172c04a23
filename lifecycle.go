package kproc

import (
	"github.com/joeycumines/kproc/errno"
)

// Fork creates a child process running entry, inheriting the parent's name,
// address space, file handles, working directory, and signal dispositions.
// Returns the child's pid.
//
// The hardware-context half of the traditional fork (copying the trap
// frame so the child resumes with return value zero) has no host-Go
// equivalent, since goroutine stacks cannot be cloned; the child's
// continuation is the explicit entry function instead.
func (x *Proc) Fork(entry func(*Proc)) (int, errno.Errno) {
	return x.ForkNamed(x.name, entry)
}

// ForkNamed is Fork with an explicit child name.
func (x *Proc) ForkNamed(name string, entry func(*Proc)) (int, errno.Errno) {
	k := x.kern
	c := x.cpu

	child, r := k.allocProc(c, name, entry)
	if r != 0 {
		return -1, r
	}

	if x.aspace != nil {
		as, err := x.aspace.Clone()
		if err != nil {
			child.lock.Unlock(c)
			k.pidLock.Lock(c)
			k.freeProc(c, child)
			k.pidLock.Unlock(c)
			return -1, errno.ENOMEM
		}
		child.aspace = as
	}
	for i, f := range x.ofile {
		if f != nil {
			child.ofile[i] = f.Dup()
		}
	}
	if x.cwd != nil {
		child.cwd = x.cwd.Dup()
	}
	if x.root != nil {
		child.root = x.root.Dup()
	}
	child.sig.inherit(&x.sig)

	pid := child.pid
	child.lock.Unlock(c)

	k.waitLock.Lock(c)
	child.parent = x
	child.sibling.Value = child
	x.children.PushBack(&child.sibling)
	k.waitLock.Unlock(c)

	k.Wakeup(c, child)

	k.logger.Debug().
		Int(`pid`, x.pid).
		Int(`child`, pid).
		Log(`forked`)
	return pid, 0
}

// Exit terminates the calling process with the given status: close every
// file handle, drop the filesystem view, reparent children to init, wake
// the parent, stage the Zombie, and yield into the scheduler. Never
// returns. Exit of the init process is fatal.
func (x *Proc) Exit(status int) {
	x.exit1(status)
}

func (x *Proc) exit1(status int) {
	k := x.kern
	c := x.cpu
	if x == k.initProc {
		panic(`kproc: proc: init exiting`)
	}

	// Past this point signal delivery is refused.
	x.lock.Lock(c)
	x.state = Exiting
	x.lock.Unlock(c)

	for i, f := range x.ofile {
		if f != nil {
			x.ofile[i] = nil
			f.Close()
		}
	}
	if x.cwd != nil {
		x.cwd.Close()
		x.cwd = nil
	}
	if x.root != nil {
		x.root.Close()
		x.root = nil
	}

	k.waitLock.Lock(c)
	k.reparent(c, x)
	// The parent's wait sleeps on its own PCB address.
	k.wakeupOnChan(c, x.parent)
	x.lock.Lock(c)
	x.xstate = status
	x.state = Zombie
	k.waitLock.Unlock(c)

	k.logger.Debug().
		Int(`pid`, x.pid).
		Int(`status`, status).
		Log(`exited`)

	x.schedExit()
}

// reparent hands every child of p to the init process and wakes init so it
// reaps any that are already zombies. Caller holds waitLock.
func (x *Kernel) reparent(c *CPU, p *Proc) {
	moved := false
	for {
		n := p.children.PopFront()
		if n == nil {
			break
		}
		child := n.Value
		child.parent = x.initProc
		x.initProc.children.PushBack(n)
		moved = true
	}
	if moved {
		// init's wait loop sleeps on its own PCB address.
		x.wakeupOnChan(c, x.initProc)
	}
}

// Wait blocks until a child exits, then reaps it: returns the child's pid
// and stores its exit status through status (if non-nil). Returns ECHILD
// when the caller has no children, and EINTR when the caller was killed
// while waiting.
func (x *Proc) Wait(status *int) (int, errno.Errno) {
	k := x.kern
	c := x.cpu
	k.waitLock.Lock(c)
	for {
		if x.children.Len() == 0 {
			k.waitLock.Unlock(x.cpu)
			x.checkSignals()
			return -1, errno.ECHILD
		}
		for n := x.children.Front(); n != nil; n = x.children.Next(n) {
			child := n.Value
			child.lock.Lock(c)
			if child.state != Zombie {
				child.lock.Unlock(c)
				continue
			}
			pid := child.pid
			if status != nil {
				*status = child.xstate
			}
			child.lock.Unlock(c)
			x.children.Remove(&child.sibling)
			child.parent = nil
			k.waitLock.Unlock(c)
			// Reap outside waitLock to respect the pidLock → waitLock
			// order; the Zombie is unlinked, so only we can free it.
			k.pidLock.Lock(c)
			k.freeProc(c, child)
			k.pidLock.Unlock(c)
			x.checkSignals()
			return pid, 0
		}
		if x.Killed() {
			k.waitLock.Unlock(x.cpu)
			x.checkSignals()
			return -1, errno.EINTR
		}
		x.sleepOnChan(x, &k.waitLock)
		c = x.cpu
	}
}

// Kill delivers sig to the process identified by pid: kill(pid, signo).
// Returns ESRCH for a pid that is not live, EINVAL for a bad signal.
func (x *Proc) Kill(pid int, sig Signal) errno.Errno {
	return x.kern.SignalSend(x.cpu, pid, sig)
}

// Spawn creates a top-level process owned by init, for boot-time services
// and test drivers; external contexts may call it directly. Returns the
// new pid.
func (x *Kernel) Spawn(name string, entry func(*Proc)) (int, errno.Errno) {
	var pid int
	var r errno.Errno
	x.IRQ(func(c *CPU) {
		var p *Proc
		p, r = x.allocProc(c, name, entry)
		if r != 0 {
			pid = -1
			return
		}
		pid = p.pid
		p.lock.Unlock(c)
		x.waitLock.Lock(c)
		p.parent = x.initProc
		p.sibling.Value = p
		x.initProc.children.PushBack(&p.sibling)
		x.waitLock.Unlock(c)
		x.Wakeup(c, p)
	})
	return pid, r
}

// initMain is the default pid-1 body: reap children forever, parking on
// the init PCB's own address whenever there is nothing to do. Orphans
// reparented by exiting processes wake it.
func initMain(p *Proc) {
	k := p.kern
	for {
		_, r := p.Wait(nil)
		if r == errno.ECHILD {
			c := p.cpu
			k.waitLock.Lock(c)
			if p.children.Len() == 0 {
				p.sleepOnChan(p, &k.waitLock)
			}
			k.waitLock.Unlock(p.cpu)
		}
	}
}
