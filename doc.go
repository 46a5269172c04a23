// Package kproc implements the process control core of a small POSIX-style
// kernel as a host-Go model: process table and lifecycle, wait queues with
// race-free sleep/wake, a cooperative per-CPU scheduler, and the blocking
// primitives layered on top (semaphore, sleeping mutex, completion, and a
// single-word readers-writer spin lock).
//
// Kernel threads are modelled as goroutine execution carriers: one carrier
// per process plus one per CPU scheduler loop, handing control back and
// forth through an explicit context switch. All blocking, waking, and
// runnability semantics follow the kernel's rules, not Go's; process
// goroutines only ever run while the scheduler has dispatched them.
//
// Construct a Kernel with New, then Start it. Processes are created with
// Kernel.Spawn and Proc.Fork, and interact with the kernel through the
// syscall-shaped methods on Proc (Exit, Wait, Kill, Sleep, the signal
// calls). External contexts, such as tests and interrupt sources, borrow
// the interrupt pseudo-CPU via Kernel.IRQ.
package kproc
