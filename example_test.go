package kproc_test

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/joeycumines/kproc"
)

// Example boots a kernel, forks a child that exits with a status, and
// reaps it from the parent.
func Example() {
	k := kproc.New(&kproc.Config{Clock: clock.NewMock()})
	k.Start()

	done := make(chan struct{})
	k.Spawn(`parent`, func(p *kproc.Proc) {
		defer close(done)
		if _, r := p.Fork(func(child *kproc.Proc) {
			child.Exit(42)
		}); r != 0 {
			fmt.Println(`fork failed:`, r)
			return
		}
		var status int
		if _, r := p.Wait(&status); r != 0 {
			fmt.Println(`wait failed:`, r)
			return
		}
		fmt.Println(`child exited with status`, status)
	})
	<-done

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = k.Shutdown(ctx)

	// Output:
	// child exited with status 42
}
