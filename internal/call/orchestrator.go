package call

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Orchestrator owns every concurrently active Call, keyed by the gateway's
// call identifier. Unlike a single-session manager, it imposes no limit on
// how many calls run at once; each call is independently started, run, and
// torn down. All exported methods are safe for concurrent use.
type Orchestrator struct {
	mu    sync.Mutex
	calls map[string]*Call

	factory func(id, callerNumber string) *Call

	wg sync.WaitGroup
}

// NewOrchestrator creates an Orchestrator. factory builds a fresh Call for
// each new gateway call ID; it is typically a closure over shared Deps.
func NewOrchestrator(factory func(id, callerNumber string) *Call) *Orchestrator {
	return &Orchestrator{
		calls:   make(map[string]*Call),
		factory: factory,
	}
}

// StartCall registers and runs a new call in its own goroutine. It returns
// an error if a call with this ID is already active.
func (o *Orchestrator) StartCall(id, callerNumber string) (*Call, error) {
	o.mu.Lock()
	if _, exists := o.calls[id]; exists {
		o.mu.Unlock()
		return nil, fmt.Errorf("call: orchestrator: call %q already active", id)
	}
	c := o.factory(id, callerNumber)
	o.calls[id] = c
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		c.Run()
		o.mu.Lock()
		delete(o.calls, id)
		o.mu.Unlock()
		slog.Info("call: orchestrator: call ended", "call_id", id, "state", c.State())
	}()

	return c, nil
}

// Lookup returns the active call with the given ID, or nil if none exists.
// The returned reference may be used for PushAudio or Hangup even after the
// lock guarding the map is released, since Call itself is safe for
// concurrent use.
func (o *Orchestrator) Lookup(id string) *Call {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[id]
}

// Active returns the number of calls currently running.
func (o *Orchestrator) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.calls)
}

// HangupAll requests an orderly end to every active call and waits for each
// to finish tearing down, or for ctx to be cancelled, whichever comes
// first. Used at process shutdown.
func (o *Orchestrator) HangupAll(ctx context.Context) error {
	o.mu.Lock()
	snapshot := make([]*Call, 0, len(o.calls))
	for _, c := range o.calls {
		snapshot = append(snapshot, c)
	}
	o.mu.Unlock()

	for _, c := range snapshot {
		c.Hangup()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range snapshot {
		c := c
		g.Go(func() error {
			done := make(chan struct{})
			go func() {
				c.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	return g.Wait()
}
