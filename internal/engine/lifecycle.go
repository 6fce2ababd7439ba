// lifecycle.go implements the main loop (§4.H): a cooperative timer loop
// that drives periodic housekeeping (timeout-wheel ticks, free-later
// drain, credential refresh) and the documented quit sequence, generalized
// from a single goroutine+ticker shape to N packet threads plus a writer
// that must drain before the process may exit.
package engine

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/arkime-go/capture/printer"
)

// Quiescer is the writer's shutdown half: roll every open file and block
// until every upload finishes, or ctx expires first (§4.G Quiesce).
type Quiescer interface {
	Quiesce(ctx context.Context)
	QueueLength() int
}

// CredentialRefresher is the writer's periodic credential-rotation half
// (§4.G, "dynamic credentials are refreshed on a timer"); optional, since
// a Writer configured with static credentials has nothing to refresh.
type CredentialRefresher interface {
	Refresh(ctx context.Context) error
}

// Lifecycle owns the process-level run loop: starting packet threads and
// readers, ticking the engine's timeout wheels, and running the quit
// sequence documented in §4.H:
//
//	stop reader -> request per-session exit -> poll can_quit() callbacks
//	until all return zero -> stop writer -> wait for writer queue to
//	drain -> exit the loop.
type Lifecycle struct {
	Engine     *Engine
	Readers    []*Reader
	NumThreads int

	Writer     Quiescer
	Credential CredentialRefresher

	TickInterval     time.Duration
	RefreshInterval  time.Duration
	QuiesceTimeout   time.Duration

	// CanQuit is consulted during the quit sequence's poll step; every
	// registered callback must return true before the writer is asked to
	// quiesce. Named functions (spec glossary) that need a say in
	// shutdown readiness register here instead of the engine hardcoding
	// them.
	CanQuit []func() bool
}

// NewLifecycle fills in the documented defaults for the two timer
// intervals: a 1-second tick (timeout-wheel granularity matches the
// 1-second timeout wheel slot width) and the credential refresher's own
// interval.
func NewLifecycle(e *Engine, readers []*Reader, w Quiescer, cred CredentialRefresher) *Lifecycle {
	return &Lifecycle{
		Engine:          e,
		Readers:         readers,
		NumThreads:      len(e.Tables),
		Writer:          w,
		Credential:      cred,
		TickInterval:    time.Second,
		RefreshInterval: 5 * time.Minute,
		QuiesceTimeout:  30 * time.Second,
	}
}

// Run starts every packet thread and reader goroutine, then blocks running
// the main loop until ctx is cancelled (by the caller, typically on the
// first SIGINT) or a reader returns a fatal error. It always performs the
// documented quit sequence before returning.
func (l *Lifecycle) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < l.NumThreads; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			l.Engine.RunPacketThread(idx)
		}(i)
	}

	stopReaders := make(chan struct{})
	readerDone := make(chan struct{})
	var readerWG sync.WaitGroup
	var readerErr error
	var readerErrOnce sync.Once
	for _, r := range l.Readers {
		readerWG.Add(1)
		go func(r *Reader) {
			defer readerWG.Done()
			if err := r.Run(stopReaders); err != nil {
				readerErrOnce.Do(func() { readerErr = err })
			}
		}(r)
	}
	go func() {
		readerWG.Wait()
		close(readerDone)
	}()

	l.mainLoop(ctx, readerDone)

	// §4.H quit sequence, step 1: signal every reader to stop, then wait
	// for them to actually drain before touching shared shutdown state.
	close(stopReaders)
	waitForDrain(readerDone)

	// Step 2: request per-session exit on every packet thread.
	l.Engine.Dispatcher.Close()
	wg.Wait()
	l.Engine.Quiesce(l.Engine.Clock.Now())

	// Step 3: poll registered can_quit() callbacks until all return true.
	l.pollCanQuit(ctx)

	// Step 4/5: stop the writer and wait for its queue to drain.
	quiesceCtx, cancel := context.WithTimeout(context.Background(), l.QuiesceTimeout)
	defer cancel()
	l.Writer.Quiesce(quiesceCtx)

	return readerErr
}

// mainLoop runs the cooperative timer loop until ctx is cancelled or every
// reader has finished on its own (offline capture reaching EOF).
func (l *Lifecycle) mainLoop(ctx context.Context, readerDone <-chan struct{}) {
	tick := time.NewTicker(l.TickInterval)
	defer tick.Stop()

	var refresh <-chan time.Time
	if l.Credential != nil {
		refreshTicker := time.NewTicker(l.RefreshInterval)
		defer refreshTicker.Stop()
		refresh = refreshTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-readerDone:
			return
		case now := <-tick.C:
			l.Engine.Tick(now)
		case <-refresh:
			if err := l.Credential.Refresh(context.Background()); err != nil {
				printer.Warningf("engine: credential refresh failed: %v\n", err)
			}
		}
	}
}

func (l *Lifecycle) pollCanQuit(ctx context.Context) {
	if len(l.CanQuit) == 0 {
		return
	}
	deadline := time.NewTimer(l.QuiesceTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(50 * time.Millisecond)
	defer poll.Stop()

	for {
		ready := true
		for _, fn := range l.CanQuit {
			if !fn() {
				ready = false
				break
			}
		}
		if ready {
			return
		}
		select {
		case <-deadline.C:
			printer.Warningf("engine: can_quit callbacks did not all clear before timeout\n")
			return
		case <-poll.C:
		}
	}
}

// RunWithSignals is the cmd/capture entrypoint's convenience wrapper: it
// builds a context cancelled on the first SIGINT/SIGTERM, and exits the
// process immediately on a second SIGINT, matching §7's documented
// "first SIGINT triggers graceful quit; a second SIGINT exits
// immediately."
func (l *Lifecycle) RunWithSignals() error {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		printer.Infoln("engine: received interrupt, starting graceful quit")
		cancel()
		<-sigCh
		printer.Warningln("engine: second interrupt received, exiting immediately")
		os.Exit(1)
	}()

	return l.Run(ctx)
}
