package observer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Poller runs hook on a background goroutine every `every` ticks, starting
// with the first iteration. It owns its goroutine lifecycle via Start/Stop.
type Poller struct {
	clock    clockwork.Clock
	interval time.Duration
	every    int
	hook     func(ctx context.Context)
	logger   *zap.Logger

	// ticks counts the ticks received over the poller's lifetime.
	ticks atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPoller(clk clockwork.Clock, interval time.Duration, every int, hook func(ctx context.Context), logger *zap.Logger) *Poller {
	if every <= 0 {
		every = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Poller{
		clock:    clk,
		interval: interval,
		every:    every,
		hook:     hook,
		logger:   logger,
	}
}

// Start launches the loop. A second Start while running is a no-op and
// returns false. Cancelling ctx ends the loop as Stop would.
func (p *Poller) Start(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.logger.Info("machine update loop already running")
		return false
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel, p.done = cancel, done
	ticker := p.clock.NewTicker(p.interval)

	go func() {
		defer close(done)
		defer ticker.Stop()
		p.run(ctx, ticker)
		p.release(done)
		cancel()
	}()
	p.logger.Info("machine update loop started", zap.Duration("interval", p.interval), zap.Int("every", p.every))
	return true
}

// release clears the running state if it still belongs to the loop that
// owns done.
func (p *Poller) release(done chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == done {
		p.cancel, p.done = nil, nil
		p.logger.Info("machine update loop ended with its context")
	}
}

// Stop cancels the loop and waits for it to exit. Once Stop returns the hook
// is not invoked again until the next Start.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.logger.Info("machine update loop stopped")
}

// Running reports whether the loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Ticks returns the number of ticks the loop has received.
func (p *Poller) Ticks() uint64 {
	return p.ticks.Load()
}

func (p *Poller) run(ctx context.Context, ticker clockwork.Ticker) {
	// A hook in flight is allowed to finish when the loop is stopped.
	hookCtx := context.WithoutCancel(ctx)
	for tick := 0; ; tick++ {
		if ctx.Err() != nil {
			return
		}
		if tick%p.every == 0 {
			p.hook(hookCtx)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.ticks.Add(1)
		}
	}
}
