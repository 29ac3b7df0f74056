package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/openmerch/paywatch/logger"
	"github.com/openmerch/paywatch/metrics"
)

// Sweeper periodically expires pending intents that have aged past the
// payment timeout. It runs the same stop-flag loop the chain monitors use:
// the flag is checked at the top of each iteration and an in-flight sweep
// runs to completion before Stop returns.
type Sweeper struct {
	store    Store
	timeout  time.Duration
	interval time.Duration
	log      logger.Logger
	rec      metrics.Recorder

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func NewSweeper(store Store, timeout, interval time.Duration, log logger.Logger, rec metrics.Recorder) *Sweeper {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Sweeper{
		store:    store,
		timeout:  timeout,
		interval: interval,
		log:      log,
		rec:      rec,
	}
}

func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.stop, s.done)
}

func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
}

func (s *Sweeper) loop(stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-time.After(s.interval):
		}
		s.Sweep(context.Background())
	}
}

// Sweep runs a single expiry pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	deadline := time.Now().Add(-s.timeout)
	swept, err := s.store.ExpirePendingOlderThan(ctx, deadline)
	if err != nil {
		s.log.Error("expiry sweep failed", map[string]any{"error": err.Error()})
		return
	}
	if swept > 0 {
		s.log.Info("expired stale payment intents", map[string]any{"count": swept})
		for i := 0; i < swept; i++ {
			s.rec.IncCounter("expired", nil)
		}
	}
}
