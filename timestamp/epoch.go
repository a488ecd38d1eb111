package timestamp

import (
	"sync"
	"time"

	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Epoch is the process-wide coarse clock. Commit timestamps only need to
// synchronize across threads when they cross an epoch boundary.
type Epoch struct {
	cur     atomic.Uint64
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// NewEpoch returns an epoch counter starting at 1, so that no commit
// timestamp collides with the zero timestamp of never-written records.
func NewEpoch() *Epoch {
	e := &Epoch{}
	e.cur.Store(1)
	return e
}

// Load returns the current epoch.
func (e *Epoch) Load() uint64 {
	return e.cur.Load()
}

// Advance moves to the next epoch and returns it.
func (e *Epoch) Advance() uint64 {
	epoch := e.cur.Inc()
	epochGauge.Set(float64(epoch))
	return epoch
}

// Start advances the epoch every interval until Stop is called.
func (e *Epoch) Start(interval time.Duration) {
	e.closeCh = make(chan struct{})
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.Advance()
			case <-e.closeCh:
				return
			}
		}
	}()
	log.Info("epoch advancer started", zap.Duration("interval", interval), zap.Uint64("epoch", e.Load()))
}

// Stop stops a started advancer. It is a no-op if Start was never called.
func (e *Epoch) Stop() {
	if e.closeCh == nil {
		return
	}
	close(e.closeCh)
	e.wg.Wait()
	e.closeCh = nil
	log.Info("epoch advancer stopped", zap.Uint64("epoch", e.Load()))
}
