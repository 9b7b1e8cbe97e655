package cache

import (
	"context"
	"sync"
	"time"
)

// StartGC starts a background loop that runs the Pruner at the given interval.
// protected is called before every run to obtain the keys in active use; it
// may be nil.
//
// Returns a function to stop the loop. It is safe to call multiple times and
// blocks until the goroutine has exited.
//
// Example:
//
//	stop := pruner.StartGC(10*time.Minute, func() []cache.Key { return res.Keys })
//	defer stop()
func (p *Pruner) StartGC(interval time.Duration, protected func() []Key) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				var keys []Key
				if protected != nil {
					keys = protected()
				}
				if _, err := p.Prune(keys...); err != nil {
					p.store.opts.logger.Warn("Background prune failed", "error", err)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}
}
