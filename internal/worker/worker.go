package worker

import (
	"context"
	"log"
	"time"

	"qrattend/internal/queue"
)

// WarmFunc recomputes and caches the analytics of one owner.
type WarmFunc func(ctx context.Context, ownerID string) error

// Warmer turns committed-write events into analytics cache refreshes.
// Events arriving within one interval are coalesced per owner.
type Warmer struct {
	warm     WarmFunc
	interval time.Duration
}

// New creates a warmer that flushes at most once per interval.
func New(warm WarmFunc, interval time.Duration) *Warmer {
	if interval <= 0 {
		interval = time.Second
	}
	return &Warmer{warm: warm, interval: interval}
}

// Run consumes events until the channel closes or ctx ends, then flushes
// what is pending.
func (w *Warmer) Run(ctx context.Context, events <-chan queue.Event) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	pending := make(map[string]struct{})
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				w.flush(context.WithoutCancel(ctx), pending)
				return
			}
			if evt.OwnerID == "" {
				log.Printf("worker: %s event for token %s has no owner", evt.Type, evt.TokenID)
				continue
			}
			pending[evt.OwnerID] = struct{}{}
		case <-ticker.C:
			w.flush(ctx, pending)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Warmer) flush(ctx context.Context, pending map[string]struct{}) {
	for owner := range pending {
		start := time.Now()
		if err := w.warm(ctx, owner); err != nil {
			log.Printf("worker: warm analytics for %s failed: %v", owner, err)
		} else {
			log.Printf("worker: analytics for %s refreshed in %s", owner, time.Since(start))
		}
		delete(pending, owner)
	}
}
