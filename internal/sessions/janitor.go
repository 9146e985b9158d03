package sessions

import (
	"context"
	"time"

	"github.com/gogotex/authsession/pkg/logger"
	"github.com/gogotex/authsession/pkg/metrics"
)

// Sweep deletes expired records once and records the count.
func Sweep(ctx context.Context, store Store, now time.Time) (int64, error) {
	n, err := store.DeleteExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.RecordsSwept.Add(float64(n))
	}
	return n, nil
}

// RunJanitor sweeps expired refresh records every interval until ctx is done.
func RunJanitor(ctx context.Context, store Store, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := Sweep(ctx, store, time.Now().UTC())
			if err != nil {
				logger.Warnf("janitor: delete expired refresh records: %v", err)
				continue
			}
			if n > 0 {
				logger.Debugf("janitor: removed %d expired refresh records", n)
			}
		}
	}
}
