package jobs

import (
	"context"
	"time"
)

// NotificationPurgeJob is the name the retention job is registered under.
const NotificationPurgeJob = "notification-purge"

// Purger removes records older than a cutoff.
type Purger interface {
	Purge(ctx context.Context, cutoff time.Time) (int, error)
}

// RetentionPurge drops entries older than retention on every run.
// A non-positive retention disables the job.
func RetentionPurge(p Purger, retention time.Duration, now func() time.Time) Func {
	return func(ctx context.Context) error {
		if retention <= 0 {
			return nil
		}
		_, err := p.Purge(ctx, now().Add(-retention))
		return err
	}
}
