package queue

import (
	"context"
	"time"
)

// RunTask executes fn and reports its outcome through the queue: a timed
// completion notification on success, an error notification on failure.
// The original error from fn is returned either way; notification problems
// are the queue's to retry, not the caller's.
func (q *Queue) RunTask(ctx context.Context, taskName, messageType, destination string, fn func() error) error {
	start := time.Now()
	if err := fn(); err != nil {
		if _, serr := q.SendError(ctx, messageType, destination, taskName, err.Error()); serr != nil {
			q.log.Error().Err(serr).Str("task", taskName).Msg("failed to enqueue error notification")
		}
		return err
	}
	if _, serr := q.SendTaskCompletion(ctx, messageType, destination, taskName, time.Since(start)); serr != nil {
		q.log.Error().Err(serr).Str("task", taskName).Msg("failed to enqueue completion notification")
	}
	return nil
}
