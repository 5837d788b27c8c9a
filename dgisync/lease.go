package dgisync

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/invoicing_backend/config"
	"bitbucket.org/mmdatafocus/invoicing_backend/models"
	"github.com/bsm/redislock"
)

// acquirePollLease takes a short store-level lease so only one deployed
// instance polls a given queue at a time. Best-effort throughput hygiene:
// claim-then-act on individual job rows is the real correctness mechanism,
// so with no Redis configured (or Redis down) the poller proceeds anyway.
func acquirePollLease(ctx context.Context, queueType models.IntegrationType, ttl time.Duration) (func(), bool) {
	locker := config.GetRedisLock()
	if locker == nil {
		return func() {}, true
	}

	lock, err := locker.Obtain(ctx, "queue:poll:"+string(queueType), ttl, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, false
		}
		return func() {}, true
	}
	return func() {
		_ = lock.Release(context.Background())
	}, true
}
