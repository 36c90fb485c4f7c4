package service

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const refLockStripes = 64

// refLocks serialises work on one subscription ref inside the process.
// Distinct refs may share a stripe.
type refLocks struct {
	stripes [refLockStripes]sync.Mutex
}

func newRefLocks() *refLocks {
	return &refLocks{}
}

func (l *refLocks) lock(ref string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(ref))
	m := &l.stripes[h.Sum32()%refLockStripes]
	m.Lock()
	return m.Unlock
}

// lockRef takes the in-process stripe, then the cross-replica lock.
func (s *Service) lockRef(ctx context.Context, ref string) (func(), error) {
	unlockLocal := s.refLocks.lock(ref)

	wait := 2 * s.timeout
	if wait <= 0 {
		wait = 10 * time.Second
	}
	lockCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	release, err := s.locker.LockSubscriptionRef(lockCtx, ref)
	if err != nil {
		unlockLocal()
		return nil, err
	}
	return func() {
		release()
		unlockLocal()
	}, nil
}
