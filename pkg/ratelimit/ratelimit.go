package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

// Limiter enforces per-deployment requests-per-minute limits on top of
// github.com/vnmchuo/ratelimiter. Deployments sharing a limit share a store.
type Limiter struct {
	newStore func(rpm int) extratelimit.Limiter

	mu     sync.Mutex
	stores map[int]extratelimit.Limiter
}

func NewLimiter(rdb *redis.Client) *Limiter {
	return &Limiter{
		newStore: func(rpm int) extratelimit.Limiter {
			return extratelimit.NewRedisStore(rdb,
				extratelimit.WithLimit(rpm),
				extratelimit.WithWindow(time.Minute),
			)
		},
		stores: make(map[int]extratelimit.Limiter),
	}
}

// NewTestLimiter routes every limit to store.
func NewTestLimiter(store extratelimit.Limiter) *Limiter {
	return &Limiter{
		newStore: func(int) extratelimit.Limiter { return store },
		stores:   make(map[int]extratelimit.Limiter),
	}
}

func key(deployment string) string {
	return fmt.Sprintf("ratelimit:deployment:%s", deployment)
}

func (l *Limiter) store(rpm int) extratelimit.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.stores[rpm]
	if !ok {
		s = l.newStore(rpm)
		l.stores[rpm] = s
	}
	return s
}

// Allow consumes one request of deployment's budget. rpm <= 0 means
// unlimited. A nil Limiter allows everything.
func (l *Limiter) Allow(ctx context.Context, deployment string, rpm int) (bool, error) {
	if l == nil || rpm <= 0 {
		return true, nil
	}
	res, err := l.store(rpm).Allow(ctx, key(deployment))
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

func (l *Limiter) Status(ctx context.Context, deployment string, rpm int) (*extratelimit.Result, error) {
	return l.store(rpm).Status(ctx, key(deployment))
}
