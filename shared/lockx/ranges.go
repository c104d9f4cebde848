package lockx

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"zcc-reporting/shared/logx"
)

// RangeLocks serializes work over overlapping [from,to] windows of the same kind.
// Disjoint windows proceed in parallel. A zero window overlaps everything of its kind.
type RangeLocks struct {
	mu     sync.Mutex
	active map[string][]*heldRange
}

type heldRange struct {
	from time.Time
	to   time.Time
	done chan struct{}
}

func NewRangeLocks() *RangeLocks {
	return &RangeLocks{active: map[string][]*heldRange{}}
}

// Lock blocks until no held range of kind overlaps [from,to], then holds it. The returned
// func releases the range and must be called exactly once.
func (l *RangeLocks) Lock(ctx context.Context, kind string, from time.Time, to time.Time) (func(), error) {
	want := &heldRange{from: from, to: to, done: make(chan struct{})}
	for {
		l.mu.Lock()
		blocker := l.overlapping(kind, want)
		if blocker == nil {
			l.active[kind] = append(l.active[kind], want)
			l.mu.Unlock()
			return func() { l.release(kind, want) }, nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-blocker.done:
		}
	}
}

func (l *RangeLocks) overlapping(kind string, want *heldRange) *heldRange {
	for _, h := range l.active[kind] {
		if h.overlaps(want) {
			return h
		}
	}
	return nil
}

func (l *RangeLocks) release(kind string, r *heldRange) {
	l.mu.Lock()
	defer l.mu.Unlock()
	held := l.active[kind]
	for i, h := range held {
		if h == r {
			l.active[kind] = append(held[:i], held[i+1:]...)
			close(r.done)
			break
		}
	}
	if len(l.active[kind]) == 0 {
		delete(l.active, kind)
	}
}

func (h *heldRange) overlaps(o *heldRange) bool {
	if h.unbounded() || o.unbounded() {
		return true
	}
	return !h.from.After(o.to) && !o.from.After(h.to)
}

func (h *heldRange) unbounded() bool {
	return h.from.IsZero() && h.to.IsZero()
}

// DistributedLocks layers a per-kind Redis lock over RangeLocks so refreshes also serialize
// across instances. Windows of one kind are serialized as a whole on the Redis side. The
// Redis TTL is renewed every ttl/3 while the lock is held, so it only bounds how long a
// crashed holder blocks others.
type DistributedLocks struct {
	local  *RangeLocks
	client *redis.Client
	prefix string
	ttl    time.Duration
	poll   time.Duration
	log    logx.Logger
}

func NewDistributedLocks(client *redis.Client, prefix string, ttl time.Duration, l logx.Logger) *DistributedLocks {
	if prefix == "" {
		prefix = "zcc:refresh:"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &DistributedLocks{
		local:  NewRangeLocks(),
		client: client,
		prefix: prefix,
		ttl:    ttl,
		poll:   250 * time.Millisecond,
		log:    l,
	}
}

func (d *DistributedLocks) Lock(ctx context.Context, kind string, from time.Time, to time.Time) (func(), error) {
	unlockLocal, err := d.local.Lock(ctx, kind, from, to)
	if err != nil {
		return nil, err
	}
	if d.client == nil {
		return unlockLocal, nil
	}

	lock, err := AcquireWait(ctx, d.client, d.prefix+kind, d.ttl, d.poll)
	if err != nil {
		unlockLocal()
		return nil, err
	}
	stop := keepAlive(d.ttl/3, func(ctx context.Context) error {
		return Extend(ctx, d.client, lock)
	}, func(err error) {
		d.log.Warn(context.Background(), "refresh_lock_extend_failed", "redis lock extend failed",
			slog.String("key", lock.Key),
			slog.String("error", err.Error()),
		)
	})
	return func() {
		stop()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := Release(ctx, d.client, lock); err != nil {
			d.log.Warn(ctx, "refresh_lock_release_failed", "redis lock release failed",
				slog.String("key", lock.Key),
				slog.String("error", err.Error()),
			)
		}
		unlockLocal()
	}, nil
}

// keepAlive calls extend every interval until the returned stop func runs. Stop waits for
// an in-flight extend, so no extend can follow the release. A lost lock ends the loop.
func keepAlive(every time.Duration, extend func(context.Context) error, onErr func(error)) func() {
	if every <= 0 {
		every = time.Second
	}
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}
			ctx, cancel := context.WithTimeout(context.Background(), every)
			err := extend(ctx)
			cancel()
			if err != nil {
				onErr(err)
				if errors.Is(err, ErrLockLost) {
					return
				}
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-finished
		})
	}
}
