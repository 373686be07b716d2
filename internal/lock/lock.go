// README: Request-scoped mutual exclusion with bounded wait; in-process and Redis backends.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrTimeout = errors.New("lock: wait timed out")

// Locker grants exclusive ownership of key. Acquire gives up with ErrTimeout
// once wait elapses. release is safe to call more than once.
type Locker interface {
	Acquire(ctx context.Context, key string, wait time.Duration) (release func(), err error)
}

// RequestKey is the lock key serializing all mutations of one request.
func RequestKey(requestID string) string {
	return "lock:request:" + requestID
}

type entry struct {
	sem  chan struct{}
	refs int
}

// Local is an in-process keyed mutex. Entries are dropped once no caller holds or waits on them.
type Local struct {
	mu   sync.Mutex
	keys map[string]*entry
}

func NewLocal() *Local {
	return &Local{keys: make(map[string]*entry)}
}

func (l *Local) Acquire(ctx context.Context, key string, wait time.Duration) (func(), error) {
	l.mu.Lock()
	e, ok := l.keys[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.keys[key] = e
	}
	e.refs++
	l.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case e.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.sem
				l.unref(key, e)
			})
		}, nil
	case <-timer.C:
		l.unref(key, e)
		return nil, ErrTimeout
	case <-ctx.Done():
		l.unref(key, e)
		return nil, ctx.Err()
	}
}

func (l *Local) unref(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.keys, key)
	}
}
