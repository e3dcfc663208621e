package backup

import "sync"

// Lock serializes mutating operations across callers that share one store,
// such as the admin API and the scheduler. It never queues: a caller that
// finds it held gets ErrBusy.
type Lock struct {
	mu sync.Mutex
}

// Acquire takes the lock or returns ErrBusy. The returned func releases it.
func (l *Lock) Acquire() (release func(), err error) {
	if !l.mu.TryLock() {
		return nil, ErrBusy
	}
	return l.mu.Unlock, nil
}
