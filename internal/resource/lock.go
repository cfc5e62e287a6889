// Package resource guards the physical devices (scale, gate) that only one
// operation may drive at a time.
package resource

import (
	"sync"

	"cat_feeder/internal/models"
)

// Lock is a non-blocking ownership lock with a named holder.
type Lock struct {
	name  string
	mu    sync.Mutex
	owner string
}

func NewLock(name string) *Lock {
	return &Lock{name: name}
}

// TryAcquire takes the lock for owner or fails with a *models.BusyError.
// The returned release func is idempotent.
func (l *Lock) TryAcquire(owner string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner != "" {
		return nil, &models.BusyError{Resource: l.name, Owner: l.owner}
	}
	l.owner = owner

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.owner = ""
			l.mu.Unlock()
		})
	}, nil
}

// Owner returns the current holder, if any.
func (l *Lock) Owner() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner, l.owner != ""
}

func (l *Lock) Name() string { return l.name }
