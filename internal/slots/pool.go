// Package slots bounds how many compiler processes run at once.
//
// A Pool hands out at most Max permits. Callers beyond that wait in a FIFO
// queue; when a permit is released and someone is waiting, the capacity is
// handed to the head of the queue directly instead of being put back up for
// grabs, so late arrivals can never overtake a waiter.
package slots

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// Stats is a point-in-time view of a Pool. It may be stale as soon as it is
// returned.
type Stats struct {
	Active int `json:"active"`
	Max    int `json:"max"`
	Queued int `json:"queued"`
}

// Pool is a counting semaphore with a FIFO wait queue. The zero value is not
// usable; construct one with New.
type Pool struct {
	mu      sync.Mutex
	max     int
	active  int
	waiters *list.List // of chan struct{}
}

// Permit is one unit of capacity. Release it exactly once.
type Permit struct {
	pool     *Pool
	released atomic.Bool
}

// New returns a pool with the given capacity. Capacity below one is clamped
// to one.
func New(max int) *Pool {
	if max < 1 {
		max = 1
	}
	return &Pool{max: max, waiters: list.New()}
}

// Acquire blocks until a permit is granted. It never fails; bounding the wait
// is the caller's job.
func (p *Pool) Acquire() *Permit {
	p.mu.Lock()
	if p.active < p.max && p.waiters.Len() == 0 {
		p.active++
		p.mu.Unlock()
		return &Permit{pool: p}
	}

	grant := make(chan struct{})
	p.waiters.PushBack(grant)
	p.mu.Unlock()

	<-grant
	return &Permit{pool: p}
}

// Release returns the permit to its pool. Releasing the same permit twice is
// a no-op.
func (pm *Permit) Release() {
	if pm == nil || pm.pool == nil {
		return
	}
	if !pm.released.CompareAndSwap(false, true) {
		return
	}
	pm.pool.release()
}

func (p *Pool) release() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if front := p.waiters.Front(); front != nil {
		p.waiters.Remove(front)
		// active stays the same: the capacity moves to the waiter.
		close(front.Value.(chan struct{}))
		return
	}
	if p.active > 0 {
		p.active--
	}
}

// Stats reports current usage. Active counts granted permits, including
// capacity already handed to a waiter.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Active: p.active, Max: p.max, Queued: p.waiters.Len()}
}

// Max returns the capacity after clamping.
func (p *Pool) Max() int {
	return p.max
}
