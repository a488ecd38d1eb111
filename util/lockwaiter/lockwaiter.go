// Package lockwaiter parks transactions that found a record locked until the
// holder releases it or a timeout passes.
package lockwaiter

import (
	"sort"
	"sync"
	"time"

	"github.com/ngaut/log"
)

// Manager keeps one queue of waiters per key hash.
type Manager struct {
	mu            sync.Mutex
	waitingQueues map[uint64]*queue
}

func NewManager() *Manager {
	return &Manager{
		waitingQueues: map[uint64]*queue{},
	}
}

type queue struct {
	mu      sync.Mutex
	waiters []*Waiter
}

func (q *queue) takeWaiters() []*Waiter {
	q.mu.Lock()
	waiters := q.waiters
	q.waiters = nil
	q.mu.Unlock()
	return waiters
}

func (q *queue) removeWaiter(w *Waiter) (remainSize int) {
	q.mu.Lock()
	for i, waiter := range q.waiters {
		if waiter == w {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			break
		}
	}
	remainSize = len(q.waiters)
	q.mu.Unlock()
	return
}

type Waiter struct {
	timeout time.Duration
	ch      chan Result
	startTS uint64
	KeyHash uint64
}

type Position int

type Result struct {
	Position Position
}

const WaitTimeout Position = -1

// Wait blocks until the waiter is woken or its timeout passes.
func (w *Waiter) Wait() Result {
	timer := time.NewTimer(w.timeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		return Result{Position: WaitTimeout}
	case result := <-w.ch:
		return result
	}
}

// NewWaiter registers a waiter on keyHash. The caller must retry the lock
// after registering, and call CleanUp if it no longer needs to wait.
func (lw *Manager) NewWaiter(startTS, keyHash uint64, timeout time.Duration) *Waiter {
	// allocate memory before hold the lock.
	q := new(queue)
	q.waiters = make([]*Waiter, 0, 4)
	waiter := &Waiter{
		timeout: timeout,
		ch:      make(chan Result, 1),
		startTS: startTS,
		KeyHash: keyHash,
	}
	lw.mu.Lock()
	if old, ok := lw.waitingQueues[keyHash]; ok {
		q = old
	} else {
		lw.waitingQueues[keyHash] = q
	}
	q.mu.Lock()
	q.waiters = append(q.waiters, waiter)
	q.mu.Unlock()
	lw.mu.Unlock()
	return waiter
}

// WakeUp wakes every waiter blocked on one of keyHashes. Waiters on the same
// key get their position in start timestamp order.
func (lw *Manager) WakeUp(keyHashes []uint64) {
	for _, keyHash := range keyHashes {
		lw.mu.Lock()
		q := lw.waitingQueues[keyHash]
		delete(lw.waitingQueues, keyHash)
		lw.mu.Unlock()
		if q == nil {
			continue
		}
		waiters := q.takeWaiters()
		sort.Slice(waiters, func(i, j int) bool {
			return waiters[i].startTS < waiters[j].startTS
		})
		for i, w := range waiters {
			w.ch <- Result{Position: Position(i)}
		}
		log.Debugf("wakeup %d txns blocked on key %x", len(waiters), keyHash)
	}
}

// CleanUp removes a waiter that timed out or got its lock without waiting.
func (lw *Manager) CleanUp(w *Waiter) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	q := lw.waitingQueues[w.KeyHash]
	if q != nil && q.removeWaiter(w) == 0 {
		delete(lw.waitingQueues, w.KeyHash)
	}
}

// Len returns the number of keys with waiters.
func (lw *Manager) Len() int {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return len(lw.waitingQueues)
}
