package executor

import (
	"sort"
	"sync"
	"time"

	"github.com/BWeng20/ruFSM/fsm"
)

// Timers schedules delayed sends. At any point only one real
// time.Timer exists: entries are kept in a list ordered by ascending
// trigger time, and the loop re-arms whenever the head changes. A
// send-id is scoped to its owning session.
type Timers struct {
	mu      sync.Mutex
	pending []*delayedSend
	reset   chan struct{}
	stop    chan struct{}
	once    sync.Once
}

type timerKey struct {
	owner  fsm.SessionId
	sendId string
}

type delayedSend struct {
	key timerKey
	at  time.Time
	f   func()
}

func NewTimers() *Timers {
	ts := &Timers{
		reset: make(chan struct{}, 1),
		stop:  make(chan struct{}),
	}
	go ts.loop()
	return ts
}

// Add schedules f after delay. An existing entry with the same
// owner/send-id is replaced.
func (ts *Timers) Add(owner fsm.SessionId, sendId string, delay time.Duration, f func()) {
	entry := &delayedSend{
		key: timerKey{owner: owner, sendId: sendId},
		at:  time.Now().Add(delay),
		f:   f,
	}
	ts.mu.Lock()
	ts.removeLocked(entry.key)
	i := sort.Search(len(ts.pending), func(i int) bool {
		return ts.pending[i].at.After(entry.at)
	})
	ts.pending = append(ts.pending, nil)
	copy(ts.pending[i+1:], ts.pending[i:])
	ts.pending[i] = entry
	ts.mu.Unlock()
	ts.signal()
}

// Rem cancels a scheduled send. A cancelled send is never delivered;
// once the entry left the list it is already firing and cannot be
// recalled.
func (ts *Timers) Rem(owner fsm.SessionId, sendId string) bool {
	ts.mu.Lock()
	removed := ts.removeLocked(timerKey{owner: owner, sendId: sendId})
	ts.mu.Unlock()
	if removed {
		ts.signal()
	}
	return removed
}

// CancelAll drops every entry of the given session.
func (ts *Timers) CancelAll(owner fsm.SessionId) {
	ts.mu.Lock()
	acc := ts.pending[:0]
	for _, e := range ts.pending {
		if e.key.owner != owner {
			acc = append(acc, e)
		}
	}
	ts.pending = acc
	ts.mu.Unlock()
	ts.signal()
}

func (ts *Timers) Stop() {
	ts.once.Do(func() { close(ts.stop) })
}

func (ts *Timers) removeLocked(key timerKey) bool {
	for i, e := range ts.pending {
		if e.key == key {
			ts.pending = append(ts.pending[:i], ts.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (ts *Timers) signal() {
	select {
	case ts.reset <- struct{}{}:
	default:
	}
}

func (ts *Timers) loop() {
	for {
		ts.mu.Lock()
		var wait <-chan time.Time
		var tm *time.Timer
		if len(ts.pending) > 0 {
			tm = time.NewTimer(time.Until(ts.pending[0].at))
			wait = tm.C
		}
		ts.mu.Unlock()

		select {
		case <-ts.stop:
			if tm != nil {
				tm.Stop()
			}
			return
		case <-ts.reset:
			if tm != nil {
				tm.Stop()
			}
		case <-wait:
			now := time.Now()
			ts.mu.Lock()
			var due []*delayedSend
			for len(ts.pending) > 0 && !ts.pending[0].at.After(now) {
				due = append(due, ts.pending[0])
				ts.pending = ts.pending[1:]
			}
			ts.mu.Unlock()
			for _, e := range due {
				e.f()
			}
		}
	}
}
