package mainloop

import (
	"sort"
	"sync"
	"time"
)

// Manual is a Scheduler driven by virtual time. Nothing runs until the
// caller calls RunPending or Advance, on the caller's goroutine.
type Manual struct {
	mu    sync.Mutex
	now   time.Duration
	seq   int
	tasks []manualTask
}

type manualTask struct {
	at  time.Duration
	seq int
	fn  func()
}

func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) Post(fn func()) {
	m.PostDelayed(0, fn)
}

func (m *Manual) PostDelayed(d time.Duration, fn func()) {
	if d < 0 {
		d = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.tasks = append(m.tasks, manualTask{at: m.now + d, seq: m.seq, fn: fn})
}

// Now returns the virtual time elapsed since creation.
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Pending returns the number of queued tasks, due or not.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// NextDelay reports how far away the earliest queued task is.
func (m *Manual) NextDelay() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.tasks) == 0 {
		return 0, false
	}
	m.sortLocked()
	return m.tasks[0].at - m.now, true
}

// RunPending runs every task due now, including tasks they post for now.
// It returns the number of tasks run.
func (m *Manual) RunPending() int {
	return m.runUntil(m.Now())
}

// Advance moves virtual time forward by d, running tasks in due order.
func (m *Manual) Advance(d time.Duration) int {
	return m.runUntil(m.Now() + d)
}

func (m *Manual) runUntil(target time.Duration) int {
	ran := 0
	for {
		m.mu.Lock()
		m.sortLocked()
		if len(m.tasks) == 0 || m.tasks[0].at > target {
			if target > m.now {
				m.now = target
			}
			m.mu.Unlock()
			return ran
		}
		task := m.tasks[0]
		m.tasks = m.tasks[1:]
		if task.at > m.now {
			m.now = task.at
		}
		m.mu.Unlock()

		task.fn()
		ran++
	}
}

func (m *Manual) sortLocked() {
	sort.SliceStable(m.tasks, func(i, j int) bool {
		if m.tasks[i].at != m.tasks[j].at {
			return m.tasks[i].at < m.tasks[j].at
		}
		return m.tasks[i].seq < m.tasks[j].seq
	})
}
