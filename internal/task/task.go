// Package task implements a single-flight task scheduler: a task that
// is guaranteed to run at most once concurrently, coalesces repeated
// schedule requests, bounds starvation with a max delay, and supports
// cancellation.
package task

import (
	"sync"
	"time"

	"github.com/kvthrong/throng/internal/logging"
)

// Task owns a single user function and ensures it runs at most once
// concurrently, no matter how many times Schedule is called.
type Task struct {
	mu        sync.Mutex
	name      string
	fn        func()
	running   bool
	shouldRun bool
	pending   *pendingSchedule
	canceled  bool
	logger    *logging.Logger
}

type pendingSchedule struct {
	timer      *time.Timer
	canceled   bool
	firstSched time.Time
	fireAt     time.Time
}

// New creates a task that is not scheduled until Schedule is called.
func New(name string, fn func()) *Task {
	return &Task{
		name:   name,
		fn:     fn,
		logger: logging.New("task." + name),
	}
}

// Schedule requests that the task run at least delay from now. If the
// task is already pending, this call coalesces into that pending
// execution rather than adding a second one, unless the starvation
// bound below applies.
//
// maxDelay prevents starvation: if the task has been continuously
// rescheduled for longer than maxDelay since the first pending
// schedule request, it runs anyway rather than being pushed back
// forever. A zero maxDelay disables the starvation check.
func (t *Task) Schedule(delay, maxDelay time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.canceled {
		return
	}

	now := time.Now()
	fireAt := now.Add(delay)

	if t.running {
		// Re-examined once the current run completes; see fire().
		t.shouldRun = true
		return
	}

	if t.pending != nil && !t.pending.canceled {
		p := t.pending
		if maxDelay > 0 && p.firstSched.Add(maxDelay).Before(fireAt) {
			// The starvation deadline lands before the new request
			// would; let the existing pending run fire unchanged.
			return
		}
		p.canceled = true
		p.timer.Stop()
		t.arm(p.firstSched, fireAt)
		return
	}

	t.arm(now, fireAt)
}

func (t *Task) arm(firstSched, fireAt time.Time) {
	p := &pendingSchedule{firstSched: firstSched, fireAt: fireAt}
	d := time.Until(fireAt)
	if d < 0 {
		d = 0
	}
	p.timer = time.AfterFunc(d, func() { t.fire(p) })
	t.pending = p
}

func (t *Task) fire(p *pendingSchedule) {
	t.mu.Lock()
	if p.canceled || t.pending != p {
		t.mu.Unlock()
		return
	}
	t.pending = nil
	t.running = true
	t.shouldRun = false
	t.mu.Unlock()

	t.runSafely()

	t.mu.Lock()
	t.running = false
	rerun := t.shouldRun
	t.shouldRun = false
	t.mu.Unlock()

	if rerun {
		t.Schedule(0, 0)
	}
}

func (t *Task) runSafely() {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Errorf("task %s panicked: %v", t.name, r)
		}
	}()
	t.fn()
}

// Cancel drops any pending execution, and every later Schedule call is
// ignored. If the task is currently running, that run completes but no
// additional run is queued afterward, even if a Schedule call raced the
// cancel.
func (t *Task) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.canceled = true
	if t.pending != nil {
		t.pending.canceled = true
		t.pending.timer.Stop()
		t.pending = nil
	}
	t.shouldRun = false
}
