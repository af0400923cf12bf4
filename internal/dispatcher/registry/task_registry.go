package registry

import (
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TaskRegistry owns every in-flight Task, keyed by a monotonically
// allocated, wrapping 32-bit id. The id space wraps; the registry does
// not special-case wraparound, it only needs the id to currently be free.
type TaskRegistry struct {
	mu        sync.Mutex
	tasks     map[uint32]*Task
	nextID    uint32
	deadline  time.Duration
	log       *zap.SugaredLogger
	OnOutcome func(taskID uint32, dest, op, outcome string)
}

// NewTaskRegistry returns an empty registry that expires tasks which go
// unanswered for longer than deadline.
func NewTaskRegistry(deadline time.Duration, log *zap.SugaredLogger) *TaskRegistry {
	return &TaskRegistry{
		tasks:    make(map[uint32]*Task),
		deadline: deadline,
		log:      log,
	}
}

// Create allocates a new Task, registers it, and arms its deadline timer.
// Allocation skips any id still occupied by an older task, so wraparound
// under sustained load cannot collide two live tasks onto the same id.
func (r *TaskRegistry) Create(dest, op string, sink Sink) *Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		if _, occupied := r.tasks[r.nextID]; !occupied {
			break
		}
		r.nextID++
	}
	id := r.nextID
	r.nextID++

	t := &Task{
		ID:        id,
		Dest:      dest,
		Op:        op,
		sink:      sink,
		state:     int32(StateOpen),
		createdAt: time.Now(),
	}
	r.tasks[id] = t
	t.timer = time.AfterFunc(r.deadline, func() { r.expire(t) })
	return t
}

// Find looks a task up by id without mutating its state.
func (r *TaskRegistry) Find(id uint32) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	return t, ok
}

// Complete transitions a task to StateCompleted, writes its accumulated
// response, and releases it. Returns false if the task had already left
// StateOpen (the deadline fired first); the caller should then drop the
// late worker reply on the floor.
func (r *TaskRegistry) Complete(t *Task) bool {
	if !t.transition(StateCompleted) {
		return false
	}
	if err := t.sink.WriteAndClose(t.Bytes()); err != nil && r.log != nil {
		r.log.Debugw("task response write failed", "taskId", t.ID, "error", err)
	}
	r.notify(t, "completed")
	r.Release(t)
	return true
}

// Cancel transitions a task to StateCancelled without writing a response
// (e.g. the API connection went away before the worker replied).
func (r *TaskRegistry) Cancel(t *Task) bool {
	ok := t.transition(StateCancelled)
	if ok {
		r.notify(t, "cancelled")
		r.Release(t)
	}
	return ok
}

func (r *TaskRegistry) notify(t *Task, outcome string) {
	if r.OnOutcome != nil {
		r.OnOutcome(t.ID, t.Dest, t.Op, outcome)
	}
}

// Release removes a task from the registry and stops its deadline timer.
// Safe to call more than once.
func (r *TaskRegistry) Release(t *Task) {
	r.mu.Lock()
	delete(r.tasks, t.ID)
	r.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
}

// expire fires on the deadline timer. It only wins the race if the task
// is still StateOpen; a worker reply that completed the task a moment
// earlier always takes precedence.
func (r *TaskRegistry) expire(t *Task) {
	if !t.transition(StateTimedOut) {
		return
	}
	body := []byte(`{"success":false, "code":408, "data":{}}`)
	resp := "HTTP/1.0 408 Request Timeout\r\nContent-Length: " +
		strconv.Itoa(len(body)) + "\r\nContent-Type: application/json\r\nConnection: close\r\n\r\n"
	if err := t.sink.WriteAndClose(append([]byte(resp), body...)); err != nil && r.log != nil {
		r.log.Debugw("task timeout response write failed", "taskId", t.ID, "error", err)
	}
	r.notify(t, "timed_out")
	r.Release(t)
}

// Len reports the number of currently open tasks, for diagnostics.
func (r *TaskRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
