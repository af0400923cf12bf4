package registry

import "sync"

// Worker is the minimal surface the Worker Registry needs from a live
// worker connection: somewhere to hand off an outbound frame.
type Worker interface {
	Send(frame []byte) error
}

// workerEntry pairs a live worker with the stable uid it was assigned on
// Subscribe, so it can be found again by Unsubscribe even after other
// workers ahead of it in the slice have come and gone.
type workerEntry struct {
	uid uint64
	w   Worker
}

// WorkerRegistry holds the ordered set of currently-connected workers and
// round-robins task assignment across them: the cursor is pre-incremented
// then wrapped before each selection, so two consecutive calls with a
// single registered worker both return index 0, and with two workers
// alternate 0,1,0,1... from a fresh cursor of -1.
type WorkerRegistry struct {
	mu      sync.Mutex
	workers []workerEntry
	cursor  int
	nextUID uint64
}

// NewWorkerRegistry returns an empty registry.
func NewWorkerRegistry() *WorkerRegistry {
	return &WorkerRegistry{cursor: -1}
}

// Subscribe appends a newly-handshaked worker to the roster and assigns
// it a stable uid, good for the worker's entire connected lifetime
// regardless of how its positional index shifts as other workers join
// and leave. Callers that need to unsubscribe this exact worker later
// (as opposed to whichever worker a human operator currently sees at a
// given admin index) must hold onto the returned uid, not the index.
func (wr *WorkerRegistry) Subscribe(w Worker) (index int, uid uint64) {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	wr.nextUID++
	uid = wr.nextUID
	wr.workers = append(wr.workers, workerEntry{uid: uid, w: w})
	return len(wr.workers) - 1, uid
}

// Unsubscribe removes the worker with the given uid, wherever it
// currently sits in the roster, preserving the relative order of the
// rest. A linear scan by uid (rather than a positional index) is what
// keeps this correct when an earlier worker has already disconnected
// and shifted everyone after it down by one.
func (wr *WorkerRegistry) Unsubscribe(uid uint64) bool {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	for i, entry := range wr.workers {
		if entry.uid == uid {
			wr.workers = append(wr.workers[:i], wr.workers[i+1:]...)
			if i <= wr.cursor {
				wr.cursor--
			}
			return true
		}
	}
	return false
}

// UnsubscribeAt removes whichever worker currently sits at the given
// positional index, for admin routes that address workers by the index
// an operator currently sees (e.g. "/ops/worker/2/kill"), not by a uid
// they have no way to know.
func (wr *WorkerRegistry) UnsubscribeAt(index int) bool {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	if index < 0 || index >= len(wr.workers) {
		return false
	}
	wr.workers = append(wr.workers[:index], wr.workers[index+1:]...)
	if index <= wr.cursor {
		wr.cursor--
	}
	return true
}

// GetAt returns the worker currently at index, if any.
func (wr *WorkerRegistry) GetAt(index int) (Worker, bool) {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	if index < 0 || index >= len(wr.workers) {
		return nil, false
	}
	return wr.workers[index].w, true
}

// HasAvailable reports whether any worker is currently registered.
func (wr *WorkerRegistry) HasAvailable() bool {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	return len(wr.workers) > 0
}

// Len reports the number of registered workers.
func (wr *WorkerRegistry) Len() int {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	return len(wr.workers)
}

// NextAvailable advances the round-robin cursor and returns the worker it
// lands on. The empty-roster check lives here, in the (Worker, bool)
// return, rather than being the caller's responsibility to pre-check —
// translating the original's "caller already knows count > 0" convention
// into a safe Go idiom.
func (wr *WorkerRegistry) NextAvailable() (Worker, bool) {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	if len(wr.workers) == 0 {
		return nil, false
	}
	wr.cursor++
	if wr.cursor >= len(wr.workers) {
		wr.cursor = 0
	}
	return wr.workers[wr.cursor].w, true
}
