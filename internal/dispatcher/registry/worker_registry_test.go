package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWorker struct{ id int }

func (f *fakeWorker) Send(_ []byte) error { return nil }

func TestWorkerRegistrySingleWorkerAlwaysReturnsIt(t *testing.T) {
	wr := NewWorkerRegistry()
	w := &fakeWorker{id: 1}
	wr.Subscribe(w)

	got1, ok := wr.NextAvailable()
	require.True(t, ok)
	got2, ok := wr.NextAvailable()
	require.True(t, ok)
	assert.Same(t, w, got1)
	assert.Same(t, w, got2)
}

func TestWorkerRegistryRoundRobinsAcrossMultiple(t *testing.T) {
	wr := NewWorkerRegistry()
	w0 := &fakeWorker{id: 0}
	w1 := &fakeWorker{id: 1}
	wr.Subscribe(w0)
	wr.Subscribe(w1)

	first, _ := wr.NextAvailable()
	second, _ := wr.NextAvailable()
	third, _ := wr.NextAvailable()

	assert.Same(t, w0, first)
	assert.Same(t, w1, second)
	assert.Same(t, w0, third)
}

func TestWorkerRegistryEmptyReturnsFalse(t *testing.T) {
	wr := NewWorkerRegistry()
	_, ok := wr.NextAvailable()
	assert.False(t, ok)
	assert.False(t, wr.HasAvailable())
}

func TestWorkerRegistryUnsubscribeAdjustsCursor(t *testing.T) {
	wr := NewWorkerRegistry()
	w0 := &fakeWorker{id: 0}
	w1 := &fakeWorker{id: 1}
	w2 := &fakeWorker{id: 2}
	_, uid0 := wr.Subscribe(w0)
	wr.Subscribe(w1)
	wr.Subscribe(w2)

	_, _ = wr.NextAvailable() // lands on w0, cursor=0
	require.True(t, wr.Unsubscribe(uid0))
	assert.Equal(t, 2, wr.Len())

	next, ok := wr.NextAvailable()
	require.True(t, ok)
	assert.Same(t, w1, next)
}

func TestWorkerRegistryUnsubscribeByUIDSurvivesEarlierDeparture(t *testing.T) {
	wr := NewWorkerRegistry()
	w0 := &fakeWorker{id: 0}
	w1 := &fakeWorker{id: 1}
	w2 := &fakeWorker{id: 2}
	_, uid0 := wr.Subscribe(w0)
	_, uid1 := wr.Subscribe(w1)
	wr.Subscribe(w2)

	// w0 disconnects first, shifting w1 and w2 down by one position.
	require.True(t, wr.Unsubscribe(uid0))

	// w1's goroutine still unsubscribes by the uid it captured at
	// Subscribe time, not by its now-stale original index of 1.
	require.True(t, wr.Unsubscribe(uid1))
	assert.Equal(t, 1, wr.Len())

	remaining, ok := wr.GetAt(0)
	require.True(t, ok)
	assert.Same(t, w2, remaining)
}

func TestWorkerRegistryUnsubscribeAtRemovesByPosition(t *testing.T) {
	wr := NewWorkerRegistry()
	w0 := &fakeWorker{id: 0}
	w1 := &fakeWorker{id: 1}
	wr.Subscribe(w0)
	wr.Subscribe(w1)

	require.True(t, wr.UnsubscribeAt(0))
	assert.Equal(t, 1, wr.Len())

	remaining, ok := wr.GetAt(0)
	require.True(t, ok)
	assert.Same(t, w1, remaining)
}
