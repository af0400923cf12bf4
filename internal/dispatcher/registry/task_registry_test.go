package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	body   []byte
	closed bool
}

func (s *captureSink) WriteAndClose(body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.body = body
	s.closed = true
	return nil
}

func TestTaskRegistryCreateAndFind(t *testing.T) {
	r := NewTaskRegistry(time.Minute, nil)
	sink := &captureSink{}
	task := r.Create("summoner", "getSummonerByName", sink)

	found, ok := r.Find(task.ID)
	require.True(t, ok)
	assert.Same(t, task, found)
	assert.Equal(t, StateOpen, task.State())
}

func TestTaskRegistryCompleteWritesResponseAndReleases(t *testing.T) {
	r := NewTaskRegistry(time.Minute, nil)
	sink := &captureSink{}
	task := r.Create("summoner", "getSummonerByName", sink)
	task.PrepareResponse(2, false)
	task.AppendData([]byte("{}"))

	ok := r.Complete(task)
	assert.True(t, ok)
	assert.True(t, sink.closed)
	_, found := r.Find(task.ID)
	assert.False(t, found)
}

func TestTaskRegistryCompleteIsTerminalOnce(t *testing.T) {
	r := NewTaskRegistry(time.Minute, nil)
	sink := &captureSink{}
	task := r.Create("summoner", "getSummonerByName", sink)

	assert.True(t, r.Complete(task))
	assert.False(t, r.Complete(task), "a second completion of the same task must not succeed")
}

func TestTaskRegistryDeadlineWinsWhenNeverCompleted(t *testing.T) {
	r := NewTaskRegistry(10*time.Millisecond, nil)
	sink := &captureSink{}
	task := r.Create("summoner", "getSummonerByName", sink)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		sink.mu.Lock()
		closed := sink.closed
		sink.mu.Unlock()
		if closed {
			break
		}
		time.Sleep(time.Millisecond)
	}

	assert.Equal(t, StateTimedOut, task.State())
	assert.False(t, r.Complete(task), "completion arriving after the deadline must not overwrite the timeout")
}

func TestTaskRegistryIDsDoNotCollideAcrossWraparoundGap(t *testing.T) {
	r := NewTaskRegistry(time.Minute, nil)
	r.nextID = ^uint32(0) // force a wrap on the very next allocation
	first := r.Create("d", "o", &captureSink{})
	second := r.Create("d", "o", &captureSink{})
	assert.NotEqual(t, first.ID, second.ID)
}
