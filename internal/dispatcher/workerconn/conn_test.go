package workerconn

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honux/lolbuff/internal/dispatcher/registry"
)

type fakeSink struct {
	ch chan []byte
}

func (s *fakeSink) WriteAndClose(body []byte) error {
	s.ch <- body
	return nil
}

func TestHandshakeBorrowsCredentialAndWritesIt(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	pool := registry.NewCredentialPool([]registry.Credential{{Username: "u1", Password: "p1"}})
	c := New(server, nil)

	done := make(chan error, 1)
	go func() {
		_, err := c.Handshake(pool)
		done <- err
	}()

	_, err := client.Write(magic)
	require.NoError(t, err)

	userLen := make([]byte, 1)
	_, err = client.Read(userLen)
	require.NoError(t, err)
	userBuf := make([]byte, userLen[0])
	_, err = client.Read(userBuf)
	require.NoError(t, err)
	assert.Equal(t, "u1", string(userBuf))

	passLen := make([]byte, 1)
	_, err = client.Read(passLen)
	require.NoError(t, err)
	passBuf := make([]byte, passLen[0])
	_, err = client.Read(passBuf)
	require.NoError(t, err)
	assert.Equal(t, "p1", string(passBuf))

	_, err = client.Write([]byte{readyByte})
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("handshake did not complete")
	}
	assert.Equal(t, 0, pool.Available())
}

func TestHandshakeRejectsBadMagic(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	pool := registry.NewCredentialPool([]registry.Credential{{Username: "u1", Password: "p1"}})
	c := New(server, nil)

	done := make(chan error, 1)
	go func() {
		_, err := c.Handshake(pool)
		done <- err
	}()

	_, err := client.Write([]byte("not the magic prefix!!!"))
	require.NoError(t, err)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, errBadMagic)
	case <-time.After(time.Second):
		t.Fatal("handshake did not complete")
	}
	assert.Equal(t, 1, pool.Available(), "a rejected handshake must not have borrowed a credential")
}

func TestServeResolvesResultRecordToTask(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := New(server, nil)
	tasks := registry.NewTaskRegistry(time.Minute, nil)
	sink := &fakeSink{ch: make(chan []byte, 1)}
	task := tasks.Create("summonerService", "getSummonerByName", sink)

	go func() { _ = c.Serve(tasks) }()

	body := []byte(`{"ok":true}`)
	hdr := make([]byte, resultHeaderLen)
	hdr[0] = resultMarker
	binary.LittleEndian.PutUint32(hdr[1:5], task.ID)
	binary.LittleEndian.PutUint32(hdr[5:9], uint32(len(body)))

	_, err := client.Write(hdr)
	require.NoError(t, err)
	_, err = client.Write(body)
	require.NoError(t, err)

	select {
	case got := <-sink.ch:
		assert.Contains(t, string(got), `{"ok":true}`)
		assert.Contains(t, string(got), "Content-Encoding: gzip")
	case <-time.After(time.Second):
		t.Fatal("task was never completed")
	}
}
