package apiconn

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honux/lolbuff/internal/dispatcher/registry"
)

type capturingWorker struct {
	frames [][]byte
}

func (w *capturingWorker) Send(frame []byte) error {
	w.frames = append(w.frames, append([]byte(nil), frame...))
	return nil
}

func newRouter() (*Router, *registry.TaskRegistry, *registry.WorkerRegistry) {
	tasks := registry.NewTaskRegistry(time.Minute, nil)
	workers := registry.NewWorkerRegistry()
	return &Router{Tasks: tasks, Workers: workers}, tasks, workers
}

func roundTrip(t *testing.T, rt *Router, line string) string {
	server, client := net.Pipe()
	defer client.Close()
	go func() {
		rt.Handle(server)
	}()
	_, err := client.Write([]byte(line))
	require.NoError(t, err)
	resp, err := io.ReadAll(client)
	require.NoError(t, err)
	return string(resp)
}

func TestRouterNoWorkerAvailableReturns503(t *testing.T) {
	rt, _, _ := newRouter()
	resp := roundTrip(t, rt, "GET /player/Honux HTTP/1.1\r\n\r\n")
	assert.Contains(t, resp, "503")
	assert.Contains(t, resp, body503NoWorker)
}

func TestRouterMalformedRequestReturns503(t *testing.T) {
	rt, _, _ := newRouter()
	resp := roundTrip(t, rt, "POST /player/Honux HTTP/1.1\r\n\r\n")
	assert.Contains(t, resp, "503")
}

func TestRouterUnknownPathReturns400(t *testing.T) {
	rt, _, workers := newRouter()
	workers.Subscribe(&capturingWorker{})
	resp := roundTrip(t, rt, "GET /nonsense HTTP/1.1\r\n\r\n")
	assert.Contains(t, resp, "400")
	assert.Contains(t, resp, body400Malformed)
}

func TestRouterPlayerRouteDispatchesFrame(t *testing.T) {
	rt, _, workers := newRouter()
	w := &capturingWorker{}
	workers.Subscribe(w)

	server, client := net.Pipe()
	defer client.Close()
	go rt.Handle(server)
	_, err := client.Write([]byte("GET /player/Ana%20Lu HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)

	deadline := time.Now().Add(time.Second)
	for len(w.frames) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.Len(t, w.frames, 1)
	assert.Contains(t, string(w.frames[0]), "Ana Lu")
}

func TestRouterClientDisconnectCancelsTask(t *testing.T) {
	rt, tasks, workers := newRouter()
	w := &capturingWorker{}
	workers.Subscribe(w)

	server, client := net.Pipe()
	go rt.Handle(server)
	_, err := client.Write([]byte("GET /player/Ana%20Lu HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)

	deadline := time.Now().Add(time.Second)
	for len(w.frames) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.Len(t, w.frames, 1)
	require.Equal(t, 1, tasks.Len())

	// The client goes away before the worker ever replies.
	require.NoError(t, client.Close())

	deadline = time.Now().Add(time.Second)
	for tasks.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, 0, tasks.Len())
}

func TestRouterListRouteRejectsOverMax(t *testing.T) {
	rt, _, workers := newRouter()
	workers.Subscribe(&capturingWorker{})
	ids := "1;2;3;4;5;6;7;8;9;10;11;12;13;14;15;16;17;18;19;20;21;22;23;24;25;26;27;28;29;30;31"
	resp := roundTrip(t, rt, "GET /list/"+ids+"/icons HTTP/1.1\r\n\r\n")
	assert.Contains(t, resp, "400")
}

func TestRouterWorkerNotFoundForAdminRoute(t *testing.T) {
	rt, _, _ := newRouter()
	resp := roundTrip(t, rt, "GET /server/worker/3/kill HTTP/1.1\r\n\r\n")
	assert.Contains(t, resp, body503NotFound)
}

func TestRouterServerStatus(t *testing.T) {
	rt, _, workers := newRouter()
	workers.Subscribe(&capturingWorker{})
	resp := roundTrip(t, rt, "GET /server/status HTTP/1.1\r\n\r\n")
	assert.Contains(t, resp, `"workerCount":1`)
	assert.Contains(t, resp, `"success":true`)
}
