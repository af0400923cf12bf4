// Package ingress owns the two TCP listeners the dispatcher accepts
// connections on: the API port and the worker port, each dispatching
// accepted connections to their own goroutine.
package ingress

import (
	"context"
	"net"

	"go.uber.org/zap"

	"github.com/honux/lolbuff/internal/dispatcher/apiconn"
	"github.com/honux/lolbuff/internal/dispatcher/presence"
	"github.com/honux/lolbuff/internal/dispatcher/registry"
	"github.com/honux/lolbuff/internal/dispatcher/workerconn"
)

// Listeners bundles the two ingress sockets and the shared registries
// their handlers dispatch against.
type Listeners struct {
	Tasks      *registry.TaskRegistry
	Workers    *registry.WorkerRegistry
	Credential *registry.CredentialPool
	Presence   *presence.Mirror // optional; nil-receiver safe
	Log        *zap.SugaredLogger
}

// ServeAPI accepts connections on ln forever, handing each to a fresh
// Router.Handle goroutine. Returns when the listener closes.
func (l *Listeners) ServeAPI(ln net.Listener) error {
	router := &apiconn.Router{Tasks: l.Tasks, Workers: l.Workers, Log: l.Log}
	for {
		nc, err := ln.Accept()
		if err != nil {
			return err
		}
		go router.Handle(nc)
	}
}

// ServeWorkers accepts connections on ln forever, running the handshake
// and steady-state loop for each on its own goroutine. A worker that
// fails the handshake is closed without being subscribed and without
// holding a credential. A worker that completes handshake is subscribed
// into the Worker Registry; when its steady-state loop ends it is
// unsubscribed, its credential is returned to the pool, and its socket
// is closed.
func (l *Listeners) ServeWorkers(ln net.Listener) error {
	for {
		nc, err := ln.Accept()
		if err != nil {
			return err
		}
		go l.handleWorker(nc)
	}
}

func (l *Listeners) handleWorker(nc net.Conn) {
	conn := workerconn.New(nc, l.Log)

	cred, err := conn.Handshake(l.Credential)
	if err != nil {
		if l.Log != nil {
			l.Log.Debugw("worker handshake failed", "error", err)
		}
		_ = conn.Close()
		return
	}

	idx, uid := l.Workers.Subscribe(conn)
	l.Presence.Attached(context.Background(), idx, nc.RemoteAddr().String())

	err = conn.Serve(l.Tasks)
	if l.Log != nil {
		l.Log.Infow("worker connection ended", "index", idx, "error", err)
	}

	l.Workers.Unsubscribe(uid)
	l.Presence.Detached(context.Background(), idx)
	l.Credential.Return(cred)
	_ = conn.Close()
}
