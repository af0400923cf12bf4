package workerconn

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/honux/lolbuff/internal/dispatcher/registry"
)

// magic is the literal 16-byte handshake prefix a worker opens with:
// [0xFA]["eXMAnHcDl ueTi0"].
var magic = append([]byte{0xFA}, []byte("eXMAnHcDl ueTi0")...)

const readyByte = 0xFF

// resultHeaderLen is the fixed 9-byte prefix of every worker result
// record: [0x01][taskID u32 LE][responseSize u32 LE].
const resultHeaderLen = 9

const resultMarker = 0x01

var errBadMagic = errors.New("workerconn: handshake magic mismatch")
var errBadReady = errors.New("workerconn: expected ready byte")

// Conn is one accepted worker connection, carried through the
// AWAIT_MAGIC -> AWAIT_READY -> STEADY state machine.
type Conn struct {
	nc   net.Conn
	r    *bufio.Reader
	log  *zap.SugaredLogger
	mu   sync.Mutex // serializes writes (outbound frames can arrive from many API goroutines)
}

// New wraps an accepted net.Conn.
func New(nc net.Conn, log *zap.SugaredLogger) *Conn {
	return &Conn{nc: nc, r: bufio.NewReaderSize(nc, 4096), log: log}
}

// Send writes a pre-built frame to the worker in fixed-size chunks.
// Safe for concurrent use.
func (c *Conn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, piece := range chunk(frame) {
		if _, err := c.nc.Write(piece); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying socket.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// Handshake runs AWAIT_MAGIC then AWAIT_READY. On success it has already
// borrowed a credential and written it to the worker; the caller is
// responsible for returning that credential to pool on eventual
// disconnect. On any failure the socket should be closed by the caller
// and no credential has been borrowed.
func (c *Conn) Handshake(pool *registry.CredentialPool) (registry.Credential, error) {
	hdr := make([]byte, len(magic))
	if _, err := io.ReadFull(c.r, hdr); err != nil {
		return registry.Credential{}, err
	}
	if !bytes.Equal(hdr, magic) {
		return registry.Credential{}, errBadMagic
	}

	cred, err := pool.Borrow()
	if err != nil {
		return registry.Credential{}, err
	}

	payload := make([]byte, 0, 2+len(cred.Username)+len(cred.Password))
	payload = append(payload, byte(len(cred.Username)))
	payload = append(payload, cred.Username...)
	payload = append(payload, byte(len(cred.Password)))
	payload = append(payload, cred.Password...)
	if _, err := c.nc.Write(payload); err != nil {
		pool.Return(cred)
		return registry.Credential{}, err
	}

	ready := make([]byte, 1)
	if _, err := io.ReadFull(c.r, ready); err != nil {
		pool.Return(cred)
		return registry.Credential{}, err
	}
	if ready[0] != readyByte {
		pool.Return(cred)
		return registry.Credential{}, errBadReady
	}
	return cred, nil
}

// Serve runs the STEADY-state read loop until the connection errors or
// closes, resolving each completed result record against tasks and
// flushing the matched task's buffered response. It returns the
// terminating error (io.EOF on a clean close).
//
// The header-then-body reads below each go through io.ReadFull, which
// itself loops until the declared byte count is satisfied regardless of
// how many underlying TCP reads that takes — the fix for the documented
// "must buffer and parse by length, not by read boundary" requirement,
// so no explicit rx_state struct is needed to track a partial chunk.
func (c *Conn) Serve(tasks *registry.TaskRegistry) error {
	for {
		hdr := make([]byte, resultHeaderLen)
		if _, err := io.ReadFull(c.r, hdr); err != nil {
			return err
		}
		if hdr[0] != resultMarker {
			// Unrecognised leading byte: ignored, stay in awaiting_header.
			continue
		}
		taskID := binary.LittleEndian.Uint32(hdr[1:5])
		size := binary.LittleEndian.Uint32(hdr[5:9])

		body := make([]byte, size)
		if size > 0 {
			if _, err := io.ReadFull(c.r, body); err != nil {
				return err
			}
		}

		task, ok := tasks.Find(taskID)
		if !ok {
			// Task already released (timeout/cancel): drain and discard.
			continue
		}
		task.PrepareResponse(int(size), true)
		task.AppendData(body)
		tasks.Complete(task)
	}
}
