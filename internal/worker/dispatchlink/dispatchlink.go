// Package dispatchlink is the worker side of the dispatcher's worker wire
// protocol: the AWAIT_MAGIC/AWAIT_READY handshake, steady-state request
// record parsing, and result record emission. It mirrors
// internal/dispatcher/workerconn's frame layout; the two packages are the
// two ends of one wire protocol, kept separate because they run in
// separate processes, the way the original shipped both sides from the
// same requestTypes.h header rather than a shared library.
package dispatchlink

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"io"
	"net"

	"go.uber.org/zap"
)

var magic = append([]byte{0xFA}, []byte("eXMAnHcDl ueTi0")...)

const readyByte = 0xFF

// Frame types, mirrored from the dispatcher's workerconn package.
const (
	FrameNumeric        byte = 0x00
	FrameString         byte = 0x01
	FrameList           byte = 0x02
	FrameGeneric        byte = 0x03
	FrameForceReconnect byte = 0xFE
	FrameKill           byte = 0xFF
)

const resultHeaderLen = 9
const resultMarker = 0x01
const sendChunkBytes = 4096

// Credential is the username/password pair the dispatcher hands out for
// this connection's upstream login.
type Credential struct {
	Username string
	Password string
}

// Request is one parsed steady-state request record.
type Request struct {
	Type    byte
	TaskID  uint32
	Dest    string
	Op      string
	Payload []byte
}

// Link is the worker's TCP connection to the dispatcher's worker
// registry port.
type Link struct {
	nc  net.Conn
	r   *bufio.Reader
	log *zap.SugaredLogger
}

// Dial connects to addr, completes the AWAIT_MAGIC leg of the handshake,
// and returns the borrowed credential.
func Dial(addr string, log *zap.SugaredLogger) (*Link, Credential, error) {
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, Credential{}, err
	}
	l := &Link{nc: nc, r: bufio.NewReader(nc), log: log}
	if _, err := nc.Write(magic); err != nil {
		nc.Close()
		return nil, Credential{}, err
	}
	cred, err := l.readCredential()
	if err != nil {
		nc.Close()
		return nil, Credential{}, err
	}
	return l, cred, nil
}

func (l *Link) readCredential() (Credential, error) {
	userLen, err := l.r.ReadByte()
	if err != nil {
		return Credential{}, err
	}
	user := make([]byte, userLen)
	if _, err := io.ReadFull(l.r, user); err != nil {
		return Credential{}, err
	}
	passLen, err := l.r.ReadByte()
	if err != nil {
		return Credential{}, err
	}
	pass := make([]byte, passLen)
	if _, err := io.ReadFull(l.r, pass); err != nil {
		return Credential{}, err
	}
	return Credential{Username: string(user), Password: string(pass)}, nil
}

// SignalReady completes the AWAIT_READY leg once the upstream login has
// succeeded. Never called if login fails; the dispatcher then sees this
// connection close instead.
func (l *Link) SignalReady() error {
	_, err := l.nc.Write([]byte{readyByte})
	return err
}

// Close closes the underlying connection.
func (l *Link) Close() error {
	return l.nc.Close()
}

// ReadRequest blocks for one complete steady-state request record:
//
//	[type:u8][taskID:u32 LE][destLen:u8][dest bytes][0]
//	         [opLen:u8][op bytes][0][payload...]
func (l *Link) ReadRequest() (Request, error) {
	typeByte, err := l.r.ReadByte()
	if err != nil {
		return Request{}, err
	}
	var idBuf [4]byte
	if _, err := io.ReadFull(l.r, idBuf[:]); err != nil {
		return Request{}, err
	}
	taskID := binary.LittleEndian.Uint32(idBuf[:])

	dest, err := l.readTerminatedField()
	if err != nil {
		return Request{}, err
	}
	op, err := l.readTerminatedField()
	if err != nil {
		return Request{}, err
	}

	var payload []byte
	switch typeByte {
	case FrameNumeric:
		payload = make([]byte, 4)
		if _, err := io.ReadFull(l.r, payload); err != nil {
			return Request{}, err
		}
	case FrameString:
		n, err := l.r.ReadByte()
		if err != nil {
			return Request{}, err
		}
		payload = make([]byte, n)
		if _, err := io.ReadFull(l.r, payload); err != nil {
			return Request{}, err
		}
	case FrameList:
		count, err := l.r.ReadByte()
		if err != nil {
			return Request{}, err
		}
		payload = make([]byte, int(count)*4)
		if _, err := io.ReadFull(l.r, payload); err != nil {
			return Request{}, err
		}
	case FrameGeneric:
		payload, err = l.readGenericPayload()
		if err != nil {
			return Request{}, err
		}
	case FrameForceReconnect, FrameKill:
		// no payload
	default:
		return Request{}, errors.New("dispatchlink: unrecognised request type")
	}

	return Request{Type: typeByte, TaskID: taskID, Dest: dest, Op: op, Payload: payload}, nil
}

func (l *Link) readTerminatedField() (string, error) {
	n, err := l.r.ReadByte()
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(l.r, buf); err != nil {
		return "", err
	}
	if _, err := l.r.ReadByte(); err != nil { // explicit 0x00 terminator
		return "", err
	}
	return string(buf), nil
}

func (l *Link) readGenericPayload() ([]byte, error) {
	var buf bytes.Buffer
	count, err := l.r.ReadByte()
	if err != nil {
		return nil, err
	}
	buf.WriteByte(count)
	for i := 0; i < int(count); i++ {
		tag, err := l.r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf.WriteByte(tag)
		if tag == 0x01 { // string
			n, err := l.r.ReadByte()
			if err != nil {
				return nil, err
			}
			buf.WriteByte(n)
			field := make([]byte, n)
			if _, err := io.ReadFull(l.r, field); err != nil {
				return nil, err
			}
			buf.Write(field)
		} else { // numeric
			field := make([]byte, 4)
			if _, err := io.ReadFull(l.r, field); err != nil {
				return nil, err
			}
			buf.Write(field)
		}
	}
	return buf.Bytes(), nil
}

// SendResult gzips jsonBody and frames it as one result record:
// [0x01][taskID:u32 LE][size:u32 LE][gzipped body], chunked on the wire
// at sendChunkBytes per write.
func (l *Link) SendResult(taskID uint32, jsonBody string) error {
	var gz bytes.Buffer
	w, err := gzip.NewWriterLevel(&gz, gzip.BestCompression)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(jsonBody)); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	body := gz.Bytes()

	header := make([]byte, resultHeaderLen)
	header[0] = resultMarker
	binary.LittleEndian.PutUint32(header[1:5], taskID)
	binary.LittleEndian.PutUint32(header[5:9], uint32(len(body)))

	record := append(header, body...)
	for i := 0; i < len(record); i += sendChunkBytes {
		end := i + sendChunkBytes
		if end > len(record) {
			end = len(record)
		}
		if _, err := l.nc.Write(record[i:end]); err != nil {
			return err
		}
	}
	return nil
}
