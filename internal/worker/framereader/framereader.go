// Package framereader reassembles the upstream game server's RTMP-style
// chunked messages: a 12- or 8-byte channel header, up to 128 bytes of
// body, then a 1-byte continuation marker (0xC3) before each further
// 128-byte chunk, until the header-declared message length is reached.
package framereader

import (
	"bufio"
	"fmt"
	"io"
)

const (
	continuationMarker = 0xC3
	chunkBodyBytes     = 128
)

// headerKind identifies which channel-header flavour starts a message,
// from the top two bits of the first byte.
type headerKind int

const (
	headerFull8  headerKind = iota // fmt=00: full 12-byte header
	headerReused                   // fmt=01: 8-byte header carrying length/type, reusing the prior stream id
	headerOther                    // any other top-two-bits value: ignored in the core
)

// Message is one fully reassembled upstream payload.
type Message struct {
	MessageType byte
	Body        []byte
}

// Reader reassembles chunked upstream messages off an underlying byte
// stream.
type Reader struct {
	r *bufio.Reader
}

// New wraps r.
func New(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 4096)}
}

// ReadMessage blocks until one complete message has been reassembled, or
// returns the error from the underlying stream. A headerOther (ignored)
// first byte causes ReadMessage to skip that header and try again.
func (fr *Reader) ReadMessage() (Message, error) {
	for {
		first, err := fr.r.ReadByte()
		if err != nil {
			return Message{}, err
		}
		kind := classifyHeader(first)

		var msgType byte
		var length uint32
		switch kind {
		case headerFull8:
			rest := make([]byte, 11)
			if _, err := io.ReadFull(fr.r, rest); err != nil {
				return Message{}, err
			}
			length = uint32(rest[3])<<16 | uint32(rest[4])<<8 | uint32(rest[5])
			msgType = rest[6]
		case headerReused:
			// 8 bytes total (1 already consumed as the basic header byte):
			// timestamp delta, message length, and message type are still
			// present on the wire; only the message stream id is implicit
			// from the prior chunk, and this core doesn't track stream ids.
			rest := make([]byte, 7)
			if _, err := io.ReadFull(fr.r, rest); err != nil {
				return Message{}, err
			}
			length = uint32(rest[3])<<16 | uint32(rest[4])<<8 | uint32(rest[5])
			msgType = rest[6]
		default:
			// Unrecognised header flavour: nothing further to parse from
			// this byte; try the next one.
			continue
		}

		body, err := fr.readBody(length)
		if err != nil {
			return Message{}, err
		}
		return Message{MessageType: msgType, Body: body}, nil
	}
}

func classifyHeader(first byte) headerKind {
	switch first >> 6 {
	case 0x00:
		return headerFull8
	case 0x01:
		return headerReused
	default:
		return headerOther
	}
}

// readBody reads length bytes of message body, consuming a 0xC3
// continuation marker before every chunk after the first.
func (fr *Reader) readBody(length uint32) ([]byte, error) {
	body := make([]byte, 0, length)
	remaining := length
	first := true
	for remaining > 0 {
		if !first {
			marker, err := fr.r.ReadByte()
			if err != nil {
				return nil, err
			}
			if marker != continuationMarker {
				return nil, fmt.Errorf("framereader: expected continuation marker 0x%02x, got 0x%02x", continuationMarker, marker)
			}
		}
		first = false

		take := uint32(chunkBodyBytes)
		if take > remaining {
			take = remaining
		}
		chunk := make([]byte, take)
		if _, err := io.ReadFull(fr.r, chunk); err != nil {
			return nil, err
		}
		body = append(body, chunk...)
		remaining -= take
	}
	return body, nil
}
