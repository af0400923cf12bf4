// Package workerconn implements the dispatcher side of the worker wire
// protocol: the handshake state machine, steady-state result-frame
// parsing, and outbound request-frame encoding.
package workerconn

import (
	"encoding/binary"
	"errors"
)

// Frame types for the dispatcher → worker request record.
const (
	FrameNumeric        byte = 0x00
	FrameString         byte = 0x01
	FrameList           byte = 0x02
	FrameGeneric        byte = 0x03
	FrameForceReconnect byte = 0xFE
	FrameKill           byte = 0xFF
)

// ErrRecordTooLarge is returned when an assembled request record exceeds
// the roughly-1KiB bound an API route is allowed to produce.
var ErrRecordTooLarge = errors.New("workerconn: request record exceeds size bound")

const maxRecordBytes = 1024

// writeChunkBytes is the per-emission write size for outbound frames.
const writeChunkBytes = 1408

// EncodeNumeric renders a single numeric argument as a little-endian u32.
func EncodeNumeric(n uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], n)
	return b[:]
}

// EncodeString renders a single string argument as a u8 length followed
// by the raw bytes, with no terminator.
func EncodeString(s string) []byte {
	buf := make([]byte, 0, 1+len(s))
	buf = append(buf, byte(len(s)))
	buf = append(buf, s...)
	return buf
}

// EncodeList renders a u8 count followed by that many little-endian u32s.
func EncodeList(nums []uint32) []byte {
	buf := make([]byte, 0, 1+4*len(nums))
	buf = append(buf, byte(len(nums)))
	for _, n := range nums {
		buf = append(buf, EncodeNumeric(n)...)
	}
	return buf
}

// GenericArg is one positional argument in a Generic-frame payload: either
// a numeric value or a string value.
type GenericArg struct {
	IsString bool
	Num      uint32
	Str      string
}

// Numeric builds a numeric GenericArg.
func Numeric(n uint32) GenericArg { return GenericArg{Num: n} }

// String builds a string GenericArg.
func String(s string) GenericArg { return GenericArg{IsString: true, Str: s} }

const (
	genericTagNumeric byte = 0x00
	genericTagString  byte = 0x01
)

// EncodeGeneric renders a u8 count, then for each argument a u8 tag
// followed by its numeric or string encoding; the string variant's
// length byte counts its trailing null terminator.
func EncodeGeneric(args []GenericArg) []byte {
	buf := []byte{byte(len(args))}
	for _, a := range args {
		if a.IsString {
			buf = append(buf, genericTagString, byte(len(a.Str)+1))
			buf = append(buf, a.Str...)
			buf = append(buf, 0x00)
		} else {
			buf = append(buf, genericTagNumeric)
			buf = append(buf, EncodeNumeric(a.Num)...)
		}
	}
	return buf
}

// BuildFrame assembles one outbound request record:
//
//	[type:u8][taskID:u32 LE][destLen:u8][dest bytes][0]
//	         [opLen:u8][op bytes][0][payload...]
//
// dest/op are each followed by an explicit 0x00 terminator.
func BuildFrame(frameType byte, taskID uint32, dest, op string, payload []byte) ([]byte, error) {
	if len(dest) > 255 || len(op) > 255 {
		return nil, ErrRecordTooLarge
	}
	buf := make([]byte, 0, 1+4+1+len(dest)+1+1+1+len(op)+1+len(payload))
	buf = append(buf, frameType)
	buf = append(buf, EncodeNumeric(taskID)...)
	buf = append(buf, byte(len(dest)))
	buf = append(buf, dest...)
	buf = append(buf, 0x00)
	buf = append(buf, byte(len(op)))
	buf = append(buf, op...)
	buf = append(buf, 0x00)
	buf = append(buf, payload...)

	if len(buf) > maxRecordBytes {
		return nil, ErrRecordTooLarge
	}
	return buf, nil
}

// BuildControlFrame assembles a record with no destination/operation,
// used for the Kill and Force_Reconnect admin frames.
func BuildControlFrame(frameType byte, taskID uint32) []byte {
	buf := make([]byte, 0, 1+4+2+2)
	buf = append(buf, frameType)
	buf = append(buf, EncodeNumeric(taskID)...)
	buf = append(buf, 0x00, 0x00) // zero-length dest + terminator
	buf = append(buf, 0x00, 0x00) // zero-length op + terminator
	return buf
}

// chunk splits frame into writeChunkBytes-sized pieces for sequential
// emission.
func chunk(frame []byte) [][]byte {
	var out [][]byte
	for i := 0; i < len(frame); i += writeChunkBytes {
		end := i + writeChunkBytes
		if end > len(frame) {
			end = len(frame)
		}
		out = append(out, frame[i:end])
	}
	if len(out) == 0 {
		out = append(out, frame)
	}
	return out
}
