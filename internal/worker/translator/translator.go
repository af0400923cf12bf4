// Package translator turns a dispatcher request record into an AMF
// invocation against the upstream game server, and turns the upstream
// server's AMF replies back into the JSON payload a task result record
// carries, correlating invocation UIDs with dispatcher task ids.
package translator

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/honux/lolbuff/internal/amf"
)

// jsonStringField pulls a single top-level string field out of a rendered
// JSON object fragment, for picking values (like "id") out of an already
// AMF-decoded-to-JSON object without re-deriving the whole AMF value tree.
func jsonStringField(obj, field string) (string, bool) {
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(obj), &m); err != nil {
		return "", false
	}
	v, ok := m[field]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Correlation maps an outstanding invocation UID to the dispatcher task id
// that is waiting on its reply. UID 2 (the login invocation) is never
// stored here; the session layer special-cases it directly.
type Correlation struct {
	mu sync.Mutex
	m  map[uint32]uint32
}

// NewCorrelation returns an empty map.
func NewCorrelation() *Correlation {
	return &Correlation{m: make(map[uint32]uint32)}
}

// Insert records that uid's reply belongs to taskID.
func (c *Correlation) Insert(uid, taskID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[uid] = taskID
}

// Take looks up and removes uid's task id, if any.
func (c *Correlation) Take(uid uint32) (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	taskID, ok := c.m[uid]
	if ok {
		delete(c.m, uid)
	}
	return taskID, ok
}

// RandomMessageID returns a GUID-shaped, hyphenated uppercase-hex string,
// used as the "messageId" field of an outbound RemotingMessage. It has no
// correlation significance of its own; invocation UIDs do that job.
func RandomMessageID() string {
	var raw [16]byte
	_, _ = rand.Read(raw[:])
	hex := fmt.Sprintf("%X", raw[:])
	return fmt.Sprintf("%s-%s-%s-%s-%s", hex[0:8], hex[8:12], hex[12:16], hex[16:20], hex[20:32])
}

// NumericBody encodes a single-element request array carrying one integer,
// the body shape "Numeric" requests send upstream.
func NumericBody(n uint32) []byte {
	return amf.Encode(func(e *amf.Encoder) {
		e.WriteDenseArray([][]byte{amf.Encode(func(e *amf.Encoder) { e.WriteInt(int32(n)) })})
	})
}

// StringBody encodes a single-element request array carrying one string.
func StringBody(s string) []byte {
	return amf.Encode(func(e *amf.Encoder) {
		e.WriteDenseArray([][]byte{amf.Encode(func(e *amf.Encoder) { e.WriteString(s) })})
	})
}

// ListBody encodes a single-element request array whose one element is
// itself a dense array of integers.
func ListBody(nums []uint32) []byte {
	items := make([][]byte, len(nums))
	for i, n := range nums {
		items[i] = amf.Encode(func(e *amf.Encoder) { e.WriteInt(int32(n)) })
	}
	inner := amf.Encode(func(e *amf.Encoder) { e.WriteDenseArray(items) })
	return amf.Encode(func(e *amf.Encoder) { e.WriteDenseArray([][]byte{inner}) })
}

// GenericArg is one positional argument of a Generic request: either a
// string or a numeric value.
type GenericArg struct {
	IsString bool
	Num      uint32
	Str      string
}

// GenericBody encodes a request array with one element per arg, in order,
// each an AMF3 string or integer depending on its kind.
func GenericBody(args []GenericArg) []byte {
	items := make([][]byte, len(args))
	for i, a := range args {
		a := a
		items[i] = amf.Encode(func(e *amf.Encoder) {
			if a.IsString {
				e.WriteString(a.Str)
			} else {
				e.WriteInt(int32(a.Num))
			}
		})
	}
	return amf.Encode(func(e *amf.Encoder) { e.WriteDenseArray(items) })
}

// BuildHeaders encodes the per-message headers object every invocation
// after `connect` carries, once the destination session id (DSId) is
// known.
func BuildHeaders(dsID string) []byte {
	return amf.Encode(func(e *amf.Encoder) {
		e.WriteObject("",
			[]string{"DSRequestTimeout", "DSId", "DSEndpoint"},
			[][]byte{
				amf.Encode(func(e *amf.Encoder) { e.WriteInt(60) }),
				amf.Encode(func(e *amf.Encoder) { e.WriteString(dsID) }),
				amf.Encode(func(e *amf.Encoder) { e.WriteString("my-rtmps") }),
			})
	})
}

// WrapRemoting builds the "flex.messaging.messages.RemotingMessage"
// envelope every translated dispatcher request is carried inside.
func WrapRemoting(dest, op, messageID string, headers, bodyArray []byte) []byte {
	return WrapMessage("flex.messaging.messages.RemotingMessage", dest, op, messageID, headers, bodyArray)
}

// WrapMessage builds the common destination/operation/source/timestamp/
// messageId/timeToLive/clientId/headers/body envelope under the given
// class name. RemotingMessage carries ordinary translated requests and the
// post-login auth follow-up; CommandMessage carries the messaging-destination
// registration the original sends under the same shape but a different
// class.
func WrapMessage(className, dest, op, messageID string, headers, body []byte) []byte {
	nullField := amf.Encode(func(e *amf.Encoder) { e.WriteNull() })
	zero := amf.Encode(func(e *amf.Encoder) { e.WriteInt(0) })
	return amf.Encode(func(e *amf.Encoder) {
		e.WriteObject(className,
			[]string{"destination", "operation", "source", "timestamp", "messageId", "timeToLive", "clientId", "headers", "body"},
			[][]byte{
				amf.Encode(func(e *amf.Encoder) { e.WriteString(dest) }),
				amf.Encode(func(e *amf.Encoder) { e.WriteString(op) }),
				nullField,
				zero,
				amf.Encode(func(e *amf.Encoder) { e.WriteString(messageID) }),
				zero,
				nullField,
				headers,
				body,
			})
	})
}

// BuildInvokeFrame wraps an already-encoded AMF3 top-level object (a
// RemotingMessage or CommandMessage) in the AMF0 "invoke" preamble the
// upstream server expects: a fixed two-byte lead-in, the invocation UID as
// an AMF0 double, a fixed null-marker byte, the AMF0 AMF3-switchover
// marker, then the object itself — and RTMP chunk-frames the whole thing
// as message type 0x11.
func BuildInvokeFrame(uid uint32, amf3Object []byte, elapsedMs uint32) []byte {
	body := make([]byte, 0, 12+len(amf3Object))
	body = append(body, 0x00, 0x05)
	body = append(body, amf0DoubleWithMarker(float64(uid))...)
	body = append(body, 0x05, 0x11)
	body = append(body, amf3Object...)
	return amf.AddHeaders(body, 0x11, elapsedMs)
}

func amf0DoubleWithMarker(v float64) []byte {
	out := make([]byte, 9)
	out[0] = 0x00
	binary.BigEndian.PutUint64(out[1:], math.Float64bits(v))
	return out
}

// ConnectReply is the decoded result of the upstream server's reply to the
// initial `connect` invocation (RTMP message type 0x14).
type ConnectReply struct {
	DSID string
}

// DecodeConnectReply decodes an AMF0 value sequence of result/invokeId/
// serviceCall/data and extracts data.id as the destination session id.
func DecodeConnectReply(body []byte) (ConnectReply, error) {
	d := amf.NewDecoder(body)
	if _, err := d.DecodeAMF0(); err != nil { // result
		return ConnectReply{}, err
	}
	if _, err := d.DecodeAMF0(); err != nil { // invokeId
		return ConnectReply{}, err
	}
	if _, err := d.DecodeAMF0(); err != nil { // serviceCall
		return ConnectReply{}, err
	}
	data, err := d.DecodeAMF0() // data
	if err != nil {
		return ConnectReply{}, err
	}
	id, ok := jsonStringField(data, "id")
	if !ok {
		return ConnectReply{}, fmt.Errorf("translator: connect reply missing data.id")
	}
	return ConnectReply{DSID: id}, nil
}

// InvokeReply is a decoded reply to any invocation other than `connect`
// (RTMP message type 0x11).
type InvokeReply struct {
	InvokeID int64
	// ResultJSON is the raw `{"result":...,"code":200,"data":...}` object,
	// forwarded verbatim as a task's result body for ordinary invocations.
	ResultJSON string
}

// DecodeInvokeReply decodes the four AMF0 values an onResult/onStatus
// message carries (result, invokeId, an unused service-call value, data)
// and reassembles them into the forwarded JSON shape.
func DecodeInvokeReply(body []byte) (InvokeReply, error) {
	if len(body) > 0 && body[0] == 0x00 {
		body = body[1:]
	}
	d := amf.NewDecoder(body)
	result, err := d.DecodeAMF0()
	if err != nil {
		return InvokeReply{}, err
	}
	invokeIDJSON, err := d.DecodeAMF0()
	if err != nil {
		return InvokeReply{}, err
	}
	if _, err := d.DecodeAMF0(); err != nil { // unused
		return InvokeReply{}, err
	}
	data, err := d.DecodeAMF0()
	if err != nil {
		return InvokeReply{}, err
	}
	invokeID, err := strconv.ParseFloat(invokeIDJSON, 64)
	if err != nil {
		return InvokeReply{}, fmt.Errorf("translator: non-numeric invokeId %q: %w", invokeIDJSON, err)
	}
	return InvokeReply{
		InvokeID:   int64(invokeID),
		ResultJSON: fmt.Sprintf(`{"result":%s,"code":200,"data":%s}`, result, data),
	}, nil
}
