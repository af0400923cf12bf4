package session

import (
	"encoding/binary"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honux/lolbuff/internal/amf"
	"github.com/honux/lolbuff/internal/worker/dispatchlink"
	"github.com/honux/lolbuff/internal/worker/translator"
)

func newTestSession() *Session {
	return &Session{
		invokeID:   loginInvokeUID,
		corr:       translator.NewCorrelation(),
		ready:      make(chan struct{}),
		testResult: make(chan bool, 1),
		errCh:      make(chan error, 1),
	}
}

func TestNextInvokeIDStartsAtLoginUIDAndIncrements(t *testing.T) {
	s := newTestSession()
	assert.Equal(t, uint32(loginInvokeUID), s.nextInvokeID())
	assert.Equal(t, uint32(loginInvokeUID+1), s.nextInvokeID())
	assert.Equal(t, uint32(loginInvokeUID+2), s.nextInvokeID())
}

func TestHandleInvokeReplyRoutesLoginUIDToFinishLoginFailure(t *testing.T) {
	s := newTestSession()
	s.headers = translator.BuildHeaders("ds-1")
	s.cred = dispatchlink.Credential{Username: "honux"}

	// A malformed login reply (not JSON) should surface through the error
	// channel rather than closing the ready gate.
	s.handleInvokeReply(encodeInvokeReplyBody(t, loginInvokeUID, "not json"))

	select {
	case err := <-s.errCh:
		assert.Error(t, err)
	case <-s.ready:
		t.Fatal("ready should not close on a malformed login reply")
	case <-time.After(time.Second):
		t.Fatal("expected an error on the error channel")
	}
}

func TestHandleInvokeReplyRoutesSupervisorProbeReply(t *testing.T) {
	s := newTestSession()
	atomic.StoreUint32(&s.testUID, 9)

	s.handleInvokeReply(encodeInvokeReplyBody(t, 9, `{"name":"Honux"}`))

	select {
	case ok := <-s.testResult:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected a probe result")
	}
}

func TestHandleInvokeReplyRoutesOrdinaryReplyToCorrelatedTask(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverConnCh := make(chan net.Conn, 1)
	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		got := make([]byte, 16) // magic: 0xFA + 15-byte tag
		_, _ = io.ReadFull(nc, got)
		_, _ = nc.Write([]byte{4, 'r', 'o', 'o', 't', 3, 'p', 'w', 'd'})
		serverConnCh <- nc
	}()

	link, _, err := dispatchlink.Dial(ln.Addr().String(), nil)
	require.NoError(t, err)
	defer link.Close()
	serverConn := <-serverConnCh
	defer serverConn.Close()

	s := newTestSession()
	s.link = link
	s.corr.Insert(50, 777)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.handleInvokeReply(encodeInvokeReplyBody(t, 50, `{"ok":true}`))
	}()

	header := make([]byte, 9)
	_, err = io.ReadFull(serverConn, header)
	require.NoError(t, err)
	assert.Equal(t, uint32(777), binary.LittleEndian.Uint32(header[1:5]))
	<-done

	_, stillThere := s.corr.Take(50)
	assert.False(t, stillThere, "correlation entry should have been consumed")
}

// encodeInvokeReplyBody builds the 4-value AMF0 sequence DecodeInvokeReply
// expects: result/invokeId/unused/data, with data holding resultJSON as a
// bare string so translator.DecodeInvokeReply's forwarded envelope is easy
// to assert against.
func encodeInvokeReplyBody(t *testing.T, uid uint32, dataJSON string) []byte {
	t.Helper()
	var buf []byte
	buf = append(buf, 0x01, 0x01) // result = true
	buf = append(buf, amf0DoubleMarker(float64(uid))...)
	buf = append(buf, amf0DoubleMarker(0)...) // unused
	buf = append(buf, amf0String(dataJSON)...)
	return buf
}

func TestAuthFollowUpValueIsBase64UserColonToken(t *testing.T) {
	body := authFollowUpValue("honux", "tok123")
	d := amf.NewDecoder(body)
	got, err := d.DecodeAMF3()
	require.NoError(t, err)
	assert.Equal(t, `"aG9udXg6dG9rMTIz"`, got)
}

func TestBuildMessagingRegistrationCarriesSingleEmptyObject(t *testing.T) {
	headers := translator.BuildHeaders("ds-1")
	msg := buildMessagingRegistration(headers)
	assert.NotEmpty(t, msg)
}

func TestAmfEncodeHeartbeatArgsRoundTripsThroughDecoder(t *testing.T) {
	body := amfEncodeHeartbeatArgs(42, "tok", 3, "Mon Jan 2 2006 15:04:05 GMT-0300")
	d := amf.NewDecoder(body)
	got, err := d.DecodeAMF3()
	require.NoError(t, err)
	assert.Equal(t, `[42,"tok",3,"Mon Jan 2 2006 15:04:05 GMT-0300"]`, got)
}

func TestDecodeRequestBodyNumeric(t *testing.T) {
	req := dispatchlink.Request{Type: dispatchlink.FrameNumeric, Payload: []byte{0x2A, 0x00, 0x00, 0x00}}
	body, err := decodeRequestBody(req)
	require.NoError(t, err)
	d := amf.NewDecoder(body)
	got, err := d.DecodeAMF3()
	require.NoError(t, err)
	assert.Equal(t, "[42]", got)
}

func TestDecodeRequestBodyString(t *testing.T) {
	req := dispatchlink.Request{Type: dispatchlink.FrameString, Payload: []byte("Honux")}
	body, err := decodeRequestBody(req)
	require.NoError(t, err)
	d := amf.NewDecoder(body)
	got, err := d.DecodeAMF3()
	require.NoError(t, err)
	assert.Equal(t, `["Honux"]`, got)
}

func TestDecodeRequestBodyList(t *testing.T) {
	req := dispatchlink.Request{Type: dispatchlink.FrameList, Payload: []byte{1, 0, 0, 0, 2, 0, 0, 0}}
	body, err := decodeRequestBody(req)
	require.NoError(t, err)
	d := amf.NewDecoder(body)
	got, err := d.DecodeAMF3()
	require.NoError(t, err)
	assert.Equal(t, "[[1,2]]", got)
}

func TestDecodeRequestBodyGenericMixedArgs(t *testing.T) {
	payload := []byte{2, 0x01, 3, 'a', 'b', 'c', 0x00, 9, 0, 0, 0}
	req := dispatchlink.Request{Type: dispatchlink.FrameGeneric, Payload: payload}
	body, err := decodeRequestBody(req)
	require.NoError(t, err)
	d := amf.NewDecoder(body)
	got, err := d.DecodeAMF3()
	require.NoError(t, err)
	assert.Equal(t, `["abc",9]`, got)
}

func TestDecodeRequestBodyRejectsUnsupportedType(t *testing.T) {
	req := dispatchlink.Request{Type: dispatchlink.FrameKill}
	_, err := decodeRequestBody(req)
	assert.Error(t, err)
}

func TestDoHandshakeOverPipe(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() { done <- doHandshake(client) }()

	go fakeUpstreamHandshakeServer(t, server)

	require.NoError(t, <-done)
}

// fakeUpstreamHandshakeServer plays the server half of the simplified
// handshake doHandshake expects, echoing the client's C1 payload back as
// its own S2 so doHandshake's echo check passes.
func fakeUpstreamHandshakeServer(t *testing.T, conn net.Conn) {
	t.Helper()
	c0c1 := make([]byte, 1+8+handshakeRandomBytes)
	if _, err := readFull(conn, c0c1); err != nil {
		return
	}
	c1Random := c0c1[9:]

	s0s1 := make([]byte, 1+1536)
	s0s1[0] = 0x03
	_, _ = conn.Write(s0s1)

	c2 := make([]byte, 1536)
	if _, err := readFull(conn, c2); err != nil {
		return
	}

	s2 := make([]byte, 1536)
	copy(s2[8:], c1Random)
	_, _ = conn.Write(s2)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
