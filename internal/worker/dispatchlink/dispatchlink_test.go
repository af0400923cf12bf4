package dispatchlink

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialCompletesHandshakeAndReturnsCredential(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		defer nc.Close()
		got := make([]byte, len(magic))
		io.ReadFull(nc, got)
		nc.Write([]byte{4, 'r', 'o', 'o', 't', 3, 'p', 'w', 'd'})
	}()

	link, cred, err := Dial(ln.Addr().String(), nil)
	require.NoError(t, err)
	defer link.Close()
	assert.Equal(t, "root", cred.Username)
	assert.Equal(t, "pwd", cred.Password)
}

func TestReadRequestParsesStringFrame(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	frame := []byte{FrameString, 7, 0, 0, 0}
	frame = append(frame, byte(len("summonerService")))
	frame = append(frame, "summonerService"...)
	frame = append(frame, 0x00)
	frame = append(frame, byte(len("getSummonerByName")))
	frame = append(frame, "getSummonerByName"...)
	frame = append(frame, 0x00)
	frame = append(frame, byte(len("Honux")))
	frame = append(frame, "Honux"...)

	go client.Write(frame)

	link := &Link{nc: server, r: bufio.NewReader(server)}
	req, err := link.ReadRequest()
	require.NoError(t, err)
	assert.Equal(t, uint32(7), req.TaskID)
	assert.Equal(t, "summonerService", req.Dest)
	assert.Equal(t, "getSummonerByName", req.Op)
	assert.Equal(t, "Honux", string(req.Payload))
}

func TestSendResultFramesGzippedBody(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	link := &Link{nc: server}
	done := make(chan error, 1)
	go func() { done <- link.SendResult(42, `{"result":1}`) }()

	header := make([]byte, resultHeaderLen)
	_, err := io.ReadFull(client, header)
	require.NoError(t, err)
	assert.Equal(t, byte(resultMarker), header[0])
	assert.Equal(t, uint32(42), binary.LittleEndian.Uint32(header[1:5]))
	size := binary.LittleEndian.Uint32(header[5:9])

	body := make([]byte, size)
	_, err = io.ReadFull(client, body)
	require.NoError(t, err)

	gz, err := gzip.NewReader(bytes.NewReader(body))
	require.NoError(t, err)
	plain, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, `{"result":1}`, string(plain))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("SendResult did not return")
	}
}
