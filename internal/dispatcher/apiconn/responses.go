// Package apiconn implements the API ingress connection handler: it
// sniffs a single raw HTTP request line off an accepted TCP connection,
// routes it per the fixed path table, and writes exactly one HTTP
// response before closing.
package apiconn

import (
	"fmt"
	"net"
)

const (
	body503NoWorker  = `{"success":false, "code":503, "data":{}}`
	body400Malformed = `{"success":false, "code":400, "data":{}}`
	body503NotFound  = `{"error":"Worker not found."}`
)

func writeJSON(nc net.Conn, status, statusText, body string) {
	resp := fmt.Sprintf(
		"HTTP/1.1 %s %s\r\nContent-Length: %d\r\nContent-Type: application/json\r\nConnection: close\r\n\r\n%s",
		status, statusText, len(body), body,
	)
	_, _ = nc.Write([]byte(resp))
	_ = nc.Close()
}

func write503NoWorker(nc net.Conn) {
	writeJSON(nc, "503", "Service Unavailable", body503NoWorker)
}

func write400(nc net.Conn) {
	writeJSON(nc, "400", "Bad Request", body400Malformed)
}

func write503WorkerNotFound(nc net.Conn) {
	writeJSON(nc, "503", "Service Unavailable", body503NotFound)
}

func writeOK(nc net.Conn, body string) {
	writeJSON(nc, "200", "OK", body)
}

// connSink adapts a raw net.Conn to registry.Sink: the Task Registry
// writes the accumulated, already-HTTP-framed response bytes here and
// the connection closes immediately after — exactly one response, then
// close.
type connSink struct {
	nc net.Conn
}

func (s *connSink) WriteAndClose(body []byte) error {
	_, err := s.nc.Write(body)
	closeErr := s.nc.Close()
	if err != nil {
		return err
	}
	return closeErr
}
