// Package session owns one worker's upstream life cycle: the RTMPS
// handshake, auth-token acquisition, connect/login invocations, the
// keep-alive heartbeat and supervisor probe, and steady-state request
// translation against the upstream game server.
package session

import (
	"crypto/rand"
	"crypto/tls"
	"fmt"
	"io"

	"github.com/honux/lolbuff/internal/workerconfig"
)

const handshakeRandomBytes = 1528

// dialUpstream opens a TLS connection to the upstream game server,
// skipping certificate validation when cfg.InsecureSkipTLS is set (the
// default), matching the original's bare SSLv23 context.
func dialUpstream(cfg workerconfig.UpstreamConfig) (*tls.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.GameServerAddress, cfg.GameServerPort)
	conn, err := tls.Dial("tcp", addr, &tls.Config{InsecureSkipVerify: cfg.InsecureSkipTLS}) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("session: dial upstream: %w", err)
	}
	return conn, nil
}

// doHandshake performs the simplified RTMPS handshake the upstream server
// expects: C0 (version byte) + C1 (4-byte zero timestamp, 4-byte zero,
// 1528 random bytes), then validates S0/S1/S2 and echoes S1's random
// payload back as C2.
func doHandshake(rw io.ReadWriter) error {
	c1 := make([]byte, handshakeRandomBytes)
	if _, err := rand.Read(c1); err != nil {
		return fmt.Errorf("session: generating handshake payload: %w", err)
	}

	out := make([]byte, 0, 1+8+handshakeRandomBytes)
	out = append(out, 0x03)
	out = append(out, 0, 0, 0, 0) // timestamp
	out = append(out, 0, 0, 0, 0) // zero
	out = append(out, c1...)
	if _, err := rw.Write(out); err != nil {
		return fmt.Errorf("session: writing C0/C1: %w", err)
	}

	s0 := make([]byte, 1)
	if _, err := io.ReadFull(rw, s0); err != nil {
		return fmt.Errorf("session: reading S0: %w", err)
	}
	if s0[0] != 0x03 {
		return fmt.Errorf("session: invalid handshake version %d", s0[0])
	}

	s1 := make([]byte, 1536)
	if _, err := io.ReadFull(rw, s1); err != nil {
		return fmt.Errorf("session: reading S1: %w", err)
	}

	c2 := make([]byte, 0, 1536)
	c2 = append(c2, 0, 0, 0, 0) // echoed timestamp2, left zero
	c2 = append(c2, 0, 0, 0, 0)
	c2 = append(c2, s1[8:]...)
	if _, err := rw.Write(c2); err != nil {
		return fmt.Errorf("session: writing C2: %w", err)
	}

	s2 := make([]byte, 1536)
	if _, err := io.ReadFull(rw, s2); err != nil {
		return fmt.Errorf("session: reading S2: %w", err)
	}
	for i := 8; i < 1536; i++ {
		if c1[i-8] != s2[i] {
			return fmt.Errorf("session: S2 echo mismatch at byte %d", i)
		}
	}
	return nil
}
