package registry

import (
	"errors"
	"sync"
)

// ErrPoolExhausted is returned by Borrow when every credential is
// currently leased out.
var ErrPoolExhausted = errors.New("registry: credential pool exhausted")

// Credential is a single login pair handed to one worker at a time.
type Credential struct {
	Username string
	Password string
}

// CredentialPool is a fixed-size FIFO of login credentials, one per
// logged-in worker: a worker borrows the credential at the front of the
// queue on handshake and returns it to the front again on disconnect
// (not the back — a just-freed credential is the one most likely to
// have a still-warm session on the remote login server, so it is
// retried first).
type CredentialPool struct {
	mu        sync.Mutex
	available []Credential
	total     int
}

// NewCredentialPool seeds the pool with the given credentials. The order
// given is the initial borrow order.
func NewCredentialPool(creds []Credential) *CredentialPool {
	cp := &CredentialPool{
		available: append([]Credential(nil), creds...),
		total:     len(creds),
	}
	return cp
}

// Borrow pops the front credential, or returns ErrPoolExhausted if none
// are currently available.
func (cp *CredentialPool) Borrow() (Credential, error) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if len(cp.available) == 0 {
		return Credential{}, ErrPoolExhausted
	}
	c := cp.available[0]
	cp.available = cp.available[1:]
	return c, nil
}

// Return pushes a credential back onto the front of the queue.
func (cp *CredentialPool) Return(c Credential) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.available = append([]Credential{c}, cp.available...)
}

// Available reports how many credentials are currently unborrowed.
func (cp *CredentialPool) Available() int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.available)
}

// Total reports the pool's fixed starting size.
func (cp *CredentialPool) Total() int {
	return cp.total
}
