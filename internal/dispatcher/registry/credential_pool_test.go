package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedPool() *CredentialPool {
	return NewCredentialPool([]Credential{
		{Username: "a", Password: "pa"},
		{Username: "b", Password: "pb"},
		{Username: "c", Password: "pc"},
	})
}

func TestCredentialPoolBorrowIsFIFO(t *testing.T) {
	cp := seedPool()
	c, err := cp.Borrow()
	require.NoError(t, err)
	assert.Equal(t, "a", c.Username)
}

func TestCredentialPoolReturnPushesFront(t *testing.T) {
	cp := seedPool()
	a, _ := cp.Borrow()
	_, _ = cp.Borrow() // b
	cp.Return(a)

	next, err := cp.Borrow()
	require.NoError(t, err)
	assert.Equal(t, "a", next.Username, "a returned to the front must be the next to be lent out")
}

func TestCredentialPoolConservation(t *testing.T) {
	cp := seedPool()
	var borrowed []Credential
	for cp.Available() > 0 {
		c, err := cp.Borrow()
		require.NoError(t, err)
		borrowed = append(borrowed, c)
	}
	assert.Equal(t, 0, cp.Available())
	_, err := cp.Borrow()
	assert.ErrorIs(t, err, ErrPoolExhausted)

	for _, c := range borrowed {
		cp.Return(c)
	}
	assert.Equal(t, cp.Total(), cp.Available(), "borrowed+available must equal the initial total")
}
