package exception

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsTransient(t *testing.T) {
	cause := errors.New("connection reset")

	assert.True(t, IsTransient(Transient(cause)))
	assert.True(t, IsTransient(fmt.Errorf("get ticker: %w", Transient(cause))))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(timeoutErr{}))

	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(cause))
	assert.False(t, IsTransient(Permanent(cause)))
	assert.False(t, IsTransient(Permanent(context.DeadlineExceeded)))
}

func TestClassifiedKeepsCause(t *testing.T) {
	err := Permanent(ErrConnectorRejected)

	assert.ErrorIs(t, err, ErrConnectorPermanent)
	assert.ErrorIs(t, err, ErrConnectorRejected)
	assert.Equal(t, "connector: permanent, err: connector: order rejected", err.Error())
	assert.Nil(t, Transient(nil))
}
