package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBrokerError(t *testing.T) {
	err := NewBrokerError("no queue 'orders'", NotFound)
	assert.Equal(t, "broker error 404: no queue 'orders'", err.Error())
	assert.Equal(t, NotFound, err.ReplyCode())
	assert.Equal(t, "no queue 'orders'", err.ReplyText())
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stderrors.New("disk full")
	err := fmt.Errorf("enqueue: %w", Wrap(cause, ResourceError))

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ResourceError, CodeOf(err))
	assert.Equal(t, InternalError, CodeOf(cause))
}
