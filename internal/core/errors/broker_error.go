package errors

import (
	stderrors "errors"
	"fmt"
)

// Reply codes shared by the protocol front ends. Values follow the AMQP 0-9-1
// reply codes so they can be sent as-is by that protocol.
const (
	NotFound           uint16 = 404
	PreconditionFailed uint16 = 406
	SyntaxError        uint16 = 502
	ResourceError      uint16 = 506
	NotImplemented     uint16 = 540
	InternalError      uint16 = 541
)

// ReplyError is an error that carries a reply code and text for the client.
type ReplyError interface {
	error
	ReplyText() string
	ReplyCode() uint16
}

type BrokerError struct {
	code  uint16
	text  string
	cause error
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("broker error %d: %s", e.code, e.text)
}

func (e *BrokerError) ReplyText() string {
	return e.text
}

func (e *BrokerError) ReplyCode() uint16 {
	return e.code
}

func (e *BrokerError) Unwrap() error {
	return e.cause
}

func NewBrokerError(text string, code uint16) ReplyError {
	return &BrokerError{code: code, text: text}
}

// Wrap attaches a reply code to cause; errors.Is still sees through it.
func Wrap(cause error, code uint16) ReplyError {
	return &BrokerError{code: code, text: cause.Error(), cause: cause}
}

// CodeOf returns the reply code of the first ReplyError in err's chain, or
// InternalError.
func CodeOf(err error) uint16 {
	var re ReplyError
	if stderrors.As(err, &re) {
		return re.ReplyCode()
	}
	return InternalError
}
