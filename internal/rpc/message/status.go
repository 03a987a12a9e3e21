package message

import (
	"errors"
	"fmt"

	"github.com/brianly1003/adid/internal/binder"
)

// Status is the transport-level outcome of a transaction. Remote exceptions
// travel inside the reply payload with StatusOK.
type Status int32

// Transaction status codes.
const (
	StatusOK                 Status = 0
	StatusDeadObject         Status = -32 // -EPIPE
	StatusUnknownTransaction Status = -74 // -EBADMSG
	StatusRateLimited        Status = -11 // -EAGAIN
	StatusFailedTransaction  Status = -2147483646
)

// ErrRateLimited is reported when the service host throttles a connection.
var ErrRateLimited = errors.New("transaction rate limited")

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusDeadObject:
		return "dead_object"
	case StatusUnknownTransaction:
		return "unknown_transaction"
	case StatusRateLimited:
		return "rate_limited"
	case StatusFailedTransaction:
		return "failed_transaction"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// Err converts the status to an error, nil for StatusOK.
func (s Status) Err() error {
	switch s {
	case StatusOK:
		return nil
	case StatusDeadObject:
		return binder.ErrDeadObject
	case StatusUnknownTransaction:
		return binder.ErrUnknownTransaction
	case StatusRateLimited:
		return ErrRateLimited
	default:
		return fmt.Errorf("%w: %s", binder.ErrFailedTransaction, s)
	}
}

// StatusFromError maps an error returned by a binder stub to a status.
func StatusFromError(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, binder.ErrUnknownTransaction):
		return StatusUnknownTransaction
	case errors.Is(err, binder.ErrDeadObject):
		return StatusDeadObject
	case errors.Is(err, ErrRateLimited):
		return StatusRateLimited
	default:
		return StatusFailedTransaction
	}
}
