package bridge

import (
	"errors"
	"fmt"

	"github.com/miekg/dns"
)

// ErrOverloaded is returned by Processor.Submit when the bounded work
// queue is at capacity. Servers receiving it drop the query, matching the
// loss-tolerant semantics DNS clients already handle.
var ErrOverloaded = errors.New("work queue full")

// ErrServiceNotRunning is returned by Processor.Submit when the processor
// hasn't been started yet or has been stopped.
var ErrServiceNotRunning = errors.New("service not running")

// ErrProviderNotFound is returned when looking up a DoH provider name that
// isn't in the registry.
var ErrProviderNotFound = errors.New("provider not found")

// QueryTimeoutError is returned when a query times out.
type QueryTimeoutError struct {
	query *dns.Msg
}

func (e *QueryTimeoutError) Error() string {
	if e.query == nil {
		return "query timed out"
	}
	return fmt.Sprintf("query for '%s' timed out", qName(e.query))
}

// MalformedMessageError is returned when raw bytes could not be decoded
// into a valid DNS query. If enough of the header was readable, Id holds
// the transaction id so a FORMERR response can still be sent back.
type MalformedMessageError struct {
	Id    uint16
	HasId bool
	Cause error
}

func (e *MalformedMessageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("malformed DNS message: %s", e.Cause)
	}
	return "malformed DNS message"
}

func (e *MalformedMessageError) Unwrap() error { return e.Cause }
