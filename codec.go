package bridge

import (
	"encoding/binary"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
)

// DecodeQuery parses raw wire-format bytes into a DNS query. Beyond the
// wire format itself, a valid query must carry exactly one question and
// must not have the response bit set. Any failure is reported as a
// *MalformedMessageError which carries the transaction id when the first
// two header bytes were readable, so the caller can still reply FORMERR.
func DecodeQuery(raw []byte) (*dns.Msg, error) {
	q := new(dns.Msg)
	if err := q.Unpack(raw); err != nil {
		return nil, malformed(raw, err)
	}
	if q.Response {
		return nil, malformed(raw, errors.New("message is a response, not a query"))
	}
	if q.Opcode != dns.OpcodeQuery {
		return nil, malformed(raw, errors.Errorf("unsupported opcode %d", q.Opcode))
	}
	if len(q.Question) != 1 {
		return nil, malformed(raw, errors.Errorf("expected one question, got %d", len(q.Question)))
	}
	return q, nil
}

func malformed(raw []byte, cause error) *MalformedMessageError {
	e := &MalformedMessageError{Cause: cause}
	if len(raw) >= 2 {
		e.Id = binary.BigEndian.Uint16(raw[:2])
		e.HasId = true
	}
	return e
}

// EncodeAnswer serializes a response message to wire format. A non-zero
// udpSize means the answer goes out over UDP: records that don't fit are
// dropped and the TC flag set so the client retries over TCP. TCP callers
// pass 0, the only ceiling there is the 16-bit length prefix enforced by
// the server.
func EncodeAnswer(a *dns.Msg, udpSize int) ([]byte, error) {
	if udpSize > 0 {
		a.Truncate(udpSize)
	}
	return a.Pack()
}

// udpSizeFor returns the response size limit for a query received over
// UDP: the size advertised with EDNS0, or the classic 512 bytes without.
func udpSizeFor(q *dns.Msg) int {
	if edns0 := q.IsEdns0(); edns0 != nil {
		return int(edns0.UDPSize())
	}
	return dns.MinMsgSize
}
