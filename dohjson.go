package bridge

import (
	"fmt"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

// dohJSONResponse is the JSON document returned by DoH JSON providers such
// as dns.google.com or cloudflare-dns.com. The Status field carries a
// standard DNS response code and maps 1:1 into the reply rcode.
type dohJSONResponse struct {
	Status   int         `json:"Status"`
	TC       bool        `json:"TC"`
	RD       bool        `json:"RD"`
	RA       bool        `json:"RA"`
	AD       bool        `json:"AD"`
	CD       bool        `json:"CD"`
	Question []dohJSONRR `json:"Question"`
	Answer   []dohJSONRR `json:"Answer"`
	Comment  string      `json:"Comment"`
}

// dohJSONRR is one entry of the Question or Answer arrays. Answer data is
// in presentation format, e.g. "93.184.216.34" for an A record.
type dohJSONRR struct {
	Name string `json:"name"`
	Type uint16 `json:"type"`
	TTL  uint32 `json:"TTL"`
	Data string `json:"data"`
}

// apply builds the wire-format reply for query q out of the provider's
// JSON document. Answer entries of a type that can't be mapped are skipped
// with a log line rather than failing the whole response.
func (r *dohJSONResponse) apply(q *dns.Msg, log *logrus.Entry) *dns.Msg {
	a := new(dns.Msg)
	a.SetRcode(q, r.Status)
	a.Truncated = r.TC
	a.RecursionDesired = r.RD
	a.RecursionAvailable = r.RA
	a.AuthenticatedData = r.AD
	a.CheckingDisabled = r.CD

	for _, entry := range r.Answer {
		rr, err := entry.toRR()
		if err != nil {
			log.WithField("name", entry.Name).WithError(err).Warn("skipping answer record")
			continue
		}
		a.Answer = append(a.Answer, rr)
	}
	return a
}

// toRR converts a JSON answer entry into a resource record by assembling
// its zone-file representation, which is the format the JSON protocol uses
// for record data.
func (entry dohJSONRR) toRR() (dns.RR, error) {
	t, ok := dns.TypeToString[entry.Type]
	if !ok {
		return nil, fmt.Errorf("unknown record type %d", entry.Type)
	}
	return dns.NewRR(fmt.Sprintf("%s %d IN %s %s", dns.Fqdn(entry.Name), entry.TTL, t, entry.Data))
}
