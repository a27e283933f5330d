package bridge

import (
	"fmt"
	"strings"

	syslog "github.com/RackSec/srslog"
	"github.com/miekg/dns"
)

// Syslog is a resolver wrapper that forwards every query unmodified to the
// next resolver and writes query and answer lines to syslog.
type Syslog struct {
	id       string
	writer   *syslog.Writer
	resolver Resolver
	opt      SyslogOptions
}

var _ Resolver = &Syslog{}

// SyslogOptions contains options for a Syslog query logger.
type SyslogOptions struct {
	// "udp", "tcp", "unix". Defaults to "udp".
	Network string

	// Remote address, defaults to the local syslog server.
	Address string

	// Priority value as per https://pkg.go.dev/log/syslog#Priority
	Priority int

	// Syslog tag
	Tag string

	// Log queries and/or answers.
	LogQuery  bool
	LogAnswer bool
}

// NewSyslog returns a new instance of a Syslog query logger.
func NewSyslog(id string, resolver Resolver, opt SyslogOptions) (*Syslog, error) {
	writer, err := syslog.Dial(opt.Network, opt.Address, syslog.Priority(opt.Priority), opt.Tag)
	if err != nil {
		return nil, err
	}
	return &Syslog{
		id:       id,
		writer:   writer,
		resolver: resolver,
		opt:      opt,
	}, nil
}

// Resolve passes the query through unmodified; details are sent via syslog.
func (r *Syslog) Resolve(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
	if r.opt.LogQuery {
		r.send(fmt.Sprintf("id=%s qid=%d type=query client=%s qtype=%s qname=%s", r.id, q.Id, ci.SourceIP, qType(q), qName(q)), q, ci)
	}

	a, err := r.resolver.Resolve(q, ci)
	if err == nil && a != nil && r.opt.LogAnswer {
		if a.Rcode == dns.RcodeSuccess {
			for i, rr := range a.Answer {
				record := strings.ReplaceAll(rr.String(), "\t", " ")
				r.send(fmt.Sprintf("id=%s qid=%d type=answer answer-num=%d/%d qname=%s answer=%q", r.id, q.Id, i+1, len(a.Answer), qName(q), record), q, ci)
			}
		} else {
			r.send(fmt.Sprintf("id=%s qid=%d type=answer qname=%s rcode=%s", r.id, q.Id, qName(q), rCode(a)), q, ci)
		}
	}
	return a, err
}

func (r *Syslog) String() string {
	return r.id
}

func (r *Syslog) send(msg string, q *dns.Msg, ci ClientInfo) {
	if _, err := r.writer.Write([]byte(msg)); err != nil {
		logger(r.id, q, ci).WithError(err).Error("failed to send syslog")
	}
}
