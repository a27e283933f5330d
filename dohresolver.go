package bridge

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io/ioutil"
	"net"
	"net/http"
	"time"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
)

// DoHJSONClientOptions contains options used by the DNS-over-HTTPS JSON resolver.
type DoHJSONClientOptions struct {
	// Bootstrap address - IP to use to reach the provider instead of
	// looking up the provider's hostname with potentially plain DNS. Only
	// the dial address is rewritten; the request URL keeps the canonical
	// hostname so the Host header and TLS server name stay correct.
	BootstrapAddr string

	// Local IP to use for outbound connections. If nil, a local address is chosen.
	LocalAddr net.IP

	// Timeout for the whole HTTPS exchange. Defaults to 10s.
	QueryTimeout time.Duration

	TLSConfig *tls.Config
}

// DoHJSONClient resolves DNS queries against a DNS-over-HTTPS provider
// speaking the JSON convention, over HTTPS GET.
type DoHJSONClient struct {
	id       string
	provider *Provider
	client   *http.Client
	opt      DoHJSONClientOptions
}

var _ Resolver = &DoHJSONClient{}

// NewDoHJSONClient returns a resolver that queries the given provider.
func NewDoHJSONClient(id string, provider *Provider, opt DoHJSONClientOptions) (*DoHJSONClient, error) {
	tr, err := dohTransport(opt)
	if err != nil {
		return nil, err
	}
	if opt.QueryTimeout == 0 {
		opt.QueryTimeout = 10 * time.Second
	}
	return &DoHJSONClient{
		id:       id,
		provider: provider,
		client: &http.Client{
			Transport: tr,
			Timeout:   opt.QueryTimeout,
		},
		opt: opt,
	}, nil
}

// Resolve a DNS query through the provider. Failures degrade into a
// SERVFAIL answer rather than an error: the client behind the bridge must
// always receive a syntactically valid reply, whatever happened upstream.
func (d *DoHJSONClient) Resolve(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
	log := logger(d.id, q, ci).WithFields(logrus.Fields{
		"resolver": d.provider.Name(),
		"protocol": "doh-json",
	})
	log.Debug("querying upstream provider")

	a, err := d.query(q, log)
	if err != nil {
		log.WithError(err).Error("failed to resolve")
		return servfail(q), nil
	}
	return a, nil
}

func (d *DoHJSONClient) String() string {
	return d.id
}

func (d *DoHJSONClient) query(q *dns.Msg, log *logrus.Entry) (*dns.Msg, error) {
	question := q.Question[0]
	vars := map[string]interface{}{
		"name": question.Name,
		"type": dns.Type(question.Qtype).String(),
	}
	if q.CheckingDisabled {
		vars["cd"] = "1"
	}
	if edns0 := q.IsEdns0(); edns0 != nil && edns0.Do() {
		vars["do"] = "1"
	}
	u, err := d.provider.template.Expand(vars)
	if err != nil {
		return nil, errors.Wrap(err, "failed to expand endpoint template")
	}

	req, err := http.NewRequest("GET", u, nil)
	if err != nil {
		return nil, err
	}
	switch d.provider.convention {
	case ConventionCloudflare:
		req.Header.Set("Accept", "application/dns-json")
	}
	for k, values := range d.provider.headers {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf("unexpected status code %d from %s", resp.StatusCode, d.provider.Name())
	}
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var jr dohJSONResponse
	if err := json.Unmarshal(body, &jr); err != nil {
		return nil, errors.Wrap(err, "invalid provider response body")
	}
	return jr.apply(q, log), nil
}

func dohTransport(opt DoHJSONClientOptions) (http.RoundTripper, error) {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		TLSClientConfig:       opt.TLSConfig,
		DisableCompression:    true,
		ResponseHeaderTimeout: 10 * time.Second,
		IdleConnTimeout:       30 * time.Second,
	}
	// If we're using a custom tls.Config, HTTP2 isn't enabled by default in
	// the HTTP library. Turn it on for this transport.
	if tr.TLSClientConfig != nil {
		if err := http2.ConfigureTransport(tr); err != nil {
			return nil, err
		}
	}

	// Use a custom dialer if a bootstrap address or local address was provided
	if opt.BootstrapAddr != "" || opt.LocalAddr != nil {
		d := net.Dialer{LocalAddr: &net.TCPAddr{IP: opt.LocalAddr}}
		tr.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			if opt.BootstrapAddr != "" {
				_, port, err := net.SplitHostPort(addr)
				if err != nil {
					return nil, err
				}
				addr = net.JoinHostPort(opt.BootstrapAddr, port)
			}
			return d.DialContext(ctx, network, addr)
		}
	}
	return tr, nil
}
