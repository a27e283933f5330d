package bridge

import (
	"net/http"
	"sort"

	"github.com/jtacoma/uritemplates"
	"github.com/pkg/errors"
)

// JSONConvention selects the JSON dialect of a provider. The supported
// providers all derive from the Google JSON API, the differences are in
// the headers a provider expects with the request.
type JSONConvention int

const (
	// ConventionGoogle is the original dns.google.com JSON API. No
	// particular headers are required.
	ConventionGoogle JSONConvention = iota

	// ConventionCloudflare is Cloudflare's variant which requires the
	// request to carry "accept: application/dns-json".
	ConventionCloudflare
)

// Provider describes a DNS-over-HTTPS JSON endpoint: where queries go and
// how they need to be formatted. Providers are immutable and safe to share
// between any number of resolution workers.
type Provider struct {
	name       string
	endpoint   string
	template   *uritemplates.UriTemplate
	convention JSONConvention
	headers    http.Header
}

// NewProvider returns a provider for the given endpoint. The endpoint is a
// RFC 6570 URI template; the "name" and "type" variables carry the query,
// "cd" and "do" the checking-disabled and DNSSEC-OK flags when set.
func NewProvider(name, endpoint string, convention JSONConvention, headers http.Header) (*Provider, error) {
	template, err := uritemplates.Parse(endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid endpoint template for provider %q", name)
	}
	return &Provider{
		name:       name,
		endpoint:   endpoint,
		template:   template,
		convention: convention,
		headers:    headers,
	}, nil
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) String() string { return p.name + " (" + p.endpoint + ")" }

const queryVars = "{?name,type,cd,do}"

// Built-in providers, keyed by the name given on the command line. They
// all speak the JSON convention of DNS-over-HTTPS.
var providers = map[string]*Provider{
	"google":          mustProvider("google", "https://dns.google.com/resolve"+queryVars, ConventionGoogle, nil),
	"cloudflare":      mustProvider("cloudflare", "https://cloudflare-dns.com/dns-query"+queryVars, ConventionCloudflare, nil),
	"quad9":           mustProvider("quad9", "https://dns.quad9.net/dns-query"+queryVars, ConventionGoogle, nil),
	"quad9-secured":   mustProvider("quad9-secured", "https://dns9.quad9.net/dns-query"+queryVars, ConventionGoogle, nil),
	"quad9-unsecured": mustProvider("quad9-unsecured", "https://dns10.quad9.net/dns-query"+queryVars, ConventionGoogle, nil),
	"rubyfish":        mustProvider("rubyfish", "https://dns.rubyfish.cn/dns-query"+queryVars, ConventionGoogle, nil),
	"blahdns":         mustProvider("blahdns", "https://doh-de.blahdns.com/dns-query"+queryVars, ConventionGoogle, nil),
}

// DefaultProvider is used when no provider is named at startup.
const DefaultProvider = "cloudflare"

// LookupProvider returns the built-in provider registered under the given
// name, or ErrProviderNotFound. An unknown name is fatal at startup, the
// provider never changes once the bridge is running.
func LookupProvider(name string) (*Provider, error) {
	p, ok := providers[name]
	if !ok {
		return nil, errors.Wrapf(ErrProviderNotFound, "%q", name)
	}
	return p, nil
}

// ProviderNames returns the names of all built-in providers, sorted.
func ProviderNames() []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func mustProvider(name, endpoint string, convention JSONConvention, headers http.Header) *Provider {
	p, err := NewProvider(name, endpoint, convention, headers)
	if err != nil {
		panic(err)
	}
	return p
}
