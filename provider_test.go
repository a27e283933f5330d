package bridge

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestLookupProvider(t *testing.T) {
	p, err := LookupProvider("cloudflare")
	require.NoError(t, err)
	require.Equal(t, "cloudflare", p.Name())
	require.Equal(t, ConventionCloudflare, p.convention)

	p, err = LookupProvider("google")
	require.NoError(t, err)
	require.Equal(t, ConventionGoogle, p.convention)
}

func TestLookupProviderUnknown(t *testing.T) {
	_, err := LookupProvider("does-not-exist")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrProviderNotFound))
}

func TestProviderEndpointExpansion(t *testing.T) {
	p, err := LookupProvider("google")
	require.NoError(t, err)

	u, err := p.template.Expand(map[string]interface{}{
		"name": "example.com.",
		"type": "A",
	})
	require.NoError(t, err)
	require.Equal(t, "https://dns.google.com/resolve?name=example.com.&type=A", u)
}

func TestProviderNames(t *testing.T) {
	names := ProviderNames()
	require.Contains(t, names, "cloudflare")
	require.Contains(t, names, "google")
	require.Contains(t, names, "quad9")
	require.Contains(t, names, DefaultProvider)
}
