package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodegeo/nodegeo/provider"
	"github.com/nodegeo/nodegeo/utils"
)

func TestPrintProbe(t *testing.T) {
	var buf bytes.Buffer
	printProbe(&buf, []provider.ProbeResult{
		{Name: provider.NameIPAPI, Tier: 1, Available: true, Healthy: true, Latency: 120 * time.Millisecond, Country: "Germany", City: "Berlin"},
		{Name: provider.NameIPInfo, Tier: 1, Available: true, Error: "status 503"},
		{Name: provider.NameIPStack, Tier: 3, Error: "no API key configured"},
	})

	out := buf.String()
	assert.Contains(t, out, "Berlin, Germany")
	assert.Contains(t, out, "failing")
	assert.Contains(t, out, "unavailable")
	assert.Contains(t, out, "1 of 3 providers healthy")
}

func TestSelectDescriptors(t *testing.T) {
	descriptors := provider.NewOnlineDescriptors(provider.ServiceOptions{})

	all, err := selectDescriptors(descriptors, nil)
	require.NoError(t, err)
	assert.Len(t, all, len(descriptors))

	picked, err := selectDescriptors(descriptors, []string{provider.NameIPStack, provider.NameIPAPI})
	require.NoError(t, err)
	require.Len(t, picked, 2)
	assert.Equal(t, provider.NameIPAPI, picked[0].Name)
	assert.Equal(t, provider.NameIPStack, picked[1].Name)

	_, err = selectDescriptors(descriptors, []string{"example.org"})
	assert.ErrorIs(t, err, utils.UnknownProviderError{Provider: "example.org"})
}
