package adapters_test

import (
	"testing"

	"github.com/smallbiznis/lanes/internal/payment/adapters"
	"github.com/smallbiznis/lanes/internal/payment/adapters/stripe"
	"github.com/smallbiznis/lanes/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryResolvesCaseInsensitively(t *testing.T) {
	registry := adapters.NewRegistry(nil, stripe.NewFactory())
	assert.Equal(t, []string{"stripe"}, registry.Providers())
	assert.True(t, registry.ProviderExists(" Stripe "))
	assert.False(t, registry.ProviderExists("paypal"))

	adapter, err := registry.NewAdapter("STRIPE", domain.AdapterConfig{
		Provider: "stripe",
		Config:   map[string]any{"webhook_secret": "whsec_test"},
	})
	require.NoError(t, err)
	assert.NotNil(t, adapter)

	_, err = registry.NewAdapter("paypal", domain.AdapterConfig{})
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
}

func TestNilRegistry(t *testing.T) {
	var registry *adapters.Registry
	assert.False(t, registry.ProviderExists("stripe"))
	assert.Nil(t, registry.Providers())
}
