package cmd

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"

	"github.com/nodegeo/nodegeo/cache"
)

func TestCacheDefaults(t *testing.T) {
	assert.Equal(t, cache.DefaultSize, viper.GetInt("cache.size"))
	assert.Equal(t, cache.DefaultTTL, viper.GetDuration("cache.ttl"))
}

func TestAPIKeysFromEnvironment(t *testing.T) {
	t.Setenv("NODEGEO_ONLINE_KEYS_IPSTACK", "secret")
	t.Setenv("NODEGEO_ONLINE_KEYS_IPINFO", "token")
	configureEnv()

	keys := serviceOptions().APIKeys
	assert.Equal(t, "secret", keys["ipstack"])
	assert.Equal(t, "token", keys["ipinfo"])
	assert.NotContains(t, keys, "ipbase")
}
