package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders("api-key=abc, ,tenant = vest,broken")
	require.Equal(t, map[string]string{"api-key": "abc", "tenant": "vest"}, headers)
}

func TestInitWithoutSignals(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "vestd"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, err = Init(context.Background(), Config{})
	require.Error(t, err)
}

func TestConfigAttributes(t *testing.T) {
	cfg := Config{
		ServiceName:   "vestd",
		Environment:   "test",
		PoolToken:     "VEST",
		Authorization: "delayed",
	}
	got := map[string]string{}
	for _, kv := range cfg.attributes() {
		got[string(kv.Key)] = kv.Value.AsString()
	}
	require.Equal(t, map[string]string{
		"service.name":            "vestd",
		"service.namespace":       "vestchain",
		"deployment.environment":  "test",
		"vestchain.pool.token":    "VEST",
		"vestchain.authorization": "delayed",
	}, got)
}

func TestHeaderKeysSorted(t *testing.T) {
	keys := HeaderKeys(ParseHeaders("tenant=vest,api-key=secret"))
	require.Equal(t, []string{"api-key", "tenant"}, keys)
}
