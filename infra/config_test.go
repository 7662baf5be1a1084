package infra

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Cleanup(func() { AppConfig = DefaultConfig() })
	t.Chdir(t.TempDir())

	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  base_url: http://backend:9000
watcher:
  poll_interval_seconds: 5
push:
  transport: redis
dispatch:
  driver_names: [Moana]
`), 0o600))

	require.NoError(t, LoadConfig(path))

	assert.Equal(t, "http://backend:9000", AppConfig.API.BaseURL)
	assert.Equal(t, 5*time.Second, AppConfig.PollInterval())
	assert.Equal(t, "redis", AppConfig.Push.Transport)
	assert.Equal(t, []string{"Moana"}, AppConfig.Dispatch.DriverNames)
	// 未設定的欄位沿用預設值
	assert.Equal(t, "order_events", AppConfig.RabbitMQ.Exchange)
	assert.Equal(t, 10*time.Second, AppConfig.APITimeout())
}

func TestLoadConfig_MissingFileKeepsDefaults(t *testing.T) {
	t.Cleanup(func() { AppConfig = DefaultConfig() })
	t.Chdir(t.TempDir())

	require.NoError(t, LoadConfig(filepath.Join(t.TempDir(), "missing.yml")))
	assert.Equal(t, 3*time.Second, AppConfig.PollInterval())
	assert.Equal(t, "websocket", AppConfig.Push.Transport)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	t.Cleanup(func() { AppConfig = DefaultConfig() })
	t.Chdir(t.TempDir())

	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("watcher: [not a map"), 0o600))

	assert.Error(t, LoadConfig(path))
}

func TestQueueNames(t *testing.T) {
	assert.Equal(t, "order.ord-1.driver_assigned", DriverAssignedRoutingKey("ord-1"))
	assert.Equal(t, "order_assigned:ord-1", DriverAssignedChannel("ord-1"))
}
