package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.Simulation.TickInterval)
	assert.Equal(t, 10.0, cfg.Simulation.Speed)
	assert.Equal(t, "haversine", cfg.Simulation.Geometry)
	assert.True(t, cfg.Simulation.SeedDefaultRoute)
	assert.Equal(t, "drone/sim/telemetry", cfg.MQTT.TelemetryTopic)
	assert.Equal(t, "drone/sim/cmd", cfg.MQTT.CommandTopic)
	assert.Equal(t, 24*time.Hour, cfg.Redis.SnapshotTTL)
	assert.False(t, cfg.MQTTEnabled())
	assert.False(t, cfg.HistoryEnabled())
	assert.True(t, cfg.RedisEnabled())
	assert.Equal(t, 30*24*time.Hour, cfg.MySQL.Retention)
	assert.Empty(t, cfg.Auth.Tokens)
	assert.Zero(t, cfg.Import.DedupDistance)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("SIM_TICK_INTERVAL", "250ms")
	t.Setenv("SIM_SPEED", "2.5")
	t.Setenv("SIM_GEOMETRY", "Planar")
	t.Setenv("MQTT_URL", "tcp://broker:1883")
	t.Setenv("MQTT_QOS", "1")
	t.Setenv("MYSQL_DSN", "user:pass@tcp(db:3306)/sim")
	t.Setenv("BATCH_SIZE", "not-a-number")
	t.Setenv("AUTH_TOKENS", "alice:secret")
	t.Setenv("IMPORT_OUTLIER_THRESHOLD", "5000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Simulation.TickInterval)
	assert.Equal(t, 2.5, cfg.Simulation.Speed)
	assert.Equal(t, "planar", cfg.Simulation.Geometry)
	assert.Equal(t, 1, cfg.MQTT.QoS)
	assert.True(t, cfg.MQTTEnabled())
	assert.True(t, cfg.HistoryEnabled())
	// Некорректное значение заменяется значением по умолчанию
	assert.Equal(t, 100, cfg.Batch.Size)
	assert.Equal(t, "alice:secret", cfg.Auth.Tokens)
	assert.Equal(t, 5000.0, cfg.Import.OutlierThreshold)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"Zero tick interval", func(c *Config) { c.Simulation.TickInterval = 0 }},
		{"Negative speed", func(c *Config) { c.Simulation.Speed = -1 }},
		{"Unknown geometry", func(c *Config) { c.Simulation.Geometry = "vincenty" }},
		{"Bad QoS", func(c *Config) { c.MQTT.URL = "tcp://x:1883"; c.MQTT.QoS = 3 }},
		{"Zero batch size", func(c *Config) { c.Batch.Size = 0 }},
		{"Sample ratio above one", func(c *Config) { c.Tracing.SampleRatio = 1.5 }},
		{"Unknown exporter", func(c *Config) { c.Tracing.Exporter = "zipkin" }},
		{"Negative dedup distance", func(c *Config) { c.Import.DedupDistance = -1 }},
		{"Auth endpoint without cache TTL", func(c *Config) { c.Auth.Endpoint = "http://auth"; c.Auth.CacheTTL = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)

			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
