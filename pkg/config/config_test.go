package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/zapgate-labs/zapgate/pkg/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ZAPGATE_RELAYS", "")
	t.Setenv("ZAPGATE_NODES_CONFIG", "")
	t.Setenv("ZAPGATE_AUDIT_DB", "")
	t.Setenv("ZAPGATE_REDIS_ADDR", "")
	t.Setenv("ZAPGATE_BACKLOG_TIMEOUT", "")
	t.Setenv("ZAPGATE_GATEWAY_TIMEOUT", "")
	t.Setenv("LOG_LEVEL", "")

	cfg := config.Load()

	assert.Equal(t, []string{"ws://localhost:7447"}, cfg.Relays)
	assert.Equal(t, "nodes.yaml", cfg.NodesConfig)
	assert.Equal(t, "zapgate-audit.db", cfg.AuditDB)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, 10*time.Second, cfg.BacklogTimeout)
	assert.Equal(t, 30*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, "INFO", cfg.LogLevel)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ZAPGATE_RELAYS", "wss://relay-a.example, wss://relay-b.example ,")
	t.Setenv("ZAPGATE_NODES_CONFIG", "/etc/zapgate/nodes.json")
	t.Setenv("ZAPGATE_AUDIT_DB", "/var/lib/zapgate/audit.db")
	t.Setenv("ZAPGATE_REDIS_ADDR", "redis:6379")
	t.Setenv("ZAPGATE_BACKLOG_TIMEOUT", "3s")
	t.Setenv("ZAPGATE_GATEWAY_TIMEOUT", "45s")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg := config.Load()

	assert.Equal(t, []string{"wss://relay-a.example", "wss://relay-b.example"}, cfg.Relays)
	assert.Equal(t, "/etc/zapgate/nodes.json", cfg.NodesConfig)
	assert.Equal(t, "/var/lib/zapgate/audit.db", cfg.AuditDB)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, 3*time.Second, cfg.BacklogTimeout)
	assert.Equal(t, 45*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
}

func TestLoadRejectsMalformedDurations(t *testing.T) {
	t.Setenv("ZAPGATE_BACKLOG_TIMEOUT", "soon")
	t.Setenv("ZAPGATE_GATEWAY_TIMEOUT", "-5s")

	cfg := config.Load()

	assert.Equal(t, 10*time.Second, cfg.BacklogTimeout)
	assert.Equal(t, 30*time.Second, cfg.GatewayTimeout)
}
