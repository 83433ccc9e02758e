// Package config loads runtime configuration from 12-factor environment
// variables with safe local defaults.
package config

import (
	"os"
	"strings"
	"time"
)

// Config holds the zapgate runtime configuration.
type Config struct {
	// Relays is the relay endpoint set, comma separated in the environment.
	Relays []string
	// NodesConfig is the path to the node directory file (JSON or YAML).
	NodesConfig string
	// AuditDB is the sqlite path for the unlock audit trail.
	AuditDB string
	// RedisAddr enables the shared unlock cache when non-empty.
	RedisAddr string
	// RedisTTL bounds how long a cached unlock hint lives.
	RedisTTL time.Duration
	// BacklogTimeout bounds the wait for the relay backlog on reconciliation.
	BacklogTimeout time.Duration
	// GatewayTimeout is the per-request timeout for Lightning gateway calls.
	GatewayTimeout time.Duration
	// SignerSeed is the hex seed of the local signing identity. Optional;
	// without it the process can read but not publish or pay.
	SignerSeed string
	LogLevel   string
	// OTLPEndpoint enables telemetry export when non-empty.
	OTLPEndpoint string
}

// Load loads configuration from environment variables.
func Load() *Config {
	relays := splitList(os.Getenv("ZAPGATE_RELAYS"))
	if len(relays) == 0 {
		relays = []string{"ws://localhost:7447"}
	}

	nodesConfig := os.Getenv("ZAPGATE_NODES_CONFIG")
	if nodesConfig == "" {
		nodesConfig = "nodes.yaml"
	}

	auditDB := os.Getenv("ZAPGATE_AUDIT_DB")
	if auditDB == "" {
		auditDB = "zapgate-audit.db"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	return &Config{
		Relays:         relays,
		NodesConfig:    nodesConfig,
		AuditDB:        auditDB,
		RedisAddr:      os.Getenv("ZAPGATE_REDIS_ADDR"),
		RedisTTL:       duration(os.Getenv("ZAPGATE_REDIS_TTL"), 24*time.Hour),
		BacklogTimeout: duration(os.Getenv("ZAPGATE_BACKLOG_TIMEOUT"), 10*time.Second),
		GatewayTimeout: duration(os.Getenv("ZAPGATE_GATEWAY_TIMEOUT"), 30*time.Second),
		SignerSeed:     os.Getenv("ZAPGATE_SIGNER_SEED"),
		LogLevel:       logLevel,
		OTLPEndpoint:   os.Getenv("ZAPGATE_OTLP_ENDPOINT"),
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
