package config

import "time"

// Auth configures bearer token verification for the HTTP API. The token
// subject carries the caller's hex address.
type Auth struct {
	HMACSecret string        `toml:"HMACSecret"`
	Issuer     string        `toml:"Issuer"`
	Audience   string        `toml:"Audience"`
	ClockSkew  time.Duration `toml:"ClockSkew"`
	TokenTTL   time.Duration `toml:"TokenTTL"`
}

// RateLimit controls per-client request admission.
type RateLimit struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
	Traces   bool   `toml:"Traces"`
	Metrics  bool   `toml:"Metrics"`
}

// Webhook configures the signed event push. Delivery is disabled when URL is
// empty.
type Webhook struct {
	URL         string        `toml:"URL"`
	Secret      string        `toml:"Secret"`
	MaxAttempts int           `toml:"MaxAttempts"`
	MinBackoff  time.Duration `toml:"MinBackoff"`
	MaxBackoff  time.Duration `toml:"MaxBackoff"`
}
