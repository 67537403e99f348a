package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"itemescrow/native/fees"
)

// MinSecretLength is the shortest HMAC secret accepted for token signing.
const MinSecretLength = 16

// Validate checks the configuration before the service starts.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config: nil")
	}
	if _, err := c.OwnerAddress(); err != nil {
		return err
	}
	if err := fees.ValidateRate(c.FeeBps); err != nil {
		return fmt.Errorf("config: FeeBps: %w", err)
	}
	if _, _, err := net.SplitHostPort(c.ListenAddress); err != nil {
		return fmt.Errorf("config: ListenAddress %q: %w", c.ListenAddress, err)
	}
	if len(c.Auth.HMACSecret) < MinSecretLength {
		return fmt.Errorf("config: Auth.HMACSecret must be at least %d bytes (set %s)", MinSecretLength, EnvAuthSecret)
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("config: RateLimit values must not be negative")
	}
	if strings.TrimSpace(c.Webhook.URL) != "" {
		parsed, err := url.Parse(c.Webhook.URL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return fmt.Errorf("config: Webhook.URL %q must be an http(s) URL", c.Webhook.URL)
		}
		if c.Webhook.Secret == "" {
			return fmt.Errorf("config: Webhook.Secret required when Webhook.URL is set (set %s)", EnvWebhookSecret)
		}
	}
	return nil
}

// OwnerAddress parses the configured platform owner.
func (c *Config) OwnerAddress() (common.Address, error) {
	raw := strings.TrimSpace(c.Owner)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("config: Owner %q is not a hex address (set %s)", raw, EnvOwner)
	}
	addr := common.HexToAddress(raw)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("config: Owner must not be the zero address")
	}
	return addr, nil
}
