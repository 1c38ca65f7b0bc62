package relay

import (
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"github.com/voltwatch/upsmonitor/internal/upsmodel"
)

const (
	sandboxBaseURL    = "https://sandbox.relay.volteec.example"
	productionBaseURL = "https://relay.volteec.example"
)

// Config is validated Relay connection state: the base URL parses, both IDs
// are UUIDs, and the secret is non-empty, per §4.6.
type Config struct {
	BaseURL     string
	TenantID    uuid.UUID
	Secret      string
	ServerID    uuid.UUID
	Environment upsmodel.Environment
}

// NewConfig validates the raw string fields loaded from the environment
// (§6.5's RELAY_TENANT_ID/SECRET/SERVER_ID, VOLTEEC_DEPLOYMENT) and selects
// the base URL by deployment.
func NewConfig(tenantID, secret, serverID, deployment string) (Config, error) {
	tid, err := uuid.Parse(tenantID)
	if err != nil {
		return Config{}, fmt.Errorf("relay: invalid tenant id: %w", err)
	}
	sid, err := uuid.Parse(serverID)
	if err != nil {
		return Config{}, fmt.Errorf("relay: invalid server id: %w", err)
	}
	if secret == "" {
		return Config{}, fmt.Errorf("relay: secret must not be empty")
	}

	env := upsmodel.EnvironmentSandbox
	base := sandboxBaseURL
	if deployment == "production" {
		env = upsmodel.EnvironmentProduction
		base = productionBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return Config{}, fmt.Errorf("relay: invalid base url: %w", err)
	}

	return Config{BaseURL: base, TenantID: tid, Secret: secret, ServerID: sid, Environment: env}, nil
}
