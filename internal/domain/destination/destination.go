// Package destination defines the per-tenant delivery target domain model
// (spec §3.1).
package destination

import "time"

// AuthMode selects how the connector authenticates outbound requests.
type AuthMode string

const (
	AuthNone         AuthMode = "none"
	AuthAPIKeyHeader AuthMode = "api_key_header"
	AuthBearer       AuthMode = "bearer"
	AuthHMACOutbound AuthMode = "hmac_outbound"
)

// Auth references a credential by name rather than embedding it; the
// credential bytes themselves live behind the SecretStore port.
type Auth struct {
	Mode      AuthMode `json:"mode"`
	SecretRef string   `json:"secret_ref,omitempty"`
	Header    string   `json:"header,omitempty"` // header name for api_key_header mode
}

// RetryPolicy overrides the default retry schedule (spec §4.9) for one
// destination. Zero values mean "use the service-wide default".
type RetryPolicy struct {
	MaxAttempts      int           `json:"max_attempts,omitempty"`
	BaseDelay        time.Duration `json:"base_delay,omitempty"`
	MaxDelay         time.Duration `json:"max_delay,omitempty"`
	PerAttemptTimeout time.Duration `json:"per_attempt_timeout,omitempty"`
}

// Destination is a named delivery target owned by a tenant.
type Destination struct {
	TenantID     string            `json:"tenant_id"`
	ID           string            `json:"id"`
	Type         string            `json:"type"` // "rest", "email", "crm_xyz", ...
	Enabled      bool              `json:"enabled"`
	Endpoint     string            `json:"endpoint"`
	Method       string            `json:"method"` // POST | PUT | PATCH
	TimeoutMS    int               `json:"timeout_ms"`
	FieldMapping map[string]string `json:"field_mapping"` // target field -> JMESPath-style expression
	StaticHeaders map[string]string `json:"static_headers,omitempty"`
	Auth         Auth              `json:"auth"`
	RetryPolicy  RetryPolicy       `json:"retry_policy"`
	RateLimitRPS float64           `json:"rate_limit_rps"` // default 10 req/s -> 600/min
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// DefaultRateLimitRPS is used when a destination record leaves RateLimitRPS
// unset (spec §4.10).
const DefaultRateLimitRPS = 10.0

// EffectiveRateLimitRPS returns d.RateLimitRPS, or DefaultRateLimitRPS if unset.
func (d Destination) EffectiveRateLimitRPS() float64 {
	if d.RateLimitRPS <= 0 {
		return DefaultRateLimitRPS
	}
	return d.RateLimitRPS
}

// Timeout returns d.TimeoutMS as a time.Duration, defaulting to 10s.
func (d Destination) Timeout() time.Duration {
	if d.TimeoutMS <= 0 {
		return 10 * time.Second
	}
	return time.Duration(d.TimeoutMS) * time.Millisecond
}
