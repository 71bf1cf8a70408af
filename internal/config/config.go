// Package config is the control plane's configuration tree: a single
// Config struct unmarshaled from YAML, with a DefaultConfig for
// zero-config startup, matching spec.md §6's "Recognized options".
package config

import "time"

// Config is the top-level control plane configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Storage        StorageConfig        `yaml:"storage"`
	PolicyEngine   PolicyEngineConfig   `yaml:"policy_engine"`
	Audit          AuditConfig          `yaml:"audit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Approval       ApprovalConfig       `yaml:"approval"`
	Model          ModelConfig          `yaml:"model"`
	Auth           AuthConfig           `yaml:"auth"`
	Sanitize       SanitizeConfig       `yaml:"sanitize"`
	EnforceMode    bool                 `yaml:"enforce_mode"`
}

// ServerConfig controls the ingress HTTP listener.
type ServerConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	CORS     bool   `yaml:"cors"`
}

// StorageConfig selects the durable backend for the Audit Trail and
// Agent Registry. Driver "memory" (the default) keeps both in-process
// only, matching spec.md §6's "V1 core keeps... in memory" note;
// "sqlite" attaches the SQLite-backed PersistentStore to each.
type StorageConfig struct {
	Driver    string        `yaml:"driver"` // "memory" or "sqlite"
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// PolicyEngineConfig is spec.md §6's "policy_engine.directory — path
// whence policies are loaded; absence = empty policy set."
type PolicyEngineConfig struct {
	Directory string `yaml:"directory"`
}

// AuditConfig is spec.md §6's "audit.secret — HMAC secret; required;
// component refuses to start if empty."
type AuditConfig struct {
	Secret string `yaml:"secret"`
}

// CircuitBreakerConfig mirrors spec.md §6's circuit_breaker.* options.
type CircuitBreakerConfig struct {
	FailureThreshold uint32 `yaml:"failure_threshold"`
	SuccessThreshold uint32 `yaml:"success_threshold"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
}

// ApprovalConfig mirrors spec.md §6's approval.sweep_interval_seconds.
type ApprovalConfig struct {
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
}

// ModelConfig configures the injected model call's Anthropic adapter.
// APIKey is normally supplied via ${ANTHROPIC_API_KEY} substitution
// rather than committed to a config file.
type ModelConfig struct {
	APIKey    string `yaml:"api_key"`
	MaxTokens int64  `yaml:"max_tokens"`
}

// AuthConfig controls the ingress bearer-token validator. Disabled by
// default: a zero-config deployment trusts the identity embedded in each
// request body, matching spec.md §6's ingress contract. Enabling it
// switches the ingress Handler to internal/auth's development token
// validator (per spec.md §6 Open Question #3 — the core only depends on
// the abstract identity.Validator interface; production deployments
// should supply a real OIDC verifier instead).
type AuthConfig struct {
	Enabled  bool          `yaml:"enabled"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// SanitizeConfig controls the prompt-injection scanner registered as a
// pre_request pluginbus hook. Mode "flag" records a detection without
// blocking, "deny" aborts the request.
type SanitizeConfig struct {
	Enabled bool   `yaml:"enabled"`
	Mode    string `yaml:"mode"` // flag, deny
}

// DefaultConfig returns a config with sensible defaults for
// zero-config startup. Audit.Secret is deliberately left empty —
// audit.New refuses to start without one, so a zero-config deployment
// fails loudly at startup rather than logging unsigned entries.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     6777,
			LogLevel: "info",
			CORS:     false,
		},
		Storage: StorageConfig{
			Driver:    "memory",
			Path:      "./controlplane.db",
			Retention: 30 * 24 * time.Hour,
		},
		PolicyEngine: PolicyEngineConfig{
			Directory: "./policies",
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			TimeoutSeconds:   60,
		},
		Approval: ApprovalConfig{
			SweepIntervalSeconds: 30,
		},
		Model: ModelConfig{
			MaxTokens: 4096,
		},
		Auth: AuthConfig{
			Enabled:  false,
			TokenTTL: time.Hour,
		},
		Sanitize: SanitizeConfig{
			Enabled: true,
			Mode:    "flag",
		},
		EnforceMode: true,
	}
}
