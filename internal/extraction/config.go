package extraction

import "time"

// Default policy shared by both backends.
const (
	defaultTimeout     = 30 * time.Second
	defaultMaxRetries  = 2
	defaultBaseBackoff = 1 * time.Second
	maxBackoff         = 5 * time.Second

	// midpointConfidence is substituted when the backend reports a
	// confidence that is missing or not a number.
	midpointConfidence = 50
)

// Rate limiter defaults for the remote backend: 50 requests per minute.
const (
	defaultRateLimit = 50.0 / 60.0
	defaultBurst     = 5
)

// Config holds one backend's connection settings.
type Config struct {
	BaseURL    string        `json:"baseUrl" koanf:"base_url"`
	Model      string        `json:"model" koanf:"model"`
	APIKey     string        `json:"-" koanf:"api_key"` // never serialized
	Timeout    time.Duration `json:"timeout" koanf:"timeout"`
	MaxRetries int           `json:"maxRetries" koanf:"max_retries"`
}

// withDefaults fills zero-value fields with the shared policy defaults.
func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	return c
}

// ConfigPatch updates a subset of Config fields; nil fields are left
// untouched.
type ConfigPatch struct {
	BaseURL    *string
	Model      *string
	APIKey     *string
	Timeout    *time.Duration
	MaxRetries *int
}

func (c Config) apply(patch ConfigPatch) Config {
	if patch.BaseURL != nil {
		c.BaseURL = *patch.BaseURL
	}
	if patch.Model != nil {
		c.Model = *patch.Model
	}
	if patch.APIKey != nil {
		c.APIKey = *patch.APIKey
	}
	if patch.Timeout != nil {
		c.Timeout = *patch.Timeout
	}
	if patch.MaxRetries != nil {
		c.MaxRetries = *patch.MaxRetries
	}
	return c
}
