package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// envPrefix scopes environment overrides to this process.
const envPrefix = "MAILCOP_"

// Load reads configuration from a YAML file, then overrides with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (MAILCOP_SERVER_ADDR, MAILCOP_BACKENDS_MODE, ...)
//  2. YAML config file
//  3. Hardcoded defaults
//
// A missing file is not an error; the daemon runs on defaults plus
// environment. A present file must be regular, owner-only (0600) and
// under 1MB.
//
// Environment variables drop the prefix, lowercase, and split on the
// first underscore into section.field:
//
//	MAILCOP_SERVER_ADDR          -> server.addr
//	MAILCOP_LOGGING_LEVEL        -> logging.level
//	MAILCOP_BACKENDS_MODE        -> backends.mode
//	MAILCOP_STORE_PASSPHRASE     -> store.passphrase
//
// Nested backend fields use the section.sub_field form twice:
//
//	MAILCOP_BACKENDS_REMOTE_API_KEY -> backends.remote.api_key
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			content, err := readConfigFile(configPath)
			if err != nil {
				return nil, err
			}
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKey maps MAILCOP_SECTION_FIELD_NAME to section.field_name, with a
// special case for the nested backend sections.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))

	// backends.local.* and backends.remote.* are two levels deep.
	for _, sub := range []string{"backends_local_", "backends_remote_"} {
		if strings.HasPrefix(lower, sub) {
			parts := strings.SplitN(lower, "_", 3)
			return parts[0] + "." + parts[1] + "." + parts[2]
		}
	}

	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// readConfigFile opens the file once and validates through the open
// descriptor to avoid a TOCTOU race.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("config file %s is not a regular file", path)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return nil, fmt.Errorf("config file %s must not be group or world accessible (chmod 0600)", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds maximum size of %d bytes", path, maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}
