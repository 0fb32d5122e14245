package sitedeploy

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by LoadConfig.
const EnvPrefix = "SITEDEPLOY_"

// LoadConfig builds a Config from an optional YAML file and the environment.
// Environment variables take precedence over the file. An empty path falls
// back to SITEDEPLOY_CONFIG; when neither is set only the environment is used.
// Defaults are applied but the result is not validated.
func LoadConfig(path string) (Config, error) {
	var cfg Config

	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	if path != "" {
		file, err := os.Open(ExpandPath(path))
		if err != nil {
			return Config{}, fmt.Errorf("open config file: %w", err)
		}
		defer file.Close()

		if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config yaml file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	return cfg.WithDefaults(), nil
}

func applyEnv(cfg *Config) error {
	cfg.Host = envOr("HOST", cfg.Host)
	cfg.User = envOr("USER", cfg.User)
	cfg.Password = envOr("PASSWORD", cfg.Password)
	cfg.PrivateKey = envOr("PRIVATE_KEY", cfg.PrivateKey)
	cfg.KeyPath = envOr("KEY_PATH", cfg.KeyPath)
	cfg.AuthMethod = AuthMethod(envOr("AUTH_METHOD", string(cfg.AuthMethod)))
	cfg.KnownHostsFile = envOr("KNOWN_HOSTS", cfg.KnownHostsFile)
	cfg.HostKeyPolicy = HostKeyPolicy(envOr("HOST_KEY_POLICY", string(cfg.HostKeyPolicy)))
	cfg.LocalDir = envOr("LOCAL_DIR", cfg.LocalDir)
	cfg.RemoteDir = envOr("REMOTE_DIR", cfg.RemoteDir)
	cfg.PushgatewayURL = envOr("PUSHGATEWAY_URL", cfg.PushgatewayURL)
	cfg.LogLevel = envOr("LOG_LEVEL", cfg.LogLevel)

	if v := os.Getenv(EnvPrefix + "EXCLUDE"); v != "" {
		cfg.ExcludePatterns = splitList(v)
	}

	var err error
	if cfg.Port, err = envInt("PORT", cfg.Port); err != nil {
		return err
	}
	if cfg.ConnectRetries, err = envInt("CONNECT_RETRIES", cfg.ConnectRetries); err != nil {
		return err
	}
	if cfg.DryRun, err = envBool("DRY_RUN", cfg.DryRun); err != nil {
		return err
	}
	if v := os.Getenv(EnvPrefix + "TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sTIMEOUT %q: %w", EnvPrefix, v, err)
		}
		cfg.Timeout = d
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return fallback, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s%s %q: %w", EnvPrefix, key, v, err)
	}
	return i, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s%s %q: %w", EnvPrefix, key, v, err)
	}
	return b, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
