package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// configEnv overrides the location of the CLI config file.
const configEnv = "GUARDIAN_CONFIG"

const defaultProfile = "default"

// UserConfig is the on-disk CLI configuration, ~/.guardian/config.yaml by
// default.
type UserConfig struct {
	CurrentProfile string             `yaml:"current-profile" json:"current_profile"`
	Profiles       map[string]Profile `yaml:"profiles" json:"profiles"`
}

// Profile holds the connection settings for one guardian server.
type Profile struct {
	Host   string `yaml:"host,omitempty" json:"host,omitempty"`
	APIKey string `yaml:"api-key,omitempty" json:"api_key,omitempty"`
	Token  string `yaml:"token,omitempty" json:"token,omitempty"`
	Output string `yaml:"output,omitempty" json:"output,omitempty"`
}

func newUserConfig() *UserConfig {
	return &UserConfig{CurrentProfile: defaultProfile, Profiles: map[string]Profile{}}
}

func configPath() (string, error) {
	if p := os.Getenv(configEnv); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, ".guardian", "config.yaml"), nil
}

// loadUserConfig reads the config file. A missing file is an empty config.
func loadUserConfig() (*UserConfig, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) //nolint:gosec // user config path
	if errors.Is(err, fs.ErrNotExist) {
		return newUserConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	cfg := newUserConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]Profile{}
	}
	if cfg.CurrentProfile == "" {
		cfg.CurrentProfile = defaultProfile
	}
	return cfg, nil
}

// save writes the config with owner-only permissions and returns its path.
func (c *UserConfig) save() (string, error) {
	path, err := configPath()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// profile returns the named profile, or the current one when name is empty.
// Only an explicitly named profile has to exist.
func (c *UserConfig) profile(name string) (Profile, error) {
	if name == "" {
		return c.Profiles[c.CurrentProfile], nil
	}
	p, ok := c.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("profile %q not found", name)
	}
	return p, nil
}

// update applies fn to the named profile, creating it when absent.
func (c *UserConfig) update(name string, fn func(*Profile)) {
	p := c.Profiles[name]
	fn(&p)
	c.Profiles[name] = p
}

// use makes name the current profile.
func (c *UserConfig) use(name string) error {
	if _, ok := c.Profiles[name]; !ok {
		return fmt.Errorf("profile %q not found", name)
	}
	c.CurrentProfile = name
	return nil
}

// redacted returns a copy with API keys and tokens masked.
func (c *UserConfig) redacted() *UserConfig {
	out := &UserConfig{CurrentProfile: c.CurrentProfile, Profiles: make(map[string]Profile, len(c.Profiles))}
	for name, p := range c.Profiles {
		p.APIKey = redact(p.APIKey)
		p.Token = redact(p.Token)
		out.Profiles[name] = p
	}
	return out
}

// redact keeps the last four characters of long secrets.
func redact(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "****"
	default:
		return "****" + s[len(s)-4:]
	}
}
