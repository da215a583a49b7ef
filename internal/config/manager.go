package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/bryanchriswhite/LandmarkLens/internal/logger"
)

// EnvPrefix prefixes environment overrides, e.g. LANDMARKLENS_SERVER_PORT
const EnvPrefix = "LANDMARKLENS"

// Manager handles configuration loading and saving
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// NewManager creates a new configuration manager
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		actualConfigPath = filepath.Join(homeDir, ".config", "landmarklens", "config.yaml")
	}

	if err := os.MkdirAll(filepath.Dir(actualConfigPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = Defaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("backend", m.config.Camera.Backend).
		Str("predictor", m.config.Predictor.BaseURL).
		Msg("Config loaded")

	return m, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", m.configPath, err)
	}

	m.mu.Lock()
	m.config = &cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg := *m.config
	return &cfg
}

// Save writes the configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = Defaults()
	}

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Msg("Failed to marshal config")
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// Update replaces the configuration and saves it
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	c := *cfg
	m.config = &c
	m.mu.Unlock()
	return m.Save()
}

// SetPort sets the server port
func (m *Manager) SetPort(port int) error {
	cfg := m.Get()
	cfg.ServerPort = port
	return m.Update(cfg)
}

// GetPort returns the server port
func (m *Manager) GetPort() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.ServerPort
}

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) error {
	cfg := m.Get()
	cfg.LogLevel = level
	return m.Update(cfg)
}

// GetLogLevel returns the log level
func (m *Manager) GetLogLevel() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.LogLevel
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// GetConfigDir returns the directory containing the config file
func (m *Manager) GetConfigDir() string {
	return filepath.Dir(m.configPath)
}

// Keys lists every dotted config key, sorted
func (m *Manager) Keys() []string {
	v, err := m.viperFor(m.Get(), false)
	if err != nil {
		return nil
	}
	keys := v.AllKeys()
	sort.Strings(keys)
	return keys
}

// GetValue returns the stored value of a dotted key such as "pages.asl.fps"
func (m *Manager) GetValue(key string) (string, error) {
	v, err := m.viperFor(m.Get(), false)
	if err != nil {
		return "", err
	}
	key = strings.ToLower(key)
	if !v.IsSet(key) {
		return "", fmt.Errorf("unknown config key %q", key)
	}
	switch val := v.Get(key).(type) {
	case map[string]interface{}:
		data, err := yaml.Marshal(val)
		if err != nil {
			return "", err
		}
		return strings.TrimRight(string(data), "\n"), nil
	default:
		return fmt.Sprint(val), nil
	}
}

// SetValue parses value into the field named by a dotted key, validates and saves
func (m *Manager) SetValue(key, value string) error {
	v, err := m.viperFor(m.Get(), false)
	if err != nil {
		return err
	}
	key = strings.ToLower(key)
	if !v.IsSet(key) {
		return fmt.Errorf("unknown config key %q", key)
	}
	if _, section := v.Get(key).(map[string]interface{}); section {
		return fmt.Errorf("%q is a section, set one of its keys instead", key)
	}
	v.Set(key, value)

	cfg, err := decode(v)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if err := m.Update(cfg); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	logger.WithComponent("config").Info().
		Str("key", key).
		Str("value", value).
		Msg("Config value updated")
	return nil
}

// Resolve returns the effective configuration: the stored file, then
// LANDMARKLENS_* environment variables, then every key explicitly set in
// overrides (typically command line flags bound through viper).
func (m *Manager) Resolve(overrides *viper.Viper) (*Config, error) {
	v, err := m.viperFor(m.Get(), true)
	if err != nil {
		return nil, err
	}
	if overrides != nil {
		for _, key := range overrides.AllKeys() {
			if overrides.IsSet(key) {
				v.Set(key, overrides.Get(key))
			}
		}
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (m *Manager) viperFor(cfg *Config, env bool) (*viper.Viper, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	v := viper.New()
	v.SetConfigType("yaml")
	if env {
		v.SetEnvPrefix(EnvPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()
	}
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return v, nil
}

// decode rebuilds a Config from viper settings. Leaves are emitted as plain
// scalars so string values from flags or env resolve against the field type.
func decode(v *viper.Viper) (*Config, error) {
	node := toNode(v.AllSettings())
	var cfg Config
	if err := node.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func toNode(val interface{}) *yaml.Node {
	switch t := val.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		n := &yaml.Node{Kind: yaml.MappingNode}
		for _, k := range keys {
			n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: k}, toNode(t[k]))
		}
		return n
	case nil:
		return &yaml.Node{Kind: yaml.ScalarNode, Value: ""}
	default:
		return &yaml.Node{Kind: yaml.ScalarNode, Value: fmt.Sprint(t)}
	}
}
