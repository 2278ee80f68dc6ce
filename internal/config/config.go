// Package config handles configuration loading, validation, and persistence
// for the pingcache responder.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultListenAddr = "0.0.0.0:25565"
	DefaultAPIAddr    = "127.0.0.1:5080"
	DefaultLANGroup   = "224.0.2.60:4445"
)

// Config is the root configuration structure for pingcache.
type Config struct {
	mu   sync.RWMutex
	path string

	Main            MainData        `json:"main"`
	Maintenance     MaintenanceData `json:"maintenance"`
	Listener        ListenerData    `json:"listener"`
	Shutdown        ShutdownData    `json:"shutdown_scheduler"`
	ApplicationData ApplicationData `json:"application_data"`
}

// ShutdownData drains the server for a restart. While enabled, connections
// from addresses outside Whitelist are refused.
type ShutdownData struct {
	Enabled bool `json:"enabled"`
	// OnZeroPlayers stops the process once the player source reports
	// nobody online.
	OnZeroPlayers bool     `json:"on_zero_players"`
	Whitelist     []string `json:"whitelist"`
}

// ContentData is the response content shared by the main and maintenance
// sections. Text fields use & colour codes and {NL} for line breaks.
type ContentData struct {
	VersionName  string                `json:"version_name"`
	Descriptions []string              `json:"descriptions"`
	Favicons     []string              `json:"favicons"`
	Information  []string              `json:"information"`
	Versions     VersionData           `json:"versions"`
	Domains      map[string]DomainData `json:"domains"`
}

// VersionData maps protocol ranges ("47" or "735-767") to replacement lists.
type VersionData struct {
	Descriptions map[string][]string `json:"descriptions"`
	Favicons     map[string][]string `json:"favicons"`
	Information  map[string][]string `json:"information"`
}

// DomainData is the content served to clients that connect through a
// specific virtual host. An empty version name inherits the section's.
type DomainData struct {
	VersionName  string   `json:"version_name,omitempty"`
	Descriptions []string `json:"descriptions"`
	Favicons     []string `json:"favicons"`
	Information  []string `json:"information"`
}

// MainData is the content and occupancy policy served outside maintenance.
type MainData struct {
	ContentData

	Serializer           string `json:"serializer"`
	UpdateRateMillis     int    `json:"update_rate_ms"`
	MaxCountType         string `json:"max_count_type"`
	MaxCount             int    `json:"max_count"`
	FakeOnlineAddSingle  int    `json:"fake_online_add_single"`
	FakeOnlineAddPercent int    `json:"fake_online_add_percent"`

	LogPings           bool `json:"log_pings"`
	LogImproperPings   bool `json:"log_improper_pings"`
	AllowImproperPings bool `json:"allow_improper_pings"`
}

// MaintenanceData is served while maintenance mode is enabled.
type MaintenanceData struct {
	ContentData

	Enabled bool `json:"enabled"`
	// ShowVersion keeps the placeholder protocol in maintenance responses,
	// so clients display the version name instead of ping bars.
	ShowVersion      bool     `json:"show_version"`
	ShouldKickOnJoin bool     `json:"should_kick_on_join"`
	KickWhitelist    []string `json:"kick_whitelist"`
	KickMessage      string   `json:"kick_message"`

	// -1 disables the override.
	OverrideOnline    int `json:"override_online"`
	OverrideMaxOnline int `json:"override_max_online"`
}

// ListenerData holds the status listener settings.
type ListenerData struct {
	Address         string  `json:"address"`
	ReadTimeoutSec  int     `json:"read_timeout_sec"`
	WriteTimeoutSec int     `json:"write_timeout_sec"`
	LoginMessage    string  `json:"login_message"`
	LAN             LANData `json:"lan"`
}

// LANData controls the LAN world announcement.
type LANData struct {
	Enabled        bool   `json:"enabled"`
	Group          string `json:"group"`
	IntervalMillis int    `json:"interval_ms"`
}

// ApplicationData contains application-level configuration.
type ApplicationData struct {
	Timers   TimerConfig    `json:"timers"`
	API      APIConfig      `json:"api"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Players  PlayersConfig  `json:"players"`
	Database DatabaseConfig `json:"database"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
}

// TimerConfig holds health check and task interval settings.
type TimerConfig struct {
	HealthCheckInterval int `json:"health_check_interval_sec"`
	StatsInterval       int `json:"stats_interval_sec"`
}

// APIConfig holds the admin API listener settings.
type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	CAFile      string `json:"ca_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// PlayersConfig selects where the reported player count comes from.
// Source is "static" (set through the API or console) or "redis".
type PlayersConfig struct {
	Source        string `json:"source"`
	Static        int    `json:"static"`
	RedisAddress  string `json:"redis_address"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
	RedisKey      string `json:"redis_key"`
	TimeoutMillis int    `json:"timeout_ms"`
}

// DatabaseConfig holds the sqlite settings.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// SecurityConfig holds admin API security settings.
type SecurityConfig struct {
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	APIToken       string   `json:"api_token"`
	AuthDisabled   bool     `json:"auth_disabled"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxAgeDays int    `json:"max_age_days"`
	Console    bool   `json:"console"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Main: MainData{
			ContentData: ContentData{
				VersionName:  "Elytrium",
				Descriptions: []string{"&c&lpingcache{NL}&7 -> Really fast."},
				Favicons:     []string{"server-icon.png"},
				Information:  []string{"This is the", "&lbest server", "&amade &cever", "trust me"},
				Versions: VersionData{
					Descriptions: map[string][]string{},
					Favicons:     map[string][]string{},
					Information:  map[string][]string{},
				},
				Domains: map[string]DomainData{},
			},
			Serializer:           "legacy_ampersand",
			UpdateRateMillis:     3000,
			MaxCountType:         "fixed",
			MaxCount:             4444,
			FakeOnlineAddSingle:  5,
			FakeOnlineAddPercent: 20,
			LogImproperPings:     true,
		},
		Maintenance: MaintenanceData{
			ContentData: ContentData{
				VersionName:  "MAINTENANCE MODE ENABLED!!",
				Descriptions: []string{"&c&lpingcache{NL}&7 -> Really fast. (in maintenance mode too)"},
				Favicons:     []string{"server-icon.png"},
				Information:  []string{"Server is under maintenance"},
				Versions: VersionData{
					Descriptions: map[string][]string{},
					Favicons:     map[string][]string{},
					Information:  map[string][]string{},
				},
				Domains: map[string]DomainData{},
			},
			ShowVersion:       true,
			ShouldKickOnJoin:  true,
			KickWhitelist:     []string{"127.0.0.1"},
			KickMessage:       "&cTry to join the server later",
			OverrideOnline:    -1,
			OverrideMaxOnline: -1,
		},
		Listener: ListenerData{
			Address:         DefaultListenAddr,
			ReadTimeoutSec:  10,
			WriteTimeoutSec: 10,
			LoginMessage:    "&eThis address only answers the server list.",
			LAN: LANData{
				Group:          DefaultLANGroup,
				IntervalMillis: 1500,
			},
		},
		Shutdown: ShutdownData{
			Whitelist: []string{"127.0.0.1"},
		},
		ApplicationData: ApplicationData{
			Timers: TimerConfig{
				HealthCheckInterval: 60,
				StatsInterval:       30,
			},
			API: APIConfig{
				Enabled: true,
				Address: DefaultAPIAddr,
			},
			MQTT: MQTTConfig{
				Port:        1883,
				TopicPrefix: "pingcache",
			},
			Players: PlayersConfig{
				Source:        "static",
				RedisAddress:  "127.0.0.1:6379",
				RedisKey:      "pingcache:online",
				TimeoutMillis: 500,
			},
			Database: DatabaseConfig{
				Path: "data/pingcache.db",
			},
			Security: SecurityConfig{
				RateLimitRPS: 100,
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxAgeDays: 14,
				Console:    true,
			},
		},
	}
}

// Load reads configuration from a JSON file.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so config.json always carries every option the code knows about.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// ReadFile parses a configuration file without creating or rewriting it.
func ReadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg.path = path
	return cfg, nil
}

// Reload re-reads the file this configuration was loaded from, keeping the
// current values when the file cannot be parsed.
func (c *Config) Reload() error {
	c.mu.RLock()
	path := c.path
	c.mu.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	fresh, err := parse(data)
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mu.Lock()
	c.Main = fresh.Main
	c.Maintenance = fresh.Maintenance
	c.Listener = fresh.Listener
	c.ApplicationData = fresh.ApplicationData
	c.mu.Unlock()

	log.Info().Str("path", path).Msg("configuration reloaded")
	return nil
}

func parse(data []byte) (*Config, error) {
	cfg := DefaultConfig() // Start with defaults, then overlay
	// Maps merge on unmarshal; a file that names its own overrides replaces
	// the default ones entirely.
	cfg.Main.Versions = VersionData{}
	cfg.Main.Domains = nil
	cfg.Maintenance.Versions = VersionData{}
	cfg.Maintenance.Domains = nil
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Main.ContentData.fillMaps()
	cfg.Maintenance.ContentData.fillMaps()
	return cfg, nil
}

func (c *ContentData) fillMaps() {
	if c.Versions.Descriptions == nil {
		c.Versions.Descriptions = map[string][]string{}
	}
	if c.Versions.Favicons == nil {
		c.Versions.Favicons = map[string][]string{}
	}
	if c.Versions.Information == nil {
		c.Versions.Information = map[string][]string{}
	}
	if c.Domains == nil {
		c.Domains = map[string]DomainData{}
	}
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// Snapshot is a detached copy of the configuration. Builders receive a
// Snapshot and never see later edits.
type Snapshot struct {
	Main            MainData
	Maintenance     MaintenanceData
	Listener        ListenerData
	Shutdown        ShutdownData
	ApplicationData ApplicationData

	// Dir is the directory holding config.json; relative favicon paths
	// resolve against it.
	Dir string
}

// Snapshot returns a deep copy of the current configuration.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var s Snapshot
	s.Dir = filepath.Dir(c.path)
	// A JSON round trip is the simplest deep copy of the nested maps.
	data, err := json.Marshal(c)
	if err != nil {
		panic(fmt.Sprintf("config: snapshot marshal: %v", err))
	}
	var tmp struct {
		Main            MainData        `json:"main"`
		Maintenance     MaintenanceData `json:"maintenance"`
		Listener        ListenerData    `json:"listener"`
		Shutdown        ShutdownData    `json:"shutdown_scheduler"`
		ApplicationData ApplicationData `json:"application_data"`
	}
	if err := json.Unmarshal(data, &tmp); err != nil {
		panic(fmt.Sprintf("config: snapshot unmarshal: %v", err))
	}
	s.Main = tmp.Main
	s.Maintenance = tmp.Maintenance
	s.Listener = tmp.Listener
	s.Shutdown = tmp.Shutdown
	s.ApplicationData = tmp.ApplicationData
	return s
}

// GetMain returns a copy of the main section.
func (c *Config) GetMain() MainData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Main
}

// GetMaintenance returns a copy of the maintenance section.
func (c *Config) GetMaintenance() MaintenanceData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Maintenance
}

// GetListener returns a copy of the listener section.
func (c *Config) GetListener() ListenerData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Listener
}

// GetApplicationData returns a copy of the application data configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// SetApplicationData updates the application data configuration.
func (c *Config) SetApplicationData(data ApplicationData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ApplicationData = data
}

// SetMaintenanceEnabled records the maintenance flag so it survives restarts.
func (c *Config) SetMaintenanceEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Maintenance.Enabled = enabled
}

// GetShutdown returns a copy of the shutdown scheduler section.
func (c *Config) GetShutdown() ShutdownData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.Shutdown
	s.Whitelist = append([]string(nil), c.Shutdown.Whitelist...)
	return s
}

// SetShutdownEnabled records the shutdown scheduler flag.
func (c *Config) SetShutdownEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Shutdown.Enabled = enabled
}

// SetKickWhitelist replaces the configured kick whitelist.
func (c *Config) SetKickWhitelist(entries []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Maintenance.KickWhitelist = append([]string(nil), entries...)
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// IsFirstRun reports whether no config file exists yet in configDir.
func IsFirstRun(configDir string) bool {
	_, err := os.Stat(filepath.Join(configDir, DefaultConfigFile))
	return os.IsNotExist(err)
}
