package config

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	assert.True(t, IsFirstRun(dir))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, DefaultConfigFile))
	assert.False(t, IsFirstRun(dir))

	main := cfg.GetMain()
	assert.Equal(t, "Elytrium", main.VersionName)
	assert.Equal(t, 3000, main.UpdateRateMillis)
	assert.Equal(t, 4444, main.MaxCount)
	assert.Equal(t, 5, main.FakeOnlineAddSingle)
	assert.Equal(t, 20, main.FakeOnlineAddPercent)

	m := cfg.GetMaintenance()
	assert.Equal(t, "MAINTENANCE MODE ENABLED!!", m.VersionName)
	assert.Equal(t, -1, m.OverrideOnline)
	assert.Equal(t, -1, m.OverrideMaxOnline)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	partial := `{
  "main": {
    "version_name": "Custom",
    "versions": {"descriptions": {"47": ["&eold"]}},
    "domains": {"play.example.net:25565": {"descriptions": ["&ahi"]}}
  }
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(partial), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	main := cfg.GetMain()
	assert.Equal(t, "Custom", main.VersionName)
	assert.Equal(t, 4444, main.MaxCount, "missing keys keep their defaults")
	assert.Equal(t, []string{"&eold"}, main.Versions.Descriptions["47"])
	assert.Contains(t, main.Domains, "play.example.net:25565")
	assert.Equal(t, DefaultListenAddr, cfg.GetListener().Address)

	// Re-saved with every option present.
	data, err := os.ReadFile(filepath.Join(dir, DefaultConfigFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "fake_online_add_percent")
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("{"), 0644))
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestReloadKeepsValuesOnParseError(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(cfg.Path(), []byte(`{"main":{"max_count":10}}`), 0644))
	require.NoError(t, cfg.Reload())
	assert.Equal(t, 10, cfg.GetMain().MaxCount)

	require.NoError(t, os.WriteFile(cfg.Path(), []byte("not json"), 0644))
	assert.Error(t, cfg.Reload())
	assert.Equal(t, 10, cfg.GetMain().MaxCount)
}

func TestSnapshotIsDetached(t *testing.T) {
	cfg := DefaultConfig()
	cfg.path = filepath.Join("conf", DefaultConfigFile)
	cfg.Main.Versions.Descriptions["47"] = []string{"a"}

	s := cfg.Snapshot()
	assert.Equal(t, "conf", s.Dir)
	s.Main.Versions.Descriptions["47"][0] = "changed"
	s.Main.Descriptions[0] = "changed"

	assert.Equal(t, "a", cfg.Main.Versions.Descriptions["47"][0])
	assert.NotEqual(t, "changed", cfg.Main.Descriptions[0])
}

func TestValidateDefaults(t *testing.T) {
	result := Validate(DefaultConfig())
	assert.True(t, result.IsValid(), "%v", result.Errors)
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name  string
		field string
		edit  func(c *Config)
	}{
		{"update rate", "main.update_rate_ms", func(c *Config) { c.Main.UpdateRateMillis = 0 }},
		{"max mode", "main.max_count_type", func(c *Config) { c.Main.MaxCountType = "sometimes" }},
		{"max too wide", "main.max_count", func(c *Config) { c.Main.MaxCount = 100000 }},
		{"percent", "main.fake_online_add_percent", func(c *Config) { c.Main.FakeOnlineAddPercent = -101 }},
		{"serializer", "main.serializer", func(c *Config) { c.Main.Serializer = "minimessage" }},
		{"version key", `main.versions.descriptions["x-1"]`, func(c *Config) {
			c.Main.Versions.Descriptions["x-1"] = []string{"a"}
		}},
		{"version out of range", `maintenance.versions.favicons["0-99999"]`, func(c *Config) {
			c.Maintenance.Versions.Favicons["0-99999"] = []string{"a.png"}
		}},
		{"domain key", `main.domains["bad host:port:1"]`, func(c *Config) {
			c.Main.Domains["bad host:port:1"] = DomainData{}
		}},
		{"override", "maintenance.override_online", func(c *Config) { c.Maintenance.OverrideOnline = -2 }},
		{"override width", "maintenance.override_max_online", func(c *Config) { c.Maintenance.OverrideMaxOnline = 123456 }},
		{"whitelist", "maintenance.kick_whitelist[1]", func(c *Config) {
			c.Maintenance.KickWhitelist = []string{"10.0.0.0/8", "not-an-ip"}
		}},
		{"shutdown whitelist", "shutdown_scheduler.whitelist[0]", func(c *Config) {
			c.Shutdown.Whitelist = []string{"localhost"}
		}},
		{"listener", "listener.address", func(c *Config) { c.Listener.Address = "nowhere" }},
		{"players", "application_data.players.source", func(c *Config) { c.ApplicationData.Players.Source = "guess" }},
		{"redis", "application_data.players.redis_address", func(c *Config) {
			c.ApplicationData.Players.Source = "redis"
			c.ApplicationData.Players.RedisAddress = ""
		}},
		{"mqtt", "application_data.mqtt.broker_url", func(c *Config) { c.ApplicationData.MQTT.Enabled = true }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.edit(cfg)
			result := Validate(cfg)
			require.False(t, result.IsValid())
			fields := make([]string, 0, len(result.Errors))
			for _, e := range result.Errors {
				fields = append(fields, e.Field)
			}
			assert.Contains(t, fields, tc.field)
		})
	}
}

func TestValidateWarnings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Main.UpdateRateMillis = 100
	cfg.Listener.Address = "0.0.0.0:80"
	result := Validate(cfg)
	assert.True(t, result.IsValid())

	fields := make([]string, 0, len(result.Warnings))
	for _, w := range result.Warnings {
		fields = append(fields, w.Field)
	}
	assert.Contains(t, fields, "main.update_rate_ms")
	assert.Contains(t, fields, "listener.address")
}

func TestValidDomainKey(t *testing.T) {
	assert.True(t, validDomainKey("example.com"))
	assert.True(t, validDomainKey("example.com:25565"))
	assert.False(t, validDomainKey(""))
	assert.False(t, validDomainKey("example.com:0"))
	assert.False(t, validDomainKey(":25565"))
}

func TestSetupWizard(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.path = filepath.Join(dir, DefaultConfigFile)

	answers := strings.Join([]string{
		"127.0.0.1:25570", // listener
		"no",              // LAN
		"Lobby",           // version name
		"&aWelcome",       // description
		"",                // favicon keeps default
		"relative",        // max mode
		"10",              // max count
		"static",          // players
		"yes",             // api
		"",                // api address
		"s3cret",          // token
		"no",              // mqtt
	}, "\n") + "\n"

	err := runSetupWizard(cfg, bufio.NewReader(strings.NewReader(answers)), io.Discard)
	require.NoError(t, err)

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:25570", loaded.GetListener().Address)
	assert.Equal(t, "Lobby", loaded.GetMain().VersionName)
	assert.Equal(t, []string{"&aWelcome"}, loaded.GetMain().Descriptions)
	assert.Equal(t, "relative", loaded.GetMain().MaxCountType)
	assert.Equal(t, 10, loaded.GetMain().MaxCount)
	assert.Equal(t, "s3cret", loaded.GetApplicationData().Security.APIToken)
}

func TestSetupWizardGivesUpOnInvalidInput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.path = filepath.Join(t.TempDir(), DefaultConfigFile)
	// Invalid listener address, then accept every default and decline retry.
	err := runSetupWizard(cfg, bufio.NewReader(strings.NewReader("bogus\n")), io.Discard)
	assert.Error(t, err)
}

func TestReadFileDoesNotRewrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultConfigFile)
	require.NoError(t, os.WriteFile(path, []byte(`{"main":{"max_count":77}}`), 0644))

	cfg, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 77, cfg.GetMain().MaxCount)
	assert.Equal(t, "Elytrium", cfg.GetMain().VersionName)
	assert.Equal(t, path, cfg.Path())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"main":{"max_count":77}}`, string(data))

	_, err = ReadFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
