package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/energizer-project/pingcache/internal/motd"
	"github.com/energizer-project/pingcache/internal/text"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// maxLegacyOccupancy is the largest value the legacy ping fields can carry.
var maxLegacyOccupancy = motd.FieldLayout{Width: motd.TextOccupancyWidth}.MaxValue()

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	s := cfg.Snapshot()
	return ValidateSnapshot(&s)
}

// ValidateSnapshot validates a detached configuration copy.
func ValidateSnapshot(s *Snapshot) *ValidationResult {
	result := &ValidationResult{}

	validateMain(&s.Main, result)
	validateMaintenance(&s.Maintenance, result)
	validateListener(&s.Listener, result)
	validateShutdown(&s.Shutdown, result)
	validateApplicationData(&s.ApplicationData, result)

	return result
}

func validateMain(data *MainData, result *ValidationResult) {
	validateContent("main", &data.ContentData, result)

	if _, err := text.ByName(data.Serializer); err != nil {
		result.AddError("main.serializer", err.Error())
	}

	if data.UpdateRateMillis <= 0 {
		result.AddError("main.update_rate_ms", "update rate must be positive")
	} else if data.UpdateRateMillis < 250 {
		result.AddWarning("main.update_rate_ms",
			"update rate below 250ms rebuilds every holder very often")
	}

	mode, err := motd.ParseMaxMode(data.MaxCountType)
	if err != nil {
		result.AddError("main.max_count_type", err.Error())
	}

	if data.MaxCount < 0 {
		result.AddError("main.max_count", "max count cannot be negative")
	} else if mode == motd.MaxFixed && data.MaxCount > maxLegacyOccupancy {
		result.AddError("main.max_count",
			fmt.Sprintf("max count %d does not fit the legacy ping fields (max %d)", data.MaxCount, maxLegacyOccupancy))
	} else if mode == motd.MaxRelativeToOnline && data.MaxCount > maxLegacyOccupancy/2 {
		result.AddWarning("main.max_count",
			"relative max count may not fit the legacy ping fields under high load")
	}

	if data.FakeOnlineAddPercent < -100 {
		result.AddError("main.fake_online_add_percent", "percentage cannot go below -100")
	}
	if data.FakeOnlineAddSingle > maxLegacyOccupancy {
		result.AddError("main.fake_online_add_single",
			fmt.Sprintf("fake online addition does not fit the legacy ping fields (max %d)", maxLegacyOccupancy))
	}
}

func validateMaintenance(data *MaintenanceData, result *ValidationResult) {
	validateContent("maintenance", &data.ContentData, result)

	validateOverride("maintenance.override_online", data.OverrideOnline, result)
	validateOverride("maintenance.override_max_online", data.OverrideMaxOnline, result)

	for i, entry := range data.KickWhitelist {
		if !validWhitelistEntry(entry) {
			result.AddError(fmt.Sprintf("maintenance.kick_whitelist[%d]", i),
				fmt.Sprintf("%q is neither an IP address nor a CIDR prefix", entry))
		}
	}

	if data.ShouldKickOnJoin && strings.TrimSpace(data.KickMessage) == "" {
		result.AddWarning("maintenance.kick_message", "kicked players will see an empty message")
	}
}

func validateShutdown(data *ShutdownData, result *ValidationResult) {
	for i, entry := range data.Whitelist {
		if !validWhitelistEntry(entry) {
			result.AddError(fmt.Sprintf("shutdown_scheduler.whitelist[%d]", i),
				fmt.Sprintf("%q is neither an IP address nor a CIDR prefix", entry))
		}
	}
	if data.OnZeroPlayers && !data.Enabled {
		result.AddWarning("shutdown_scheduler.on_zero_players", "has no effect until the scheduler is enabled")
	}
}

func validateOverride(field string, v int, result *ValidationResult) {
	if v < motd.NoOverride {
		result.AddError(field, "override must be -1 (disabled) or a non-negative number")
		return
	}
	if v > maxLegacyOccupancy {
		result.AddError(field,
			fmt.Sprintf("override %d does not fit the legacy ping fields (max %d)", v, maxLegacyOccupancy))
	}
}

func validateContent(section string, data *ContentData, result *ValidationResult) {
	if len(data.Descriptions) == 0 {
		result.AddWarning(section+".descriptions", "no descriptions configured, clients see an empty MOTD")
	}
	if len(data.Information) > motd.MaxSampleEntries {
		result.AddWarning(section+".information",
			fmt.Sprintf("only the first %d information lines are shown", motd.MaxSampleEntries))
	}

	for field, m := range map[string]map[string][]string{
		"descriptions": data.Versions.Descriptions,
		"favicons":     data.Versions.Favicons,
		"information":  data.Versions.Information,
	} {
		for key := range m {
			if _, err := motd.ParseVersionRange(key); err != nil {
				result.AddError(fmt.Sprintf("%s.versions.%s[%q]", section, field, key), err.Error())
			}
		}
	}

	for key := range data.Domains {
		if !validDomainKey(key) {
			result.AddError(fmt.Sprintf("%s.domains[%q]", section, key),
				"domain keys must be host or host:port")
		}
	}
}

func validateListener(data *ListenerData, result *ValidationResult) {
	validateAddress("listener.address", data.Address, result)

	if data.ReadTimeoutSec < 1 {
		result.AddError("listener.read_timeout_sec", "read timeout must be at least 1 second")
	}
	if data.WriteTimeoutSec < 1 {
		result.AddError("listener.write_timeout_sec", "write timeout must be at least 1 second")
	}

	if data.LAN.Enabled {
		if _, err := net.ResolveUDPAddr("udp4", data.LAN.Group); err != nil {
			result.AddError("listener.lan.group", fmt.Sprintf("invalid multicast group: %v", err))
		}
		if data.LAN.IntervalMillis < 100 {
			result.AddError("listener.lan.interval_ms", "LAN announce interval must be at least 100ms")
		}
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	validateTimers(&data.Timers, result)

	if data.API.Enabled {
		validateAddress("application_data.api.address", data.API.Address, result)
		if !data.Security.AuthDisabled && strings.TrimSpace(data.Security.APIToken) == "" {
			result.AddWarning("application_data.security.api_token",
				"no API token set, control endpoints will reject every request")
		}
	}

	// MQTT
	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
	}

	// Players
	switch data.Players.Source {
	case "static":
		if data.Players.Static < 0 {
			result.AddError("application_data.players.static", "static player count cannot be negative")
		}
	case "redis":
		if strings.TrimSpace(data.Players.RedisAddress) == "" {
			result.AddError("application_data.players.redis_address", "redis address is required for the redis source")
		}
		if strings.TrimSpace(data.Players.RedisKey) == "" {
			result.AddError("application_data.players.redis_key", "redis key is required for the redis source")
		}
		if data.Players.TimeoutMillis < 1 {
			result.AddError("application_data.players.timeout_ms", "redis timeout must be positive")
		}
	default:
		result.AddError("application_data.players.source",
			fmt.Sprintf("unknown player source %q (want static or redis)", data.Players.Source))
	}

	if strings.TrimSpace(data.Database.Path) == "" {
		result.AddError("application_data.database.path", "database path is required")
	}

	// Security
	if data.Security.TLSEnabled {
		if strings.TrimSpace(data.Security.TLSCertFile) == "" {
			result.AddError("application_data.security.tls_cert_file",
				"TLS certificate file is required when TLS is enabled")
		}
		if strings.TrimSpace(data.Security.TLSKeyFile) == "" {
			result.AddError("application_data.security.tls_key_file",
				"TLS key file is required when TLS is enabled")
		}
	}

	if data.Security.RateLimitRPS < 1 {
		result.AddWarning("application_data.security.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}
}

func validateTimers(timers *TimerConfig, result *ValidationResult) {
	if timers.HealthCheckInterval < 5 {
		result.AddWarning("timers.health_check_interval",
			"health check interval less than 5s probes the listener very often")
	}
	if timers.StatsInterval < 1 {
		result.AddError("timers.stats_interval", "stats interval must be at least 1 second")
	}
}

func validateAddress(field, addr string, result *ValidationResult) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		result.AddError(field, fmt.Sprintf("invalid address %q: %v", addr, err))
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		result.AddError(field, fmt.Sprintf("invalid port %q", portStr))
		return
	}
	validatePort(port, field, result)
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

func validDomainKey(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	host, port, err := net.SplitHostPort(key)
	if err != nil {
		// Bare host.
		return !strings.ContainsAny(key, ":/ ")
	}
	if host == "" {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n > 0 && n <= 65535
}

func validWhitelistEntry(entry string) bool {
	if net.ParseIP(entry) != nil {
		return true
	}
	_, _, err := net.ParseCIDR(entry)
	return err == nil
}

// IsAddressAvailable checks if a TCP address is available for binding.
func IsAddressAvailable(addr string) bool {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
