package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// RunSetupWizard guides the user through first-time configuration.
func RunSetupWizard(cfg *Config) error {
	return runSetupWizard(cfg, bufio.NewReader(os.Stdin), os.Stdout)
}

func runSetupWizard(cfg *Config, reader *bufio.Reader, out io.Writer) error {
	fmt.Fprintln(out, "╔══════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║         pingcache - First Run Setup          ║")
	fmt.Fprintln(out, "╠══════════════════════════════════════════════╣")
	fmt.Fprintln(out, "║  Let's configure your server list entry.     ║")
	fmt.Fprintln(out, "╚══════════════════════════════════════════════╝")
	fmt.Fprintln(out)

	cfg.mu.Lock()

	fmt.Fprintln(out, "── Listener ──")
	cfg.Listener.Address = promptString(reader, out, "Status listener address", cfg.Listener.Address)
	cfg.Listener.LAN.Enabled = promptBool(reader, out, "Announce on the local network", cfg.Listener.LAN.Enabled)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Server List Entry ──")
	fmt.Fprintln(out, "  Use & colour codes and {NL} for a second line.")
	cfg.Main.VersionName = promptString(reader, out, "Version name", cfg.Main.VersionName)
	desc := promptString(reader, out, "Description", firstOrEmpty(cfg.Main.Descriptions))
	if desc != "" {
		cfg.Main.Descriptions = []string{desc}
	}
	icon := promptString(reader, out, "Favicon path (64x64 PNG, blank for none)", firstOrEmpty(cfg.Main.Favicons))
	if icon == "" {
		cfg.Main.Favicons = nil
	} else {
		cfg.Main.Favicons = []string{icon}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Player Count ──")
	cfg.Main.MaxCountType = promptString(reader, out, "Max count mode (fixed/relative)", cfg.Main.MaxCountType)
	cfg.Main.MaxCount = promptInt(reader, out, "Max count", cfg.Main.MaxCount)
	cfg.ApplicationData.Players.Source = promptString(reader, out, "Player count source (static/redis)", cfg.ApplicationData.Players.Source)
	if cfg.ApplicationData.Players.Source == "redis" {
		cfg.ApplicationData.Players.RedisAddress = promptString(reader, out, "Redis address", cfg.ApplicationData.Players.RedisAddress)
		cfg.ApplicationData.Players.RedisKey = promptString(reader, out, "Redis key", cfg.ApplicationData.Players.RedisKey)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Admin API ──")
	cfg.ApplicationData.API.Enabled = promptBool(reader, out, "Enable admin API", cfg.ApplicationData.API.Enabled)
	if cfg.ApplicationData.API.Enabled {
		cfg.ApplicationData.API.Address = promptString(reader, out, "API address", cfg.ApplicationData.API.Address)
		if token := promptPassword(reader, out, "API token (blank keeps the current one)"); token != "" {
			cfg.ApplicationData.Security.APIToken = token
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Telemetry ──")
	cfg.ApplicationData.MQTT.Enabled = promptBool(reader, out, "Publish events over MQTT", cfg.ApplicationData.MQTT.Enabled)
	if cfg.ApplicationData.MQTT.Enabled {
		cfg.ApplicationData.MQTT.BrokerURL = promptString(reader, out, "MQTT broker host", cfg.ApplicationData.MQTT.BrokerURL)
		cfg.ApplicationData.MQTT.Port = promptInt(reader, out, "MQTT broker port", cfg.ApplicationData.MQTT.Port)
	}

	cfg.mu.Unlock()

	// Validate
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Validating configuration...")
	result := Validate(cfg)
	if !result.IsValid() {
		fmt.Fprintln(out, "Configuration errors found:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  ✗ %s: %s\n", e.Field, e.Message)
		}
		retry := promptString(reader, out, "Would you like to try again? (yes/no)", "no")
		if strings.ToLower(retry) == "yes" {
			return runSetupWizard(cfg, reader, out)
		}
		return fmt.Errorf("configuration validation failed")
	}

	for _, w := range result.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "✓ Configuration saved successfully!")
	fmt.Fprintf(out, "  Edit %s for version and domain overrides.\n", cfg.Path())
	fmt.Fprintln(out)

	return nil
}

func firstOrEmpty(list []string) string {
	if len(list) == 0 {
		return ""
	}
	return list[0]
}

func promptString(reader *bufio.Reader, out io.Writer, prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(out, "  %s: ", prompt)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func promptPassword(reader *bufio.Reader, out io.Writer, prompt string) string {
	fmt.Fprintf(out, "  %s: ", prompt)
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func promptInt(reader *bufio.Reader, out io.Writer, prompt string, defaultVal int) int {
	fmt.Fprintf(out, "  %s [%d]: ", prompt, defaultVal)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func promptBool(reader *bufio.Reader, out io.Writer, prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultStr)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))

	if input == "" {
		return defaultVal
	}

	return input == "yes" || input == "y" || input == "true" || input == "1"
}
