package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/energizer-project/pingcache/internal/config"
	"github.com/energizer-project/pingcache/internal/motd"
	"github.com/energizer-project/pingcache/internal/network"
	"github.com/energizer-project/pingcache/internal/protocol"
	"github.com/energizer-project/pingcache/internal/util"
)

func setupCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Run the interactive setup wizard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			printBanner()
			cfg, err := config.Load(*configDir)
			if err != nil {
				return err
			}
			return config.RunSetupWizard(cfg)
		},
	}
}

func validateCmd(configDir *string) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration file without starting the responder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = filepath.Join(*configDir, config.DefaultConfigFile)
			}
			cfg, err := config.ReadFile(file)
			if err != nil {
				return err
			}
			snap := cfg.Snapshot()
			result := config.ValidateSnapshot(&snap)

			out := cmd.OutOrStdout()
			for _, w := range result.Warnings {
				fmt.Fprintf(out, "warning: %s: %s\n", w.Field, w.Message)
			}
			for _, e := range result.Errors {
				fmt.Fprintf(out, "error: %s: %s\n", e.Field, e.Message)
			}
			if !result.IsValid() {
				return fmt.Errorf("%s: %d error(s)", file, len(result.Errors))
			}
			fmt.Fprintf(out, "%s is valid\n", file)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "config file to check (default <config-dir>/config.json)")
	return cmd
}

func probeCmd() *cobra.Command {
	var (
		protocolNumber int
		legacy         string
		timeout        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "probe <host:port>",
		Short: "Ping a server the way a client would and print its answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			out := cmd.OutOrStdout()

			if legacy != "" {
				version, err := parseLegacyVersion(legacy)
				if err != nil {
					return err
				}
				reply, err := network.ProbeLegacy(ctx, args[0], version, timeout)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%q\n", reply)
				return nil
			}

			result, err := network.Probe(ctx, args[0], protocolNumber, timeout)
			if err != nil {
				return err
			}

			var doc interface{}
			if err := json.Unmarshal([]byte(result.Status), &doc); err != nil {
				fmt.Fprintln(out, result.Status)
			} else {
				pretty, _ := json.MarshalIndent(doc, "", "  ")
				fmt.Fprintln(out, string(pretty))
			}
			if result.Pong {
				fmt.Fprintf(out, "latency: %s\n", result.Latency.Round(time.Microsecond))
			} else {
				fmt.Fprintln(out, "no pong (server closed after status)")
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&protocolNumber, "protocol", "p", motd.MaximumProtocol, "protocol number to announce in the handshake")
	cmd.Flags().StringVar(&legacy, "legacy", "", "send a legacy ping instead: 13, 14 or 16")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 5*time.Second, "dial and read timeout")
	return cmd
}

func parseLegacyVersion(s string) (protocol.LegacyVersion, error) {
	switch s {
	case "13":
		return protocol.Legacy13, nil
	case "14":
		return protocol.Legacy14, nil
	case "16":
		return protocol.Legacy16, nil
	}
	return protocol.LegacyNone, errors.New("legacy must be one of 13, 14 or 16")
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s, %s/%s)\n", AppName, util.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
