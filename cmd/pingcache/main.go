// pingcache answers Minecraft server list pings from prebuilt content.
//
// Status responses, favicons and legacy kick strings are generated once per
// configuration generation and served from memory. An admin REST API and an
// interactive console control maintenance mode, the kick whitelist and the
// reported player count, while Prometheus metrics and MQTT telemetry expose
// what the listener is doing.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/energizer-project/pingcache/internal/config"
	"github.com/energizer-project/pingcache/internal/util"
)

const (
	AppName = "pingcache"
	Banner  = `
        _                             _          
  _ __ (_)_ __   __ _  ___ __ _  ___| |__   ___ 
 | '_ \| | '_ \ / _' |/ __/ _' |/ __| '_ \ / _ \
 | |_) | | | | | (_| | (_| (_| | (__| | | |  __/
 | .__/|_|_| |_|\__, |\___\__,_|\___|_| |_|\___|
 |_|            |___/  v%s
 Minecraft server list responder
`
)

func main() {
	var configDir string

	rootCmd := &cobra.Command{
		Use:   AppName,
		Short: "Serve Minecraft server list pings from prebuilt content",
		Long: `pingcache answers status, ping and legacy ping requests for every
client era from content built once per configuration generation.

Running it without a subcommand starts the responder.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configDir)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configDir, "config-dir", "c", config.DefaultConfigDir, "directory holding config.json")

	rootCmd.AddCommand(
		serveCmd(&configDir),
		setupCmd(&configDir),
		validateCmd(&configDir),
		probeCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func printBanner() {
	fmt.Printf(Banner, util.Version)
	fmt.Println()
}
