package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "missioncontrol",
		Short: "Ground station mission coordinator for autonomous vehicles",
		Long: `missioncontrol runs multi-vehicle missions: it assigns tasks to the
connected vehicles, tracks their progress over MQTT and reports mission
events to user interfaces.`,
		SilenceUsage: true,
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file (YAML)")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(commandCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
