package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
)

var configFile string

func main() {
	var rootCmd = &cobra.Command{
		Use:   "hashrouter",
		Short: "A consistent hashing HTTP load balancer",
		Long: `Hashrouter places virtual copies of each backend server on a fixed slot ring,
routes every request to the server owning the request's slot, and removes
servers that stop answering their heartbeat.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "f", "", "Optional YAML config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolP("log-json", "j", false, "Print logs in JSON format")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newBackendCmd())

	if _, err := maxprocs.Set(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
