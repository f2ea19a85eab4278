package main

import (
	"fmt"
	"os"
	_ "time/tzdata" // location timezones resolve without a system zoneinfo

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "practice-service",
		Short:         "Scheduling, membership credits and rewards for multi-location practices",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("env-file", ".env", "optional dotenv file loaded before the environment")
	root.AddCommand(serveCmd(), migrateCmd(), tokenCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
