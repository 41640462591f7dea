package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dbbridge",
	Short: "Discover and tunnel to databases running in Kubernetes clusters",
	Long: `dbbridge scans Kubernetes clusters for database services (MySQL,
PostgreSQL, Redis, MongoDB, MinIO), imports them as connection records with
credentials pulled from their secrets, and manages port-forward tunnels so
local tools can reach them on localhost.`,
	// SilenceUsage prevents printing the usage message on errors we handle
	// ourselves (invalid arguments, failed connections)
	SilenceUsage: true,
}

// SetVersion sets the version for the root command
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "dbbridge version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		// Cobra prints the error, we just exit non-zero
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
}
