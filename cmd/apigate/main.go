package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile string
	version    = "dev"
	commit     = "unknown"
	buildTime  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "apigate",
	Short: "apigate - API gateway",
	Long:  `apigate authenticates, authorizes, rate limits and audits REST API traffic.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("apigate version %s\n", version)
		if commit != "unknown" {
			fmt.Printf("  commit: %s\n", commit)
		}
		if buildTime != "unknown" {
			fmt.Printf("  built:  %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/apigate/config.yaml", "Path to configuration file")

	apikeyCmd.AddCommand(apikeyCreateCmd, apikeyListCmd, apikeyRevokeCmd, apikeyActivateCmd)
	groupCmd.AddCommand(groupCreateCmd, groupListCmd, groupDeleteCmd)

	rootCmd.AddCommand(serveCmd, migrateCmd, apikeyCmd, groupCmd, cleanupCmd, versionCmd)
}
