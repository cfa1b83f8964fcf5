package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var (
	configFile = "./config/pipeline.yaml"
	rootCmd    = &cobra.Command{
		Use:   "aa-pipeline",
		Short: "Account-abstraction submission pipeline CLI",
		Long: `CLI to drive the ERC-4337 submission pipeline: deploy smart wallets,
submit sponsored or token-paid operations, and manage session keys.

Such as "aa-pipeline submit" or "aa-pipeline wallet-status" and so on
`,
	}
)

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config/pipeline.yaml", "Path to config file")
}
