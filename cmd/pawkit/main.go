package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:     "pawkit",
	Short:   "Pet portrait intake toolkit",
	Version: version,
	Long: `pawkit manages the pet portrait intake flow: uploading photos,
requesting stylized artifacts, and keeping the local pet records and the
cart projection they feed.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(petsCmd)
	rootCmd.AddCommand(cartCmd)
	rootCmd.AddCommand(storageCmd)
	rootCmd.AddCommand(configCmd)
}
