// Command stxbot runs the STX single-order trading bot and a few operator
// tools around it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "stxbot",
	Short: "STX single-order trading bot",
	Long: `stxbot places one LIMIT BUY order on a randomly chosen STX market and
keeps it within a band of the streamed market price until the stream ends.`,
	SilenceUsage: true,
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.toml", "path to configuration file (missing file uses defaults)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(marketsCmd)
	rootCmd.AddCommand(channelCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(ordersCmd)
	rootCmd.AddCommand(orderCmd)
	rootCmd.AddCommand(reportsCmd)
	rootCmd.AddCommand(encryptPasswordCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
