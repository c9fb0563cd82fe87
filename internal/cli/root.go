package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/txwatch/internal/config"
	"github.com/ppiankov/txwatch/internal/logging"
)

var (
	configPath string
	logLevel   string
	apiAddr    string

	// cfg is loaded once per invocation by PersistentPreRunE.
	cfg *config.Config
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML (default ~/.txwatch/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "", "Coordinator API address (overrides config)")
}

var rootCmd = &cobra.Command{
	Use:           "txwatch",
	Short:         "Human approval gate for wallet transactions and signatures",
	Long:          "Holds every signing and transaction request a dapp sends to the wallet until a person approves or rejects it.\nRejected, expired and unreachable calls fail closed.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.LogLevel = logLevel
		}
		if apiAddr != "" {
			loaded.APIAddr = apiAddr
		}
		logging.Setup(os.Stderr, loaded.LogLevel)
		cfg = loaded
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
