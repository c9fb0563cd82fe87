package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/txwatch/internal/config"
)

var initForce bool

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default txwatch configuration",
	Long: `Creates ~/.txwatch/config.yaml (or the --config path) with commented defaults.

Next steps:
  txwatch serve                 start the coordinator and review panel
  txwatch proxy --upstream URL  put the proxy in front of a wallet`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}

	wrote, err := writeIfMissing(path, config.DefaultYAML())
	if err != nil {
		return err
	}

	fmt.Println("txwatch init complete.")
	fmt.Println()
	if wrote {
		fmt.Printf("Created:\n  %s\n\n", path)
	} else {
		fmt.Printf("%s already exists (use --force to overwrite).\n\n", path)
	}
	fmt.Println("Start the coordinator:")
	fmt.Println("  txwatch serve")
	fmt.Println()
	fmt.Println("Put the proxy in front of a wallet:")
	fmt.Println("  txwatch proxy --upstream http://127.0.0.1:8546")
	return nil
}

// writeIfMissing writes content to path if it doesn't exist or --force is set.
// Returns true if the file was written.
func writeIfMissing(path, content string) (bool, error) {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return false, fmt.Errorf("create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
