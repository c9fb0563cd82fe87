package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/txwatch/internal/client"
	"github.com/ppiankov/txwatch/internal/model"
)

func init() {
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(clearCmd)
}

var approveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a pending call",
	Long:  "Approves a pending call. The wallet then receives the original request unchanged.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDecide(cmd, args[0], true)
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject a pending call",
	Long:  "Rejects a pending call. The dapp receives a user-rejected error (code 4001).",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDecide(cmd, args[0], false)
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Reject every pending call",
	Long:  "Rejects all pending calls at once. Their dapps receive user-rejected errors.",
	Args:  cobra.NoArgs,
	RunE:  runClear,
}

func runDecide(cmd *cobra.Command, id string, approved bool) error {
	c, err := client.New(cfg.APIAddr)
	if err != nil {
		return err
	}
	defer c.Close()

	call, err := c.Decide(cmd.Context(), id, approved)
	if errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("no pending call %q (already decided, expired or never submitted)", id)
	}
	if err != nil {
		return err
	}
	if approved {
		fmt.Printf("Approved %s %s from %s\n", call.ID, call.Method, call.Origin)
	} else {
		fmt.Printf("Rejected %s %s from %s\n", call.ID, call.Method, call.Origin)
	}
	return nil
}

func runClear(cmd *cobra.Command, args []string) error {
	c, err := client.New(cfg.APIAddr)
	if err != nil {
		return err
	}
	defer c.Close()

	n, err := c.ClearPending(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to clear pending calls: %w", err)
	}
	fmt.Printf("Rejected %d pending call(s)\n", n)
	return nil
}
