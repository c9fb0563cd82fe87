package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/txwatch/internal/client"
	"github.com/ppiankov/txwatch/internal/model"
)

var listJSON bool

func init() {
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(historyCmd)
	pendingCmd.Flags().BoolVar(&listJSON, "json", false, "Print calls as JSON")
	historyCmd.Flags().BoolVar(&listJSON, "json", false, "Print calls as JSON")
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List calls waiting for a decision",
	Long:  "Shows the coordinator's pending calls, oldest first.",
	Args:  cobra.NoArgs,
	RunE:  runPending,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List decided calls",
	Long:  "Shows recently approved, rejected, expired and cleared calls, oldest first.",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func runPending(cmd *cobra.Command, args []string) error {
	c, err := client.New(cfg.APIAddr)
	if err != nil {
		return err
	}
	defer c.Close()

	calls, err := c.ListPending(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list pending calls: %w", err)
	}
	if len(calls) == 0 && !listJSON {
		fmt.Println("No pending calls.")
		return nil
	}
	return printCalls(os.Stdout, calls, listJSON)
}

func runHistory(cmd *cobra.Command, args []string) error {
	c, err := client.New(cfg.APIAddr)
	if err != nil {
		return err
	}
	defer c.Close()

	calls, err := c.ListHistory(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}
	if len(calls) == 0 && !listJSON {
		fmt.Println("No decided calls.")
		return nil
	}
	return printCalls(os.Stdout, calls, listJSON)
}

func printCalls(w io.Writer, calls []model.InterceptedCall, asJSON bool) error {
	if asJSON {
		if calls == nil {
			calls = []model.InterceptedCall{}
		}
		out, err := json.MarshalIndent(calls, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(out))
		return nil
	}

	fmt.Fprintf(w, "%-36s %-10s %-28s %-30s %s\n", "ID", "STATUS", "METHOD", "ORIGIN", "TIME")
	for _, c := range calls {
		status := string(c.Status)
		if c.Reason != "" {
			status += " (" + c.Reason + ")"
		}
		fmt.Fprintf(w, "%-36s %-10s %-28s %-30s %s\n",
			c.ID,
			status,
			truncate(c.Method, 28),
			truncate(c.Origin, 30),
			c.Timestamp.Local().Format("15:04:05"),
		)
	}
	return nil
}
