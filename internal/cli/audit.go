package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/txwatch/internal/audit"
)

var (
	showCall   string
	showOrigin string
	showSince  time.Duration
	showJSON   bool
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditShowCmd)
	auditShowCmd.Flags().StringVar(&showCall, "call", "", "Only entries for this call id")
	auditShowCmd.Flags().StringVar(&showOrigin, "origin", "", "Only entries from this origin")
	auditShowCmd.Flags().DurationVar(&showSince, "since", 0, "Only entries newer than this (e.g., 1h)")
	auditShowCmd.Flags().BoolVar(&showJSON, "json", false, "Print as JSON")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
	Long:  "Commands for verifying and inspecting the hash-chained decision log.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify hash chain integrity of the audit log",
	Long:  "Walks the JSONL audit log and validates that every entry's prev_hash\nmatches the SHA-256 of the previous entry. Exits 0 if valid, 1 if tampered.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditVerify,
}

var auditShowCmd = &cobra.Command{
	Use:   "show [path]",
	Short: "Show the decision timeline",
	Long:  "Replays the audit log as a timeline of pending, approved, rejected, expired and cleared calls.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditShow,
}

func auditPath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	if cfg != nil && cfg.Audit.Path != "" {
		return cfg.Audit.Path
	}
	return audit.DefaultPath()
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	result := audit.Verify(auditPath(args))
	if result.Valid {
		fmt.Printf("OK: %d entries verified\n", result.Lines)
		return nil
	}
	fmt.Fprintf(os.Stderr, "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	os.Exit(1)
	return nil
}

func runAuditShow(cmd *cobra.Command, args []string) error {
	filter := audit.Filter{CallID: showCall, Origin: showOrigin}
	if showSince > 0 {
		filter.From = time.Now().Add(-showSince)
	}
	result, err := audit.Replay(auditPath(args), filter)
	if err != nil {
		return err
	}
	if showJSON {
		out, err := audit.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	}
	fmt.Print(audit.FormatTimeline(result))
	return nil
}
