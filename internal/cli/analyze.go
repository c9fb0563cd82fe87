package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var analyzeJSON bool

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print the structured verdict as JSON instead of streaming a narrative")
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <id>",
	Short: "Explain the risk of a pending call",
	Long:  "Streams an advisory risk narrative for a call. The result never approves or rejects anything.",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	surface, c, err := remoteSurface(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if analyzeJSON {
		out, err := json.MarshalIndent(surface.Advise(ctx, args[0]), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	chunks, err := surface.Stream(ctx, args[0])
	if err != nil {
		return err
	}
	for chunk := range chunks {
		if chunk.Err != nil {
			fmt.Println()
			return chunk.Err
		}
		fmt.Print(chunk.Text)
		if chunk.Done {
			break
		}
	}
	fmt.Println()
	return nil
}
