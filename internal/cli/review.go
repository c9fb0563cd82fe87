package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/txwatch/internal/review"
)

var (
	reviewAnalyze bool
	reviewOnce    bool
	reviewNoColor bool
)

func init() {
	rootCmd.AddCommand(reviewCmd)
	reviewCmd.Flags().BoolVar(&reviewAnalyze, "analyze", false, "Show a risk analysis before each prompt")
	reviewCmd.Flags().BoolVar(&reviewOnce, "once", false, "Exit when nothing is left to decide")
	reviewCmd.Flags().BoolVar(&reviewNoColor, "no-color", false, "Disable colored output")
}

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review pending calls interactively",
	Long: `Walks pending calls one at a time and asks for a decision.

  a  approve    r  reject    s  skip    q  quit

An unanswered prompt skips the call; it stays pending for another reviewer.`,
	Args: cobra.NoArgs,
	RunE: runReview,
}

func runReview(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	surface, c, err := remoteSurface(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	return review.NewInteractive(surface, review.InteractiveConfig{
		In:           os.Stdin,
		Out:          os.Stdout,
		Color:        !reviewNoColor,
		Analyze:      reviewAnalyze,
		ExitWhenIdle: reviewOnce,
	}).Run(ctx)
}
