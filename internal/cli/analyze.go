package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lazypower/linkboard/internal/apiclient"
	"github.com/lazypower/linkboard/internal/engine"
	"github.com/lazypower/linkboard/internal/graph"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <standard|deeper|tensions>",
	Short: "Run one analysis round on the active board of a running server",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

// serverURL returns LINKBOARD_URL or the configured listen address.
func serverURL() (string, error) {
	if u := os.Getenv("LINKBOARD_URL"); u != "" {
		return u, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.BaseURL(), nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	layer, err := graph.ParseLayer(args[0])
	if err != nil {
		return err
	}
	url, err := serverURL()
	if err != nil {
		return err
	}

	client := apiclient.New(url, 0)
	res, err := client.Analyze(cmd.Context(), layer)
	if err != nil {
		return fmt.Errorf("analyze %s: %w", layer, err)
	}

	out := cmd.OutOrStdout()
	switch {
	case res.State == engine.StateError:
		return fmt.Errorf("analyze %s: %s", layer, res.Error)
	case res.Discarded:
		fmt.Fprintln(out, "Board changed during analysis; result discarded.")
	case res.Skipped:
		fmt.Fprintln(out, "Nothing new to analyze.")
	case len(res.Kept) == 0:
		fmt.Fprintf(out, "No new connections (%d candidates, %d rejected).\n", res.Candidates, res.Rejected)
	default:
		fmt.Fprintf(out, "%d new %s connections:\n", len(res.Kept), layer)
		for _, c := range res.Kept {
			fmt.Fprintf(out, "  %s -> %s  %s", c.From, c.To, c.Label)
			if c.Category != "" {
				fmt.Fprintf(out, " [%s]", c.Category)
			}
			fmt.Fprintln(out)
			if c.Explanation != "" {
				fmt.Fprintf(out, "      %s\n", c.Explanation)
			}
		}
	}
	return nil
}
