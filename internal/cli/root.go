package cli

import (
	"github.com/spf13/cobra"

	"github.com/lazypower/linkboard/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "linkboard",
	Short: "Spatial boards with AI-found relationships",
	Long: "Linkboard keeps boards of notes, images, links and PDFs, and asks a language model " +
		"to find the connections between them in three layers: standard, deeper and tensions.",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Path to config file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(boardsCmd)
	rootCmd.AddCommand(analyzeCmd)
}

func loadConfig() (config.Config, error) {
	return config.Load(configPath)
}
