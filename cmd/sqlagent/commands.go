package main

import (
	"github.com/spf13/cobra"
)

// commonFlags are shared by the commands that load the configuration
type commonFlags struct {
	configPath string
	endpoint   string
	logsDir    string
	resultsDir string
	debug      bool
}

func (f *commonFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "",
		"Path to YAML, JSON or TOML configuration file")
	cmd.Flags().StringVar(&f.endpoint, "endpoint", "",
		"MCP tool server URL, overrides AZURE_FUNC_URI")
	cmd.Flags().StringVar(&f.logsDir, "logs-dir", "",
		"Folder of the log files")
	cmd.Flags().StringVar(&f.resultsDir, "results-dir", "",
		"Folder of the result documents")
	cmd.Flags().BoolVarP(&f.debug, "debug", "d", false,
		"Enable debug logging and print the conversation")
}

type runFlags struct {
	commonFlags
	question string
}

// buildRunCmd creates the "run" command that answers one question.
func buildRunCmd() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ask the SQL agent a question",
		Long: `Ask the SQL agent a question.

The agent connects to the MCP tool server, loads its tools and lets the model
query the database until it answers. The answer is printed and the run is
saved under the results folder.

A failure is logged and no result document is written.`,
		Example: `  # Ask the default question
  sqlagent run

  # Ask a question against a local tool server
  sqlagent run --endpoint http://localhost:3000/mcp --question "DRAMの売上は？"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runQuestion(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), flags)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&flags.question, "question", "q", "",
		"Question to ask, the configured or default question when empty")
	return cmd
}

// buildConfigCmd creates the "config" command that prints the effective
// configuration with the secrets masked.
func buildConfigCmd() *cobra.Command {
	flags := &commonFlags{}
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printConfig(cmd.OutOrStdout(), flags)
		},
	}
	flags.register(cmd)
	return cmd
}
