// Package main provides the sqlagent CLI.
//
// sqlagent answers a question about a sales database: it connects to an MCP
// tool server, lets the model query it with the offered SQL tools, and saves
// the run as a JSON document.
//
// # Basic Usage
//
//	sqlagent run --question "自社1のCISの売上は？"
//	sqlagent run --config sqlagent.yaml --debug
//	sqlagent config --config sqlagent.yaml
//
// # Environment Variables
//
//   - AZURE_FUNC_URI: tool server endpoint, may carry the function key
//   - AZURE_OPENAI_DEPLOYMENT: model deployment name
//   - AZURE_OPENAI_API_VERSION: Azure OpenAI API version
//   - AZURE_OPENAI_ENDPOINT: Azure OpenAI resource endpoint
//   - AZURE_OPENAI_API_KEY: Azure OpenAI key
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/effective-security/sqlagent/internal/pipeline"
	"github.com/spf13/cobra"
)

// populated by ldflags
var (
	version = "dev"
	commit  = "none"
)

func main() {
	pipeline.Version = version

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := buildRootCmd().ExecuteContext(ctx); err != nil {
		// flag and usage errors only, run failures are logged and exit clean
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sqlagent",
		Short:         "Answer questions about sales data with MCP SQL tools",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(buildRunCmd(), buildConfigCmd())
	return cmd
}
