// Package prompts provides the system prompt and the default question of the SQL agent.
package prompts

import (
	_ "embed"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
)

// DefaultQuestion is asked when no question is configured.
const DefaultQuestion = "自社1のCISとDRAMの売上を表で教えてください。"

//go:embed sql_agent.md
var sqlAgentPrompt string

// SQLAgent returns the built-in system prompt with the database schema,
// the column descriptions and the query rules.
func SQLAgent() string {
	return sqlAgentPrompt
}

// Load returns the prompt from the file, or the built-in prompt
// when the path is empty.
func Load(path string) (string, error) {
	if path == "" {
		return SQLAgent(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "unable to load prompt")
	}
	prompt := strings.TrimSpace(string(b))
	if prompt == "" {
		return "", errors.Newf("prompt file is empty: %s", path)
	}
	return prompt, nil
}
