package tools

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sqlagent/pkg/llms"
	"github.com/effective-security/sqlagent/pkg/llmutils"
	"github.com/invopop/jsonschema"
)

//go:generate mockgen -source=tools.go -destination=../mocks/mocktools/tools_mock.gen.go -package mocktools

// ErrFailedUnmarshalInput is returned when the tool input is not valid JSON
var ErrFailedUnmarshalInput = errors.New("failed to unmarshal input: check the schema and try again")

// ErrDuplicateTool is returned when two tools share a name
var ErrDuplicateTool = errors.New("duplicate tool name")

// ITool is a tool for the llm agent to interact with different applications.
type ITool interface {
	// Name returns the name of the Tool.
	Name() string
	// Description returns the description of the tool, to be used in the prompt.
	// Should not exceed LLM model limit.
	Description() string
	// Parameters returns the JSON schema of the tool input, to be used in the prompt.
	Parameters() *jsonschema.Schema

	// Call executes the tool with the given JSON input and returns the result.
	// If the tool fails to parse the input, it should return ErrFailedUnmarshalInput error.
	Call(context.Context, string) (string, error)
}

// Registry resolves tools by exact name.
type Registry struct {
	list   []ITool
	byName map[string]ITool
}

// NewRegistry returns a registry for the tools,
// or ErrDuplicateTool if the names are not unique.
func NewRegistry(list ...ITool) (*Registry, error) {
	r := &Registry{
		list:   make([]ITool, 0, len(list)),
		byName: make(map[string]ITool, len(list)),
	}
	for _, t := range list {
		name := t.Name()
		if _, ok := r.byName[name]; ok {
			return nil, errors.Mark(errors.Newf("duplicate tool name: %q", name), ErrDuplicateTool)
		}
		r.byName[name] = t
		r.list = append(r.list, t)
	}
	return r, nil
}

// Get returns the tool with the exact name
func (r *Registry) Get(name string) (ITool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Len returns the number of tools
func (r *Registry) Len() int {
	return len(r.list)
}

// Names returns the tool names in registration order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.list))
	for _, t := range r.list {
		names = append(names, t.Name())
	}
	return names
}

// Definitions returns the function definitions sent to the model
func (r *Registry) Definitions() []llms.Tool {
	defs := make([]llms.Tool, 0, len(r.list))
	for _, t := range r.list {
		defs = append(defs, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

type toolDescription struct {
	Name        string `json:"Name" yaml:"Name"`
	Description string `json:"Description" yaml:"Description"`
}

type toolsDescription struct {
	Tools []toolDescription `json:"Tools" yaml:"Tools"`
}

// GetDescriptions returns the names and descriptions of the tools as YAML
func GetDescriptions(list ...ITool) string {
	var d toolsDescription
	for _, tool := range list {
		d.Tools = append(d.Tools, toolDescription{
			Name:        tool.Name(),
			Description: tool.Description(),
		})
	}
	return llmutils.ToYAML(d)
}
