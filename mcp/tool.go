package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sqlagent/tools"
	"github.com/effective-security/xlog"
	"github.com/invopop/jsonschema"
)

// ErrToolResult is returned when the server reports a tool execution error
var ErrToolResult = errors.New("tool returned an error")

// maxToolPages bounds tools/list pagination
const maxToolPages = 100

// Tool adapts a server tool to tools.ITool.
// The tool is bound to the session it was loaded from.
type Tool struct {
	sess   *Session
	desc   ToolDescriptor
	schema *jsonschema.Schema
}

var _ tools.ITool = (*Tool)(nil)

// NewTool returns a tool bound to the session
func NewTool(sess *Session, desc ToolDescriptor) (*Tool, error) {
	if strings.TrimSpace(desc.Name) == "" {
		return nil, errors.Mark(errors.New("tool without a name"), ErrProtocol)
	}
	schema, err := decodeSchema(desc.InputSchema)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "invalid input schema of tool %q", desc.Name), ErrProtocol)
	}
	return &Tool{
		sess:   sess,
		desc:   desc,
		schema: schema,
	}, nil
}

func decodeSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return &jsonschema.Schema{Type: "object"}, nil
	}
	schema := new(jsonschema.Schema)
	if err := json.Unmarshal(raw, schema); err != nil {
		return nil, errors.WithStack(err)
	}
	if schema.Type == "" {
		schema.Type = "object"
	}
	if schema.Type != "object" {
		return nil, errors.Newf("input schema must be an object, got %q", schema.Type)
	}
	return schema, nil
}

// Name implements tools.ITool
func (t *Tool) Name() string {
	return t.desc.Name
}

// Description implements tools.ITool
func (t *Tool) Description() string {
	if t.desc.Description == "" {
		return t.desc.Title
	}
	return t.desc.Description
}

// Parameters implements tools.ITool
func (t *Tool) Parameters() *jsonschema.Schema {
	return t.schema
}

// Descriptor returns the tool as announced by the server
func (t *Tool) Descriptor() ToolDescriptor {
	return t.desc
}

// Invoke calls the tool on the owning session
func (t *Tool) Invoke(ctx context.Context, args map[string]any) (*CallToolResult, error) {
	return t.sess.CallTool(ctx, t.desc.Name, args)
}

// Call implements tools.ITool, input is the JSON object of arguments.
func (t *Tool) Call(ctx context.Context, input string) (string, error) {
	args := map[string]any{}
	if in := strings.TrimSpace(input); in != "" {
		if err := json.Unmarshal([]byte(in), &args); err != nil {
			return "", errors.Wrapf(tools.ErrFailedUnmarshalInput, "%s: %s", t.desc.Name, err.Error())
		}
	}

	res, err := t.Invoke(ctx, args)
	if err != nil {
		return "", err
	}
	text := res.Text()
	if res.IsError {
		return "", errors.Mark(errors.Newf("%s: %s", t.desc.Name, text), ErrToolResult)
	}
	return text, nil
}

// LoadTools enumerates the session tools following pagination.
// Any error fails the whole load, no partial tool set is returned.
func LoadTools(ctx context.Context, sess *Session) ([]tools.ITool, error) {
	var (
		list   []tools.ITool
		names  = map[string]bool{}
		seen   = map[string]bool{}
		cursor string
	)

	for page := 0; ; page++ {
		if page >= maxToolPages {
			return nil, errors.Mark(errors.Newf("tools/list exceeded %d pages", maxToolPages), ErrProtocol)
		}

		res, err := sess.ListTools(ctx, cursor)
		if err != nil {
			return nil, err
		}

		for _, desc := range res.Tools {
			if names[desc.Name] {
				return nil, errors.Mark(errors.Newf("duplicate tool name: %q", desc.Name), ErrProtocol)
			}
			t, err := NewTool(sess, desc)
			if err != nil {
				return nil, err
			}
			names[desc.Name] = true
			list = append(list, t)
		}

		if res.NextCursor == "" {
			break
		}
		if seen[res.NextCursor] {
			return nil, errors.Mark(errors.Newf("tools/list cursor repeated: %q", res.NextCursor), ErrProtocol)
		}
		seen[res.NextCursor] = true
		cursor = res.NextCursor
	}

	logger.ContextKV(ctx, xlog.INFO, "status", "tools_loaded", "count", len(list))
	return list, nil
}
