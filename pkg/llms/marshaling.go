package llms

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// JSON models following OpenAI schema

// MessageJSON represents the JSON structure of a single text Message
type MessageJSON struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// MessageWithPartsJSON represents the JSON structure of a Message with parts
type MessageWithPartsJSON struct {
	Role  Role          `json:"role"`
	Parts []ContentPart `json:"parts"`
}

// ContentPartJSON represents the JSON structure for content parts
type ContentPartJSON struct {
	Type         string            `json:"type"`
	Text         string            `json:"text,omitempty"`
	ToolCall     *ToolCallJSON     `json:"tool_call,omitempty"`
	ToolResponse *ToolResponseJSON `json:"tool_response,omitempty"`
}

// ToolCallJSON represents the JSON structure for tool call content.
// The field order is function, id, type.
type ToolCallJSON struct {
	FunctionCall *FunctionCall `json:"function"`
	ID           string        `json:"id"`
	Type         string        `json:"type"`
}

// ToolResponseJSON represents the JSON structure for tool response content
type ToolResponseJSON struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
}

type textContentJSON struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

type toolCallContentJSON struct {
	Type     string       `json:"type"`
	ToolCall ToolCallJSON `json:"tool_call"`
}

type toolResponseContentJSON struct {
	Type         string           `json:"type"`
	ToolResponse ToolResponseJSON `json:"tool_response"`
}

// MarshalJSON implements json.Marshaler for Message
func (m Message) MarshalJSON() ([]byte, error) {
	// single text part can be simplified
	if len(m.Parts) == 1 {
		if tp, ok := m.Parts[0].(TextContent); ok {
			return json.Marshal(MessageJSON{
				Role: m.Role,
				Text: tp.Text,
			})
		}
	}
	parts := m.Parts
	if parts == nil {
		parts = []ContentPart{}
	}
	return json.Marshal(MessageWithPartsJSON{
		Role:  m.Role,
		Parts: parts,
	})
}

// UnmarshalJSON implements json.Unmarshaler for Message
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role  Role              `json:"role"`
		Text  *string           `json:"text"`
		Parts []json.RawMessage `json:"parts"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.WithStack(err)
	}

	m.Role = raw.Role
	m.Parts = nil
	if raw.Text != nil {
		m.Parts = []ContentPart{TextContent{Text: *raw.Text}}
		return nil
	}

	m.Parts = make([]ContentPart, 0, len(raw.Parts))
	for _, partData := range raw.Parts {
		var partJSON ContentPartJSON
		if err := json.Unmarshal(partData, &partJSON); err != nil {
			return errors.WithStack(err)
		}
		part, err := unmarshalContentPart(partJSON)
		if err != nil {
			return err
		}
		m.Parts = append(m.Parts, part)
	}
	return nil
}

// unmarshalContentPart converts ContentPartJSON to ContentPart
func unmarshalContentPart(partJSON ContentPartJSON) (ContentPart, error) {
	switch partJSON.Type {
	case "text", "":
		return TextContent{Text: partJSON.Text}, nil
	case "tool_call":
		if partJSON.ToolCall == nil {
			return nil, errors.New("tool_call field is required for tool_call type")
		}
		fc := partJSON.ToolCall.FunctionCall
		if fc == nil {
			fc = &FunctionCall{}
		}
		return ToolCall{
			ID:           partJSON.ToolCall.ID,
			Type:         partJSON.ToolCall.Type,
			FunctionCall: fc,
		}, nil
	case "tool_response":
		if partJSON.ToolResponse == nil {
			return nil, errors.New("tool_response field is required for tool_response type")
		}
		return ToolCallResponse{
			ToolCallID: partJSON.ToolResponse.ToolCallID,
			Name:       partJSON.ToolResponse.Name,
			Content:    partJSON.ToolResponse.Content,
		}, nil
	default:
		return nil, errors.Newf("unknown content type: '%s'", partJSON.Type)
	}
}

// MarshalJSON implements json.Marshaler for TextContent
func (tc TextContent) MarshalJSON() ([]byte, error) {
	return json.Marshal(textContentJSON{
		Text: tc.Text,
		Type: "text",
	})
}

// UnmarshalJSON implements json.Unmarshaler for TextContent
func (tc *TextContent) UnmarshalJSON(data []byte) error {
	var textJSON textContentJSON
	if err := json.Unmarshal(data, &textJSON); err != nil {
		return errors.WithStack(err)
	}
	if textJSON.Type != "text" {
		return errors.Newf("invalid type for TextContent: %v", textJSON.Type)
	}
	tc.Text = textJSON.Text
	return nil
}

// MarshalJSON implements json.Marshaler for ToolCall
func (tc ToolCall) MarshalJSON() ([]byte, error) {
	return json.Marshal(toolCallContentJSON{
		Type: "tool_call",
		ToolCall: ToolCallJSON{
			FunctionCall: tc.FunctionCall,
			ID:           tc.ID,
			Type:         tc.Type,
		},
	})
}

// UnmarshalJSON implements json.Unmarshaler for ToolCall
func (tc *ToolCall) UnmarshalJSON(data []byte) error {
	var js toolCallContentJSON
	if err := json.Unmarshal(data, &js); err != nil {
		return errors.WithStack(err)
	}
	if js.Type != "tool_call" {
		return errors.Newf("invalid type for ToolCall: %v", js.Type)
	}
	if js.ToolCall.ID == "" {
		return errors.New("missing id field in ToolCall")
	}
	tc.ID = js.ToolCall.ID
	tc.Type = js.ToolCall.Type
	tc.FunctionCall = js.ToolCall.FunctionCall
	if tc.FunctionCall == nil {
		tc.FunctionCall = &FunctionCall{}
	}
	return nil
}

// MarshalJSON implements json.Marshaler for ToolCallResponse
func (tc ToolCallResponse) MarshalJSON() ([]byte, error) {
	return json.Marshal(toolResponseContentJSON{
		Type: "tool_response",
		ToolResponse: ToolResponseJSON{
			ToolCallID: tc.ToolCallID,
			Name:       tc.Name,
			Content:    tc.Content,
		},
	})
}

// UnmarshalJSON implements json.Unmarshaler for ToolCallResponse
func (tc *ToolCallResponse) UnmarshalJSON(data []byte) error {
	var js toolResponseContentJSON
	if err := json.Unmarshal(data, &js); err != nil {
		return errors.WithStack(err)
	}
	if js.Type != "tool_response" {
		return errors.Newf("invalid type for ToolCallResponse: %v", js.Type)
	}
	if js.ToolResponse.ToolCallID == "" {
		return errors.New("missing tool_call_id field in ToolCallResponse")
	}
	tc.ToolCallID = js.ToolResponse.ToolCallID
	tc.Name = js.ToolResponse.Name
	tc.Content = js.ToolResponse.Content
	return nil
}
