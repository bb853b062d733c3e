// Package assistants provides the tool-calling loop of the SQL agent: it
// sends the conversation to a chat model, executes the tool calls the model
// requests one by one, and returns the final answer with the full run trace.
package assistants
