// Package tools defines the Tool contract consumed by the agent loop:
// a name, a description, a JSON schema of the input and a Call method
// taking the JSON arguments produced by the model.
package tools
