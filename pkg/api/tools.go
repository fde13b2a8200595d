package api

import (
	"context"

	"aurora/pkg/llm"
)

// Tool defines the structural interface for any capability that the AI agent
// can execute. It includes metadata for the provider tool catalog (JSON
// Schema) and the execution logic itself.
type Tool interface {
	llm.Tool
	// Execute performs the actual tool logic using the provided argument map.
	// The returned value is marshaled to JSON before being folded back into
	// the model context.
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// ToolRegistry defines the interface for managing and accessing tools.
type ToolRegistry interface {
	Register(tool Tool)
	Unregister(name string)
	Get(name string) (Tool, bool)
	GetAll() []Tool
}
