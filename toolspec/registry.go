// Package toolspec registers typed client tools and reflects their input
// schemas for advertisement to the backend. Registration is generic over a
// parameter struct; json and jsonschema struct tags drive both decoding
// and the generated schema, so a tool's contract lives in one place.
package toolspec

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// ToolDefinition describes one registered tool for the transport hello.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Result is the outcome of a local tool invocation. Handler failures map
// to IsError results rather than Go errors so the backend always receives
// a payload to attach to the call.
type Result struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// registration stores one tool's metadata and type-erased handler.
type registration struct {
	def    ToolDefinition
	invoke func(context.Context, json.RawMessage) (*Result, error)
}

// Registry holds typed tool registrations. Register before sharing it;
// the registry is read-only afterwards and safe for concurrent use.
type Registry struct {
	tools []registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a type-safe tool handler. The parameter type T should be a
// struct with json and jsonschema struct tags. It returns the registry for
// chaining.
//
// Example:
//
//	type EchoParams struct {
//	    Text string `json:"text" jsonschema:"required,description=Text to echo back"`
//	}
//
//	reg := toolspec.NewRegistry()
//	toolspec.Register(reg, "echo", "Echo back the input text",
//	    func(ctx context.Context, params EchoParams) (string, error) {
//	        return params.Text, nil
//	    })
func Register[T any](
	reg *Registry,
	name, description string,
	handler func(context.Context, T) (string, error),
) *Registry {
	schema := generateSchema[T]()

	invoke := func(ctx context.Context, args json.RawMessage) (*Result, error) {
		var params T
		if len(args) > 0 {
			if err := json.Unmarshal(args, &params); err != nil {
				return nil, fmt.Errorf("invalid arguments for tool %s: %w", name, err)
			}
		}

		content, err := handler(ctx, params)
		if err != nil {
			return &Result{Content: err.Error(), IsError: true}, nil
		}
		return &Result{Content: content}, nil
	}

	reg.tools = append(reg.tools, registration{
		def: ToolDefinition{
			Name:        name,
			Description: description,
			InputSchema: schema,
		},
		invoke: invoke,
	})
	return reg
}

// Definitions returns every registered tool in registration order.
func (r *Registry) Definitions() []ToolDefinition {
	defs := make([]ToolDefinition, len(r.tools))
	for i, tool := range r.tools {
		defs[i] = tool.def
	}
	return defs
}

// Has reports whether a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	for _, tool := range r.tools {
		if tool.def.Name == name {
			return true
		}
	}
	return false
}

// Invoke dispatches to the named tool's handler. An unknown name returns
// an IsError result, not a Go error; errors are reserved for arguments
// that do not decode into the tool's parameter type.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (*Result, error) {
	for _, tool := range r.tools {
		if tool.def.Name == name {
			return tool.invoke(ctx, args)
		}
	}
	return &Result{Content: fmt.Sprintf("unknown tool: %s", name), IsError: true}, nil
}

// generateSchema reflects a JSON schema from the parameter struct type.
func generateSchema[T any]() json.RawMessage {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}

	var zero T
	schema := reflector.Reflect(zero)

	data, err := json.Marshal(schema)
	if err != nil {
		// Reflect output always marshals; a failure here is a bug.
		panic(fmt.Sprintf("failed to generate schema for type %T: %v", zero, err))
	}
	return json.RawMessage(data)
}
