package mcp

// Role indicates the role of a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// LoggingLevel represents structured log severity.
type LoggingLevel string

const (
	LoggingLevelDebug   LoggingLevel = "debug"
	LoggingLevelInfo    LoggingLevel = "info"
	LoggingLevelWarning LoggingLevel = "warning"
	LoggingLevelError   LoggingLevel = "error"
)

// TransportCapability is a bitset describing what a transport binding can
// carry. Function definitions declare the capabilities they require; tool
// listings are filtered so a client never sees a function its transport
// cannot execute.
type TransportCapability uint8

const (
	// CapStandard is plain request/response invocation. Every transport
	// supports it.
	CapStandard TransportCapability = 1 << iota
	// CapTextStreaming requires a server-to-client text stream (SSE or
	// better).
	CapTextStreaming
	// CapBinaryStreaming requires binary frame support.
	CapBinaryStreaming
	// CapRequiresFullDuplex requires a bidirectional channel open for the
	// lifetime of the call.
	CapRequiresFullDuplex
)

// Has reports whether every capability in want is present in c.
func (c TransportCapability) Has(want TransportCapability) bool {
	return c&want == want
}

// FunctionDefinition is the listing-level description of a registered
// function, produced by the function-registry collaborator. Capabilities is
// consulted only for transport-eligibility filtering; schema and dispatch
// detail live with the registry.
type FunctionDefinition struct {
	Name         string              `json:"name"`
	Description  string              `json:"description,omitzero"`
	Capabilities TransportCapability `json:"-"`
}

// ClientCapabilities advertises client features during initialize.
type ClientCapabilities struct {
	Roots *struct {
		ListChanged bool `json:"listChanged"`
	} `json:"roots,omitempty"`
	Sampling *struct{} `json:"sampling,omitempty"`
}

// ServerCapabilities advertises server features.
type ServerCapabilities struct {
	Logging *struct{} `json:"logging,omitempty"`
	Prompts *struct {
		ListChanged bool `json:"listChanged"`
	} `json:"prompts,omitempty"`
	Resources *struct {
		ListChanged bool `json:"listChanged"`
		Subscribe   bool `json:"subscribe"`
	} `json:"resources,omitempty"`
	Tools *struct {
		ListChanged bool `json:"listChanged"`
	} `json:"tools,omitempty"`
}

// ImplementationInfo describes the implementation name and version.
type ImplementationInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Title   string `json:"title,omitzero"`
}

// ContentBlock is a typed content part of a message.
type ContentBlock struct {
	Type string `json:"type"`
	// For text content
	Text string `json:"text,omitzero"`
	// For image and audio content
	Data     string `json:"data,omitzero"`
	MimeType string `json:"mimeType,omitzero"`
	// For embedded resources
	Resource *ResourceContents `json:"resource,omitempty"`
}

// TextContent builds a text content block.
func TextContent(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// Tool describes a callable tool and its input schema.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema ToolInputSchema `json:"inputSchema"`
	// Capabilities constrain which transports may list and call this tool.
	// Zero means CapStandard.
	Capabilities TransportCapability `json:"-"`
}

// Definition projects the listing-level view of the tool.
func (t Tool) Definition() FunctionDefinition {
	caps := t.Capabilities
	if caps == 0 {
		caps = CapStandard
	}
	return FunctionDefinition{Name: t.Name, Description: t.Description, Capabilities: caps}
}

// ToolInputSchema is a JSON-schema-like description of tool input.
type ToolInputSchema struct {
	Type                 string                    `json:"type"`
	Properties           map[string]SchemaProperty `json:"properties,omitempty"`
	Required             []string                  `json:"required,omitempty"`
	AdditionalProperties bool                      `json:"additionalProperties,omitzero"`
}

// SchemaProperty is a simplified schema node used in tool schemas.
type SchemaProperty struct {
	Type        string                    `json:"type,omitempty"`
	Description string                    `json:"description,omitzero"`
	Items       *SchemaProperty           `json:"items,omitempty"`
	Properties  map[string]SchemaProperty `json:"properties,omitempty"`
	Enum        []any                     `json:"enum,omitempty"`
}

// Resource represents an addressable resource.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitzero"`
	MimeType    string `json:"mimeType,omitzero"`
}

// ResourceContents is the value of a resource read.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitzero"`
	// For text resources
	Text string `json:"text,omitzero"`
	// For binary resources, base64 encoded
	Blob string `json:"blob,omitzero"`
}

// Prompt describes a named prompt the server can provide.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitzero"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// PromptArgument describes a single prompt argument.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitzero"`
	Required    bool   `json:"required,omitzero"`
}

// PromptMessage is a message used in a prompt.
type PromptMessage struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ProtocolVersion is the protocol revision this core implements.
const ProtocolVersion = "2024-11-05"
