package toolset

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mcplane/mcplane-go/engine"
	"github.com/mcplane/mcplane-go/mcp"
)

type echoArgs struct {
	Message string `json:"message" jsonschema:"required,description=Text to echo back"`
	Upper   bool   `json:"upper,omitempty"`
}

func TestNewToolSchemaReflection(t *testing.T) {
	tool := NewTool("echo", func(ctx context.Context, args echoArgs) (*mcp.CallToolResult, error) {
		return TextResult(args.Message), nil
	}, WithDescription("Echo a message"))

	desc := tool.Descriptor
	if desc.Name != "echo" {
		t.Errorf("name = %q", desc.Name)
	}
	if desc.Description != "Echo a message" {
		t.Errorf("description = %q", desc.Description)
	}
	if desc.InputSchema.Type != "object" {
		t.Fatalf("schema type = %q, want object", desc.InputSchema.Type)
	}

	msg, ok := desc.InputSchema.Properties["message"]
	if !ok {
		t.Fatal("schema missing property message")
	}
	if msg.Type != "string" {
		t.Errorf("message type = %q, want string", msg.Type)
	}
	if msg.Description == "" {
		t.Error("message description not carried through reflection")
	}

	if up, ok := desc.InputSchema.Properties["upper"]; !ok || up.Type != "boolean" {
		t.Errorf("upper property = %+v, ok=%v", up, ok)
	}

	foundRequired := false
	for _, r := range desc.InputSchema.Required {
		if r == "message" {
			foundRequired = true
		}
	}
	if !foundRequired {
		t.Errorf("message should be required, got %v", desc.InputSchema.Required)
	}
	if desc.InputSchema.AdditionalProperties {
		t.Error("strict tools must set additionalProperties=false")
	}
}

func TestNewToolStrictDecoding(t *testing.T) {
	tool := NewTool("echo", func(ctx context.Context, args echoArgs) (*mcp.CallToolResult, error) {
		return TextResult(args.Message), nil
	})

	res, err := tool.Handler(context.Background(), &mcp.CallToolRequest{
		Name:      "echo",
		Arguments: json.RawMessage(`{"message": "hi", "bogus": 1}`),
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !res.IsError {
		t.Fatal("unknown fields should produce an IsError result")
	}

	res, err = tool.Handler(context.Background(), &mcp.CallToolRequest{
		Name:      "echo",
		Arguments: json.RawMessage(`{"message": "hi"}`),
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if res.IsError {
		t.Fatalf("valid arguments rejected: %+v", res)
	}
	if res.Content[0].Text != "hi" {
		t.Errorf("result text = %q", res.Content[0].Text)
	}
}

func TestNewToolTransportCapabilities(t *testing.T) {
	tool := NewTool("streamer", func(ctx context.Context, args struct{}) (*mcp.CallToolResult, error) {
		return TextResult("ok"), nil
	}, WithTransportCapabilities(mcp.CapStandard|mcp.CapTextStreaming))

	if !tool.Descriptor.Capabilities.Has(mcp.CapTextStreaming) {
		t.Error("capability flags lost")
	}

	b, err := json.Marshal(tool.Descriptor)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, leaked := m["Capabilities"]; leaked {
		t.Error("capability flags must not appear on the wire")
	}
}

func TestToolsetMutation(t *testing.T) {
	ts := NewToolset(
		NewTool("b", func(ctx context.Context, _ struct{}) (*mcp.CallToolResult, error) { return TextResult("b"), nil }),
		NewTool("a", func(ctx context.Context, _ struct{}) (*mcp.CallToolResult, error) { return TextResult("a"), nil }),
	)

	changes := 0
	ts.OnListChanged(func(context.Context) { changes++ })

	names := func() []string {
		var out []string
		for _, tool := range ts.ListTools(context.Background()) {
			out = append(out, tool.Name)
		}
		return out
	}

	if got := names(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("initial list = %v, want sorted [a b]", got)
	}

	if !ts.Add(context.Background(), NewTool("c", func(ctx context.Context, _ struct{}) (*mcp.CallToolResult, error) { return TextResult("c"), nil })) {
		t.Fatal("add failed")
	}
	if ts.Add(context.Background(), NewTool("c", func(ctx context.Context, _ struct{}) (*mcp.CallToolResult, error) { return nil, nil })) {
		t.Fatal("duplicate add should report false")
	}
	if !ts.Remove(context.Background(), "b") {
		t.Fatal("remove failed")
	}
	if ts.Remove(context.Background(), "b") {
		t.Fatal("double remove should report false")
	}
	if changes != 2 {
		t.Errorf("change handler fired %d times, want 2", changes)
	}
	if got := names(); len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Errorf("final list = %v, want [a c]", got)
	}
}

func TestToolsetCallUnknown(t *testing.T) {
	ts := NewToolset()
	_, err := ts.CallTool(context.Background(), &mcp.CallToolRequest{Name: "ghost"})
	if !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
