package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mcplane/mcplane-go/hooks"
	"github.com/mcplane/mcplane-go/internal/jsonrpc"
	"github.com/mcplane/mcplane-go/internal/logctx"
	"github.com/mcplane/mcplane-go/internal/pagination"
	"github.com/mcplane/mcplane-go/mcp"
)

// Transport describes the binding a message arrived on. Capabilities drive
// the eligibility filtering of tool listings and calls; SessionID is the
// validated session token, or empty before the handshake.
type Transport struct {
	Name         string
	Capabilities mcp.TransportCapability
	SessionID    string
}

// Result is the outcome of one dispatch cycle. Response is nil when the
// inbound message was a notification. NewSessionID is set when the
// handshake minted a session; the transport echoes it to the client.
type Result struct {
	Response     *jsonrpc.Envelope
	NewSessionID string
}

// Dispatch parses one raw JSON-RPC message and routes it. Each invocation
// is independent; sessions provide the only cross-call state. Dispatch
// never panics and never returns a Go error: every failure becomes an error
// envelope (or nothing, for notifications).
func (e *Engine) Dispatch(ctx context.Context, raw []byte, t Transport) Result {
	env, err := jsonrpc.Parse(raw)
	if err != nil {
		if errors.Is(err, jsonrpc.ErrParse) {
			return Result{Response: jsonrpc.NewErrorResponse(nil,
				jsonrpc.NewError(jsonrpc.ErrorCodeParseError, "parse error").WithData(err.Error()))}
		}
		return Result{Response: jsonrpc.NewErrorResponse(nil,
			jsonrpc.NewError(jsonrpc.ErrorCodeInvalidRequest, "invalid request").WithData(err.Error()))}
	}

	if env.IsResponse() {
		// Responses have no business arriving at a server endpoint.
		return Result{Response: jsonrpc.NewErrorResponse(env.ID,
			jsonrpc.NewError(jsonrpc.ErrorCodeInvalidRequest, "expected a request or notification"))}
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: env.Method, ID: env.ID.String()})

	res := e.route(ctx, env, t)

	// Notifications are fire-and-forget: no response is ever produced, even
	// when routing failed or the handler returned a value.
	if env.IsNotification() {
		res.Response = nil
	}
	return res
}

// route resolves the method in fixed priority order: handshake, listings,
// invocation, resources, client notifications, then registered functions.
func (e *Engine) route(ctx context.Context, env *jsonrpc.Envelope, t Transport) Result {
	switch mcp.Method(env.Method) {
	case mcp.InitializeMethod:
		return e.handleInitialize(ctx, env, t)
	case mcp.PingMethod:
		return respond(env.ID, struct{}{})
	case mcp.ToolsListMethod:
		return e.handleToolsList(ctx, env, t)
	case mcp.PromptsListMethod:
		return e.handlePromptsList(ctx, env)
	case mcp.ToolsCallMethod:
		return e.handleToolsCall(ctx, env, t)
	case mcp.ResourcesListMethod:
		return e.handleResourcesList(ctx, env)
	case mcp.ResourcesReadMethod:
		return e.handleResourcesRead(ctx, env)
	case mcp.ResourcesSubscribeMethod:
		return e.handleSubscribe(ctx, env, t, true)
	case mcp.ResourcesUnsubscribeMethod:
		return e.handleSubscribe(ctx, env, t, false)
	case mcp.PromptsGetMethod:
		return e.handlePromptsGet(ctx, env)
	}

	if strings.HasPrefix(env.Method, mcp.NotificationMethodPrefix) {
		// Client-originated notification: acknowledged by doing nothing.
		e.log.DebugContext(ctx, "client notification received",
			slog.String("method", env.Method))
		return Result{}
	}

	if e.functions != nil {
		if fn, ok := e.functions.Lookup(env.Method); ok {
			return e.invokeFunction(ctx, env, t, fn)
		}
	}

	return fail(env.ID, jsonrpc.NewError(jsonrpc.ErrorCodeMethodNotFound, "method not found: %s", env.Method))
}

func (e *Engine) handleInitialize(ctx context.Context, env *jsonrpc.Envelope, t Transport) Result {
	params, rpcErr := decodeParams[mcp.InitializeRequest](env)
	if rpcErr != nil {
		return fail(env.ID, rpcErr)
	}

	res := Result{}
	if t.SessionID == "" {
		id, err := e.sessions.CreateSession(ctx)
		if err != nil {
			e.log.ErrorContext(ctx, "session creation failed", slog.Any("error", err))
			return fail(env.ID, jsonrpc.NewError(jsonrpc.ErrorCodeInternalError, "could not create session"))
		}
		res.NewSessionID = id
	}

	caps := mcp.ServerCapabilities{}
	if e.tools != nil {
		caps.Tools = &struct {
			ListChanged bool `json:"listChanged"`
		}{ListChanged: true}
	}
	if e.prompts != nil {
		caps.Prompts = &struct {
			ListChanged bool `json:"listChanged"`
		}{ListChanged: true}
	}
	if e.resources != nil {
		caps.Resources = &struct {
			ListChanged bool `json:"listChanged"`
			Subscribe   bool `json:"subscribe"`
		}{ListChanged: true, Subscribe: true}
	}

	e.log.InfoContext(ctx, "session initialized",
		slog.String("client", params.ClientInfo.Name),
		slog.String("client_version", params.ClientInfo.Version),
		slog.String("transport", t.Name))

	out := respond(env.ID, mcp.InitializeResult{
		ProtocolVersion: mcp.ProtocolVersion,
		Capabilities:    caps,
		ServerInfo:      e.serverInfo,
	})
	out.NewSessionID = res.NewSessionID
	return out
}

func (e *Engine) handleToolsList(ctx context.Context, env *jsonrpc.Envelope, t Transport) Result {
	if e.tools == nil {
		return fail(env.ID, jsonrpc.NewError(jsonrpc.ErrorCodeMethodNotFound, "tools are not supported"))
	}
	params, rpcErr := decodeParams[mcp.ListToolsRequest](env)
	if rpcErr != nil {
		return fail(env.ID, rpcErr)
	}

	transportCaps := t.Capabilities
	if transportCaps == 0 {
		transportCaps = mcp.CapStandard
	}

	all := e.tools.ListTools(ctx)
	eligible := make([]mcp.Tool, 0, len(all))
	for _, tool := range all {
		if transportCaps.Has(tool.Definition().Capabilities) {
			eligible = append(eligible, tool)
		}
	}

	page := pagination.Paginate(eligible, params.Cursor, e.pageSize)
	out := mcp.ListToolsResult{Tools: page.Items}
	out.NextCursor = page.NextCursor
	return respond(env.ID, out)
}

func (e *Engine) handlePromptsList(ctx context.Context, env *jsonrpc.Envelope) Result {
	if e.prompts == nil {
		return fail(env.ID, jsonrpc.NewError(jsonrpc.ErrorCodeMethodNotFound, "prompts are not supported"))
	}
	params, rpcErr := decodeParams[mcp.ListPromptsRequest](env)
	if rpcErr != nil {
		return fail(env.ID, rpcErr)
	}

	page := pagination.Paginate(e.prompts.ListPrompts(ctx), params.Cursor, e.pageSize)
	out := mcp.ListPromptsResult{Prompts: page.Items}
	out.NextCursor = page.NextCursor
	return respond(env.ID, out)
}

func (e *Engine) handlePromptsGet(ctx context.Context, env *jsonrpc.Envelope) Result {
	if e.prompts == nil {
		return fail(env.ID, jsonrpc.NewError(jsonrpc.ErrorCodeMethodNotFound, "prompts are not supported"))
	}
	params, rpcErr := decodeParams[mcp.GetPromptRequest](env)
	if rpcErr != nil {
		return fail(env.ID, rpcErr)
	}
	if params.Name == "" {
		return fail(env.ID, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "prompt name is required"))
	}

	result, err := e.prompts.GetPrompt(ctx, params)
	if err != nil {
		return fail(env.ID, translateError(err))
	}
	return respond(env.ID, result)
}

func (e *Engine) handleToolsCall(ctx context.Context, env *jsonrpc.Envelope, t Transport) Result {
	if e.tools == nil {
		return fail(env.ID, jsonrpc.NewError(jsonrpc.ErrorCodeMethodNotFound, "tools are not supported"))
	}
	params, rpcErr := decodeParams[mcp.CallToolRequest](env)
	if rpcErr != nil {
		return fail(env.ID, rpcErr)
	}
	if params.Name == "" {
		return fail(env.ID, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "tool name is required"))
	}

	transportCaps := t.Capabilities
	if transportCaps == 0 {
		transportCaps = mcp.CapStandard
	}
	for _, tool := range e.tools.ListTools(ctx) {
		if tool.Name == params.Name && !transportCaps.Has(tool.Definition().Capabilities) {
			return fail(env.ID, jsonrpc.NewError(jsonrpc.ErrorCodeMethodNotFound,
				"tool %q is not available on this transport", params.Name))
		}
	}

	var result *mcp.CallToolResult
	err := e.observe(ctx, t.SessionID, "tools/call:"+params.Name, func() error {
		var callErr error
		result, callErr = e.tools.CallTool(ctx, params)
		return callErr
	})
	if err != nil {
		return fail(env.ID, translateError(err))
	}
	return respond(env.ID, result)
}

func (e *Engine) handleResourcesList(ctx context.Context, env *jsonrpc.Envelope) Result {
	if e.resources == nil {
		return fail(env.ID, jsonrpc.NewError(jsonrpc.ErrorCodeMethodNotFound, "resources are not supported"))
	}
	params, rpcErr := decodeParams[mcp.ListResourcesRequest](env)
	if rpcErr != nil {
		return fail(env.ID, rpcErr)
	}

	page := pagination.Paginate(e.resources.ListResources(ctx), params.Cursor, e.pageSize)
	out := mcp.ListResourcesResult{Resources: page.Items}
	out.NextCursor = page.NextCursor
	return respond(env.ID, out)
}

func (e *Engine) handleResourcesRead(ctx context.Context, env *jsonrpc.Envelope) Result {
	if e.resources == nil {
		return fail(env.ID, jsonrpc.NewError(jsonrpc.ErrorCodeMethodNotFound, "resources are not supported"))
	}
	params, rpcErr := decodeParams[mcp.ReadResourceRequest](env)
	if rpcErr != nil {
		return fail(env.ID, rpcErr)
	}
	if params.URI == "" {
		return fail(env.ID, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "resource uri is required"))
	}

	result, err := e.resources.ReadResource(ctx, params.URI)
	if err != nil {
		return fail(env.ID, translateError(err))
	}
	return respond(env.ID, result)
}

func (e *Engine) handleSubscribe(ctx context.Context, env *jsonrpc.Envelope, t Transport, subscribe bool) Result {
	if e.resources == nil {
		return fail(env.ID, jsonrpc.NewError(jsonrpc.ErrorCodeMethodNotFound, "resources are not supported"))
	}
	if t.SessionID == "" {
		return fail(env.ID, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidRequest, "a session is required to manage subscriptions"))
	}
	params, rpcErr := decodeParams[mcp.SubscribeRequest](env)
	if rpcErr != nil {
		return fail(env.ID, rpcErr)
	}
	if params.URI == "" {
		return fail(env.ID, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "resource uri is required"))
	}

	if subscribe {
		e.subs.Subscribe(t.SessionID, params.URI)
	} else {
		e.subs.Unsubscribe(t.SessionID, params.URI)
	}
	return respond(env.ID, struct{}{})
}

func (e *Engine) invokeFunction(ctx context.Context, env *jsonrpc.Envelope, t Transport, fn Function) Result {
	var value any
	err := e.observe(ctx, t.SessionID, env.Method, func() (invokeErr error) {
		defer func() {
			if r := recover(); r != nil {
				invokeErr = fmt.Errorf("function %s panicked: %v", env.Method, r)
			}
		}()
		value, invokeErr = fn.Invoke(ctx, env.Params)
		return
	})
	if err != nil {
		return fail(env.ID, translateError(err))
	}
	return respond(env.ID, value)
}

// observe wraps fn with the registered lifecycle observers. Observer
// failures are isolated: a panicking observer is logged and skipped and
// never aborts the call or starves later observers.
func (e *Engine) observe(ctx context.Context, sessionID, method string, fn func() error) error {
	e.notifyObservers(ctx, func(o hooks.Observer) {
		o.OnInvocationStart(ctx, sessionID, method)
	})

	err := fn()

	if err != nil {
		e.notifyObservers(ctx, func(o hooks.Observer) {
			o.OnInvocationError(ctx, sessionID, method, err)
		})
	} else {
		e.notifyObservers(ctx, func(o hooks.Observer) {
			o.OnInvocationSuccess(ctx, sessionID, method)
		})
	}
	return err
}

func (e *Engine) notifyObservers(ctx context.Context, call func(hooks.Observer)) {
	for _, o := range e.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.log.ErrorContext(ctx, "lifecycle observer panicked", slog.Any("panic", r))
				}
			}()
			call(o)
		}()
	}
}

// translateError maps collaborator failures onto the protocol error
// taxonomy. Unexpected errors are reported as InternalError with the
// original message retained as diagnostic data, never silently swallowed.
func translateError(err error) *jsonrpc.Error {
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	if errors.Is(err, ErrNotFound) {
		return jsonrpc.NewError(jsonrpc.ErrorCodeMethodNotFound, "%s", err.Error())
	}
	if errors.Is(err, ErrInvalidParams) {
		return jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "%s", err.Error())
	}
	return jsonrpc.NewError(jsonrpc.ErrorCodeInternalError, "internal error").WithData(err.Error())
}

func decodeParams[T any](env *jsonrpc.Envelope) (*T, *jsonrpc.Error) {
	var v T
	if len(env.Params) > 0 {
		if err := json.Unmarshal(env.Params, &v); err != nil {
			return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "invalid params").WithData(err.Error())
		}
	}
	return &v, nil
}

func respond(id *jsonrpc.RequestID, result any) Result {
	env, err := jsonrpc.NewResultResponse(id, result)
	if err != nil {
		return fail(id, jsonrpc.NewError(jsonrpc.ErrorCodeInternalError, "failed to encode result").WithData(err.Error()))
	}
	return Result{Response: env}
}

func fail(id *jsonrpc.RequestID, rpcErr *jsonrpc.Error) Result {
	return Result{Response: jsonrpc.NewErrorResponse(id, rpcErr)}
}
