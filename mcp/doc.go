// Package mcp contains protocol data types and constants shared across
// transports and the dispatch engine. It mirrors the wire representation of
// the protocol while keeping the surface Go-friendly (exported structs with
// json tags, string constants for method names and enumerations).
//
// The package is intentionally free of transport logic: the streaming HTTP,
// WebSocket and stdio transports import these types but implement their own
// framing and session handling. Likewise the function-registry collaborator
// (package toolset) constructs responses from these concrete types and hands
// them to the engine for JSON-RPC serialization.
//
// # Method Names
//
// JSON-RPC method and notification names are enumerated as Method constants
// (e.g. ToolsListMethod). Using the constants avoids typographical mistakes
// and ensures a single point of truth if the protocol evolves.
//
// # Transport Capabilities
//
// TransportCapability is a bitset describing what a given transport binding
// can carry (plain request/response, streamed text, binary frames, or a
// full-duplex channel). Function definitions declare the capabilities they
// require; listings are filtered so a client never sees a function its
// transport cannot execute.
//
// # Pagination
//
// List operations use cursor-based pagination. PaginatedRequest and
// PaginatedResult are embedded in request / result envelopes so the core
// list types stay clean.
package mcp
