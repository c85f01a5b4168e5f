package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ProtocolVersion is the supported JSON-RPC protocol version.
const ProtocolVersion = "2.0"

// ErrInvalidEnvelope is wrapped by every structural validation failure
// produced while parsing an envelope. Callers use errors.Is to distinguish
// shape violations (well-formed JSON, invalid message) from syntax errors.
var ErrInvalidEnvelope = errors.New("invalid jsonrpc envelope")

// ErrParse is wrapped when the raw bytes are not valid JSON at all.
var ErrParse = errors.New("malformed json")

// Envelope is a single JSON-RPC message: a request, a notification, or a
// response. Envelopes are parsed once on ingress, are immutable afterwards,
// and are discarded after one dispatch cycle.
type Envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      *RequestID      `json:"id,omitempty"`
}

// Parse decodes raw bytes into a validated Envelope. Syntax failures wrap
// ErrParse; structural violations of the classification invariants wrap
// ErrInvalidEnvelope. The invariants are:
//
//   - the version tag must equal "2.0"
//   - a message with a method must not carry result or error
//   - a message without a method must carry exactly one of result/error,
//     and must carry an id
func Parse(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		var syn *json.SyntaxError
		var typ *json.UnmarshalTypeError
		if errors.As(err, &syn) || errors.As(err, &typ) {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	if err := env.validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

func (m *Envelope) validate() error {
	if m.JSONRPC != ProtocolVersion {
		return fmt.Errorf("%w: version must be %q, got %q", ErrInvalidEnvelope, ProtocolVersion, m.JSONRPC)
	}

	hasMethod := m.Method != ""
	hasResult := len(m.Result) > 0
	hasError := m.Error != nil

	if hasMethod {
		if hasResult || hasError {
			return fmt.Errorf("%w: request cannot carry result or error", ErrInvalidEnvelope)
		}
		return nil
	}

	if hasResult == hasError {
		return fmt.Errorf("%w: response must carry exactly one of result or error", ErrInvalidEnvelope)
	}
	if m.ID.IsNil() {
		return fmt.Errorf("%w: response must carry an id", ErrInvalidEnvelope)
	}
	return nil
}

// IsRequest reports whether the envelope is a request or notification.
func (m *Envelope) IsRequest() bool { return m.Method != "" }

// IsNotification reports whether the envelope is a request with no id, for
// which no response may be produced.
func (m *Envelope) IsNotification() bool { return m.IsRequest() && m.ID.IsNil() }

// IsResponse reports whether the envelope is a response.
func (m *Envelope) IsResponse() bool { return m.Method == "" }

// IsSuccess reports whether the envelope is a successful response.
func (m *Envelope) IsSuccess() bool { return m.IsResponse() && m.Error == nil }

// IsError reports whether the envelope is an error response.
func (m *Envelope) IsError() bool { return m.IsResponse() && m.Error != nil }

// NewRequest builds a request (or, with a nil id, notification) envelope.
func NewRequest(id *RequestID, method string, params any) (*Envelope, error) {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		raw = b
	}
	return &Envelope{JSONRPC: ProtocolVersion, Method: method, Params: raw, ID: id}, nil
}

// NewNotification builds a notification envelope for the given method.
func NewNotification(method string, params any) (*Envelope, error) {
	return NewRequest(nil, method, params)
}

// NewResultResponse builds a successful response envelope, echoing id.
func NewResultResponse(id *RequestID, result any) (*Envelope, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Envelope{JSONRPC: ProtocolVersion, Result: b, ID: id}, nil
}

// NewErrorResponse builds an error response envelope, echoing id.
func NewErrorResponse(id *RequestID, rpcErr *Error) *Envelope {
	return &Envelope{JSONRPC: ProtocolVersion, Error: rpcErr, ID: id}
}

// Encode serializes the envelope to its wire form.
func (m *Envelope) Encode() ([]byte, error) {
	return json.Marshal(m)
}
