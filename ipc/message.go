// Package ipc defines the wire protocol between the conch wrapper and the
// conchd daemon, and the client side of it.
package ipc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/m4xw311/conch/shell"
)

// APIVersion is bumped on incompatible protocol changes.
const APIVersion = "1"

// Message is the envelope for everything on the wire. ID correlates a
// response with its request.
type Message struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage wraps payload in a fresh envelope with a new correlation id.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	return NewReply(msgType, uuid.NewString(), payload)
}

// NewReply wraps payload in an envelope reusing the given correlation id.
func NewReply(msgType, id string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		ID:        id,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Client → daemon message types.
const (
	TypeSetup    = "setup"
	TypeGenerate = "generate"
	TypeExit     = "exit"
)

// Daemon → client message types.
const (
	TypeSetupOK    = "setup.ok"
	TypeGenerateOK = "generate.ok"
	TypeError      = "error"
)

// Error codes.
const (
	ErrSessionNotFound = "SESSION_NOT_FOUND"
	ErrMaxSessions     = "MAX_SESSIONS"
	ErrInvalidMessage  = "INVALID_MESSAGE"
	ErrProviderFailed  = "PROVIDER_FAILED"
)

// Client → daemon payloads.

type SetupPayload struct {
	User       string `json:"user"`
	APIVersion string `json:"apiVersion"`
}

type GeneratePayload struct {
	SessionID string       `json:"sessionId"`
	Query     string       `json:"query"`
	Records   []WireRecord `json:"records"`
}

type ExitPayload struct {
	SessionID string `json:"sessionId"`
}

// WireRecord is a session record as carried on the wire.
type WireRecord struct {
	Kind    string `json:"kind"`
	Text    string `json:"text"`
	Ordinal uint64 `json:"ordinal"`
}

// EncodeRecords converts store records for transport.
func EncodeRecords(recs []shell.Record) []WireRecord {
	out := make([]WireRecord, len(recs))
	for i, r := range recs {
		out[i] = WireRecord{Kind: string(r.Kind), Text: r.Text, Ordinal: r.Ordinal}
	}
	return out
}

// Daemon → client payloads.

type SetupOKPayload struct {
	SessionID string `json:"sessionId"`
	MOTD      string `json:"motd"`
}

type GenerateOKPayload struct {
	Suggestion Suggestion `json:"suggestion"`
}

// Suggestion mirrors shell.Suggestion on the wire.
type Suggestion struct {
	Text       string   `json:"text"`
	Commands   []string `json:"commands"`
	Executable bool     `json:"executable"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// validClientTypes is the set of allowed client → daemon message types.
var validClientTypes = map[string]bool{
	TypeSetup:    true,
	TypeGenerate: true,
	TypeExit:     true,
}

// ValidateClientMessage validates a raw JSON message arriving at the daemon.
func ValidateClientMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("missing 'type' field")
	}
	if !validClientTypes[msg.Type] {
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}
	if msg.ID == "" {
		return nil, fmt.Errorf("missing 'id' field")
	}
	if msg.Payload == nil {
		return nil, fmt.Errorf("missing 'payload' field")
	}

	switch msg.Type {
	case TypeSetup:
		var p SetupPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.APIVersion != APIVersion {
			return nil, fmt.Errorf("unsupported api version %q", p.APIVersion)
		}
		if p.User == "" {
			return nil, fmt.Errorf("missing required field 'user' in %s payload", msg.Type)
		}

	case TypeGenerate:
		var p GeneratePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.SessionID == "" {
			return nil, fmt.Errorf("missing required field 'sessionId' in %s payload", msg.Type)
		}
		if p.Query == "" {
			return nil, fmt.Errorf("missing required field 'query' in %s payload", msg.Type)
		}

	case TypeExit:
		var p ExitPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.SessionID == "" {
			return nil, fmt.Errorf("missing required field 'sessionId' in %s payload", msg.Type)
		}
	}

	return &msg, nil
}

// NewErrorReply builds an error message correlated to the failing request.
func NewErrorReply(id, code, message string) (*Message, error) {
	return NewReply(TypeError, id, ErrorPayload{Code: code, Message: message})
}
