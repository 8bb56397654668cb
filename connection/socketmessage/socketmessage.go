/*
This package defines the messages exchanged with the Socket Mode relay: the envelopes we
receive (SocketMessage) and the acknowledgements we send back (Acknowledgement). Payloads
are resolved into concrete types through an explicit registry keyed by the message type,
see payloads.go.
*/
package socketmessage

import (
	"encoding/json"
)

// The different categories of messages the relay sends us
type MessageType string

const (
	// sent once per connection as soon as the relay is ready to deliver
	Hello MessageType = "hello"

	// the relay is about to close this connection, see DisconnectReason
	Disconnect MessageType = "disconnect"

	// envelopes, each must be acknowledged with its envelope id
	EventsApi     MessageType = "events_api"
	Interactive   MessageType = "interactive"
	SlashCommands MessageType = "slash_commands"
)

// RequiresAck is true for the envelope types the relay redelivers until acknowledged
func (t MessageType) RequiresAck() bool {
	switch t {
	case EventsApi, Interactive, SlashCommands:
		return true
	default:
		return false
	}
}

type DisconnectReason string

const (
	// the connection is being cycled, a new one should be opened when this one closes
	RefreshRequested DisconnectReason = "refresh_requested"

	// socket mode was turned off for the app, reconnecting is pointless
	LinkDisabled DisconnectReason = "link_disabled"

	// the relay sends this ahead of a refresh
	Warning DisconnectReason = "warning"
)

// Terminal reasons mean no further connections should be attempted
func (r DisconnectReason) Terminal() bool {
	return r == LinkDisabled
}

type DebugInfo struct {
	Host                      string `json:"host,omitempty"`
	BuildNumber               int    `json:"build_number,omitempty"`
	ApproximateConnectionTime int    `json:"approximate_connection_time,omitempty"`
}

type ConnectionInfo struct {
	AppId string `json:"app_id,omitempty"`
}

type SocketMessage struct {
	Type       MessageType `json:"type"`
	EnvelopeId string      `json:"envelope_id,omitempty"`

	// Resolved through the payload registry, nil for messages without a payload or with an
	// unregistered type
	Payload    Payload         `json:"-"`
	RawPayload json.RawMessage `json:"payload,omitempty"`

	// envelope metadata
	AcceptsResponsePayload bool   `json:"accepts_response_payload,omitempty"`
	RetryAttempt           int    `json:"retry_attempt,omitempty"`
	RetryReason            string `json:"retry_reason,omitempty"`

	// hello and disconnect metadata
	Reason         DisconnectReason `json:"reason,omitempty"`
	NumConnections int              `json:"num_connections,omitempty"`
	DebugInfo      *DebugInfo       `json:"debug_info,omitempty"`
	ConnectionInfo *ConnectionInfo  `json:"connection_info,omitempty"`

	// Which transport this arrived on. Assigned by the connection manager, never on the wire
	SocketId int64 `json:"-"`
}

// AppId is the app the relay says this connection belongs to, empty unless it said hello
func (m SocketMessage) AppId() string {
	if m.ConnectionInfo == nil {
		return ""
	}
	return m.ConnectionInfo.AppId
}

// IsEnvelope is true when the relay expects an acknowledgement for this message
func (m SocketMessage) IsEnvelope() bool {
	return m.EnvelopeId != "" || m.Type.RequiresAck()
}

type Acknowledgement struct {
	EnvelopeId string `json:"envelope_id"`
	Payload    any    `json:"payload,omitempty"`

	// Which transport the acknowledged envelope arrived on
	SocketId int64 `json:"-"`
}

// AckFor builds the acknowledgement for a message, routed back to its transport
func AckFor(message SocketMessage, payload any) Acknowledgement {
	return Acknowledgement{
		EnvelopeId: message.EnvelopeId,
		Payload:    payload,
		SocketId:   message.SocketId,
	}
}
