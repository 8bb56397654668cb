package socketmessage

import (
	"encoding/json"
	"fmt"
)

// DecodeError means an inbound frame could not be turned into a SocketMessage
type DecodeError struct {
	Raw      string
	InnerErr error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode socket message %q: %s", e.Raw, e.InnerErr)
}

func (e *DecodeError) Unwrap() error { return e.InnerErr }

const maxRawInError = 256

func Decode(raw []byte) (SocketMessage, error) {
	var message SocketMessage
	if err := json.Unmarshal(raw, &message); err != nil {
		return SocketMessage{}, newDecodeError(raw, err)
	}

	if message.Type == "" {
		return SocketMessage{}, newDecodeError(raw, fmt.Errorf("message has no type"))
	}

	if message.Type.RequiresAck() && message.EnvelopeId == "" {
		return SocketMessage{}, newDecodeError(raw, fmt.Errorf("%s message has no envelope id", message.Type))
	}

	if len(message.RawPayload) == 0 || string(message.RawPayload) == "null" {
		return message, nil
	}

	if decoder, ok := lookupDecoder(message.Type); ok {
		payload, err := decoder(message.RawPayload)
		if err != nil {
			return SocketMessage{}, newDecodeError(raw, err)
		}
		message.Payload = payload
	}

	return message, nil
}

func EncodeAck(ack Acknowledgement) ([]byte, error) {
	if ack.EnvelopeId == "" {
		return nil, fmt.Errorf("cannot acknowledge a message without an envelope id")
	}

	return json.Marshal(ack)
}

func newDecodeError(raw []byte, err error) *DecodeError {
	s := string(raw)
	if len(s) > maxRawInError {
		s = s[:maxRawInError] + "..."
	}
	return &DecodeError{Raw: s, InnerErr: err}
}
