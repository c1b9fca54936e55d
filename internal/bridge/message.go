package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidMessage = errors.New("invalid application message")

// Message is the {type, data} envelope clients and the application exchange
// over the data channel. Data is left raw for the application to interpret.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// EncodeMessage builds the text payload for an outbound message. data is
// marshaled as JSON; a json.RawMessage is embedded as is.
func EncodeMessage(typ string, data any) (string, error) {
	if typ == "" {
		return "", fmt.Errorf("%w: empty type", ErrInvalidMessage)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("%w: marshal data: %v", ErrInvalidMessage, err)
	}
	out, err := json.Marshal(Message{Type: typ, Data: raw})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return string(out), nil
}

// DecodeMessage parses an inbound data-channel payload.
func DecodeMessage(payload string) (Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrInvalidMessage)
	}
	return m, nil
}
