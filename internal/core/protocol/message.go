package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/zeusync/tachyon/internal/core/models"
)

// Message is the tachyon envelope. Only Code and OriginSocketID are interpreted by the
// core; the rest of the object is payload and stays in raw form until a handler asks
// for it.
type Message struct {
	Code           Code            `json:"Code"`
	OriginSocketID models.SocketID `json:"OriginSocketID"`

	raw []byte
}

// Decode parses data as a message envelope. Anything other than a JSON object is
// rejected with ErrDecode.
func Decode(data []byte) (*Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: expected JSON object", ErrDecode)
	}

	var envelope struct {
		Code           Code            `json:"Code"`
		OriginSocketID models.SocketID `json:"OriginSocketID"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return &Message{
		Code:           envelope.Code,
		OriginSocketID: envelope.OriginSocketID,
		raw:            trimmed,
	}, nil
}

// NewMessage builds an outbound message. payload must encode to a JSON object (or be
// nil); its fields are merged next to Code and OriginSocketID.
func NewMessage(code Code, origin models.SocketID, payload any) (*Message, error) {
	fields := make(map[string]json.RawMessage)

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEncode, err)
		}
		if err = json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("%w: payload of %q is not an object", ErrEncode, code)
		}
	}

	fields["Code"], _ = json.Marshal(code)
	fields["OriginSocketID"], _ = json.Marshal(origin)

	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}

	return &Message{Code: code, OriginSocketID: origin, raw: raw}, nil
}

// Payload decodes the full message object into v.
func (m *Message) Payload(v any) error {
	if len(m.raw) == 0 {
		return fmt.Errorf("%w: %q carries no payload", ErrMalformedPayload, m.Code)
	}
	if err := json.Unmarshal(m.raw, v); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrMalformedPayload, m.Code, err)
	}
	return nil
}

// Bytes returns the encoded message.
func (m *Message) Bytes() []byte {
	if len(m.raw) == 0 {
		data, _ := json.Marshal(struct {
			Code           Code            `json:"Code"`
			OriginSocketID models.SocketID `json:"OriginSocketID"`
		}{m.Code, m.OriginSocketID})
		return data
	}
	return m.raw
}

// MarshalJSON implements json.Marshaler.
func (m *Message) MarshalJSON() ([]byte, error) {
	return m.Bytes(), nil
}

// Size returns the encoded size in bytes.
func (m *Message) Size() int {
	return len(m.Bytes())
}
