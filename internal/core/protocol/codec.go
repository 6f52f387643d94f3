package protocol

// Codec turns raw frames into messages and back.
type Codec interface {
	Decode(data []byte) (*Message, error)
	Encode(msg *Message) ([]byte, error)
	ContentType() string
}

// JSONCodec is the tachyon wire format: one JSON object per frame.
type JSONCodec struct{}

var _ Codec = JSONCodec{}

// Decode parses one frame.
func (JSONCodec) Decode(data []byte) (*Message, error) {
	return Decode(data)
}

// Encode returns the frame for msg.
func (JSONCodec) Encode(msg *Message) ([]byte, error) {
	return msg.Bytes(), nil
}

// ContentType returns the MIME type of the format.
func (JSONCodec) ContentType() string {
	return "application/json"
}
