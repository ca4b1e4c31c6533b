package im

import (
	"encoding/json"
	"fmt"
)

// Command is the wire-level routing code carried in Message.Command.
type Command int32

const (
	CmdHeart     Command = 0  // liveness refresh, no outbound payload
	CmdSingleMsg Command = 10 // direct message to Message.DestID
	CmdRoomMsg   Command = 11 // fan-out to members of group Message.DestID
)

// String returns the log name of the command.
func (c Command) String() string {
	switch c {
	case CmdHeart:
		return "heart"
	case CmdSingleMsg:
		return "single"
	case CmdRoomMsg:
		return "room"
	default:
		return fmt.Sprintf("unknown(%d)", int32(c))
	}
}

// Message is a single chat or control frame.
type Message struct {
	ID        int64   `json:"id"`
	SenderID  int64   `json:"userid"`
	Command   Command `json:"cmd"`
	DestID    int64   `json:"dstid"` // user id or group id depending on Command
	MediaType int32   `json:"media"`
	Content   string  `json:"content"`
	PicURL    string  `json:"pic"`
	LinkURL   string  `json:"url"`
	Memo      string  `json:"memo"`
	Amount    int32   `json:"amount"`
}

// DecodeError reports an inbound frame that could not be decoded into a Message.
type DecodeError struct {
	Size int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame (%d bytes): %v", e.Size, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decoder turns a raw inbound frame into a Message.
type Decoder interface {
	Decode(raw []byte) (*Message, error)
}

// Encoder turns a Message back into a raw frame.
type Encoder interface {
	Encode(msg *Message) ([]byte, error)
}

// JSONCodec is the default Decoder and Encoder. Frames are JSON objects using the
// field names of Message.
type JSONCodec struct{}

// Decode implements Decoder. Any failure is returned as a *DecodeError.
func (JSONCodec) Decode(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, &DecodeError{Size: len(raw), Err: err}
	}
	return &msg, nil
}

// Encode implements Encoder.
func (JSONCodec) Encode(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}
