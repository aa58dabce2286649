// Package relay is the rendezvous and chat service: topic-based pub/sub
// over WebSockets. Peers use it to find each other and exchange
// connection offers; game state never passes through it.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Frame types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePublish     = "publish"
	TypePing        = "ping"
	TypePong        = "pong"
)

// Frame is the envelope every message carries. Publish frames hold any
// further fields, which are relayed untouched.
type Frame struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics,omitempty"`
	Topic  string   `json:"topic,omitempty"`
}

var ErrBadFrame = errors.New("malformed frame")

// ParseFrame decodes the envelope of b and checks it is well formed.
func ParseFrame(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	switch f.Type {
	case TypeSubscribe, TypeUnsubscribe:
		if len(f.Topics) == 0 {
			return Frame{}, fmt.Errorf("%w: %s without topics", ErrBadFrame, f.Type)
		}
	case TypePublish:
		if f.Topic == "" {
			return Frame{}, fmt.Errorf("%w: publish without topic", ErrBadFrame)
		}
	case TypePing, TypePong:
	default:
		return Frame{}, fmt.Errorf("%w: unknown type %q", ErrBadFrame, f.Type)
	}
	return f, nil
}

// EncodePublish builds a publish frame for topic carrying the fields of
// payload, which must encode as a JSON object.
func EncodePublish(topic string, payload any) ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		if err := json.Unmarshal(b, &fields); err != nil {
			return nil, fmt.Errorf("payload is not an object: %w", err)
		}
	}
	fields["type"] = json.RawMessage(`"` + TypePublish + `"`)
	t, err := json.Marshal(topic)
	if err != nil {
		return nil, err
	}
	fields["topic"] = t
	return json.Marshal(fields)
}

func encodeFrame(f Frame) []byte {
	b, _ := json.Marshal(f)
	return b
}
