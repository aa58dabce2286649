package mesh

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// Envelope kinds.
const (
	kindPatch     uint8 = 1
	kindAwareness uint8 = 2
)

// Frame encodings, carried in the first byte of every data channel message.
const (
	encodingRaw  byte = 0
	encodingZstd byte = 1
)

// compressThreshold is the encoded size above which frames are compressed.
const compressThreshold = 4 << 10

// maxFrameSize bounds a decompressed frame.
const maxFrameSize = 16 << 20

var errBadFrame = errors.New("malformed mesh frame")

// envelope is what peers exchange on the doc channel. Patch and Awareness
// hold the document's own encodings of a patch and a peer record.
type envelope struct {
	Kind      uint8  `cbor:"1,keyasint"`
	Patch     []byte `cbor:"2,keyasint,omitempty"`
	Awareness []byte `cbor:"3,keyasint,omitempty"`
}

var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	if encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault)); err != nil {
		panic(err)
	}
	if decoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxFrameSize)); err != nil {
		panic(err)
	}
}

func encodeFrame(env envelope) ([]byte, error) {
	body, err := cbor.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	if len(body) <= compressThreshold {
		return append([]byte{encodingRaw}, body...), nil
	}
	return encoder.EncodeAll(body, []byte{encodingZstd}), nil
}

func decodeFrame(b []byte) (envelope, error) {
	if len(b) < 2 {
		return envelope{}, errBadFrame
	}
	body := b[1:]
	switch b[0] {
	case encodingRaw:
	case encodingZstd:
		var err error
		if body, err = decoder.DecodeAll(body, nil); err != nil {
			return envelope{}, fmt.Errorf("%w: %v", errBadFrame, err)
		}
	default:
		return envelope{}, fmt.Errorf("%w: encoding %d", errBadFrame, b[0])
	}
	var env envelope
	if err := cbor.Unmarshal(body, &env); err != nil {
		return envelope{}, fmt.Errorf("%w: %v", errBadFrame, err)
	}
	return env, nil
}
