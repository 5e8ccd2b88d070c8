package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/hashicorp/go-msgpack/v2/codec"
)

// lengthPrefixSize is the size, in bytes, of the big-endian frame
// length header that precedes every encoded tuple on the wire.
const lengthPrefixSize = 4

// maxFrameSize guards against a corrupt or hostile length prefix
// causing an unbounded allocation while waiting for the rest of a frame.
const maxFrameSize = 64 << 20 // 64MiB

// Framer encodes tuples to length-prefixed frames and decodes frames
// back into tuples, carrying partial trailing bytes across reads.
type Framer struct {
	codec Codec
	h     codec.Handle
}

// NewFramer builds a Framer for the given codec; an empty Codec
// selects CodecClone.
func NewFramer(c Codec) (*Framer, error) {
	if c == "" {
		c = CodecClone
	}
	h, err := c.Handle()
	if err != nil {
		return nil, err
	}
	return &Framer{codec: c, h: h}, nil
}

// Encode turns a tag and its payload into a single length-prefixed
// frame ready to write to the stream.
func (f *Framer) Encode(tag Tag, payload ...interface{}) ([]byte, error) {
	tuple := make([]interface{}, 0, len(payload)+1)
	tuple = append(tuple, int32(tag))
	for _, p := range payload {
		if f.codec == CodecClone {
			p = cloneMarshal(p)
		}
		tuple = append(tuple, p)
	}

	var body []byte
	enc := codec.NewEncoderBytes(&body, f.h)
	if err := enc.Encode(tuple); err != nil {
		return nil, fmt.Errorf("wire: encode %s frame: %w", tag, err)
	}
	if len(body) > maxFrameSize {
		return nil, fmt.Errorf("wire: encoded %s frame of %d bytes exceeds max frame size", tag, len(body))
	}

	out := make([]byte, lengthPrefixSize+len(body))
	binary.BigEndian.PutUint32(out, uint32(len(body)))
	copy(out[lengthPrefixSize:], body)
	return out, nil
}

// Decode consumes as many complete frames as are present in carry+buf,
// returning the decoded messages and whatever trailing bytes remain
// for the next call.
func (f *Framer) Decode(buf []byte, carry []byte) ([]Message, []byte, error) {
	data := carry
	if len(buf) > 0 {
		data = append(append([]byte(nil), carry...), buf...)
	}

	var msgs []Message
	for {
		if len(data) < lengthPrefixSize {
			return msgs, data, nil
		}
		n := binary.BigEndian.Uint32(data[:lengthPrefixSize])
		if n > maxFrameSize {
			return msgs, nil, fmt.Errorf("wire: frame length %d exceeds max frame size", n)
		}
		total := lengthPrefixSize + int(n)
		if len(data) < total {
			return msgs, data, nil
		}
		body := data[lengthPrefixSize:total]
		data = data[total:]

		msg, err := f.decodeTuple(body)
		if err != nil {
			return msgs, nil, err
		}
		msgs = append(msgs, msg)
	}
}

func (f *Framer) decodeTuple(body []byte) (Message, error) {
	var raw interface{}
	dec := codec.NewDecoderBytes(body, f.h)
	if err := dec.Decode(&raw); err != nil {
		return Message{}, fmt.Errorf("wire: decode frame: %w", err)
	}

	tuple, err := asTuple(raw)
	if err != nil {
		return Message{}, err
	}
	if len(tuple) == 0 {
		return Message{}, fmt.Errorf("wire: empty frame tuple")
	}
	tag, err := asInt(tuple[0])
	if err != nil {
		return Message{}, fmt.Errorf("wire: frame tag: %w", err)
	}
	payload := tuple[1:]
	if f.codec == CodecClone {
		for i, p := range payload {
			payload[i] = cloneUnmarshal(p)
		}
	}
	return Message{Tag: Tag(tag), Payload: payload}, nil
}

// asTuple normalizes a decoded tuple value that arrived either as a
// positional array ([]interface{}) or, for a codec without a top-level
// array type, as an integer-keyed object (map[interface{}]interface{}
// or map[string]interface{} with keys "0", "1", ...). Codecs lacking a
// top-level array are re-tupled here.
func asTuple(raw interface{}) ([]interface{}, error) {
	switch v := raw.(type) {
	case []interface{}:
		return v, nil
	case map[string]interface{}:
		return retuple(len(v), func(i int) (interface{}, bool) {
			val, ok := v[fmt.Sprint(i)]
			return val, ok
		})
	case map[interface{}]interface{}:
		return retuple(len(v), func(i int) (interface{}, bool) {
			val, ok := v[i]
			if !ok {
				val, ok = v[int64(i)]
			}
			if !ok {
				val, ok = v[fmt.Sprint(i)]
			}
			return val, ok
		})
	default:
		return nil, fmt.Errorf("wire: frame body decoded to unsupported type %T", raw)
	}
}

func retuple(n int, at func(i int) (interface{}, bool)) ([]interface{}, error) {
	out := make([]interface{}, 0, n)
	for i := 0; i < n; i++ {
		v, ok := at(i)
		if !ok {
			return nil, fmt.Errorf("wire: integer-keyed frame object missing key %d", i)
		}
		out = append(out, v)
	}
	return out, nil
}

func asInt(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}
