package wire

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-msgpack/v2/codec"
)

// Codec names a serializer the framer can use to turn a tuple into
// bytes and back. It matches the Config struct's `codec` field.
type Codec string

const (
	// CodecJSON serializes tuples as plain JSON arrays.
	CodecJSON Codec = "json"
	// CodecClone is CodecJSON plus a structured-clone pre/post walk that
	// round-trips time.Time and *regexp.Regexp values that plain JSON
	// would otherwise flatten to strings. It is the default.
	CodecClone Codec = "clone"
	// CodecBSON names a compact binary codec slot, backed by the
	// nearest available handle, Msgpack.
	CodecBSON Codec = "bson"
	// CodecFRON names a second compact binary codec slot; same handle
	// as BSON, since no dedicated FRON implementation is available.
	CodecFRON Codec = "fron"
)

// Handle returns the go-msgpack Handle backing this codec. JSON and
// CLONE both use JsonHandle; BSON and FRON both use MsgpackHandle,
// which (like JsonHandle) implements codec.Handle, so callers that
// only need to encode/decode don't need to special-case codecs.
func (c Codec) Handle() (codec.Handle, error) {
	switch c {
	case CodecJSON, CodecClone, "":
		h := &codec.JsonHandle{}
		h.Canonical = true
		return h, nil
	case CodecBSON, CodecFRON:
		h := &codec.MsgpackHandle{}
		h.RawToString = true
		return h, nil
	default:
		return nil, fmt.Errorf("wire: unknown codec %q", c)
	}
}

// HasTopLevelArray reports whether this codec's wire representation
// preserves a tuple as a positional array, as opposed to re-tupling it
// from an integer-keyed object on decode.
// Every handle in this pack supports top-level arrays natively, but the
// decode path below re-tuples unconditionally so a future handle that
// doesn't (e.g. a document-oriented BSON binding) is still handled
// correctly without further changes here.
func (c Codec) HasTopLevelArray() bool { return true }

// cloneKindKey/cloneValueKey are the envelope fields cloneMarshal wraps
// a time.Time or *regexp.Regexp in, so cloneUnmarshal can recognize and
// restore them on the way back. The names are deliberately unlikely to
// collide with an application's own map/struct field names.
const (
	cloneKindKey  = "$clone"
	cloneValueKey = "v"
)

// cloneMarshal walks v, replacing every time.Time and *regexp.Regexp it
// finds (arbitrarily nested in slices/arrays/maps/structs) with a
// {"$clone": kind, "v": ...} envelope, so the CLONE codec's underlying
// JSON handle — which would otherwise flatten both to plain strings —
// gets a value cloneUnmarshal can restore on decode. Every other value
// passes through unchanged, though struct fields get flattened to a
// string-keyed map along the way (keyed by the field's `codec` or
// `json` tag name when it has one), matching what decoding back into
// interface{} already produces for structs.
func cloneMarshal(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	switch t := v.(type) {
	case time.Time:
		return map[string]interface{}{cloneKindKey: "date", cloneValueKey: t.UTC().Format(time.RFC3339Nano)}
	case *regexp.Regexp:
		if t == nil {
			return nil
		}
		return map[string]interface{}{cloneKindKey: "regexp", cloneValueKey: t.String()}
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return cloneMarshal(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		out := make([]interface{}, rv.Len())
		for i := range out {
			out[i] = cloneMarshal(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		out := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = cloneMarshal(iter.Value().Interface())
		}
		return out
	case reflect.Struct:
		st := rv.Type()
		out := make(map[string]interface{}, rv.NumField())
		for i := 0; i < st.NumField(); i++ {
			f := st.Field(i)
			if f.PkgPath != "" { // unexported
				continue
			}
			name := f.Name
			for _, key := range []string{"codec", "json"} {
				if tag := f.Tag.Get(key); tag != "" {
					if n := strings.Split(tag, ",")[0]; n != "" {
						name = n
					}
					break
				}
			}
			if name == "-" {
				continue
			}
			out[name] = cloneMarshal(rv.Field(i).Interface())
		}
		return out
	default:
		return v
	}
}

// cloneUnmarshal is cloneMarshal's mirror, run over a value just
// decoded off the wire: it recognizes the {"$clone": kind, "v": ...}
// envelope (in either map shape a generic decode may produce) and
// restores the original time.Time or *regexp.Regexp, recursing through
// every other map/slice unchanged.
func cloneUnmarshal(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		if restored, ok := cloneRestore(t[cloneKindKey], t[cloneValueKey]); ok {
			return restored
		}
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = cloneUnmarshal(e)
		}
		return out
	case map[interface{}]interface{}:
		flat := make(map[string]interface{}, len(t))
		for k, e := range t {
			flat[fmt.Sprint(k)] = e
		}
		return cloneUnmarshal(flat)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneUnmarshal(e)
		}
		return out
	default:
		return v
	}
}

func cloneRestore(kind interface{}, value interface{}) (interface{}, bool) {
	k, ok := kind.(string)
	if !ok {
		return nil, false
	}
	s, ok := value.(string)
	if !ok {
		return nil, false
	}
	switch k {
	case "date":
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, false
		}
		return parsed, true
	case "regexp":
		re, err := regexp.Compile(s)
		if err != nil {
			return nil, false
		}
		return re, true
	default:
		return nil, false
	}
}
