/*
 * Package port implements the message transport used by the farm client.
 *
 * A Port carries two kinds of messages over one ordered stream:
 *   - JSON control messages (always a top-level object)
 *   - raw binary payloads (compressed sources, object files)
 *
 * Framing is the transport's job; callers see whole messages. A Port is not
 * safe for concurrent use and must be owned by a single goroutine.
 */
package port

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// MaxFrameSize bounds a single received message.
const MaxFrameSize = 256 << 20

// ErrEOF is returned (wrapped) when the peer has closed the stream.
var ErrEOF = errors.New("end of stream")

// Object is a decoded top-level JSON object with lazily decoded values.
type Object map[string]json.RawMessage

// Port is a bidirectional message stream.
type Port interface {
	Send(data []byte) error
	SendJSON(v any) error
	Receive() ([]byte, error)
	ReceiveJSON() (Object, error)
	// CloseWrite half-closes the stream; receiving still works.
	CloseWrite() error
	Close() error
}

// DecodeObject parses data as a JSON object.
func DecodeObject(data []byte) (Object, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errors.New("top-level JSON value must be an object")
	}
	var obj Object
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, fmt.Errorf("invalid JSON message: %w", err)
	}
	return obj, nil
}

// Has reports whether key is present, even if its value is null.
func (o Object) Has(key string) bool {
	_, ok := o[key]
	return ok
}

// Prop decodes the required property key as a T. Missing properties, null
// and values of another JSON type are errors; numbers with a fraction do not
// decode into integer types.
func Prop[T any](obj Object, key string) (T, error) {
	var zero T
	raw, ok := obj[key]
	if !ok {
		return zero, fmt.Errorf("missing property %q", key)
	}
	return decodeValue[T](raw, key)
}

// OptionalProp is Prop for properties that may be absent. A present property
// must still have the right type.
func OptionalProp[T any](obj Object, key string) (T, bool, error) {
	var zero T
	raw, ok := obj[key]
	if !ok {
		return zero, false, nil
	}
	v, err := decodeValue[T](raw, key)
	if err != nil {
		return zero, true, err
	}
	return v, true, nil
}

// Objects decodes the required property key as an array of objects.
func Objects(obj Object, key string) ([]Object, error) {
	items, err := Prop[[]json.RawMessage](obj, key)
	if err != nil {
		return nil, err
	}
	out := make([]Object, 0, len(items))
	for i, item := range items {
		o, err := decodeValue[Object](item, fmt.Sprintf("%s[%d]", key, i))
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func decodeValue[T any](raw json.RawMessage, key string) (T, error) {
	var v T
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return v, fmt.Errorf("property %q must be %s", key, typeName(v))
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		var zero T
		return zero, fmt.Errorf("property %q must be %s", key, typeName(zero))
	}
	return v, nil
}

func typeName(v any) string {
	switch v.(type) {
	case int, int64:
		return "an integer"
	case float64:
		return "a number"
	case string:
		return "a string"
	case bool:
		return "a boolean"
	case Object:
		return "an object"
	case []json.RawMessage:
		return "an array"
	default:
		return fmt.Sprintf("%T", v)
	}
}
