package amf0

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"

	"github.com/pkg/errors"
)

// Encode writes an AMF0 value to the writer.
// Any Go numeric type is written as an AMF0 number.
func Encode(w io.Writer, val Value) error {
	switch v := val.(type) {
	case nil:
		return encodeNull(w)
	case bool:
		return encodeBoolean(w, v)
	case string:
		return encodeString(w, v)
	case Object:
		return encodeObject(w, TypeObject, v)
	case ECMAArray:
		return encodeObject(w, TypeECMAArray, Object(v))
	case Array:
		return encodeArray(w, v)
	default:
		if num, ok := AsNumber(val); ok {
			return encodeNumber(w, num)
		}
		return errors.Wrapf(ErrUnexpectedType, "cannot encode %T", val)
	}
}

// EncodeValues encodes values one after another, which is the layout of an
// RTMP command or data message body.
func EncodeValues(values ...Value) ([]byte, error) {
	var buf bytes.Buffer
	for i, v := range values {
		if err := Encode(&buf, v); err != nil {
			return nil, errors.Wrapf(err, "encode value %d", i)
		}
	}
	return buf.Bytes(), nil
}

// EncodeCommand encodes a command (name, transaction ID, args...) to bytes.
func EncodeCommand(arr Array) ([]byte, error) {
	return EncodeValues(arr...)
}

func encodeNumber(w io.Writer, num float64) error {
	if err := binary.Write(w, binary.BigEndian, byte(TypeNumber)); err != nil {
		return err
	}
	return binary.Write(w, binary.BigEndian, num)
}

func encodeBoolean(w io.Writer, b bool) error {
	var val byte
	if b {
		val = 1
	}
	_, err := w.Write([]byte{TypeBoolean, val})
	return err
}

// encodeString picks the long string form when s does not fit in 16 bits.
func encodeString(w io.Writer, s string) error {
	if len(s) > 0xFFFF {
		if err := binary.Write(w, binary.BigEndian, byte(TypeLongString)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, uint32(len(s))); err != nil {
			return err
		}
		_, err := io.WriteString(w, s)
		return err
	}
	if err := binary.Write(w, binary.BigEndian, byte(TypeString)); err != nil {
		return err
	}
	return writeKey(w, s)
}

func writeKey(w io.Writer, key string) error {
	if len(key) > 0xFFFF {
		return errors.Wrapf(ErrInvalidData, "key too long (%d bytes)", len(key))
	}
	if err := binary.Write(w, binary.BigEndian, uint16(len(key))); err != nil {
		return err
	}
	_, err := io.WriteString(w, key)
	return err
}

func encodeNull(w io.Writer) error {
	return binary.Write(w, binary.BigEndian, byte(TypeNull))
}

// encodeObject writes properties in sorted key order so encoded payloads are
// deterministic.
func encodeObject(w io.Writer, marker byte, obj Object) error {
	if err := binary.Write(w, binary.BigEndian, marker); err != nil {
		return err
	}
	if marker == TypeECMAArray {
		if err := binary.Write(w, binary.BigEndian, uint32(len(obj))); err != nil {
			return err
		}
	}

	keys := make([]string, 0, len(obj))
	for key := range obj {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := writeKey(w, key); err != nil {
			return err
		}
		if err := Encode(w, obj[key]); err != nil {
			return errors.Wrapf(err, "property %q", key)
		}
	}
	if err := binary.Write(w, binary.BigEndian, uint16(0)); err != nil {
		return err
	}
	return binary.Write(w, binary.BigEndian, byte(TypeObjectEnd))
}

func encodeArray(w io.Writer, arr Array) error {
	if err := binary.Write(w, binary.BigEndian, byte(TypeStrictArray)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(arr))); err != nil {
		return err
	}
	for _, val := range arr {
		if err := Encode(w, val); err != nil {
			return err
		}
	}
	return nil
}
