package amf0

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

var (
	ErrUnexpectedType = errors.New("unexpected AMF0 type")
	ErrInvalidData    = errors.New("invalid AMF0 data")
)

// maxDepth bounds object nesting so hostile payloads cannot exhaust the stack.
const maxDepth = 32

// Decode reads and decodes a single AMF0 value from the reader.
func Decode(r io.Reader) (Value, error) {
	return decodeValue(r, 0)
}

// DecodeAll decodes every AMF0 value in body, in order.
// RTMP command and data message bodies are a plain sequence of values.
func DecodeAll(body []byte) (Array, error) {
	r := bytes.NewReader(body)
	values := make(Array, 0, 4)
	for r.Len() > 0 {
		v, err := decodeValue(r, 0)
		if err != nil {
			return values, errors.Wrapf(err, "decode value %d", len(values))
		}
		values = append(values, v)
	}
	return values, nil
}

func decodeValue(r io.Reader, depth int) (Value, error) {
	if depth > maxDepth {
		return nil, errors.Wrap(ErrInvalidData, "nesting too deep")
	}

	var typeMarker byte
	if err := binary.Read(r, binary.BigEndian, &typeMarker); err != nil {
		return nil, err
	}

	switch typeMarker {
	case TypeNumber:
		return decodeNumber(r)
	case TypeBoolean:
		return decodeBoolean(r)
	case TypeString:
		return decodeString(r)
	case TypeLongString:
		return decodeLongString(r)
	case TypeNull, TypeUndefined:
		return nil, nil
	case TypeObject:
		return decodeObject(r, depth)
	case TypeECMAArray:
		obj, err := decodeECMAArray(r, depth)
		if err != nil {
			return nil, err
		}
		return ECMAArray(obj), nil
	case TypeStrictArray:
		return decodeStrictArray(r, depth)
	case TypeDate:
		return decodeDate(r)
	default:
		return nil, errors.Wrapf(ErrUnexpectedType, "marker 0x%02x", typeMarker)
	}
}

// DecodeString reads an AMF0 string value.
func DecodeString(r io.Reader) (string, error) {
	var typeMarker byte
	if err := binary.Read(r, binary.BigEndian, &typeMarker); err != nil {
		return "", err
	}
	if typeMarker != TypeString {
		return "", ErrUnexpectedType
	}
	return decodeString(r)
}

// decodeNumber decodes an AMF0 number (double precision float64).
func decodeNumber(r io.Reader) (float64, error) {
	var num float64
	err := binary.Read(r, binary.BigEndian, &num)
	return num, err
}

func decodeBoolean(r io.Reader) (bool, error) {
	var b byte
	if err := binary.Read(r, binary.BigEndian, &b); err != nil {
		return false, err
	}
	return b != 0, nil
}

func decodeString(r io.Reader) (string, error) {
	var length uint16
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return "", err
	}
	return readUTF8(r, uint32(length))
}

func decodeLongString(r io.Reader) (string, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return "", err
	}
	return readUTF8(r, length)
}

func readUTF8(r io.Reader, length uint32) (string, error) {
	if length == 0 {
		return "", nil
	}
	if br, ok := r.(*bytes.Reader); ok && int64(length) > int64(br.Len()) {
		return "", io.ErrUnexpectedEOF
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// decodeDate decodes an AMF0 date as milliseconds since the epoch; the
// time zone field is reserved and ignored.
func decodeDate(r io.Reader) (float64, error) {
	ms, err := decodeNumber(r)
	if err != nil {
		return 0, err
	}
	var tz int16
	if err := binary.Read(r, binary.BigEndian, &tz); err != nil {
		return 0, err
	}
	return ms, nil
}

// decodeObject decodes key-value pairs up to the object end marker.
func decodeObject(r io.Reader, depth int) (Object, error) {
	obj := make(Object)
	for {
		key, err := decodeString(r)
		if err != nil {
			return nil, err
		}
		if key == "" {
			var endMarker byte
			if err := binary.Read(r, binary.BigEndian, &endMarker); err != nil {
				return nil, err
			}
			if endMarker != TypeObjectEnd {
				return nil, ErrInvalidData
			}
			break
		}
		value, err := decodeValue(r, depth+1)
		if err != nil {
			return nil, errors.Wrapf(err, "property %q", key)
		}
		obj[key] = value
	}
	return obj, nil
}

// decodeECMAArray decodes an AMF0 ECMA array. The count is advisory; the
// entries are terminated like an object.
func decodeECMAArray(r io.Reader, depth int) (Object, error) {
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, err
	}
	return decodeObject(r, depth)
}

func decodeStrictArray(r io.Reader, depth int) (Array, error) {
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, err
	}
	if br, ok := r.(*bytes.Reader); ok && int64(count) > int64(br.Len()) {
		return nil, io.ErrUnexpectedEOF
	}
	arr := make(Array, 0, count)
	for i := uint32(0); i < count; i++ {
		v, err := decodeValue(r, depth+1)
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)
	}
	return arr, nil
}
