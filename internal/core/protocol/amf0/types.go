// Package amf0 implements the AMF0 value codec used by RTMP command and data messages.
// Only the value kinds that appear in RTMP session traffic are modeled.

package amf0

// AMF0 type markers
const (
	TypeNumber      = 0
	TypeBoolean     = 1
	TypeString      = 2
	TypeObject      = 3
	TypeNull        = 5
	TypeUndefined   = 6
	TypeReference   = 7
	TypeECMAArray   = 8
	TypeObjectEnd   = 9
	TypeStrictArray = 10
	TypeDate        = 11
	TypeLongString  = 12
	TypeXMLDocument = 15
	TypeTypedObject = 16
	TypeAVMPlus     = 17
)

// Value represents a decoded AMF0 value: float64, bool, string, Object,
// ECMAArray, Array or nil (null and undefined).
type Value interface{}

// Object represents an AMF0 object (key-value pairs).
type Object map[string]Value

// ECMAArray represents an AMF0 associative array. It decodes and behaves like
// an Object but is encoded with the ECMA array marker, which is what
// onMetaData payloads use on the wire.
type ECMAArray map[string]Value

// Array represents an AMF0 strict array.
type Array []Value

// AsObject returns the key-value view of v when it is an Object or ECMAArray.
func AsObject(v Value) (Object, bool) {
	switch o := v.(type) {
	case Object:
		return o, true
	case ECMAArray:
		return Object(o), true
	case map[string]interface{}:
		obj := make(Object, len(o))
		for k, val := range o {
			obj[k] = val
		}
		return obj, true
	default:
		return nil, false
	}
}

// AsNumber coerces any Go numeric representation to float64.
func AsNumber(v Value) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// String returns the string stored under key, if any.
func (o Object) String(key string) (string, bool) {
	s, ok := o[key].(string)
	return s, ok
}

// Number returns the numeric value stored under key, if any.
func (o Object) Number(key string) (float64, bool) {
	return AsNumber(o[key])
}
