package amf0

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Command bodies start with the first item's marker, never a strict array.
func TestEncodeCommand_NoStrictArray(t *testing.T) {
	response := Array{
		"_result",
		float64(1),
		Object{
			"fmsVer":       "FMS/3,0,1,123",
			"capabilities": float64(31),
		},
		Object{
			"level":       "status",
			"code":        "NetConnection.Connect.Success",
			"description": "Connection succeeded.",
		},
	}

	body, err := EncodeCommand(response)
	require.NoError(t, err)
	require.NotEmpty(t, body)

	assert.Equal(t, byte(TypeString), body[0])
	assert.Equal(t, "_result", string(body[3:3+len("_result")]))
}

func TestEncodeCommand_CreateStreamResult(t *testing.T) {
	body, err := EncodeCommand(Array{"_result", float64(2), nil, float64(1)})
	require.NoError(t, err)

	values, err := DecodeAll(body)
	require.NoError(t, err)
	require.Len(t, values, 4)
	assert.Equal(t, "_result", values[0])
	assert.Equal(t, float64(2), values[1])
	assert.Nil(t, values[2])
	assert.Equal(t, float64(1), values[3])
}

func TestEncodeIntegersAsNumbers(t *testing.T) {
	body, err := EncodeValues(1920, uint32(1080), int64(-3))
	require.NoError(t, err)

	values, err := DecodeAll(body)
	require.NoError(t, err)
	assert.Equal(t, Array{float64(1920), float64(1080), float64(-3)}, values)
}

func TestEncodeObjectIsDeterministic(t *testing.T) {
	obj := Object{"b": "2", "a": "1", "c": true}

	first, err := EncodeValues(obj)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := EncodeValues(obj)
		require.NoError(t, err)
		require.True(t, bytes.Equal(first, again))
	}
}

func TestEncodeECMAArray(t *testing.T) {
	body, err := EncodeValues(ECMAArray{"width": float64(1920)})
	require.NoError(t, err)
	assert.Equal(t, byte(TypeECMAArray), body[0])

	values, err := DecodeAll(body)
	require.NoError(t, err)
	require.Len(t, values, 1)

	obj, ok := AsObject(values[0])
	require.True(t, ok)
	assert.Equal(t, float64(1920), obj["width"])
}

func TestEncodeLongString(t *testing.T) {
	long := string(bytes.Repeat([]byte{'x'}, 0x10000))
	body, err := EncodeValues(long)
	require.NoError(t, err)
	assert.Equal(t, byte(TypeLongString), body[0])

	values, err := DecodeAll(body)
	require.NoError(t, err)
	assert.Equal(t, long, values[0])
}

func TestEncodeUnsupportedType(t *testing.T) {
	_, err := EncodeValues(struct{}{})
	assert.ErrorIs(t, err, ErrUnexpectedType)
}
