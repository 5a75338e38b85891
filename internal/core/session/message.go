package session

import (
	"github.com/pkg/errors"

	"rtmpsess/internal/core/protocol/amf0"
	"rtmpsess/internal/core/protocol/rtmp"
)

// Status codes carried by onStatus and connect responses.
const (
	StatusConnectSuccess   = "NetConnection.Connect.Success"
	StatusConnectRejected  = "NetConnection.Connect.Rejected"
	StatusPublishStart     = "NetStream.Publish.Start"
	StatusPublishDenied    = "NetStream.Publish.Denied"
	StatusUnpublishSuccess = "NetStream.Unpublish.Success"
	StatusPlayReset        = "NetStream.Play.Reset"
	StatusPlayStart        = "NetStream.Play.Start"
	StatusPlayFailed       = "NetStream.Play.Failed"
	StatusPlayStop         = "NetStream.Play.Stop"

	levelStatus = "status"
	levelError  = "error"
)

// commandMessage encodes an AMF0 command on streamID.
func commandMessage(streamID uint32, values ...amf0.Value) (*rtmp.Message, error) {
	body, err := amf0.EncodeValues(values...)
	if err != nil {
		return nil, newError(Fatal, "encode command", err)
	}
	return &rtmp.Message{Type: rtmp.MessageTypeCommandAMF0, StreamID: streamID, Body: body}, nil
}

// dataMessage encodes an AMF0 data message.
func dataMessage(streamID, timestamp uint32, values ...amf0.Value) (*rtmp.Message, error) {
	body, err := amf0.EncodeValues(values...)
	if err != nil {
		return nil, newError(Fatal, "encode data", err)
	}
	return &rtmp.Message{Type: rtmp.MessageTypeDataAMF0, StreamID: streamID, Timestamp: timestamp, Body: body}, nil
}

// statusMessage builds an onStatus command with transaction 0.
func statusMessage(streamID uint32, level, code, description string) (*rtmp.Message, error) {
	return commandMessage(streamID, "onStatus", float64(0), nil, amf0.Object{
		"level":       level,
		"code":        code,
		"description": description,
	})
}

// controlMessage builds a protocol control message on stream 0.
func controlMessage(msgType byte, body []byte) *rtmp.Message {
	return &rtmp.Message{Type: msgType, Body: body}
}

// mediaMessage wraps a raw audio or video payload.
func mediaMessage(msgType byte, streamID, timestamp uint32, data []byte) *rtmp.Message {
	return &rtmp.Message{Type: msgType, StreamID: streamID, Timestamp: timestamp, Body: data}
}

// amf0Body returns the AMF0 part of a command or data body. AMF3 message
// types prefix AMF0 values with one format byte.
func amf0Body(msg *rtmp.Message) []byte {
	switch msg.Type {
	case rtmp.MessageTypeCommandAMF3, rtmp.MessageTypeDataAMF3:
		if len(msg.Body) > 0 && msg.Body[0] == 0 {
			return msg.Body[1:]
		}
	}
	return msg.Body
}

// dataFrame is a decoded data message.
type dataFrame struct {
	name       string
	properties amf0.Object
	values     amf0.Array
}

// decodeDataFrame decodes a data message, unwrapping @setDataFrame.
func decodeDataFrame(body []byte) (dataFrame, error) {
	values, err := amf0.DecodeAll(body)
	if err != nil {
		return dataFrame{}, newError(MalformedMessage, "decode data", err)
	}
	if len(values) == 0 {
		return dataFrame{}, newError(MalformedMessage, "decode data", errors.Wrap(ErrMissingField, "empty body"))
	}
	name, ok := values[0].(string)
	if !ok {
		return dataFrame{}, newError(MalformedMessage, "decode data", errors.Errorf("data name is %T", values[0]))
	}
	values = values[1:]
	if name == "@setDataFrame" && len(values) > 0 {
		if inner, ok := values[0].(string); ok {
			name = inner
			values = values[1:]
		}
	}

	frame := dataFrame{name: name, values: values}
	for _, v := range values {
		if props, ok := amf0.AsObject(v); ok {
			frame.properties = props
			break
		}
	}
	return frame, nil
}

// statusInfo extracts the string fields of an onStatus info object.
func statusInfo(info amf0.Object) (level, code, description string) {
	level, _ = info.String("level")
	code, _ = info.String("code")
	description, _ = info.String("description")
	return level, code, description
}
