package session

import (
	"github.com/pkg/errors"

	"rtmpsess/internal/core/protocol/amf0"
)

// Command is an inbound command message decoded into one of the variants
// below. Unrecognized names decode to UnknownCommand.
type Command interface {
	Name() string
	Transaction() float64
}

// ConnectCommand opens the application connection. Properties is the
// command object; Arguments holds any optional values after it.
type ConnectCommand struct {
	TransactionID float64
	Properties    amf0.Object
	Arguments     amf0.Array
}

// CreateStreamCommand asks for a new message stream id.
type CreateStreamCommand struct {
	TransactionID float64
}

// PublishCommand starts publishing on the stream it arrived on.
type PublishCommand struct {
	TransactionID float64
	StreamName    string
	// PublishType is the raw type string, empty when the client sent none.
	PublishType string
}

// PlayCommand starts playback on the stream it arrived on. Start, Duration
// and Reset are nil when the client left them out.
type PlayCommand struct {
	TransactionID float64
	StreamName    string
	Start         *float64
	Duration      *float64
	Reset         *bool
}

// DeleteStreamCommand names the stream to delete in its arguments.
type DeleteStreamCommand struct {
	TransactionID float64
	StreamID      *float64
}

// CloseStreamCommand closes the stream it arrived on.
type CloseStreamCommand struct {
	TransactionID float64
}

// ReleaseStreamCommand, FCPublishCommand and FCUnpublishCommand are the
// publish preamble and epilogue most encoders send.
type ReleaseStreamCommand struct {
	TransactionID float64
	StreamName    string
}

// FCPublishCommand announces the stream name before publish.
type FCPublishCommand struct {
	TransactionID float64
	StreamName    string
}

// FCUnpublishCommand ends publishing of the named stream.
type FCUnpublishCommand struct {
	TransactionID float64
	StreamName    string
}

// ResultCommand is a _result or _error response.
type ResultCommand struct {
	IsError       bool
	TransactionID float64
	CommandObject amf0.Value
	Arguments     amf0.Array
}

// OnStatusCommand carries a NetStream or NetConnection status object.
type OnStatusCommand struct {
	TransactionID float64
	Info          amf0.Object
}

// UnsupportedCommand is a recognized command that sessions do not implement.
type UnsupportedCommand struct {
	CommandName   string
	TransactionID float64
}

// UnknownCommand keeps the name and raw arguments of an unrecognized command.
type UnknownCommand struct {
	CommandName   string
	TransactionID float64
	Arguments     amf0.Array
}

func (c ConnectCommand) Name() string       { return "connect" }
func (c CreateStreamCommand) Name() string  { return "createStream" }
func (c PublishCommand) Name() string       { return "publish" }
func (c PlayCommand) Name() string          { return "play" }
func (c DeleteStreamCommand) Name() string  { return "deleteStream" }
func (c CloseStreamCommand) Name() string   { return "closeStream" }
func (c ReleaseStreamCommand) Name() string { return "releaseStream" }
func (c FCPublishCommand) Name() string     { return "FCPublish" }
func (c FCUnpublishCommand) Name() string   { return "FCUnpublish" }
func (c OnStatusCommand) Name() string      { return "onStatus" }
func (c UnsupportedCommand) Name() string   { return c.CommandName }
func (c UnknownCommand) Name() string       { return c.CommandName }

func (c ResultCommand) Name() string {
	if c.IsError {
		return "_error"
	}
	return "_result"
}

func (c ConnectCommand) Transaction() float64       { return c.TransactionID }
func (c CreateStreamCommand) Transaction() float64  { return c.TransactionID }
func (c PublishCommand) Transaction() float64       { return c.TransactionID }
func (c PlayCommand) Transaction() float64          { return c.TransactionID }
func (c DeleteStreamCommand) Transaction() float64  { return c.TransactionID }
func (c CloseStreamCommand) Transaction() float64   { return c.TransactionID }
func (c ReleaseStreamCommand) Transaction() float64 { return c.TransactionID }
func (c FCPublishCommand) Transaction() float64     { return c.TransactionID }
func (c FCUnpublishCommand) Transaction() float64   { return c.TransactionID }
func (c ResultCommand) Transaction() float64        { return c.TransactionID }
func (c OnStatusCommand) Transaction() float64      { return c.TransactionID }
func (c UnsupportedCommand) Transaction() float64   { return c.TransactionID }
func (c UnknownCommand) Transaction() float64       { return c.TransactionID }

var unsupportedCommands = map[string]bool{
	"play2":           true,
	"pause":           true,
	"pauseRaw":        true,
	"seek":            true,
	"receiveAudio":    true,
	"receiveVideo":    true,
	"getStreamLength": true,
	"onBWDone":        true,
	"_checkbw":        true,
	"onFCPublish":     true,
	"onFCUnpublish":   true,
	"FCSubscribe":     true,
	"FCUnsubscribe":   true,
}

// DecodeCommand decodes an AMF0 command body. Bodies that are not valid AMF0
// fail with MalformedMessage. Commands missing mandatory fields fail with
// ProtocolViolation.
func DecodeCommand(body []byte) (Command, error) {
	values, err := amf0.DecodeAll(body)
	if err != nil {
		return nil, newError(MalformedMessage, "decode command", err)
	}
	if len(values) == 0 {
		return nil, newError(MalformedMessage, "decode command", errors.Wrap(ErrMissingField, "empty body"))
	}
	name, ok := values[0].(string)
	if !ok {
		return nil, newError(MalformedMessage, "decode command", errors.Errorf("command name is %T", values[0]))
	}

	// onStatus is the only command peers send without a transaction id.
	var txn float64
	args := values[1:]
	if len(args) > 0 {
		if n, ok := amf0.AsNumber(args[0]); ok {
			txn = n
			args = args[1:]
		} else if name != "onStatus" {
			return nil, newError(ProtocolViolation, name, errors.Wrap(ErrMissingField, "transaction id"))
		}
	} else if name != "onStatus" {
		return nil, newError(ProtocolViolation, name, errors.Wrap(ErrMissingField, "transaction id"))
	}

	switch name {
	case "connect":
		cmd := ConnectCommand{TransactionID: txn}
		if len(args) > 0 {
			cmd.Properties, _ = amf0.AsObject(args[0])
			cmd.Arguments = args[1:]
		}
		return cmd, nil

	case "createStream":
		return CreateStreamCommand{TransactionID: txn}, nil

	case "publish":
		args = withCommandObject(args)
		streamName, ok := streamNameArg(args)
		if !ok {
			return nil, newError(ProtocolViolation, name, errors.Wrap(ErrMissingField, "stream name"))
		}
		publishType, _ := stringArg(args, 2)
		return PublishCommand{TransactionID: txn, StreamName: streamName, PublishType: publishType}, nil

	case "play":
		args = withCommandObject(args)
		streamName, ok := streamNameArg(args)
		if !ok {
			return nil, newError(ProtocolViolation, name, errors.Wrap(ErrMissingField, "stream name"))
		}
		cmd := PlayCommand{TransactionID: txn, StreamName: streamName}
		cmd.Start = numberArg(args, 2)
		cmd.Duration = numberArg(args, 3)
		if len(args) > 4 {
			if reset, ok := args[4].(bool); ok {
				cmd.Reset = &reset
			}
		}
		return cmd, nil

	case "deleteStream":
		return DeleteStreamCommand{TransactionID: txn, StreamID: numberArg(args, 1)}, nil

	case "closeStream":
		return CloseStreamCommand{TransactionID: txn}, nil

	case "releaseStream":
		streamName, _ := stringArg(args, 1)
		return ReleaseStreamCommand{TransactionID: txn, StreamName: streamName}, nil

	case "FCPublish":
		streamName, _ := stringArg(args, 1)
		return FCPublishCommand{TransactionID: txn, StreamName: streamName}, nil

	case "FCUnpublish":
		streamName, _ := stringArg(args, 1)
		return FCUnpublishCommand{TransactionID: txn, StreamName: streamName}, nil

	case "_result", "_error":
		cmd := ResultCommand{IsError: name == "_error", TransactionID: txn}
		if len(args) > 0 {
			cmd.CommandObject = args[0]
			cmd.Arguments = args[1:]
		}
		return cmd, nil

	case "onStatus":
		cmd := OnStatusCommand{TransactionID: txn}
		for i := len(args) - 1; i >= 0; i-- {
			if info, ok := amf0.AsObject(args[i]); ok {
				cmd.Info = info
				break
			}
		}
		if cmd.Info == nil {
			return nil, newError(ProtocolViolation, name, errors.Wrap(ErrMissingField, "info object"))
		}
		return cmd, nil
	}

	if unsupportedCommands[name] {
		return UnsupportedCommand{CommandName: name, TransactionID: txn}, nil
	}
	return UnknownCommand{CommandName: name, TransactionID: txn, Arguments: args}, nil
}

// stringArg returns args[i] when it is a string. Index 0 is the command
// object, which is null for every stream command.
func stringArg(args amf0.Array, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	s, ok := args[i].(string)
	return s, ok
}

// withCommandObject restores the null command object some clients omit
// before the stream name.
func withCommandObject(args amf0.Array) amf0.Array {
	if _, ok := stringArg(args, 0); ok {
		return append(amf0.Array{nil}, args...)
	}
	return args
}

func streamNameArg(args amf0.Array) (string, bool) {
	s, ok := stringArg(args, 1)
	return s, ok && s != ""
}

func numberArg(args amf0.Array, i int) *float64 {
	if i >= len(args) {
		return nil
	}
	n, ok := amf0.AsNumber(args[i])
	if !ok {
		return nil
	}
	return &n
}

// PublishRequestType is the publishing mode a client asks for.
type PublishRequestType int

const (
	PublishLive PublishRequestType = iota
	PublishRecord
	PublishAppend
)

func (t PublishRequestType) String() string {
	switch t {
	case PublishLive:
		return "live"
	case PublishRecord:
		return "record"
	case PublishAppend:
		return "append"
	default:
		return "unknown"
	}
}

// ParsePublishRequestType maps the publish type argument. An empty string
// means live.
func ParsePublishRequestType(s string) (PublishRequestType, error) {
	switch s {
	case "", "live":
		return PublishLive, nil
	case "record":
		return PublishRecord, nil
	case "append":
		return PublishAppend, nil
	default:
		return 0, errors.Errorf("unknown publish type %q", s)
	}
}
