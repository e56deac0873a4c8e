package mcu

import (
	"errors"
	"fmt"
	"strings"

	"sonar/protocol"
)

var ErrBadFormat = errors.New("malformed message format")

// ParamType is the wire type of one message parameter
type ParamType uint8

const (
	ParamUint32 ParamType = iota // %u
	ParamInt32                   // %i
	ParamUint16                  // %hu
	ParamInt16                   // %hi
	ParamByte                    // %c
	ParamBuffer                  // %*s, %.*s, %s
)

var paramTypes = map[string]ParamType{
	"%u":   ParamUint32,
	"%i":   ParamInt32,
	"%hu":  ParamUint16,
	"%hi":  ParamInt16,
	"%c":   ParamByte,
	"%s":   ParamBuffer,
	"%*s":  ParamBuffer,
	"%.*s": ParamBuffer,
}

// Param is one named parameter of a message
type Param struct {
	Name string
	Type ParamType
}

// MessageFormat describes one command or response from the dictionary,
// e.g. "echo_state oid=%c next_clock=%u distance=%hu pending=%c cycles=%u"
type MessageFormat struct {
	ID     uint16
	Name   string
	Params []Param
}

// ParseFormat parses a dictionary format string
func ParseFormat(id uint16, format string) (MessageFormat, error) {
	fields := strings.Fields(format)
	if len(fields) == 0 {
		return MessageFormat{}, fmt.Errorf("%w: empty", ErrBadFormat)
	}

	mf := MessageFormat{ID: id, Name: fields[0]}
	for _, f := range fields[1:] {
		name, spec, ok := strings.Cut(f, "=")
		if !ok || name == "" {
			return MessageFormat{}, fmt.Errorf("%w: %q in %q", ErrBadFormat, f, format)
		}
		typ, ok := paramTypes[spec]
		if !ok {
			return MessageFormat{}, fmt.Errorf("%w: unknown type %q in %q", ErrBadFormat, spec, format)
		}
		mf.Params = append(mf.Params, Param{Name: name, Type: typ})
	}
	return mf, nil
}

// Message is a decoded response. Integer parameters land in Args, buffers
// in Data.
type Message struct {
	Name string
	Args map[string]int64
	Data map[string][]byte
}

// Decode reads the parameters of mf from data. The command ID has already
// been consumed.
func (mf MessageFormat) Decode(data *[]byte) (Message, error) {
	msg := Message{Name: mf.Name, Args: make(map[string]int64, len(mf.Params))}

	for _, p := range mf.Params {
		if p.Type == ParamBuffer {
			b, err := protocol.DecodeVLQBytes(data)
			if err != nil {
				return msg, fmt.Errorf("%s.%s: %w", mf.Name, p.Name, err)
			}
			if msg.Data == nil {
				msg.Data = make(map[string][]byte)
			}
			msg.Data[p.Name] = append([]byte(nil), b...)
			continue
		}

		v, err := protocol.DecodeVLQInt(data)
		if err != nil {
			return msg, fmt.Errorf("%s.%s: %w", mf.Name, p.Name, err)
		}
		msg.Args[p.Name] = p.Type.convert(v)
	}
	return msg, nil
}

// convert narrows a raw VLQ value to the parameter's declared width
func (t ParamType) convert(v int32) int64 {
	switch t {
	case ParamUint32:
		return int64(uint32(v))
	case ParamUint16:
		return int64(uint16(v))
	case ParamInt16:
		return int64(int16(v))
	case ParamByte:
		return int64(uint8(v))
	}
	return int64(v)
}

// Args validates args against mf and returns the encoder the transport
// calls after writing the command ID. Buffer parameters are rejected, none
// of the firmware's commands take one.
func (mf MessageFormat) Args(args ...uint32) (func(protocol.OutputBuffer), error) {
	if len(args) != len(mf.Params) {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", mf.Name, len(mf.Params), len(args))
	}
	for _, p := range mf.Params {
		if p.Type == ParamBuffer {
			return nil, fmt.Errorf("%s.%s: buffer arguments not supported", mf.Name, p.Name)
		}
	}

	return func(output protocol.OutputBuffer) {
		for _, a := range args {
			protocol.EncodeVLQUint(output, a)
		}
	}, nil
}

// String renders the format the way the dictionary spells it
func (mf MessageFormat) String() string {
	var sb strings.Builder
	sb.WriteString(mf.Name)
	for _, p := range mf.Params {
		sb.WriteByte(' ')
		sb.WriteString(p.Name)
		sb.WriteByte('=')
		sb.WriteString(p.Type.spec())
	}
	return sb.String()
}

func (t ParamType) spec() string {
	switch t {
	case ParamUint32:
		return "%u"
	case ParamInt32:
		return "%i"
	case ParamUint16:
		return "%hu"
	case ParamInt16:
		return "%hi"
	case ParamByte:
		return "%c"
	}
	return "%*s"
}
