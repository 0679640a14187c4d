package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Outbound command names.
const (
	CommandLoad         = "load"
	CommandGoToLocation = "goToLocation"
	CommandGoNext       = "goNext"
	CommandGoPrevious   = "goPrevious"
	CommandInjectScript = "injectScript"
)

// Command is a host-originated instruction for the renderer.
type Command interface {
	// CommandName returns the wire name.
	CommandName() string
	isCommand()
}

// Load opens a document in the renderer.
type Load struct {
	Src string `json:"src"`
}

// GoToLocation navigates to a location string. "0" is the document start.
type GoToLocation struct {
	Cfi string `json:"cfi"`
}

// GoNext flips forward one page.
type GoNext struct{}

// GoPrevious flips back one page.
type GoPrevious struct{}

// InjectScript evaluates a script inside the rendering surface. Build the
// script with the helpers in script.go.
type InjectScript struct {
	Script string `json:"script"`
}

func (Load) CommandName() string         { return CommandLoad }
func (GoToLocation) CommandName() string { return CommandGoToLocation }
func (GoNext) CommandName() string       { return CommandGoNext }
func (GoPrevious) CommandName() string   { return CommandGoPrevious }
func (InjectScript) CommandName() string { return CommandInjectScript }

func (Load) isCommand()         {}
func (GoToLocation) isCommand() {}
func (GoNext) isCommand()       {}
func (GoPrevious) isCommand()   {}
func (InjectScript) isCommand() {}

type commandEnvelope struct {
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// EncodeCommand serializes a command as {"command": ..., "args": ...}.
func EncodeCommand(cmd Command) ([]byte, error) {
	var args any
	switch c := cmd.(type) {
	case Load, GoToLocation, InjectScript:
		args = c
	case GoNext, GoPrevious:
	default:
		return nil, &ProtocolError{Code: ErrCodeUnencodable, Message: fmt.Sprintf("unsupported command %T", cmd)}
	}

	env := commandEnvelope{Command: cmd.CommandName()}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, &ProtocolError{Code: ErrCodeUnencodable, Type: cmd.CommandName(), Message: "marshal args failed", Err: err}
		}
		env.Args = raw
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, &ProtocolError{Code: ErrCodeUnencodable, Type: cmd.CommandName(), Message: "marshal failed", Err: err}
	}
	return data, nil
}

// DecodeCommand parses a command written by EncodeCommand. Renderer
// implementations use it on their side of the channel.
func DecodeCommand(data []byte) (Command, error) {
	var env commandEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ProtocolError{Code: ErrCodeMalformed, Message: "invalid command JSON", Err: err}
	}

	var (
		cmd Command
		err error
	)
	switch env.Command {
	case CommandLoad:
		var c Load
		err = unmarshalArgs(env.Args, &c)
		cmd = c
	case CommandGoToLocation:
		var c GoToLocation
		err = unmarshalArgs(env.Args, &c)
		cmd = c
	case CommandGoNext:
		cmd = GoNext{}
	case CommandGoPrevious:
		cmd = GoPrevious{}
	case CommandInjectScript:
		var c InjectScript
		err = unmarshalArgs(env.Args, &c)
		cmd = c
	default:
		return nil, &ProtocolError{Code: ErrCodeSchemaViolation, Type: env.Command, Message: "unknown command"}
	}
	if err != nil {
		return nil, &ProtocolError{Code: ErrCodeSchemaViolation, Type: env.Command, Message: "invalid args", Err: err}
	}
	return cmd, nil
}

func unmarshalArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errors.New("missing args")
	}
	return json.Unmarshal(raw, v)
}
