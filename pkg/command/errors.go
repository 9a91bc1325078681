package command

import "errors"

// Codec and registry errors.
var (
	// ErrInvalidLength indicates a payload of the wrong size for its code.
	ErrInvalidLength = errors.New("command: invalid payload length")

	// ErrInvalidField indicates a payload field outside its legal range.
	ErrInvalidField = errors.New("command: invalid payload field")

	// ErrUnknownCommand indicates a command code absent from the registry.
	ErrUnknownCommand = errors.New("command: unknown command code")

	// ErrUnknownReply indicates a reply code absent from the registry.
	ErrUnknownReply = errors.New("command: unknown reply code")

	// ErrUnexpectedReply indicates a reply type that is not legal for the
	// command it answers. This is a protocol violation by the PD.
	ErrUnexpectedReply = errors.New("command: unexpected reply type for command")
)
