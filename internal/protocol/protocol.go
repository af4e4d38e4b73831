// Package protocol holds the command server's wire format: the exact
// bytes sent for each response and the single-byte command tag read
// from the client.
//
// There is no framing.  A command is the first byte of whatever a
// single read returns; the rest of the chunk (usually "\n") is ignored.
package protocol

// Wire responses.  Every non-terminating response ends with Prompt.
const (
	Prompt   = "command:  "
	Greeting = "Welcome to Command Server V1.0\n\n" + Prompt
	Help     = "Command Server Help.\n\n" +
		"H(elp):  This help.\n" +
		"C(ommand):  Print command.\n" +
		"Q(uit):  Quit.\n\n" + Prompt
	Echo    = "command\n\n" + Prompt
	Goodbye = "Goodbye.\n\n"
	Invalid = "Invalid command.\n\n" + Prompt
)

// Command is a parsed command tag.
type Command uint8

const (
	CmdInvalid Command = iota
	CmdHelp
	CmdCommand
	CmdQuit

	numCommands
)

// NumCommands is the number of distinct Command values, including
// CmdInvalid.
const NumCommands = int(numCommands)

// Tags, case-sensitive.
const (
	TagHelp    byte = 'H'
	TagCommand byte = 'C'
	TagQuit    byte = 'Q'
)

// Parse returns the command for the first byte of chunk.  An empty
// chunk is CmdInvalid.
func Parse(chunk []byte) Command {
	if len(chunk) == 0 {
		return CmdInvalid
	}
	switch chunk[0] {
	case TagHelp:
		return CmdHelp
	case TagCommand:
		return CmdCommand
	case TagQuit:
		return CmdQuit
	default:
		return CmdInvalid
	}
}

// Response returns the bytes sent to the client for c.
func (c Command) Response() []byte {
	switch c {
	case CmdHelp:
		return []byte(Help)
	case CmdCommand:
		return []byte(Echo)
	case CmdQuit:
		return []byte(Goodbye)
	default:
		return []byte(Invalid)
	}
}

// Terminates reports whether the session ends after c is answered.
func (c Command) Terminates() bool { return c == CmdQuit }

func (c Command) String() string {
	switch c {
	case CmdHelp:
		return "help"
	case CmdCommand:
		return "command"
	case CmdQuit:
		return "quit"
	default:
		return "invalid"
	}
}

// GreetingBytes returns the greeting.  With pad > len(Greeting) the
// result is zero-filled to pad bytes, which is what clients of the old
// fixed-buffer server received.
func GreetingBytes(pad int) []byte {
	if pad <= len(Greeting) {
		return []byte(Greeting)
	}
	out := make([]byte, pad)
	copy(out, Greeting)
	return out
}
