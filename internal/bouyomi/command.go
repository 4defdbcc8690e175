package bouyomi

import "fmt"

// Command identifies a BouyomiChan control operation on the wire.
type Command int16

const (
	CommandTalk          Command = 0x0001
	CommandPause         Command = 0x0010
	CommandResume        Command = 0x0020
	CommandSkip          Command = 0x0030
	CommandClear         Command = 0x0040
	CommandGetPause      Command = 0x0110
	CommandGetNowPlaying Command = 0x0120
	CommandGetTaskCount  Command = 0x0130
)

var commandNames = map[Command]string{
	CommandTalk:          "talk",
	CommandPause:         "pause",
	CommandResume:        "resume",
	CommandSkip:          "skip",
	CommandClear:         "clear",
	CommandGetPause:      "get-pause",
	CommandGetNowPlaying: "get-now-playing",
	CommandGetTaskCount:  "get-task-count",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("command(0x%04x)", uint16(c))
}

// HasResponse reports whether the application answers the command with a
// single status byte.
func (c Command) HasResponse() bool {
	switch c {
	case CommandGetPause, CommandGetNowPlaying, CommandGetTaskCount:
		return true
	}
	return false
}

// ParseControl maps a control name (pause, resume, skip, clear) to its
// command. Query and talk commands are not accepted.
func ParseControl(name string) (Command, error) {
	switch name {
	case "pause":
		return CommandPause, nil
	case "resume":
		return CommandResume, nil
	case "skip":
		return CommandSkip, nil
	case "clear":
		return CommandClear, nil
	}
	return 0, fmt.Errorf("unknown control command %q", name)
}
